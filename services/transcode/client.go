package transcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrSessionNotFound indicates the server no longer knows the session id,
// typically because the transcode process expired or was reclaimed.
var ErrSessionNotFound = errors.New("transcode session not found")

// TransportError wraps a network-level failure reaching the backend.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transcode %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response with the server-supplied reason.
type ServerError struct {
	Op         string
	StatusCode int
	Reason     string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("transcode %s: server returned %d: %s", e.Op, e.StatusCode, e.Reason)
}

// CreateRequest holds the parameters for starting a new HLS session.
type CreateRequest struct {
	Path          string
	Start         float64
	HasDV         bool
	DVProfile     string
	HasHDR        bool
	ForceAAC      bool
	AudioTrack    int // -1 means server default
	SubtitleTrack int // -1 means none
	TrackSwitch   bool
}

// SessionResponse is the response shape shared by create and seek.
// Optional fields are pointers so the caller can distinguish "absent"
// from zero when computing offsets.
type SessionResponse struct {
	SessionID         string   `json:"sessionId"`
	PlaylistURL       string   `json:"playlistUrl"`
	Duration          *float64 `json:"duration,omitempty"`
	StartOffset       *float64 `json:"startOffset,omitempty"`
	ActualStartOffset *float64 `json:"actualStartOffset,omitempty"`
	KeyframeDelta     *float64 `json:"keyframeDelta,omitempty"`
}

// KeepaliveResponse carries segment timing info for offset reconciliation.
type KeepaliveResponse struct {
	Status            string   `json:"status"`
	StartOffset       float64  `json:"startOffset"`
	ActualStartOffset float64  `json:"actualStartOffset"`
	KeyframeDelta     *float64 `json:"keyframeDelta,omitempty"`
	SegmentDuration   float64  `json:"segmentDuration"`
	Duration          float64  `json:"duration,omitempty"`
}

// SessionStatus is the server's view of a session, polled by the health monitor.
type SessionStatus struct {
	SessionID       string  `json:"sessionId"`
	Status          string  `json:"status"` // "active", "completed", "error"
	FatalError      string  `json:"fatalError,omitempty"`
	FatalErrorTime  int64   `json:"fatalErrorTime,omitempty"`
	Duration        float64 `json:"duration,omitempty"`
	SegmentsCreated int     `json:"segmentsCreated"`
}

// Client is a stateless adapter for the backend's HLS session API.
// All retry policy lives with the caller.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	clientID   string
}

// NewClient creates a transcode API client for the given backend.
func NewClient(baseURL, token, clientID string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		clientID:   clientID,
	}
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.clientID != "" {
		req.Header.Set("X-Client-ID", c.clientID)
	}
}

func (c *Client) do(ctx context.Context, op, method, rawURL string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrSessionNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ServerError{Op: op, StatusCode: resp.StatusCode, Reason: strings.TrimSpace(string(body))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return nil
}

// Create starts a new HLS transcoding session positioned at req.Start.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*SessionResponse, error) {
	q := url.Values{}
	q.Set("path", req.Path)
	q.Set("startOffset", formatSeconds(req.Start))
	if req.HasDV {
		q.Set("dv", "true")
		if req.DVProfile != "" {
			q.Set("dvProfile", req.DVProfile)
		}
	}
	if req.HasHDR {
		q.Set("hdr", "true")
	}
	if req.ForceAAC {
		q.Set("forceAAC", "true")
	}
	if req.AudioTrack >= 0 {
		q.Set("audioTrack", strconv.Itoa(req.AudioTrack))
	}
	if req.SubtitleTrack >= 0 {
		q.Set("subtitleTrack", strconv.Itoa(req.SubtitleTrack))
	}
	if req.TrackSwitch {
		q.Set("trackSwitch", "true")
	}
	if c.clientID != "" {
		q.Set("clientId", c.clientID)
	}

	var resp SessionResponse
	u := c.baseURL + "/api/video/hls/start?" + q.Encode()
	if err := c.do(ctx, "create", http.MethodGet, u, &resp); err != nil {
		return nil, err
	}
	if resp.SessionID == "" {
		return nil, &ServerError{Op: "create", StatusCode: http.StatusOK, Reason: "response missing sessionId"}
	}
	return &resp, nil
}

// Seek repositions an existing session's encode process to the target time.
// The server restarts transcoding in place and keeps the session id; if the
// session is gone the error is ErrSessionNotFound and the caller should fall
// back to Create.
func (c *Client) Seek(ctx context.Context, sessionID string, target float64) (*SessionResponse, error) {
	u := fmt.Sprintf("%s/api/video/hls/%s/seek?time=%s", c.baseURL, url.PathEscape(sessionID), formatSeconds(target))
	var resp SessionResponse
	if err := c.do(ctx, "seek", http.MethodPost, u, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Keepalive extends the session's idle timeout and reports the player's
// position and earliest buffered time. The response carries the server's
// authoritative segment timing. Pass a negative bufferStart to omit it.
func (c *Client) Keepalive(ctx context.Context, sessionID string, currentTime, bufferStart float64) (*KeepaliveResponse, error) {
	q := url.Values{}
	if currentTime >= 0 {
		q.Set("time", formatSeconds(currentTime))
	}
	if bufferStart >= 0 {
		q.Set("bufferStart", formatSeconds(bufferStart))
	}
	u := fmt.Sprintf("%s/api/video/hls/%s/keepalive?%s", c.baseURL, url.PathEscape(sessionID), q.Encode())
	var resp KeepaliveResponse
	if err := c.do(ctx, "keepalive", http.MethodPost, u, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status returns the server's view of the session.
func (c *Client) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	u := fmt.Sprintf("%s/api/video/hls/%s/status", c.baseURL, url.PathEscape(sessionID))
	var resp SessionStatus
	if err := c.do(ctx, "status", http.MethodGet, u, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResolveURL turns a server-relative locator (like the playlistUrl returned
// by create/seek) into an absolute, auth-qualified URL the player can load.
func (c *Client) ResolveURL(serverRelative string) string {
	if serverRelative == "" {
		return ""
	}
	if strings.HasPrefix(serverRelative, "http://") || strings.HasPrefix(serverRelative, "https://") {
		return serverRelative
	}
	if !strings.HasPrefix(serverRelative, "/") {
		serverRelative = "/" + serverRelative
	}
	return c.baseURL + "/api" + serverRelative
}

// SubtitleURL builds the sidecar subtitle URL for a session.
func (c *Client) SubtitleURL(sessionID string) string {
	return fmt.Sprintf("%s/api/video/hls/%s/subtitles.vtt", c.baseURL, url.PathEscape(sessionID))
}

// HTTPClient exposes the underlying client for collaborators that fetch
// auth-qualified URLs directly (sidecar subtitles).
func (c *Client) HTTPClient() *http.Client { return c.httpClient }

// AuthHeaders applies this client's auth headers to an outgoing request.
func (c *Client) AuthHeaders(req *http.Request) { c.setHeaders(req) }

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
