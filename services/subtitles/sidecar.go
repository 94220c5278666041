package subtitles

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

// Cue is a single subtitle cue on the sidecar track's time base.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// Track is a parsed sidecar WebVTT track. Cue times are relative to the
// session's actual (keyframe-aligned) start offset; callers pass that offset
// to ActiveCues so rendering stays aligned with the encode.
type Track struct {
	Index int
	Cues  []Cue
}

// ActiveCues returns the cues visible at the given absolute media time,
// where timeOffset is the session's actual start offset.
func (t *Track) ActiveCues(currentTime, timeOffset float64) []Cue {
	rel := currentTime - timeOffset
	var active []Cue
	for _, c := range t.Cues {
		if rel >= c.Start && rel < c.End {
			active = append(active, c)
		}
	}
	return active
}

// sessionAuth applies the transcode client's auth headers to sidecar fetches.
type sessionAuth interface {
	SubtitleURL(sessionID string) string
	AuthHeaders(req *http.Request)
	HTTPClient() *http.Client
}

// Loader fetches and parses sidecar subtitle tracks for a session. The
// sidecar is served while the session transcodes, so early fetches can race
// the extract job; transient failures are retried with a short backoff.
type Loader struct {
	api sessionAuth
}

// NewLoader returns a sidecar subtitle loader using the given session API
// for URLs and auth.
func NewLoader(api sessionAuth) *Loader {
	return &Loader{api: api}
}

// Fetch downloads and parses the sidecar track for a session.
func (l *Loader) Fetch(ctx context.Context, sessionID string, trackIndex int) (*Track, error) {
	u := l.api.SubtitleURL(sessionID)

	var body []byte
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			l.api.AuthHeaders(req)
			resp, err := l.api.HTTPClient().Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				// Extraction may still be running; worth another attempt.
				return fmt.Errorf("sidecar not ready: %s", resp.Status)
			}
			if resp.StatusCode != http.StatusOK {
				return retry.Unrecoverable(fmt.Errorf("sidecar fetch failed: %s", resp.Status))
			}
			body, err = io.ReadAll(resp.Body)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch sidecar subtitles for session %s: %w", sessionID, err)
	}

	cues, err := ParseWebVTT(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parse sidecar subtitles for session %s: %w", sessionID, err)
	}
	log.Printf("[subtitles] session %s: loaded %d cues for track %d", sessionID, len(cues), trackIndex)
	return &Track{Index: trackIndex, Cues: cues}, nil
}

// ParseWebVTT parses a WebVTT document into cues. Styling blocks, notes and
// cue settings are skipped; only timings and text survive.
func ParseWebVTT(r io.Reader) ([]Cue, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, fmt.Errorf("empty document")
	}
	header := strings.TrimPrefix(strings.TrimSpace(scanner.Text()), "\uFEFF")
	if !strings.HasPrefix(header, "WEBVTT") {
		return nil, fmt.Errorf("missing WEBVTT header")
	}

	var cues []Cue
	var cur *Cue
	var textLines []string

	flush := func() {
		if cur != nil {
			cur.Text = strings.Join(textLines, "\n")
			cues = append(cues, *cur)
			cur = nil
		}
		textLines = nil
	}

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		trimmed := strings.TrimSpace(line)

		if trimmed == "" {
			flush()
			continue
		}
		if strings.HasPrefix(trimmed, "NOTE") || strings.HasPrefix(trimmed, "STYLE") || strings.HasPrefix(trimmed, "REGION") {
			flush()
			continue
		}
		if strings.Contains(trimmed, "-->") {
			flush()
			start, end, err := parseTimingLine(trimmed)
			if err != nil {
				// Skip malformed cues rather than failing the whole track
				continue
			}
			cur = &Cue{Start: start, End: end}
			continue
		}
		if cur != nil {
			textLines = append(textLines, line)
		}
		// Lines before a timing line are cue identifiers; ignored.
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cues, nil
}

func parseTimingLine(line string) (float64, float64, error) {
	parts := strings.SplitN(line, "-->", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	start, err := parseTimestamp(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	// Cue settings may follow the end timestamp
	endField := strings.Fields(strings.TrimSpace(parts[1]))
	if len(endField) == 0 {
		return 0, 0, fmt.Errorf("invalid timing line %q", line)
	}
	end, err := parseTimestamp(endField[0])
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// parseTimestamp handles both hh:mm:ss.mmm and mm:ss.mmm forms.
func parseTimestamp(ts string) (float64, error) {
	parts := strings.Split(ts, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}
	var hours, minutes int
	var seconds float64
	var err error
	idx := 0
	if len(parts) == 3 {
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("invalid timestamp %q", ts)
		}
		idx = 1
	}
	if minutes, err = strconv.Atoi(parts[idx]); err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}
	if seconds, err = strconv.ParseFloat(parts[idx+1], 64); err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, nil
}
