package playback

import (
	"context"
	"fmt"
	"log"
	"sync"

	"novaplayer/services/transcode"
)

// Status is the controller's lifecycle state. creating and seeking are
// transient and always resolve to ready or error.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusCreating Status = "creating"
	StatusReady    Status = "ready"
	StatusSeeking  Status = "seeking"
	StatusError    Status = "error"
)

// SessionAPI is the slice of the transcode client the controller needs.
type SessionAPI interface {
	Create(ctx context.Context, req transcode.CreateRequest) (*transcode.SessionResponse, error)
	Seek(ctx context.Context, sessionID string, target float64) (*transcode.SessionResponse, error)
	ResolveURL(serverRelative string) string
}

var _ SessionAPI = (*transcode.Client)(nil)

// Session is the controller's record of one live transcode instance.
type Session struct {
	ID                   string
	PlaylistURL          string
	RequestedStartOffset float64
	ActualStartOffset    float64
	KeyframeDelta        float64
	Duration             float64 // 0 when unknown
}

// SourceConfig describes the media the controller is playing.
type SourceConfig struct {
	Path      string
	HasDV     bool
	DVProfile string
	HasHDR    bool
	ForceAAC  bool
}

// Tracks is the remembered audio/subtitle selection. -1 means server default
// for audio and "none" for subtitles, matching the backend's conventions.
type Tracks struct {
	Audio    int
	Subtitle int
}

// Callbacks notify the embedding layer of session lifecycle events. All
// callbacks are invoked without controller locks held; nil callbacks are
// skipped.
type Callbacks struct {
	OnSessionCreated       func(s Session)
	OnOffsetCorrection     func(serverStartOffset float64)
	OnFatalError           func(reason string)
	OnPlaybackEnded        func()
	OnSubtitleTrackChanged func(index int)
}

// CreateOptions override the remembered track selection for one create call.
type CreateOptions struct {
	AudioTrack    *int
	SubtitleTrack *int
	TrackSwitch   bool

	recovery bool
}

// Controller owns session identity, status, pending-seek arbitration,
// track-change detection and the fatal-error retry policy. It is the single
// writer of session and time state; the event bridge and health monitor read
// through its accessors.
//
// Public operations never return errors: RPC failures become error state and
// a nil result, so fire-and-forget callers can use null checks instead of
// exception handling.
type Controller struct {
	client   SessionAPI
	player   Player
	times    *TimeModel
	recovery *RecoveryPolicy
	cb       Callbacks

	mu            sync.Mutex
	source        SourceConfig
	tracks        Tracks
	session       *Session
	status        Status
	lastError     string
	duration      float64
	generation    uint64
	seeking       bool
	recreating    bool
	tracksApplied bool
	progressAbs   float64 // last absolute playback time reported by the player
	bufferStart   float64 // earliest absolute time still in the player's buffer, -1 unknown
}

// NewController wires a controller to a transcode client and player.
func NewController(client SessionAPI, player Player, times *TimeModel, recovery *RecoveryPolicy, cb Callbacks) *Controller {
	if times == nil {
		times = NewTimeModel(0)
	}
	if recovery == nil {
		recovery = NewRecoveryPolicy(0, nil)
	}
	return &Controller{
		client:      client,
		player:      player,
		times:       times,
		recovery:    recovery,
		cb:          cb,
		status:      StatusIdle,
		tracks:      Tracks{Audio: -1, Subtitle: -1},
		bufferStart: -1,
	}
}

// SetSource points the controller at a new media path. Any existing session
// identity is abandoned (the server expires it independently), track
// selection returns to defaults and the recovery counter resets.
func (c *Controller) SetSource(cfg SourceConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = cfg
	c.tracks = Tracks{Audio: -1, Subtitle: -1}
	c.session = nil
	c.status = StatusIdle
	c.lastError = ""
	c.duration = 0
	c.generation++
	c.seeking = false
	c.recreating = false
	c.tracksApplied = false
	c.progressAbs = 0
	c.bufferStart = -1
	c.times.Reset(0)
	c.recovery.ResetFor(cfg.Path)
}

// CreateSession starts a new transcode session positioned at target seconds
// of absolute media time. On success the player is pointed at the new
// playlist and any residual delta between target and the keyframe-aligned
// session start is recorded as a pending seek for the event bridge to apply.
//
// Returns nil on failure; the error is recorded as controller state. A
// failed create never clears an existing working session.
func (c *Controller) CreateSession(ctx context.Context, target float64, opts CreateOptions) *Session {
	c.mu.Lock()
	if c.source.Path == "" {
		c.mu.Unlock()
		log.Printf("[controller] create ignored: no source configured")
		return nil
	}
	if opts.AudioTrack != nil {
		c.tracks.Audio = *opts.AudioTrack
	}
	if opts.SubtitleTrack != nil {
		c.tracks.Subtitle = *opts.SubtitleTrack
	}
	c.generation++
	gen := c.generation
	c.status = StatusCreating
	req := transcode.CreateRequest{
		Path:          c.source.Path,
		Start:         target,
		HasDV:         c.source.HasDV,
		DVProfile:     c.source.DVProfile,
		HasHDR:        c.source.HasHDR,
		ForceAAC:      c.source.ForceAAC,
		AudioTrack:    c.tracks.Audio,
		SubtitleTrack: c.tracks.Subtitle,
		TrackSwitch:   opts.TrackSwitch,
	}
	c.mu.Unlock()

	log.Printf("[controller] creating session path=%q start=%.3fs audioTrack=%d subtitleTrack=%d trackSwitch=%v",
		req.Path, target, req.AudioTrack, req.SubtitleTrack, req.TrackSwitch)

	resp, err := c.client.Create(ctx, req)
	if err != nil {
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			log.Printf("[controller] discarding stale create failure (superseded): %v", err)
			return nil
		}
		c.status = StatusError
		c.lastError = fmt.Sprintf("failed to start playback session: %v", err)
		c.recreating = false
		c.mu.Unlock()
		log.Printf("[controller] create failed: %v", err)
		return nil
	}

	return c.applySessionResponse(resp, target, gen, opts.recovery)
}

// applySessionResponse folds a create or seek response into controller and
// time state. A stale generation means a newer operation has since started;
// the response is discarded untouched.
func (c *Controller) applySessionResponse(resp *transcode.SessionResponse, target float64, gen uint64, recoveryCreate bool) *Session {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		log.Printf("[controller] discarding stale session response for %s (superseded)", resp.SessionID)
		return nil
	}

	sessionStart := target
	if resp.StartOffset != nil {
		sessionStart = *resp.StartOffset
	}
	actualStart := sessionStart
	if resp.ActualStartOffset != nil {
		actualStart = *resp.ActualStartOffset
	}
	keyframeDelta := actualStart - sessionStart
	if resp.KeyframeDelta != nil {
		keyframeDelta = *resp.KeyframeDelta
	}
	if resp.Duration != nil && *resp.Duration > 0 {
		c.duration = *resp.Duration
	}

	s := Session{
		ID:                   resp.SessionID,
		PlaylistURL:          c.client.ResolveURL(resp.PlaylistURL),
		RequestedStartOffset: sessionStart,
		ActualStartOffset:    actualStart,
		KeyframeDelta:        keyframeDelta,
		Duration:             c.duration,
	}
	c.session = &s

	c.times.Reset(sessionStart)
	pending := target - sessionStart
	if pending < 0 {
		pending = 0
	}
	c.times.SetPendingSeek(pending)

	c.status = StatusReady
	c.lastError = ""
	c.tracksApplied = true
	c.recreating = false
	c.progressAbs = sessionStart
	c.bufferStart = -1
	// A session the user asked for starting cleanly means the stream is
	// healthy again; recovery-driven recreates must not refresh their own
	// budget or a broken stream would retry forever.
	if !recoveryCreate {
		c.recovery.ResetFor(c.source.Path)
	}

	player := c.player
	cb := c.cb.OnSessionCreated
	c.mu.Unlock()

	log.Printf("[controller] session %s ready: start=%.3fs actual=%.3fs keyframeDelta=%.3fs pendingSeek=%.3fs",
		s.ID, sessionStart, actualStart, keyframeDelta, pending)

	if player != nil {
		player.Load(s.PlaylistURL)
	}
	if cb != nil {
		cb(s)
	}
	return &s
}

// Seek moves playback to target seconds of absolute media time.
//
// Routing: targets inside the current session's buffered range become an
// in-player seek with no server round trip. Targets outside it go to the
// seek RPC, which repositions the existing encode process; if that fails the
// controller falls back to a full create.
//
// Concurrent seeks are dropped, not queued: while one seek-class operation is
// in flight new requests return false immediately, so rapid input cannot
// pile up a seek storm.
func (c *Controller) Seek(ctx context.Context, target float64) bool {
	c.mu.Lock()
	if c.seeking {
		c.mu.Unlock()
		log.Printf("[controller] seek to %.3fs dropped: another seek in flight", target)
		return false
	}
	c.seeking = true

	if c.session != nil && c.times.CoversTarget(target) {
		rel := c.times.ToRelative(target)
		c.times.ClearPendingSeek()
		player := c.player
		c.seeking = false
		c.mu.Unlock()
		log.Printf("[controller] in-buffer seek to %.3fs (relative %.3fs)", target, rel)
		player.Seek(rel)
		return true
	}

	sess := c.session
	if sess != nil {
		c.status = StatusSeeking
		c.generation++
	}
	gen := c.generation
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.seeking = false
		c.mu.Unlock()
	}()

	if sess != nil {
		resp, err := c.client.Seek(ctx, sess.ID, target)
		if err == nil {
			return c.applySessionResponse(resp, target, gen, false) != nil
		}
		log.Printf("[controller] seek RPC failed for session %s, falling back to create: %v", sess.ID, err)
	}

	return c.CreateSession(ctx, target, CreateOptions{}) != nil
}

// ChangeAudioTrack switches the audio track. The server bakes the audio
// choice into the encode, so this always recreates the session at the
// current position with trackSwitch set.
func (c *Controller) ChangeAudioTrack(ctx context.Context, index int, currentTime float64) *Session {
	c.mu.Lock()
	c.recreating = true
	c.mu.Unlock()
	log.Printf("[controller] audio track change to %d, recreating session at %.3fs", index, currentTime)
	return c.CreateSession(ctx, currentTime, CreateOptions{AudioTrack: &index, TrackSwitch: true})
}

// ChangeSubtitleTrack switches the subtitle track. Subtitles are a sidecar
// text track decoupled from the encode, so this never touches the network;
// the subtitle loader re-fetches independently.
func (c *Controller) ChangeSubtitleTrack(index int) {
	c.mu.Lock()
	c.tracks.Subtitle = index
	cb := c.cb.OnSubtitleTrackChanged
	c.mu.Unlock()
	log.Printf("[controller] subtitle track changed to %d (no session recreate)", index)
	if cb != nil {
		cb(index)
	}
}

// HandlePlayerError runs the bounded recovery policy for a player-reported
// stream error. Recognized signatures within the attempt budget recreate the
// session at the current position carrying the current track selection and
// HDR flags; everything else surfaces through OnFatalError. Returns true
// when recovery was attempted.
func (c *Controller) HandlePlayerError(ctx context.Context, perr PlayerError) bool {
	if c.recovery.ShouldRecover(perr) {
		c.mu.Lock()
		at := c.progressAbs
		c.mu.Unlock()
		log.Printf("[controller] recovering from stream error (%s %d) attempt %d: recreating at %.3fs",
			perr.Domain, perr.Code, c.recovery.Attempts(), at)
		c.CreateSession(ctx, at, CreateOptions{recovery: true})
		return true
	}

	c.mu.Lock()
	c.status = StatusError
	c.lastError = perr.Error()
	cb := c.cb.OnFatalError
	c.mu.Unlock()
	log.Printf("[controller] unrecoverable player error: domain=%s code=%d msg=%q", perr.Domain, perr.Code, perr.Message)
	if cb != nil {
		cb(perr.Error())
	}
	return false
}

// ReportServerFatal surfaces a fatal error detected by the health monitor.
func (c *Controller) ReportServerFatal(reason string) {
	c.mu.Lock()
	c.status = StatusError
	c.lastError = reason
	cb := c.cb.OnFatalError
	c.mu.Unlock()
	if cb != nil {
		cb(reason)
	}
}

// ReportEnded surfaces normal end of playback.
func (c *Controller) ReportEnded() {
	c.mu.Lock()
	cb := c.cb.OnPlaybackEnded
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// CorrectOffset re-bases the time model on the server's authoritative start
// offset. Session identity is untouched.
func (c *Controller) CorrectOffset(serverStartOffset float64) {
	c.times.CorrectOffset(serverStartOffset)
	c.mu.Lock()
	cb := c.cb.OnOffsetCorrection
	c.mu.Unlock()
	log.Printf("[controller] offset corrected to server start %.3fs", serverStartOffset)
	if cb != nil {
		cb(serverStartOffset)
	}
}

// RecordProgress stores the player's last known absolute position and
// earliest buffered time, read back by the health monitor's keepalives.
func (c *Controller) RecordProgress(absolute, bufferStart float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.progressAbs = absolute
	if bufferStart >= 0 {
		c.bufferStart = bufferStart
	}
}

// CurrentSession returns a copy of the live session, or nil.
func (c *Controller) CurrentSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	s := *c.session
	s.Duration = c.duration
	return &s
}

// Times exposes the shared time model. The bridge and monitor read it; only
// the controller re-bases it.
func (c *Controller) Times() *TimeModel { return c.times }

// Status returns the controller's lifecycle state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// LastError returns the human-readable message for the error state.
func (c *Controller) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// TracksApplied reports whether an initial track-aware session creation has
// succeeded. The bridge gates pending seeks on this so a seek is never
// issued against a playlist about to be replaced by a track-corrected one.
func (c *Controller) TracksApplied() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracksApplied
}

// IsRecreating reports whether an audio-track recreate is in flight, letting
// dependent UI suppress transient error toasts.
func (c *Controller) IsRecreating() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recreating
}

// Tracks returns the remembered track selection.
func (c *Controller) Tracks() Tracks {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tracks
}

// Duration returns the best known total media duration, 0 when unknown.
func (c *Controller) Duration() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.duration
}

// SetDuration overwrites the stored duration. Merge policy lives in the
// event bridge; this is the raw setter.
func (c *Controller) SetDuration(d float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.duration = d
	if c.session != nil {
		c.session.Duration = d
	}
}

// CurrentTime returns the last absolute playback time reported by the player.
func (c *Controller) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progressAbs
}

// BufferStart returns the earliest absolute time still buffered by the
// player, or -1 when unknown.
func (c *Controller) BufferStart() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufferStart
}

// Source returns the configured media source.
func (c *Controller) Source() SourceConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// Player returns the attached player command interface.
func (c *Controller) Player() Player { return c.player }
