package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"novaplayer/services/transcode"
)

func fptr(v float64) *float64 { return &v }

type seekCall struct {
	sessionID string
	target    float64
}

// fakeSessionAPI is a scriptable stand-in for the transcode client.
type fakeSessionAPI struct {
	mu          sync.Mutex
	createCalls []transcode.CreateRequest
	seekCalls   []seekCall
	createFn    func(transcode.CreateRequest) (*transcode.SessionResponse, error)
	seekFn      func(string, float64) (*transcode.SessionResponse, error)
}

func (f *fakeSessionAPI) Create(_ context.Context, req transcode.CreateRequest) (*transcode.SessionResponse, error) {
	f.mu.Lock()
	f.createCalls = append(f.createCalls, req)
	fn := f.createFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return &transcode.SessionResponse{
		SessionID:   "sess-1",
		PlaylistURL: "/video/hls/sess-1/stream.m3u8",
		StartOffset: fptr(req.Start),
	}, nil
}

func (f *fakeSessionAPI) Seek(_ context.Context, sessionID string, target float64) (*transcode.SessionResponse, error) {
	f.mu.Lock()
	f.seekCalls = append(f.seekCalls, seekCall{sessionID: sessionID, target: target})
	fn := f.seekFn
	f.mu.Unlock()
	if fn != nil {
		return fn(sessionID, target)
	}
	return &transcode.SessionResponse{
		SessionID:   sessionID,
		PlaylistURL: "/video/hls/" + sessionID + "/stream.m3u8",
		StartOffset: fptr(target),
	}, nil
}

func (f *fakeSessionAPI) ResolveURL(s string) string { return "http://backend/api" + s }

func (f *fakeSessionAPI) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.createCalls)
}

func (f *fakeSessionAPI) seekCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seekCalls)
}

// fakePlayer records the commands it receives.
type fakePlayer struct {
	mu    sync.Mutex
	seeks []float64
	loads []string
}

func (p *fakePlayer) Seek(rel float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, rel)
}

func (p *fakePlayer) Play()  {}
func (p *fakePlayer) Pause() {}

func (p *fakePlayer) Load(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loads = append(p.loads, url)
}

func (p *fakePlayer) seekTargets() []float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]float64(nil), p.seeks...)
}

func newTestController(api *fakeSessionAPI, player *fakePlayer, cb Callbacks) *Controller {
	c := NewController(api, player, NewTimeModel(0.5), NewRecoveryPolicy(2, nil), cb)
	c.SetSource(SourceConfig{Path: "/media/movie.mkv"})
	return c
}

func TestCreateSessionColdStartResume(t *testing.T) {
	api := &fakeSessionAPI{
		createFn: func(req transcode.CreateRequest) (*transcode.SessionResponse, error) {
			return &transcode.SessionResponse{
				SessionID:         "warm-1",
				PlaylistURL:       "/video/hls/warm-1/stream.m3u8",
				StartOffset:       fptr(120),
				ActualStartOffset: fptr(118),
				KeyframeDelta:     fptr(-2),
				Duration:          fptr(5400),
			}, nil
		},
	}
	player := &fakePlayer{}
	var created []Session
	c := newTestController(api, player, Callbacks{
		OnSessionCreated: func(s Session) { created = append(created, s) },
	})

	sess := c.CreateSession(context.Background(), 125, CreateOptions{})
	if sess == nil {
		t.Fatal("CreateSession returned nil")
	}
	if sess.ID != "warm-1" {
		t.Errorf("session id = %q, want warm-1", sess.ID)
	}
	if sess.KeyframeDelta != -2 {
		t.Errorf("keyframe delta = %v, want -2", sess.KeyframeDelta)
	}
	if got := c.Times().PlaybackOffset(); got != 120 {
		t.Errorf("playback offset = %v, want 120", got)
	}
	if pending, ok := c.Times().PendingSeek(); !ok || pending != 5 {
		t.Errorf("pending seek = %v, %v, want 5, true", pending, ok)
	}
	if got := c.Status(); got != StatusReady {
		t.Errorf("status = %v, want ready", got)
	}
	if got := c.Duration(); got != 5400 {
		t.Errorf("duration = %v, want 5400", got)
	}
	if len(created) != 1 {
		t.Errorf("OnSessionCreated fired %d times, want 1", len(created))
	}
	if len(player.loads) != 1 || player.loads[0] != "http://backend/api/video/hls/warm-1/stream.m3u8" {
		t.Errorf("player loads = %v", player.loads)
	}
}

func TestCreateSessionSubSecondDeltaSkipsPendingSeek(t *testing.T) {
	api := &fakeSessionAPI{
		createFn: func(req transcode.CreateRequest) (*transcode.SessionResponse, error) {
			return &transcode.SessionResponse{
				SessionID:   "s",
				PlaylistURL: "/video/hls/s/stream.m3u8",
				StartOffset: fptr(124.7),
			}, nil
		},
	}
	c := newTestController(api, &fakePlayer{}, Callbacks{})

	if c.CreateSession(context.Background(), 125, CreateOptions{}) == nil {
		t.Fatal("CreateSession returned nil")
	}
	if _, ok := c.Times().PendingSeek(); ok {
		t.Error("sub-second delta should not record a pending seek")
	}
}

func TestCreateSessionFailureKeepsExistingSession(t *testing.T) {
	fail := false
	api := &fakeSessionAPI{}
	api.createFn = func(req transcode.CreateRequest) (*transcode.SessionResponse, error) {
		if fail {
			return nil, &transcode.TransportError{Op: "create", Err: context.DeadlineExceeded}
		}
		return &transcode.SessionResponse{
			SessionID:   "keep-me",
			PlaylistURL: "/video/hls/keep-me/stream.m3u8",
			StartOffset: fptr(0),
		}, nil
	}
	c := newTestController(api, &fakePlayer{}, Callbacks{})

	if c.CreateSession(context.Background(), 0, CreateOptions{}) == nil {
		t.Fatal("initial create failed")
	}

	fail = true
	if got := c.CreateSession(context.Background(), 50, CreateOptions{}); got != nil {
		t.Errorf("failed create returned %v, want nil", got)
	}
	if got := c.Status(); got != StatusError {
		t.Errorf("status = %v, want error", got)
	}
	if c.LastError() == "" {
		t.Error("expected a human-readable error message")
	}
	sess := c.CurrentSession()
	if sess == nil || sess.ID != "keep-me" {
		t.Errorf("existing session should be untouched, got %v", sess)
	}
}

func TestCreateSessionWithoutSourceIsNoop(t *testing.T) {
	api := &fakeSessionAPI{}
	c := NewController(api, &fakePlayer{}, NewTimeModel(0), NewRecoveryPolicy(2, nil), Callbacks{})

	if got := c.CreateSession(context.Background(), 0, CreateOptions{}); got != nil {
		t.Errorf("CreateSession without source = %v, want nil", got)
	}
	if api.createCount() != 0 {
		t.Error("no RPC should be issued without a source")
	}
}

func TestSeekRoutingInBuffer(t *testing.T) {
	api := &fakeSessionAPI{
		createFn: func(req transcode.CreateRequest) (*transcode.SessionResponse, error) {
			return &transcode.SessionResponse{
				SessionID:   "s",
				PlaylistURL: "/video/hls/s/stream.m3u8",
				StartOffset: fptr(100),
			}, nil
		},
	}
	player := &fakePlayer{}
	c := newTestController(api, player, Callbacks{})
	if c.CreateSession(context.Background(), 100, CreateOptions{}) == nil {
		t.Fatal("create failed")
	}
	c.Times().AdvanceBuffer(160)
	rpcBefore := api.seekCount() + api.createCount()

	if !c.Seek(context.Background(), 155) {
		t.Fatal("in-buffer seek should succeed")
	}
	if got := api.seekCount() + api.createCount(); got != rpcBefore {
		t.Error("in-buffer seek must not issue an RPC")
	}
	seeks := player.seekTargets()
	if len(seeks) != 1 || seeks[0] != 55 {
		t.Errorf("player seeks = %v, want [55]", seeks)
	}
}

func TestSeekRoutingOutOfBuffer(t *testing.T) {
	api := &fakeSessionAPI{
		createFn: func(req transcode.CreateRequest) (*transcode.SessionResponse, error) {
			return &transcode.SessionResponse{
				SessionID:   "s",
				PlaylistURL: "/video/hls/s/stream.m3u8",
				StartOffset: fptr(100),
			}, nil
		},
	}
	c := newTestController(api, &fakePlayer{}, Callbacks{})
	if c.CreateSession(context.Background(), 100, CreateOptions{}) == nil {
		t.Fatal("create failed")
	}
	c.Times().AdvanceBuffer(160)

	if !c.Seek(context.Background(), 170) {
		t.Fatal("out-of-buffer seek should succeed")
	}
	if api.seekCount() != 1 {
		t.Fatalf("seek RPC count = %d, want 1", api.seekCount())
	}
	if api.seekCalls[0].target != 170 {
		t.Errorf("seek RPC target = %v, want 170", api.seekCalls[0].target)
	}
	// Session id retained, time model re-based
	sess := c.CurrentSession()
	if sess == nil || sess.ID != "s" {
		t.Errorf("session after seek = %v, want id s", sess)
	}
	if got := c.Times().PlaybackOffset(); got != 170 {
		t.Errorf("playback offset = %v, want 170", got)
	}
}

func TestSeekFallsBackToCreate(t *testing.T) {
	api := &fakeSessionAPI{
		seekFn: func(string, float64) (*transcode.SessionResponse, error) {
			return nil, transcode.ErrSessionNotFound
		},
	}
	c := newTestController(api, &fakePlayer{}, Callbacks{})
	if c.CreateSession(context.Background(), 0, CreateOptions{}) == nil {
		t.Fatal("create failed")
	}
	createsBefore := api.createCount()

	if !c.Seek(context.Background(), 500) {
		t.Fatal("seek with create fallback should succeed")
	}
	if api.seekCount() != 1 {
		t.Errorf("seek RPC count = %d, want 1", api.seekCount())
	}
	if api.createCount() != createsBefore+1 {
		t.Errorf("create count = %d, want %d", api.createCount(), createsBefore+1)
	}
}

func TestSeekReentrancyDropsConcurrent(t *testing.T) {
	block := make(chan struct{})
	api := &fakeSessionAPI{
		seekFn: func(id string, target float64) (*transcode.SessionResponse, error) {
			<-block
			return &transcode.SessionResponse{
				SessionID:   id,
				PlaylistURL: "/video/hls/" + id + "/stream.m3u8",
				StartOffset: fptr(target),
			}, nil
		},
	}
	c := newTestController(api, &fakePlayer{}, Callbacks{})
	if c.CreateSession(context.Background(), 0, CreateOptions{}) == nil {
		t.Fatal("create failed")
	}

	done := make(chan bool)
	go func() { done <- c.Seek(context.Background(), 300) }()

	// Wait for the first seek to reach the RPC
	deadline := time.After(2 * time.Second)
	for api.seekCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first seek never reached the RPC")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	if c.Seek(context.Background(), 400) {
		t.Error("concurrent seek should be dropped")
	}
	if api.seekCount() != 1 {
		t.Errorf("seek RPC count = %d, want 1", api.seekCount())
	}

	close(block)
	if !<-done {
		t.Error("first seek should have succeeded")
	}
}

func TestTrackChangeIsolation(t *testing.T) {
	api := &fakeSessionAPI{}
	c := newTestController(api, &fakePlayer{}, Callbacks{})
	if c.CreateSession(context.Background(), 0, CreateOptions{}) == nil {
		t.Fatal("create failed")
	}
	createsBefore := api.createCount()

	c.ChangeSubtitleTrack(3)
	if api.createCount() != createsBefore {
		t.Error("subtitle track change must not create a session")
	}
	if got := c.Tracks().Subtitle; got != 3 {
		t.Errorf("subtitle track = %d, want 3", got)
	}

	sess := c.ChangeAudioTrack(context.Background(), 2, 42.5)
	if sess == nil {
		t.Fatal("audio track change should create a session")
	}
	if api.createCount() != createsBefore+1 {
		t.Fatalf("create count = %d, want exactly one more", api.createCount())
	}
	last := api.createCalls[len(api.createCalls)-1]
	if !last.TrackSwitch {
		t.Error("audio track change must set trackSwitch")
	}
	if last.AudioTrack != 2 {
		t.Errorf("create audio track = %d, want 2", last.AudioTrack)
	}
	if last.Start != 42.5 {
		t.Errorf("create start = %v, want 42.5", last.Start)
	}
	if got := c.Tracks().Audio; got != 2 {
		t.Errorf("remembered audio track = %d, want 2", got)
	}
}

func TestStaleCreateResponseDiscarded(t *testing.T) {
	release := make(chan struct{})
	var firstMu sync.Mutex
	first := true
	api := &fakeSessionAPI{}
	api.createFn = func(req transcode.CreateRequest) (*transcode.SessionResponse, error) {
		firstMu.Lock()
		mine := first
		first = false
		firstMu.Unlock()
		if mine {
			<-release
			return &transcode.SessionResponse{
				SessionID:   "stale",
				PlaylistURL: "/video/hls/stale/stream.m3u8",
				StartOffset: fptr(req.Start),
			}, nil
		}
		return &transcode.SessionResponse{
			SessionID:   "fresh",
			PlaylistURL: "/video/hls/fresh/stream.m3u8",
			StartOffset: fptr(req.Start),
		}, nil
	}
	c := newTestController(api, &fakePlayer{}, Callbacks{})

	done := make(chan *Session)
	go func() { done <- c.CreateSession(context.Background(), 10, CreateOptions{}) }()

	deadline := time.After(2 * time.Second)
	for api.createCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("first create never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	// A newer create supersedes the in-flight one
	if c.CreateSession(context.Background(), 20, CreateOptions{}) == nil {
		t.Fatal("second create failed")
	}

	close(release)
	if got := <-done; got != nil {
		t.Errorf("stale create returned %v, want nil", got)
	}
	sess := c.CurrentSession()
	if sess == nil || sess.ID != "fresh" {
		t.Errorf("current session = %v, want fresh", sess)
	}
	if got := c.Times().PlaybackOffset(); got != 20 {
		t.Errorf("playback offset = %v, want 20 (stale response must not mutate state)", got)
	}
}

func TestFatalErrorRecoveryBounded(t *testing.T) {
	api := &fakeSessionAPI{}
	var fatal []string
	c := newTestController(api, &fakePlayer{}, Callbacks{
		OnFatalError: func(reason string) { fatal = append(fatal, reason) },
	})
	if c.CreateSession(context.Background(), 0, CreateOptions{}) == nil {
		t.Fatal("create failed")
	}
	c.RecordProgress(321, -1)
	createsBefore := api.createCount()

	streamErr := PlayerError{Domain: "CoreMediaErrorDomain", Code: -12848, Message: "decode failed"}

	// Attempts 1 and 2 recover silently at the current position
	for i := 1; i <= 2; i++ {
		if !c.HandlePlayerError(context.Background(), streamErr) {
			t.Fatalf("attempt %d should recover", i)
		}
		if len(fatal) != 0 {
			t.Fatalf("attempt %d must not surface to the user", i)
		}
	}
	if api.createCount() != createsBefore+2 {
		t.Fatalf("recovery creates = %d, want 2", api.createCount()-createsBefore)
	}
	last := api.createCalls[len(api.createCalls)-1]
	if last.Start != 321 {
		t.Errorf("recovery create start = %v, want current position 321", last.Start)
	}

	// Attempt 3 exceeds the bound and surfaces
	if c.HandlePlayerError(context.Background(), streamErr) {
		t.Error("attempt 3 must not recover")
	}
	if api.createCount() != createsBefore+2 {
		t.Error("exhausted retries must not create another session")
	}
	if len(fatal) != 1 {
		t.Fatalf("OnFatalError fired %d times, want 1", len(fatal))
	}
	if got := c.Status(); got != StatusError {
		t.Errorf("status = %v, want error", got)
	}
}

func TestUnrecognizedErrorSurfacesImmediately(t *testing.T) {
	api := &fakeSessionAPI{}
	var fatal []string
	c := newTestController(api, &fakePlayer{}, Callbacks{
		OnFatalError: func(reason string) { fatal = append(fatal, reason) },
	})
	if c.CreateSession(context.Background(), 0, CreateOptions{}) == nil {
		t.Fatal("create failed")
	}
	createsBefore := api.createCount()

	other := PlayerError{Domain: "AVFoundationErrorDomain", Code: -11819, Message: "media services reset"}
	if c.HandlePlayerError(context.Background(), other) {
		t.Error("unrecognized error must not recover")
	}
	if api.createCount() != createsBefore {
		t.Error("unrecognized error must not create a session")
	}
	if len(fatal) != 1 {
		t.Errorf("OnFatalError fired %d times, want 1", len(fatal))
	}
}

func TestSetSourceResetsRecovery(t *testing.T) {
	api := &fakeSessionAPI{}
	c := newTestController(api, &fakePlayer{}, Callbacks{})
	if c.CreateSession(context.Background(), 0, CreateOptions{}) == nil {
		t.Fatal("create failed")
	}

	streamErr := PlayerError{Domain: "CoreMediaErrorDomain", Code: -12848}
	c.HandlePlayerError(context.Background(), streamErr)
	c.HandlePlayerError(context.Background(), streamErr)

	// New source starts a fresh attempt budget
	c.SetSource(SourceConfig{Path: "/media/other.mkv"})
	if c.CreateSession(context.Background(), 0, CreateOptions{}) == nil {
		t.Fatal("create failed")
	}
	if !c.HandlePlayerError(context.Background(), streamErr) {
		t.Error("recovery budget should reset for a new source")
	}
}
