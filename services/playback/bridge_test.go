package playback

import (
	"context"
	"testing"

	"novaplayer/services/transcode"
)

func newBridgeFixture(t *testing.T) (*EventBridge, *Controller, *fakePlayer, *fakeSessionAPI) {
	t.Helper()
	api := &fakeSessionAPI{
		createFn: func(req transcode.CreateRequest) (*transcode.SessionResponse, error) {
			return &transcode.SessionResponse{
				SessionID:         "b-1",
				PlaylistURL:       "/video/hls/b-1/stream.m3u8",
				StartOffset:       fptr(120),
				ActualStartOffset: fptr(118),
			}, nil
		},
	}
	player := &fakePlayer{}
	c := newTestController(api, player, Callbacks{})
	if c.CreateSession(context.Background(), 125, CreateOptions{}) == nil {
		t.Fatal("create failed")
	}
	return NewEventBridge(c), c, player, api
}

func TestOnProgressAdvancesBuffer(t *testing.T) {
	b, c, _, _ := newBridgeFixture(t)
	c.Times().ClearPendingSeek()

	b.OnProgress(10, ProgressBounds{Seekable: fptr(40)})
	if got := c.Times().SessionBufferEnd(); got != 160 {
		t.Errorf("buffer end = %v, want 160 (offset 120 + seekable 40)", got)
	}

	// Playable bound lower than current buffer end must not regress it
	b.OnProgress(12, ProgressBounds{Playable: fptr(30)})
	if got := c.Times().SessionBufferEnd(); got != 160 {
		t.Errorf("buffer end = %v, want 160 (no regression)", got)
	}

	if got := c.CurrentTime(); got != 132 {
		t.Errorf("current time = %v, want 132 (offset 120 + relative 12)", got)
	}
}

func TestPendingSeekClearedWhenClose(t *testing.T) {
	b, c, player, _ := newBridgeFixture(t)
	// Fixture leaves a pending seek of 5 (target 125, session start 120)

	tests := []struct {
		name      string
		relative  float64
		wantClear bool
	}{
		{name: "exactly at target", relative: 5, wantClear: true},
		{name: "just inside tolerance", relative: 5.25, wantClear: true},
		{name: "just below target inside tolerance", relative: 4.78, wantClear: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c.Times().SetPendingSeek(5)
			seeksBefore := len(player.seekTargets())
			b.OnProgress(tt.relative, ProgressBounds{})
			_, ok := c.Times().PendingSeek()
			if ok == tt.wantClear {
				t.Errorf("pending seek cleared = %v, want %v", !ok, tt.wantClear)
			}
			if got := len(player.seekTargets()); got != seeksBefore {
				t.Error("no seek command should be issued when clearing")
			}
		})
	}
}

func TestPendingSeekReissuedWhenFar(t *testing.T) {
	b, c, player, _ := newBridgeFixture(t)
	c.Times().SetPendingSeek(5)

	// Player reports a position well away from the target: the earlier seek
	// was silently ignored, reissue it.
	b.OnProgress(0.5, ProgressBounds{})
	seeks := player.seekTargets()
	if len(seeks) != 1 || seeks[0] != 5 {
		t.Fatalf("player seeks = %v, want [5]", seeks)
	}
	if _, ok := c.Times().PendingSeek(); !ok {
		t.Error("pending seek must survive until a progress report lands on target")
	}

	// Next report lands on target and clears it
	b.OnProgress(5.1, ProgressBounds{})
	if _, ok := c.Times().PendingSeek(); ok {
		t.Error("pending seek should be cleared")
	}
}

func TestPendingSeekGatedOnTracksApplied(t *testing.T) {
	api := &fakeSessionAPI{}
	player := &fakePlayer{}
	c := newTestController(api, player, Callbacks{})
	b := NewEventBridge(c)

	// No session created yet: tracksApplied is false
	c.Times().Reset(120)
	c.Times().SetPendingSeek(5)

	b.OnProgress(0.5, ProgressBounds{})
	if len(player.seekTargets()) != 0 {
		t.Error("pending seek must not be applied before initial tracks are confirmed")
	}
	if _, ok := c.Times().PendingSeek(); !ok {
		t.Error("pending seek should remain outstanding")
	}
}

func TestDurationMergePolicy(t *testing.T) {
	tests := []struct {
		name     string
		current  float64
		incoming float64
		source   DurationSource
		want     float64
	}{
		{name: "minutes artifact rejected", current: 5400, incoming: 90, source: DurationFromPlayer, want: 5400},
		{name: "authoritative overrides artifact", current: 5400, incoming: 90, source: DurationFromHint, want: 90},
		{name: "smaller non-artifact rejected", current: 5400, incoming: 4000, source: DurationFromPlayer, want: 5400},
		{name: "larger accepted", current: 5400, incoming: 5430, source: DurationFromPlayer, want: 5430},
		{name: "milliseconds artifact rejected", current: 5400, incoming: 5400000, source: DurationFromPlayer, want: 5400},
		{name: "hours artifact rejected", current: 5400, incoming: 1.5, source: DurationFromPlayer, want: 5400},
		{name: "first value accepted", current: 0, incoming: 5400, source: DurationFromPlayer, want: 5400},
		{name: "server value always wins", current: 5430, incoming: 5400, source: DurationFromServer, want: 5400},
		{name: "zero incoming ignored", current: 5400, incoming: 0, source: DurationFromServer, want: 5400},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := MergeDuration(tt.current, tt.incoming, tt.source)
			if got != tt.want {
				t.Errorf("MergeDuration(%v, %v, %v) = %v, want %v", tt.current, tt.incoming, tt.source, got, tt.want)
			}
		})
	}
}

func TestOnLoadUpdatesControllerDuration(t *testing.T) {
	b, c, _, _ := newBridgeFixture(t)

	b.OnLoad(5400)
	if got := c.Duration(); got != 5400 {
		t.Fatalf("duration = %v, want 5400", got)
	}

	// Player later reports only the buffered window; rejected
	b.OnLoad(90)
	if got := c.Duration(); got != 5400 {
		t.Errorf("duration = %v, want 5400 (unit artifact rejected)", got)
	}

	// Authoritative hint may shrink it
	b.UpdateDuration(90, DurationFromHint)
	if got := c.Duration(); got != 90 {
		t.Errorf("duration = %v, want 90 (authoritative)", got)
	}
}

func TestOnEndReportsToCallbacks(t *testing.T) {
	api := &fakeSessionAPI{}
	ended := 0
	c := newTestController(api, &fakePlayer{}, Callbacks{
		OnPlaybackEnded: func() { ended++ },
	})
	b := NewEventBridge(c)

	b.OnEnd()
	if ended != 1 {
		t.Errorf("OnPlaybackEnded fired %d times, want 1", ended)
	}
}
