package playback

import "sync"

const (
	// defaultBufferPadding keeps seeks away from segments the server has
	// announced but may not have finished writing.
	defaultBufferPadding = 0.5

	// minPendingSeek is the smallest post-create correction worth issuing;
	// sub-second deltas are treated as already at target.
	minPendingSeek = 0.5

	// pendingSeekTolerance is how close a progress report must land to a
	// pending seek target for the seek to count as applied.
	pendingSeekTolerance = 0.25
)

// TimeModel converts between absolute media time and session-relative player
// time. A session's player timeline always starts at 0; playbackOffset is the
// absolute time that 0 corresponds to. sessionBufferEnd is the absolute time
// up to which the current session is known to have playable segments.
//
// pendingSeek is stored in session-relative seconds: it is the player-side
// correction still owed after a session was created at a keyframe-aligned
// offset earlier than the requested target.
type TimeModel struct {
	mu               sync.Mutex
	playbackOffset   float64
	sessionBufferEnd float64
	pendingSeek      float64
	hasPendingSeek   bool
	bufferPadding    float64
}

// NewTimeModel returns a time model with the given buffer padding.
// A non-positive padding falls back to the default.
func NewTimeModel(bufferPadding float64) *TimeModel {
	if bufferPadding <= 0 {
		bufferPadding = defaultBufferPadding
	}
	return &TimeModel{bufferPadding: bufferPadding}
}

// Reset re-bases the model on a new session starting at the given absolute
// offset. Buffer knowledge and any pending seek from the old session are
// discarded.
func (t *TimeModel) Reset(sessionStart float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playbackOffset = sessionStart
	t.sessionBufferEnd = sessionStart
	t.pendingSeek = 0
	t.hasPendingSeek = false
}

// ToRelative converts an absolute media time to the current session's
// player timeline.
func (t *TimeModel) ToRelative(absolute float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return absolute - t.playbackOffset
}

// ToAbsolute converts a session-relative player time to absolute media time.
func (t *TimeModel) ToAbsolute(relative float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playbackOffset + relative
}

// PlaybackOffset returns the absolute time of relative 0 for the current session.
func (t *TimeModel) PlaybackOffset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playbackOffset
}

// SessionBufferEnd returns the absolute time up to which segments are known
// to exist.
func (t *TimeModel) SessionBufferEnd() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionBufferEnd
}

// CoversTarget reports whether an absolute seek target is already covered by
// the current session's buffered range, meaning an in-player seek suffices
// and no server round trip is needed. The padding at the top end guards
// against seeking into segments that are announced but not yet durable.
func (t *TimeModel) CoversTarget(target float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessionBufferEnd <= t.playbackOffset {
		return false
	}
	return target >= t.playbackOffset && target <= t.sessionBufferEnd-t.bufferPadding
}

// AdvanceBuffer raises sessionBufferEnd to the given absolute bound.
// The buffer end never regresses.
func (t *TimeModel) AdvanceBuffer(absoluteBound float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if absoluteBound > t.sessionBufferEnd {
		t.sessionBufferEnd = absoluteBound
	}
}

// CorrectOffset re-bases playbackOffset on the server's authoritative start
// offset without touching session identity. The buffer end is lifted to at
// least the new offset so the covered-range invariant holds.
func (t *TimeModel) CorrectOffset(serverStartOffset float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.playbackOffset = serverStartOffset
	if t.sessionBufferEnd < serverStartOffset {
		t.sessionBufferEnd = serverStartOffset
	}
}

// SetPendingSeek records a session-relative seek still owed to the player.
// Deltas at or below the minimum threshold are dropped: the session already
// starts close enough to the target that a second seek buys nothing.
func (t *TimeModel) SetPendingSeek(relative float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if relative <= minPendingSeek {
		t.pendingSeek = 0
		t.hasPendingSeek = false
		return
	}
	t.pendingSeek = relative
	t.hasPendingSeek = true
}

// PendingSeek returns the outstanding relative seek target, if any.
func (t *TimeModel) PendingSeek() (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pendingSeek, t.hasPendingSeek
}

// ClearPendingSeek drops any outstanding seek target.
func (t *TimeModel) ClearPendingSeek() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pendingSeek = 0
	t.hasPendingSeek = false
}
