package playback

import (
	"context"
	"log"
	"math"
)

// DurationSource ranks where a duration report came from. Player-reported
// values are untrusted: HLS players routinely report only the currently
// buffered window as if it were the total duration, or confuse units.
// Authoritative sources (the server's probe, an out-of-band hint) may always
// overwrite.
type DurationSource int

const (
	DurationFromPlayer DurationSource = iota
	DurationFromServer
	DurationFromHint
)

// Authoritative reports whether the source may overwrite unconditionally.
func (s DurationSource) Authoritative() bool {
	return s == DurationFromServer || s == DurationFromHint
}

// unitRatios are the ratios that indicate a unit-conversion artifact rather
// than a genuine duration change: minutes, percent, 10-minute units,
// milliseconds, hours, minute-milliseconds.
var unitRatios = []float64{60, 100, 600, 1000, 3600, 60000}

const unitRatioTolerance = 0.05

// looksLikeUnitMismatch reports whether two durations differ by a factor
// suggesting one of them is in the wrong unit.
func looksLikeUnitMismatch(a, b float64) bool {
	if a <= 0 || b <= 0 {
		return false
	}
	ratio := a / b
	if ratio < 1 {
		ratio = 1 / ratio
	}
	for _, r := range unitRatios {
		if math.Abs(ratio-r)/r <= unitRatioTolerance {
			return true
		}
	}
	return false
}

// MergeDuration applies the non-regressing, source-ranked duration policy:
// an incoming value only replaces the current one when it is not a unit
// artifact and not smaller, unless the source is authoritative. Returns the
// value to keep and whether it changed.
func MergeDuration(current, incoming float64, source DurationSource) (float64, bool) {
	if incoming <= 0 {
		return current, false
	}
	if current <= 0 {
		return incoming, true
	}
	if source.Authoritative() {
		if incoming != current {
			return incoming, true
		}
		return current, false
	}
	if looksLikeUnitMismatch(current, incoming) {
		return current, false
	}
	if incoming < current {
		return current, false
	}
	if incoming == current {
		return current, false
	}
	return incoming, true
}

// ProgressBounds are the player's reported buffered/seekable extents, in
// session-relative seconds. Either may be absent.
type ProgressBounds struct {
	Seekable *float64
	Playable *float64
	// BufferStart is the earliest relative time still in the player's
	// buffer, when the player reports it.
	BufferStart *float64
}

// EventBridge translates raw player callbacks into controller time updates
// and applies pending seeks exactly once conditions are safe.
type EventBridge struct {
	c *Controller
}

// NewEventBridge returns a bridge feeding the given controller.
func NewEventBridge(c *Controller) *EventBridge {
	return &EventBridge{c: c}
}

// OnProgress handles a periodic position report from the player.
//
// The buffered range grows from the seekable/playable bounds. If a pending
// seek is outstanding and the initial tracks are confirmed applied, the
// report either clears it (close enough to target) or reissues the player
// seek: the player silently ignores seeks issued before it has buffered
// enough, so the bridge keeps retrying until a progress report lands on
// target.
func (b *EventBridge) OnProgress(relative float64, bounds ProgressBounds) {
	times := b.c.Times()
	absolute := times.ToAbsolute(relative)

	if bounds.Seekable != nil {
		times.AdvanceBuffer(times.ToAbsolute(*bounds.Seekable))
	}
	if bounds.Playable != nil {
		times.AdvanceBuffer(times.ToAbsolute(*bounds.Playable))
	}

	bufferStart := -1.0
	if bounds.BufferStart != nil {
		bufferStart = times.ToAbsolute(*bounds.BufferStart)
	}
	b.c.RecordProgress(absolute, bufferStart)

	pending, ok := times.PendingSeek()
	if !ok || !b.c.TracksApplied() {
		return
	}
	if math.Abs(relative-pending) <= pendingSeekTolerance {
		times.ClearPendingSeek()
		log.Printf("[bridge] pending seek satisfied at %.3fs (relative)", relative)
		return
	}
	log.Printf("[bridge] reissuing pending seek to %.3fs (player at %.3fs)", pending, relative)
	b.c.Player().Seek(pending)
}

// OnLoad handles the player's duration report for a freshly loaded playlist.
func (b *EventBridge) OnLoad(reportedDuration float64) {
	b.UpdateDuration(reportedDuration, DurationFromPlayer)
}

// UpdateDuration merges a duration report from the given source into the
// controller state.
func (b *EventBridge) UpdateDuration(reported float64, source DurationSource) {
	current := b.c.Duration()
	merged, changed := MergeDuration(current, reported, source)
	if !changed {
		if reported > 0 && merged == current && reported != current {
			log.Printf("[bridge] rejecting duration %.3fs (current %.3fs, source %d)", reported, current, source)
		}
		return
	}
	log.Printf("[bridge] duration updated %.3fs -> %.3fs (source %d)", current, merged, source)
	b.c.SetDuration(merged)
}

// OnEnd handles normal end of playback.
func (b *EventBridge) OnEnd() {
	log.Printf("[bridge] playback ended")
	b.c.ReportEnded()
}

// OnError feeds a player error through the controller's bounded recovery
// policy before it can surface to the user.
func (b *EventBridge) OnError(ctx context.Context, perr PlayerError) {
	b.c.HandlePlayerError(ctx, perr)
}
