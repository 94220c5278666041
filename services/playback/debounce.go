package playback

import (
	"sync"
	"time"
)

// SeekDebouncer coalesces rapid seek requests (scrub gestures, repeated skip
// presses) so only the last target in a burst reaches the network. Each new
// request cancels the previous timer; the superseded caller's channel
// resolves false so nothing awaits forever.
type SeekDebouncer struct {
	mu     sync.Mutex
	delay  time.Duration
	do     func(target float64) bool
	timer  *time.Timer
	waiter chan bool
	target float64
}

// NewSeekDebouncer returns a debouncer that invokes do with the final target
// after delay of quiescence.
func NewSeekDebouncer(delay time.Duration, do func(target float64) bool) *SeekDebouncer {
	if delay <= 0 {
		delay = time.Second
	}
	return &SeekDebouncer{delay: delay, do: do}
}

// Request schedules a seek to target. The returned channel receives exactly
// one value: false if a newer request superseded this one (or Cancel ran),
// otherwise the result of the seek action.
func (d *SeekDebouncer) Request(target float64) <-chan bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cancelLocked()

	ch := make(chan bool, 1)
	d.waiter = ch
	d.target = target
	d.timer = time.AfterFunc(d.delay, d.fire)
	return ch
}

// Cancel drops any scheduled seek, resolving its waiter false.
func (d *SeekDebouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
}

func (d *SeekDebouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.waiter != nil {
		d.waiter <- false
		d.waiter = nil
	}
}

func (d *SeekDebouncer) fire() {
	d.mu.Lock()
	ch := d.waiter
	target := d.target
	d.timer = nil
	d.waiter = nil
	d.mu.Unlock()

	if ch == nil {
		// Cancelled between the timer firing and the lock.
		return
	}
	ch <- d.do(target)
}
