package monitor

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"novaplayer/services/playback"
	"novaplayer/services/transcode"
)

// driftThreshold is how far the server's reported start offset may diverge
// from the client's buffered range before an offset correction fires.
const driftThreshold = 0.5

// HealthAPI is the slice of the transcode client the monitor needs.
type HealthAPI interface {
	Keepalive(ctx context.Context, sessionID string, currentTime, bufferStart float64) (*transcode.KeepaliveResponse, error)
	Status(ctx context.Context, sessionID string) (*transcode.SessionStatus, error)
}

var _ HealthAPI = (*transcode.Client)(nil)

// Monitor keeps the server-side encode alive and detects divergence or fatal
// failure. One monitor is scoped to one mounted consumer: Stop tears it down
// cleanly and it follows the controller's current session id across
// recreates.
type Monitor struct {
	client     HealthAPI
	controller *playback.Controller
	interval   time.Duration

	mu            sync.Mutex
	fatalReported map[string]bool

	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// New returns a monitor pinging every interval while a session is active.
func New(client HealthAPI, controller *playback.Controller, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{
		client:        client,
		controller:    controller,
		interval:      interval,
		fatalReported: make(map[string]bool),
	}
}

// Start launches the keepalive and status poll loop. Calling Start on a
// running monitor restarts it.
func (m *Monitor) Start(ctx context.Context) {
	m.Stop()

	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Go(func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.tick(ctx)
			}
		}
	})
}

// Stop cancels the poll loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		m.wg.Wait()
	}
}

func (m *Monitor) tick(ctx context.Context) {
	sess := m.controller.CurrentSession()
	if sess == nil {
		return
	}

	m.mu.Lock()
	reported := m.fatalReported[sess.ID]
	m.mu.Unlock()
	if reported {
		// A fatal error was already surfaced for this session; no more
		// pings until the controller moves to a new id.
		return
	}

	m.keepalive(ctx, sess)
	m.pollStatus(ctx, sess)
}

// keepalive extends the server's idle timeout and reconciles the client's
// time base with the server's authoritative start offset. Transport failures
// are logged and swallowed; keepalive is informational.
func (m *Monitor) keepalive(ctx context.Context, sess *playback.Session) {
	resp, err := m.client.Keepalive(ctx, sess.ID, m.controller.CurrentTime(), m.controller.BufferStart())
	if err != nil {
		log.Printf("[monitor] session %s: keepalive failed: %v", sess.ID, err)
		return
	}

	times := m.controller.Times()
	bufferEnd := times.SessionBufferEnd()
	offset := times.PlaybackOffset()
	// The server is the source of truth for where the encode begins: it can
	// silently restart the process at a shifted position. Correct only when
	// the reported start has actually moved away from our time base, not
	// merely because the buffered range has grown past it.
	if math.Abs(resp.StartOffset-bufferEnd) > driftThreshold &&
		math.Abs(resp.StartOffset-offset) > driftThreshold {
		log.Printf("[monitor] session %s: offset drift detected (server start %.3fs, offset %.3fs, buffer end %.3fs)",
			sess.ID, resp.StartOffset, offset, bufferEnd)
		m.controller.CorrectOffset(resp.StartOffset)
	}
}

func (m *Monitor) pollStatus(ctx context.Context, sess *playback.Session) {
	st, err := m.client.Status(ctx, sess.ID)
	if err != nil {
		log.Printf("[monitor] session %s: status poll failed: %v", sess.ID, err)
		return
	}
	if st.Status != "error" || st.FatalError == "" {
		return
	}

	m.mu.Lock()
	already := m.fatalReported[sess.ID]
	m.fatalReported[sess.ID] = true
	m.mu.Unlock()
	if already {
		return
	}

	log.Printf("[monitor] session %s: fatal error reported by server: %s", sess.ID, st.FatalError)
	m.controller.ReportServerFatal(st.FatalError)
}
