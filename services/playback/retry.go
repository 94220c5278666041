package playback

import "sync"

// RecoveryPolicy bounds automatic recovery from fatal stream errors. The
// counter is scoped to a single source path; switching sources resets it.
// Recovery attempts themselves never reset the counter, otherwise a session
// that keeps failing the same way would retry forever.
type RecoveryPolicy struct {
	mu          sync.Mutex
	maxAttempts int
	attempts    int
	path        string
	recoverable func(PlayerError) bool
}

// NewRecoveryPolicy returns a policy allowing maxAttempts automatic retries
// per source path for errors matching the recoverable predicate.
func NewRecoveryPolicy(maxAttempts int, recoverable func(PlayerError) bool) *RecoveryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	if recoverable == nil {
		recoverable = IsRecoverableStreamError
	}
	return &RecoveryPolicy{maxAttempts: maxAttempts, recoverable: recoverable}
}

// ResetFor rebinds the policy to a new source path and clears the counter.
func (p *RecoveryPolicy) ResetFor(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.path = path
	p.attempts = 0
}

// ShouldRecover reports whether the given player error should trigger another
// automatic session recreation, and consumes one attempt if so.
func (p *RecoveryPolicy) ShouldRecover(err PlayerError) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.recoverable(err) {
		return false
	}
	if p.attempts >= p.maxAttempts {
		return false
	}
	p.attempts++
	return true
}

// Attempts returns how many recovery attempts have been consumed.
func (p *RecoveryPolicy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}
