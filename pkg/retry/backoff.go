package retry

import (
	"sync"
	"time"
)

// Backoff tracks consecutive failures for a long-lived restart loop and
// computes the delay to apply before the next attempt. Unlike Do, the
// caller owns the loop and the sleep; Backoff only does the arithmetic,
// which keeps restart policies testable with a fake clock.
//
// The zero value is not usable; construct with NewBackoff.
type Backoff struct {
	mu       sync.Mutex
	cfg      Config
	failures int
	delay    time.Duration
}

// NewBackoff creates a Backoff from the given config. MaxAttempts bounds
// the consecutive-failure count: once Exhausted reports true the caller
// must stop retrying and surface a terminal error.
func NewBackoff(cfg Config) *Backoff {
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	return &Backoff{cfg: cfg, delay: cfg.InitialDelay}
}

// Next records one more consecutive failure and returns the delay to
// wait before the next attempt. The first failure returns InitialDelay;
// each subsequent failure multiplies the delay up to MaxDelay.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	d := b.delay
	b.delay = nextDelay(b.delay, b.cfg.Multiplier, b.cfg.MaxDelay)
	return d
}

// Reset clears the failure count and delay. Called after a sustained
// period of healthy running.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.delay = b.cfg.InitialDelay
}

// Failures returns the current consecutive-failure count.
func (b *Backoff) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Exhausted reports whether the consecutive-failure count has reached
// MaxAttempts. MaxAttempts <= 0 means retry forever (never exhausted).
func (b *Backoff) Exhausted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg.MaxAttempts > 0 && b.failures >= b.cfg.MaxAttempts
}
