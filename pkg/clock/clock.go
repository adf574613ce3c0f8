// Package clock abstracts time operations so that time-dependent code
// (registry sweeps, supervisor backoff, stop timeouts) can be tested
// deterministically. Production code injects Real(); tests inject Fake().
package clock

import "time"

// Clock provides the subset of the time package used by the runtime.
// Any code that would call time.Now, time.After, time.NewTicker, or
// time.Sleep directly should take a Clock instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed.
	After(d time.Duration) <-chan time.Time

	// NewTicker returns a Ticker delivering ticks at the given interval.
	// Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}

// Ticker wraps a periodic timer. Read ticks from C and call Stop when
// done. The C channel has capacity 1, matching time.Ticker: if the
// consumer falls behind, ticks are dropped rather than queued.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns off the ticker. No more ticks are delivered after Stop
// returns. Stop does not close C.
func (t *Ticker) Stop() { t.stopFunc() }
