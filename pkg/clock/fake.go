package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock pinned to the given time. Time stands still
// until Advance is called; pending After, Ticker, and Sleep waiters fire
// when the clock advances past their deadline. Safe for concurrent use.
func Fake(initial time.Time) *FakeClock {
	fc := &FakeClock{current: initial}
	fc.cond = sync.NewCond(&fc.mu)
	return fc
}

// FakeClock is a deterministic Clock for tests. Advance moves time
// forward and fires all waiters whose deadlines have been reached, in
// deadline order.
type FakeClock struct {
	mu      sync.Mutex
	cond    *sync.Cond
	current time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time

	// interval is non-zero for ticker waiters; after firing, the waiter
	// is rescheduled at deadline + interval.
	interval time.Duration

	stopped bool
	fired   bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a one-shot waiter. If d <= 0 the channel receives
// immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.waiters = append(c.waiters, &fakeWaiter{
		deadline: c.current.Add(d),
		ch:       ch,
	})
	c.cond.Broadcast()
	return ch
}

// NewTicker registers a repeating waiter.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	w := &fakeWaiter{
		deadline: c.current.Add(d),
		ch:       make(chan time.Time, 1),
		interval: d,
	}
	c.waiters = append(c.waiters, w)
	c.cond.Broadcast()

	return &Ticker{
		C: w.ch,
		stopFunc: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			w.stopped = true
		},
	}
}

// Sleep blocks until the clock is advanced past d.
func (c *FakeClock) Sleep(d time.Duration) {
	<-c.After(d)
}

// Advance moves the fake clock forward by d, firing every pending waiter
// whose deadline falls within the advanced window, in deadline order.
// Ticker waiters are rescheduled and may fire multiple times during a
// single Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.current.Add(d)

	for {
		w := c.nextExpired(target)
		if w == nil {
			break
		}

		c.current = w.deadline
		select {
		case w.ch <- w.deadline:
		default:
			// Capacity-1 channel already holds an undelivered tick.
		}

		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
		} else {
			w.fired = true
		}
	}

	c.current = target
	c.compact()
}

// WaiterCount returns the number of pending waiters. Tests use this to
// synchronize with goroutines that are about to block on the clock.
func (c *FakeClock) WaiterCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			n++
		}
	}
	return n
}

// BlockUntil blocks until at least n waiters are pending on the clock.
func (c *FakeClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for {
		pending := 0
		for _, w := range c.waiters {
			if !w.stopped && !w.fired {
				pending++
			}
		}
		if pending >= n {
			return
		}
		c.cond.Wait()
	}
}

// nextExpired returns the live waiter with the earliest deadline at or
// before target, or nil. Caller holds c.mu.
func (c *FakeClock) nextExpired(target time.Time) *fakeWaiter {
	sort.SliceStable(c.waiters, func(i, j int) bool {
		return c.waiters[i].deadline.Before(c.waiters[j].deadline)
	})
	for _, w := range c.waiters {
		if w.stopped || w.fired {
			continue
		}
		if !w.deadline.After(target) {
			return w
		}
	}
	return nil
}

// compact drops fired and stopped waiters. Caller holds c.mu.
func (c *FakeClock) compact() {
	live := c.waiters[:0]
	for _, w := range c.waiters {
		if !w.stopped && !w.fired {
			live = append(live, w)
		}
	}
	c.waiters = live
}
