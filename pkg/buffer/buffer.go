// Package buffer provides a thread-safe fixed-capacity ring buffer with
// configurable overflow policies. The coordinator uses it to decouple the
// ingestion pipeline from slow event subscribers.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/abcdqfr/rtl433-ha/errors"
)

// OverflowPolicy defines what Write does when the buffer is full.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room for the new one.
	DropOldest OverflowPolicy = iota

	// DropNewest discards the incoming item and keeps the buffered ones.
	DropNewest
)

// String returns a human-readable name for the policy.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// DropCallback is invoked with each item discarded by the overflow policy.
// It is called outside the buffer lock.
type DropCallback[T any] func(item T)

// Statistics holds cumulative buffer counters. All fields are safe to read
// concurrently.
type Statistics struct {
	Writes atomic.Int64
	Reads  atomic.Int64
	Drops  atomic.Int64
}

// Ring is a fixed-capacity circular buffer. Safe for concurrent use.
type Ring[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	size     int
	head     int // next write position
	tail     int // next read position
	policy   OverflowPolicy
	onDrop   DropCallback[T]
	closed   bool
	stats    Statistics
}

// Option configures a Ring.
type Option[T any] func(*Ring[T])

// WithPolicy sets the overflow policy. The default is DropOldest.
func WithPolicy[T any](p OverflowPolicy) Option[T] {
	return func(r *Ring[T]) { r.policy = p }
}

// WithDropCallback registers a callback for dropped items.
func WithDropCallback[T any](cb DropCallback[T]) Option[T] {
	return func(r *Ring[T]) { r.onDrop = cb }
}

// NewRing creates a ring buffer with the given capacity. A capacity below
// one is raised to one.
func NewRing[T any](capacity int, options ...Option[T]) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	r := &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
		policy:   DropOldest,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Write adds an item according to the overflow policy. It returns
// ErrAlreadyStopped after Close.
func (r *Ring[T]) Write(item T) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "buffer", "Write", "write to closed buffer")
	}

	var dropped T
	var didDrop bool

	if r.size == r.capacity {
		r.stats.Drops.Add(1)
		switch r.policy {
		case DropNewest:
			r.mu.Unlock()
			if r.onDrop != nil {
				r.onDrop(item)
			}
			return nil
		case DropOldest:
			dropped = r.items[r.tail]
			didDrop = true
			r.tail = (r.tail + 1) % r.capacity
			r.size--
		}
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % r.capacity
	r.size++
	r.stats.Writes.Add(1)
	r.mu.Unlock()

	if didDrop && r.onDrop != nil {
		r.onDrop(dropped)
	}
	return nil
}

// Read removes and returns the oldest item. The second return value is
// false when the buffer is empty.
func (r *Ring[T]) Read() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}

	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % r.capacity
	r.size--
	r.stats.Reads.Add(1)
	return item, true
}

// ReadBatch removes and returns up to max items, oldest first.
func (r *Ring[T]) ReadBatch(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	if max <= 0 || r.size == 0 {
		return nil
	}
	n := max
	if n > r.size {
		n = r.size
	}

	var zero T
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, r.items[r.tail])
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % r.capacity
	}
	r.size -= n
	r.stats.Reads.Add(int64(n))
	return out
}

// Peek returns the oldest item without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	if r.size == 0 {
		return zero, false
	}
	return r.items[r.tail], true
}

// Size returns the current number of buffered items.
func (r *Ring[T]) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Capacity returns the fixed capacity.
func (r *Ring[T]) Capacity() int {
	return r.capacity
}

// Stats returns the cumulative counters.
func (r *Ring[T]) Stats() *Statistics {
	return &r.stats
}

// Clear discards all buffered items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.tail = 0
	r.size = 0
}

// Close marks the buffer closed. Writes fail afterwards; buffered items
// remain readable.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
