package coordinator

import (
	"sync"

	"github.com/google/uuid"

	"github.com/abcdqfr/rtl433-ha/pkg/buffer"
	"github.com/abcdqfr/rtl433-ha/registry"
)

// Subscription is one consumer's view of the change-event feed. Events
// buffer per subscriber with a drop-oldest policy, so a slow consumer
// loses its own oldest events without ever blocking the pipeline or
// other subscribers.
type Subscription struct {
	id     string
	ring   *buffer.Ring[registry.ChangeEvent]
	notify chan struct{}
	out    chan registry.ChangeEvent
	quit   chan struct{}
	once   sync.Once

	unregister func(id string)
}

func newSubscription(capacity int, onDrop func(string), unregister func(string)) *Subscription {
	id := uuid.NewString()
	s := &Subscription{
		id:         id,
		notify:     make(chan struct{}, 1),
		out:        make(chan registry.ChangeEvent),
		quit:       make(chan struct{}),
		unregister: unregister,
	}
	s.ring = buffer.NewRing(capacity, buffer.WithDropCallback(func(registry.ChangeEvent) {
		if onDrop != nil {
			onDrop(id)
		}
	}))

	go s.pump()
	return s
}

// ID returns the subscriber's unique identifier.
func (s *Subscription) ID() string {
	return s.id
}

// Events returns the event channel. It is closed when the subscription
// is cancelled.
func (s *Subscription) Events() <-chan registry.ChangeEvent {
	return s.out
}

// Cancel detaches the subscriber. Idempotent; delivery to other
// subscribers is unaffected.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.quit)
		s.unregister(s.id)
	})
}

// deliver enqueues an event without blocking the caller.
func (s *Subscription) deliver(ev registry.ChangeEvent) {
	_ = s.ring.Write(ev)
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump drains the ring into the out channel at the consumer's pace.
func (s *Subscription) pump() {
	defer close(s.out)

	for {
		for {
			ev, ok := s.ring.Read()
			if !ok {
				break
			}
			select {
			case s.out <- ev:
			case <-s.quit:
				return
			}
		}

		select {
		case <-s.notify:
		case <-s.quit:
			return
		}
	}
}
