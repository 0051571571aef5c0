// Package watch provides a minimal observable value: subscribers receive
// the current value on subscription and every published value afterwards.
// It is the framework-neutral replacement for platform reactive streams;
// the only obligation is "emit on state change".
package watch

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Stream holds a current value of type T and fans out updates to
// subscribers. Publishing never blocks: a subscriber that falls more than
// subscriberBuffer values behind misses intermediate updates but always
// observes the latest state eventually.
type Stream[T any] struct {
	mu      sync.Mutex
	current T
	valid   bool
	subs    map[uint64]chan T
	nextID  uint64
}

// New returns an empty stream with no current value.
func New[T any]() *Stream[T] {
	return &Stream[T]{subs: make(map[uint64]chan T)}
}

// NewWith returns a stream seeded with an initial value.
func NewWith[T any](initial T) *Stream[T] {
	s := New[T]()
	s.current = initial
	s.valid = true
	return s
}

// Publish stores v as the current value and notifies all subscribers.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = v
	s.valid = true
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			// Slow subscriber: drop one stale value to make room for the
			// latest, so the channel always converges on current state.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Get returns the current value. The second result is false if nothing has
// been published yet.
func (s *Stream[T]) Get() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.valid
}

// Subscribe registers a new subscriber. The returned channel immediately
// yields the current value (if any) and is closed when ctx is cancelled.
func (s *Stream[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, subscriberBuffer)

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	if s.valid {
		ch <- s.current
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		close(ch)
	}()

	return ch
}
