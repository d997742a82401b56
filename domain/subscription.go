package domain

import "sync"

// Subscription is a stream of values for a single topic.
//
// The producer side (Send, TrySend, Close) must be driven by one goroutine
// or serialized by the producer. Consumers read Stream until it is closed,
// then inspect Err for the reason.
type Subscription[T any] struct {
	Topic string

	stream      chan T
	done        chan struct{}
	unsubscribe func()

	closeOnce sync.Once
	unsubOnce sync.Once
	mu        sync.Mutex
	err       error
}

func NewSubscription[T any](topic string, size int, unsubscribe func()) *Subscription[T] {
	return &Subscription[T]{
		Topic:       topic,
		stream:      make(chan T, size),
		done:        make(chan struct{}),
		unsubscribe: unsubscribe,
	}
}

func (s *Subscription[T]) Stream() <-chan T {
	return s.stream
}

// Send blocks until the value is taken or the subscriber unsubscribes.
func (s *Subscription[T]) Send(v T) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.stream <- v:
		return true
	case <-s.done:
		return false
	}
}

// TrySend never blocks. It returns false when the buffer is full.
func (s *Subscription[T]) TrySend(v T) bool {
	select {
	case s.stream <- v:
		return true
	default:
		return false
	}
}

// Close ends the stream. err is reported by Err, nil means a clean close.
func (s *Subscription[T]) Close(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.stream)
	})
}

func (s *Subscription[T]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Unsubscribe releases the subscription. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.unsubOnce.Do(func() {
		close(s.done)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// Done is closed once the consumer unsubscribed.
func (s *Subscription[T]) Done() <-chan struct{} {
	return s.done
}
