package channel

import (
	"fmt"
	"sync"
)

// LaggedError is returned by Subscription.TryRecv when the subscriber fell
// behind and Skipped messages were overwritten before it read them.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("receiver lagged behind, %d messages skipped", e.Skipped)
}

type ring[T any] struct {
	mx        sync.Mutex
	buf       []T
	head      uint64 // sequence number of the next message
	receivers int
}

// Broadcast is the sending side of a broadcast channel.
type Broadcast[T any] struct {
	r *ring[T]
}

// Subscription is one receiver of a Broadcast. It is not safe for
// concurrent use by several goroutines.
type Subscription[T any] struct {
	r      *ring[T]
	next   uint64
	closed bool
}

// NewBroadcast returns a broadcast retaining the last capacity messages.
func NewBroadcast[T any](capacity int) (*Broadcast[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("broadcast capacity %d: %w", capacity, ErrCapacity)
	}
	return &Broadcast[T]{
		r: &ring[T]{buf: make([]T, capacity)},
	}, nil
}

// Subscribe creates a receiver which sees messages sent from now on.
func (b *Broadcast[T]) Subscribe() *Subscription[T] {
	b.r.mx.Lock()
	defer b.r.mx.Unlock()
	b.r.receivers++
	return &Subscription[T]{r: b.r, next: b.r.head}
}

// Send publishes v to all current subscribers and returns their count.
// With no subscribers the message is still retained but ErrNoReceivers is
// returned.
func (b *Broadcast[T]) Send(v T) (int, error) {
	b.r.mx.Lock()
	defer b.r.mx.Unlock()
	b.r.buf[b.r.head%uint64(len(b.r.buf))] = v
	b.r.head++
	if b.r.receivers == 0 {
		return 0, ErrNoReceivers
	}
	return b.r.receivers, nil
}

// Receivers reports the number of open subscriptions.
func (b *Broadcast[T]) Receivers() int {
	b.r.mx.Lock()
	defer b.r.mx.Unlock()
	return b.r.receivers
}

// TryRecv returns the next message, ErrEmpty when there is none, ErrClosed
// after Close, or a *LaggedError when messages were lost. After a lag the
// subscription continues from the oldest retained message.
func (s *Subscription[T]) TryRecv() (T, error) {
	var zero T
	if s.closed {
		return zero, ErrClosed
	}
	s.r.mx.Lock()
	defer s.r.mx.Unlock()

	if s.next == s.r.head {
		return zero, ErrEmpty
	}
	size := uint64(len(s.r.buf))
	var oldest uint64
	if s.r.head > size {
		oldest = s.r.head - size
	}
	if s.next < oldest {
		skipped := oldest - s.next
		s.next = oldest
		return zero, &LaggedError{Skipped: skipped}
	}
	v := s.r.buf[s.next%size]
	s.next++
	return v, nil
}

// Close releases the subscription. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.r.mx.Lock()
	s.r.receivers--
	s.r.mx.Unlock()
}
