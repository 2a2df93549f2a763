package channel

import (
	"fmt"
	"sync"
)

type queue[T any] struct {
	items     chan T
	done      chan struct{}
	closeOnce sync.Once
}

// Sender is the producing side of a Queue. It is a small value and copies
// share the same underlying queue.
type Sender[T any] struct {
	q *queue[T]
}

// Receiver is the single consuming side of a Queue.
type Receiver[T any] struct {
	q *queue[T]
}

// NewQueue returns both ends of a bounded queue holding at most capacity
// messages.
func NewQueue[T any](capacity int) (Sender[T], *Receiver[T], error) {
	if capacity <= 0 {
		return Sender[T]{}, nil, fmt.Errorf("queue capacity %d: %w", capacity, ErrCapacity)
	}
	q := &queue[T]{
		items: make(chan T, capacity),
		done:  make(chan struct{}),
	}
	return Sender[T]{q: q}, &Receiver[T]{q: q}, nil
}

// Clone returns another handle on the same queue for a new producer.
func (s Sender[T]) Clone() Sender[T] {
	return Sender[T]{q: s.q}
}

// Send enqueues v, blocking while the queue is full. It returns ErrClosed
// when the receiver has been closed, either before or during the wait.
func (s Sender[T]) Send(v T) error {
	if s.q == nil {
		return ErrClosed
	}
	select {
	case <-s.q.done:
		return ErrClosed
	default:
	}
	select {
	case s.q.items <- v:
		return nil
	case <-s.q.done:
		return ErrClosed
	}
}

// TryRecv returns the oldest queued message or ErrEmpty. It never blocks.
func (r *Receiver[T]) TryRecv() (T, error) {
	select {
	case v := <-r.q.items:
		return v, nil
	default:
		var zero T
		return zero, ErrEmpty
	}
}

// Drain passes every message queued at the time of the call to fn and
// returns how many were handled. Messages enqueued while draining are left
// for the next call, so a busy producer cannot keep Drain spinning.
func (r *Receiver[T]) Drain(fn func(T)) int {
	n := len(r.q.items)
	for i := range n {
		v, err := r.TryRecv()
		if err != nil {
			return i
		}
		fn(v)
	}
	return n
}

// Len reports the number of queued messages.
func (r *Receiver[T]) Len() int {
	return len(r.q.items)
}

// Close drops the receiver. Pending and future sends fail with ErrClosed.
func (r *Receiver[T]) Close() {
	r.q.closeOnce.Do(func() {
		close(r.q.done)
	})
}
