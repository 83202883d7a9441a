// Package queue provides an unbounded, ordered, multi-producer
// single-consumer queue used to hand values between long-lived goroutines.
//
// Producers never block: Push appends and returns. The single consumer
// either blocks in Pop or polls with TryPop. Closing the queue is the only
// cross-goroutine failure signal; values pushed before Close are still
// delivered before Pop reports the queue as finished.
package queue

import (
	"errors"
	"sync"
)

var (
	// ErrClosed is returned by Push after Close, and by TryPop once the
	// queue is closed and drained.
	ErrClosed = errors.New("queue: closed")
	// ErrEmpty is returned by TryPop when nothing is available yet.
	ErrEmpty = errors.New("queue: empty")
)

type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []T
	head   int
	closed bool
}

func New[T any]() *Queue[T] {
	q := &Queue[T]{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends v. Ownership of v passes to the consumer.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.cond.Signal()
	return nil
}

// Pop blocks until a value is available. ok is false once the queue is
// closed and every pushed value has been returned.
func (q *Queue[T]) Pop() (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.head == len(q.items) && !q.closed {
		q.cond.Wait()
	}
	if q.head == len(q.items) {
		return v, false
	}
	return q.takeLocked(), true
}

// TryPop returns the next value without blocking.
func (q *Queue[T]) TryPop() (v T, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.head == len(q.items) {
		if q.closed {
			return v, ErrClosed
		}
		return v, ErrEmpty
	}
	return q.takeLocked(), nil
}

func (q *Queue[T]) takeLocked() T {
	var zero T
	v := q.items[q.head]
	q.items[q.head] = zero
	q.head++
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 1024 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
	return v
}

// Close marks the queue closed and wakes a blocked consumer. It is safe to
// call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.cond.Broadcast()
}

func (q *Queue[T]) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len reports the number of values waiting.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}
