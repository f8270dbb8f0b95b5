// Package queue provides the unbounded FIFO that backs each connection's
// outbound flow.
package queue

import (
	"errors"
	"sync"
)

var ErrClosed = errors.New("queue: closed")

// Queue is an unbounded FIFO. Items pop in exactly the order they were
// pushed; Pop blocks until an item is available or the queue is closed.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	wake   chan struct{}
	closed bool
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{wake: make(chan struct{}, 1)}
}

// Push appends an item. It never blocks.
func (q *Queue[T]) Push(item T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the oldest item, blocking until one arrives, the queue is
// closed, or halt closes. The second return is false when no item was
// produced.
func (q *Queue[T]) Pop(halt <-chan struct{}) (T, bool) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()
			return item, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, false
		}

		select {
		case <-q.wake:
		case <-halt:
			return zero, false
		}
	}
}

// Close marks the queue closed and wakes any blocked Pop. Items already
// queued are discarded; the connection they belong to is gone.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len reports the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
