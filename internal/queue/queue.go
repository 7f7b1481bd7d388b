package queue

import (
	"context"
	"iter"
	"sync"
)

// Queue is a bounded, concurrency-safe FIFO ring. Items enqueued while a
// consumer is blocked in Next are delivered in enqueue order.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	max   int
	size  int
	enter int
	leave int

	// wake holds a token whenever items may be available, unblocking a single
	// consumer waiting in Next.
	wake chan struct{}
}

// New creates a queue holding at most max items.
func New[T any](max int) *Queue[T] {
	return &Queue[T]{
		max:  max,
		wake: make(chan struct{}, 1),
	}
}

// Enqueue appends an item to the back of the queue. It reports false if the
// queue is full.
func (q *Queue[T]) Enqueue(value T) bool {
	q.mu.Lock()
	if q.size == q.max {
		q.mu.Unlock()
		return false
	}

	if len(q.items) == 0 || len(q.items) == q.size {
		q.grow()
	}

	q.items[q.enter] = value
	q.enter = (q.enter + 1) % len(q.items)
	q.size++
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Dequeue removes and returns the item at the front of the queue, reporting
// false if the queue is empty.
func (q *Queue[T]) Dequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.size == 0 {
		return zero, false
	}

	item := q.items[q.leave]
	q.items[q.leave] = zero
	q.leave = (q.leave + 1) % len(q.items)
	q.size--
	return item, true
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.size
}

// Drain removes all items and returns them in FIFO order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]T, 0, q.size)
	for q.size > 0 {
		var zero T
		out = append(out, q.items[q.leave])
		q.items[q.leave] = zero
		q.leave = (q.leave + 1) % len(q.items)
		q.size--
	}
	return out
}

// Next yields queued items in FIFO order, blocking for new items until ctx
// ends. A yielded item has been removed from the queue.
func (q *Queue[T]) Next(ctx context.Context) iter.Seq[T] {
	return func(yield func(T) bool) {
		for {
			if item, ok := q.Dequeue(); ok {
				if !yield(item) {
					return
				}
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-q.wake:
			}
		}
	}
}

// grow doubles the ring capacity, preserving FIFO order.
func (q *Queue[T]) grow() {
	oldLen := len(q.items)
	newLen := oldLen*2 + 1

	items := make([]T, newLen)
	for i := 0; i < q.size; i++ {
		items[i] = q.items[(q.leave+i)%oldLen]
	}
	q.items = items
	q.leave = 0
	q.enter = q.size
}
