package queue

import (
	"iter"
	"sync"
)

type node[T any] struct {
	value T
	prev  *node[T]
	next  *node[T]
}

// HandlerList is an append-only list supporting race-free removal of
// individual entries, used for handler registries. Iteration observes entries
// in registration order.
type HandlerList[T any] struct {
	mu    sync.RWMutex
	first *node[T]
	last  *node[T]
}

// NewHandlerList creates an empty handler list.
func NewHandlerList[T any]() *HandlerList[T] {
	return &HandlerList[T]{}
}

// Append adds value to the end of the list and returns an idempotent function
// that removes it.
func (l *HandlerList[T]) Append(value T) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := &node[T]{value: value}
	if l.last == nil {
		l.first = n
	} else {
		l.last.next = n
	}
	n.prev = l.last
	l.last = n

	return sync.OnceFunc(func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if n.prev == nil {
			l.first = n.next
		} else {
			n.prev.next = n.next
		}
		if n.next == nil {
			l.last = n.prev
		} else {
			n.next.prev = n.prev
		}
	})
}

// All iterates over the current entries in registration order.
func (l *HandlerList[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		l.mu.RLock()
		defer l.mu.RUnlock()

		for n := l.first; n != nil && yield(n.value); n = n.next {
		}
	}
}
