package conn

import (
	"context"
	"iter"
	"sync"
)

// Tracker is the single source of truth for which transport instance is
// currently connected. C is the transport handle; its zero value means
// disconnected.
type Tracker[C comparable] struct {
	mu      sync.RWMutex
	current Current[C]
}

// Current is a snapshot of the tracked connection state.
type Current[C comparable] struct {
	// Client is the live transport instance, or the zero value when
	// disconnected.
	Client C

	// Err is the error that caused (or preceded) the last disconnection. It is
	// cleared at the start of each new attempt.
	Err error

	// Attempt counts connect lifecycles, including unsuccessful ones. A
	// Disconnect carrying a stale attempt number is ignored.
	Attempt uint64

	// Down is closed once this connection generation has gone down. Contexts
	// derived from it are cancelled at that point.
	Down *Background

	// up is closed when a new transport instance connects, waking goroutines
	// blocked waiting for a connection.
	up chan struct{}
}

// NewTracker creates a tracker in the disconnected state.
func NewTracker[C comparable]() *Tracker[C] {
	t := &Tracker[C]{}
	t.current.up = make(chan struct{})
	t.current.Down = NewBackground(context.Canceled)

	// Down is closed iff the client is disconnected; establish that now.
	t.current.Down.Close()

	return t
}

// Attempt starts a new connect lifecycle, clearing any recorded error, and
// returns the new attempt number.
func (t *Tracker[C]) Attempt() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current.Err = nil
	t.current.Attempt++
	return t.current.Attempt
}

// Connect records a successfully connected transport for the current attempt.
// If a disconnect raced ahead of the connect, the recorded error is returned
// and the tracker stays disconnected.
func (t *Tracker[C]) Connect(client C) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current.Err != nil {
		return t.current.Err
	}

	t.current.Client = client
	close(t.current.up)
	t.current.Down = NewBackground(context.Canceled)
	return nil
}

// Disconnect records that the given attempt's connection has gone down. Calls
// for a stale attempt are no-ops. If no transport was attached yet, only the
// error is recorded so a concurrent Connect can observe it.
func (t *Tracker[C]) Disconnect(attempt uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current.Attempt != attempt {
		return
	}

	if t.current.Err == nil {
		t.current.Err = err
	}

	var zero C
	if t.current.Client == zero {
		return
	}

	t.current.Client = zero
	t.current.up = make(chan struct{})
	t.current.Down.Close()
}

// Current returns a snapshot of the tracked connection.
func (t *Tracker[C]) Current() Current[C] {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.current
}

// Client returns the connected transport as a restartable sequence. Each
// iteration blocks until a connection is up (or ctx ends) and yields the
// transport paired with a context that is cancelled the moment that connection
// generation goes down. Callers return from the loop once their operation
// succeeds and continue it to retry after a reconnect; the loop only
// terminates on its own via ctx.
func (t *Tracker[C]) Client(ctx context.Context) iter.Seq2[context.Context, C] {
	return func(yield func(context.Context, C) bool) {
		for {
			current := t.Current()

			var zero C
			if current.Client == zero {
				select {
				case <-ctx.Done():
					return
				case <-current.up:
					continue
				}
			}

			if !func() bool {
				ctx, cancel := current.Down.With(ctx)
				defer cancel()
				return yield(ctx, current.Client)
			}() {
				return
			}

			// The operation did not complete; either this generation went down
			// or the caller's context ended.
			select {
			case <-ctx.Done():
				return
			case <-current.Down.Done():
				// Wait for the next generation and retry.
			}
		}
	}
}
