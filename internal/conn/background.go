package conn

import (
	"context"
	"sync"
)

// Background models a long-running background scope that derived contexts can
// tie their lifetime to. Closing the scope cancels every derived context with
// the configured cause.
type Background struct {
	cause error
	done  chan struct{}
	close func()
}

// NewBackground creates a background scope that reports cause once closed.
func NewBackground(cause error) *Background {
	done := make(chan struct{})
	return &Background{
		cause: cause,
		done:  done,
		close: sync.OnceFunc(func() { close(done) }),
	}
}

// With derives a context from parent that is additionally cancelled when the
// scope closes. The returned cancel func must be called to release the
// bridging goroutine.
func (b *Background) With(
	parent context.Context,
) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	go func() {
		select {
		case <-b.done:
			cancel(b.cause)
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}

// Close closes the scope. It is safe to call multiple times.
func (b *Background) Close() {
	b.close()
}

// Done returns a channel that is closed once the scope closes.
func (b *Background) Done() <-chan struct{} {
	return b.done
}
