package leasedlock

import "context"

// much is a mutex built on a channel so waiting can be cancelled through a
// context. Must be initialized to a channel of size 1.
type much chan struct{}

func (mc much) Lock(ctx context.Context) error {
	select {
	case mc <- struct{}{}:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (mc much) Unlock() {
	<-mc
}
