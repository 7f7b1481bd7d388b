package leasedlock

import (
	"context"
	"time"

	"pkt.systems/mqsession/statestore"
)

// Edit a key under the protection of this lock: acquire, read, apply the edit
// function, and write the result back carrying the fencing token. An edit
// returning an empty value deletes the key. The whole sequence retries if the
// fenced write loses to a newer lock holder.
func (l *Lock[K, V]) Edit(
	ctx context.Context,
	key K,
	duration time.Duration,
	edit func(context.Context, V) (V, error),
	opt ...Option,
) error {
	var opts Options
	opts.Apply(opt)

	var done bool
	var err error
	for err == nil && !done {
		done, err = l.edit(ctx, key, duration, edit, &opts)
	}
	return err
}

func (l *Lock[K, V]) edit(
	ctx context.Context,
	key K,
	duration time.Duration,
	edit func(context.Context, V) (V, error),
	opts *Options,
) (bool, error) {
	if err := l.Acquire(ctx, duration, opts); err != nil {
		return false, err
	}
	defer func() {
		_ = l.Release(ctx, opts)
	}()

	ft, err := l.Token(ctx)
	if err != nil {
		return false, err
	}
	wft := statestore.WithFencingToken(ft)

	get, err := l.client.Get(ctx, key, opts.get())
	if err != nil {
		return false, err
	}

	upd, err := edit(ctx, get.Value)
	if err != nil {
		return false, err
	}

	if len(upd) == 0 {
		res, err := l.client.Del(ctx, key, opts.del(), wft)
		return err == nil && res.Value > 0, err
	}
	res, err := l.client.Set(ctx, key, upd, opts.set(), wft)
	return err == nil && res.Value, err
}
