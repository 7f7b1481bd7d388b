// Package leasedlock implements a distributed lock leased from the state
// store. A lock is a store key whose value names the holder; acquisition is a
// conditional set with an expiry, so a crashed holder loses the lock when the
// lease lapses. Successful acquisition yields a fencing token (the key's
// version) that protected store operations can carry to reject writes from
// stale holders.
package leasedlock

import (
	"context"
	"errors"
	"time"

	"pkt.systems/mqsession/hlc"
	"pkt.systems/mqsession/internal/clock"
	"pkt.systems/mqsession/statestore"
)

type (
	// Bytes constrains key and value types to byte data.
	Bytes = statestore.Bytes

	// Store is the subset of the state store client the lock needs.
	Store[K, V Bytes] interface {
		ID() string
		Set(ctx context.Context, key K, val V,
			opt ...statestore.SetOption) (*statestore.Response[bool], error)
		Get(ctx context.Context, key K,
			opt ...statestore.GetOption) (*statestore.Response[V], error)
		Del(ctx context.Context, key K,
			opt ...statestore.DelOption) (*statestore.Response[int], error)
		VDel(ctx context.Context, key K, val V,
			opt ...statestore.DelOption) (*statestore.Response[int], error)
		KeyNotify(ctx context.Context, key K,
			opt ...statestore.KeyNotifyOption) error
		KeyNotifyStop(ctx context.Context, key K,
			opt ...statestore.KeyNotifyOption) error
		Notify(key K) (<-chan statestore.Notify[K, V], func())
	}

	// Lock is a leased lock on a single state store key.
	Lock[K, V Bytes] struct {
		Name      K
		SessionID string

		client Store[K, V]
		clk    clock.Clock
		result result

		done context.CancelFunc
		mu   much
	}

	// Change is an observed change in the lock holder.
	Change struct {
		Held   bool
		Holder string
	}

	// result records the outcome of the previous lock attempt. Renewal
	// updates it in the background, so it carries its own lock.
	result struct {
		token hlc.HybridLogicalClock
		error error
		mu    much
	}
)

var (
	// ErrNoLock indicates, in the absence of other errors, that the lock has
	// not been acquired.
	ErrNoLock = errors.New("lock not acquired")

	// ErrRenewing indicates that renewal was requested on a lock that is
	// already renewing.
	ErrRenewing = errors.New("lock already renewing")
)

// New creates a leased lock on the given state store key.
func New[K, V Bytes](
	client Store[K, V],
	name K,
	opt ...Option,
) (*Lock[K, V], error) {
	if len(name) == 0 {
		return nil, statestore.ArgumentError{Name: "name"}
	}

	var opts Options
	opts.Apply(opt)

	return &Lock[K, V]{
		Name:      name,
		SessionID: opts.SessionID,

		client: client,
		clk:    clock.Real{},
		result: result{
			error: ErrNoLock,
			mu:    make(chan struct{}, 1),
		},
		mu: make(chan struct{}, 1),
	}, nil
}

// id is the holder value written into the lock key. A session ID suffix lets
// one MQTT client hold distinct locks on the same key.
func (l *Lock[K, V]) id(opts *Options) V {
	switch {
	case opts.SessionID != "":
		return V(l.client.ID() + ":" + opts.SessionID)
	case l.SessionID != "":
		return V(l.client.ID() + ":" + l.SessionID)
	default:
		return V(l.client.ID())
	}
}

// Token returns the current fencing token, or the error that caused the most
// recent acquisition or renewal to fail. It blocks while a renewal is in
// flight and can be cancelled through its context.
func (l *Lock[K, V]) Token(
	ctx context.Context,
) (hlc.HybridLogicalClock, error) {
	if err := l.result.mu.Lock(ctx); err != nil {
		return hlc.HybridLogicalClock{}, err
	}
	defer l.result.mu.Unlock()

	return l.result.token, l.result.error
}

// TryAcquire performs a single attempt to acquire the lock for the given
// lease duration, reporting whether it succeeded. A lock already held by
// another client yields false with no error.
func (l *Lock[K, V]) TryAcquire(
	ctx context.Context,
	duration time.Duration,
	opt ...Option,
) (bool, error) {
	var opts Options
	opts.Apply(opt)

	if err := l.mu.Lock(ctx); err != nil {
		return false, err
	}
	defer l.mu.Unlock()

	// Refuse duplicate renewals so two goroutines never fight over the lease.
	if opts.Renew > 0 && l.done != nil {
		return false, ErrRenewing
	}

	ok, err := l.try(ctx, duration, &opts)
	if !ok || err != nil {
		return ok, err
	}

	if opts.Renew > 0 {
		var renewCtx context.Context
		renewCtx, l.done = context.WithCancel(context.Background())
		go l.renew(renewCtx, duration, &opts)
	}

	return true, nil
}

// renew re-acquires the lease on an interval until an attempt fails or the
// lock is released. Failures are not reported here; they surface through
// Token.
func (l *Lock[K, V]) renew(
	ctx context.Context,
	duration time.Duration,
	opts *Options,
) {
	for {
		select {
		case <-l.clk.After(opts.Renew):
			if ok, _ := l.try(ctx, duration, opts); !ok {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (l *Lock[K, V]) try(
	ctx context.Context,
	duration time.Duration,
	opts *Options,
) (bool, error) {
	if err := l.result.mu.Lock(ctx); err != nil {
		return false, err
	}
	defer l.result.mu.Unlock()

	// NEX makes this one operation both acquisition and lease refresh: it
	// succeeds while the key is unset or already holds our own ID.
	res, err := l.client.Set(
		ctx,
		l.Name,
		l.id(opts),
		opts.set(),
		statestore.WithCondition(statestore.NotExistsOrEqual),
		statestore.WithExpiry(duration),
	)
	if err != nil {
		l.result.token, l.result.error = hlc.HybridLogicalClock{}, err
		return false, err
	}
	if !res.Value {
		l.result.token, l.result.error = hlc.HybridLogicalClock{}, ErrNoLock
		return false, nil
	}

	l.result.token, l.result.error = res.Version, nil
	return true, nil
}

// Acquire blocks until the lock is acquired or the request fails. Prefer
// WithTimeout over context cancellation so the notification registration is
// still torn down.
func (l *Lock[K, V]) Acquire(
	ctx context.Context,
	duration time.Duration,
	opt ...Option,
) error {
	var opts Options
	opts.Apply(opt)

	// Register for notifications first so a release is never missed between
	// a failed attempt and the wait.
	if err := l.client.KeyNotify(ctx, l.Name, opts.keynotify()); err != nil {
		return err
	}
	// Best effort; a failed stop leaks the registration only until the
	// session ends.
	defer func() {
		_ = l.client.KeyNotifyStop(ctx, l.Name, opts.keynotify())
	}()

	kn, done := l.client.Notify(l.Name)
	defer done()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	for {
		ok, err := l.TryAcquire(ctx, duration, opt...)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if err := waitForRelease(ctx, kn); err != nil {
			return err
		}
	}
}

func waitForRelease[K, V Bytes](
	ctx context.Context,
	kn <-chan statestore.Notify[K, V],
) error {
	for {
		select {
		case n := <-kn:
			// The lease lapsing also arrives as a DELETE.
			if n.Operation == "DELETE" {
				return nil
			}
		case <-ctx.Done():
			return context.Cause(ctx)
		}
	}
}

// Release the lock. Releasing a lock held by someone else is a no-op on the
// store thanks to the value comparison.
func (l *Lock[K, V]) Release(ctx context.Context, opt ...Option) error {
	var opts Options
	opts.Apply(opt)

	// Stop any renewal.
	if err := l.mu.Lock(ctx); err != nil {
		return err
	}
	defer l.mu.Unlock()

	if l.done != nil {
		l.done()
		l.done = nil
	}

	// Reset the token.
	if err := l.result.mu.Lock(ctx); err != nil {
		return err
	}
	defer l.result.mu.Unlock()

	l.result.token, l.result.error = hlc.HybridLogicalClock{}, ErrNoLock

	_, err := l.client.VDel(ctx, l.Name, l.id(&opts), opts.del())
	return err
}

// Holder returns the current holder of the lock and whether it is held.
func (l *Lock[K, V]) Holder(
	ctx context.Context,
	opt ...Option,
) (string, bool, error) {
	var opts Options
	opts.Apply(opt)

	res, err := l.client.Get(ctx, l.Name, opts.get())
	if err != nil {
		return "", false, err
	}
	return string(res.Value), !res.Version.IsZero(), nil
}

// ObserveStart begins observation of lock holder changes. It should be paired
// with a call to ObserveStop.
func (l *Lock[K, V]) ObserveStart(ctx context.Context, opt ...Option) error {
	var opts Options
	opts.Apply(opt)

	return l.client.KeyNotify(ctx, l.Name, opts.keynotify())
}

// ObserveStop ends observation of lock holder changes. It should be called
// once per successful ObserveStart, and may be retried on failure.
func (l *Lock[K, V]) ObserveStop(ctx context.Context, opt ...Option) error {
	var opts Options
	opts.Apply(opt)

	return l.client.KeyNotifyStop(ctx, l.Name, opts.keynotify())
}

// Observe requests a holder change channel for this lock. It returns the
// channel and a function that removes and closes it. ObserveStart must be
// called for changes to actually flow (though they may already arrive if
// ObserveStart was called previously).
func (l *Lock[K, V]) Observe() (<-chan Change, func()) {
	obs := make(chan Change)
	kn, done := l.client.Notify(l.Name)

	// Translate store notifications into holder changes. done() closes kn,
	// ending this goroutine.
	go func() {
		defer close(obs)
		for n := range kn {
			obs <- Change{
				Held:   n.Operation != "DELETE",
				Holder: string(n.Value),
			}
		}
	}()

	return obs, done
}
