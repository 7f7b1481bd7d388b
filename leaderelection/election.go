// Package leaderelection implements leader election on top of a leased lock.
// Candidates campaign for a position held in the state store; the winner's
// fencing token proves its term to protected store operations, so a deposed
// leader cannot overwrite state written by its successor.
package leaderelection

import (
	"context"
	"errors"
	"time"

	"pkt.systems/mqsession/hlc"
	"pkt.systems/mqsession/leasedlock"
	"pkt.systems/mqsession/statestore"
)

type (
	// Bytes constrains key and value types to byte data.
	Bytes = statestore.Bytes

	// Election is a single elected position, named by a state store key.
	Election[K, V Bytes] struct {
		lock *leasedlock.Lock[K, V]
	}

	// Change is an observed change in leadership.
	Change struct {
		Elected bool
		Leader  string
	}

	// Option configures election requests.
	Option = leasedlock.Option

	// WithTimeout bounds the time spent on the request.
	WithTimeout = leasedlock.WithTimeout

	// WithSessionID suffixes the candidate value with a session ID, allowing
	// distinct candidacies from the same MQTT client.
	WithSessionID = leasedlock.WithSessionID

	// WithRenew re-campaigns at this interval, retaining leadership until a
	// renewal fails or the position is resigned. Renewal failures surface
	// through Term.
	WithRenew = leasedlock.WithRenew
)

// ErrNotLeader indicates, in the absence of other errors, that this candidate
// is not the leader.
var ErrNotLeader = errors.New("not the leader")

// New creates an election for the given position.
func New[K, V Bytes](
	client leasedlock.Store[K, V],
	position K,
	opt ...Option,
) (*Election[K, V], error) {
	lock, err := leasedlock.New(client, position, opt...)
	if err != nil {
		return nil, err
	}
	return &Election[K, V]{lock: lock}, nil
}

// Position returns the state store key this election is held on.
func (e *Election[K, V]) Position() K {
	return e.lock.Name
}

// Campaign blocks until this candidate is elected for a term of the given
// duration, or the request fails.
func (e *Election[K, V]) Campaign(
	ctx context.Context,
	term time.Duration,
	opt ...Option,
) error {
	return e.lock.Acquire(ctx, term, opt...)
}

// TryCampaign performs a single election attempt, reporting whether this
// candidate was elected. An incumbent leader yields false with no error.
func (e *Election[K, V]) TryCampaign(
	ctx context.Context,
	term time.Duration,
	opt ...Option,
) (bool, error) {
	return e.lock.TryAcquire(ctx, term, opt...)
}

// Resign gives up leadership. Resigning while not the leader is a no-op.
func (e *Election[K, V]) Resign(ctx context.Context, opt ...Option) error {
	return e.lock.Release(ctx, opt...)
}

// Leader returns the current leader and whether the position is held.
func (e *Election[K, V]) Leader(
	ctx context.Context,
	opt ...Option,
) (string, bool, error) {
	return e.lock.Holder(ctx, opt...)
}

// Term returns the fencing token of the current term, or the error that
// ended this candidate's leadership.
func (e *Election[K, V]) Term(
	ctx context.Context,
) (hlc.HybridLogicalClock, error) {
	token, err := e.lock.Token(ctx)
	if errors.Is(err, leasedlock.ErrNoLock) {
		return token, ErrNotLeader
	}
	return token, err
}

// ObserveStart begins observation of leadership changes. It should be paired
// with a call to ObserveStop.
func (e *Election[K, V]) ObserveStart(ctx context.Context, opt ...Option) error {
	return e.lock.ObserveStart(ctx, opt...)
}

// ObserveStop ends observation of leadership changes.
func (e *Election[K, V]) ObserveStop(ctx context.Context, opt ...Option) error {
	return e.lock.ObserveStop(ctx, opt...)
}

// Observe requests a leadership change channel. It returns the channel and a
// function that removes and closes it. ObserveStart must be called for
// changes to actually flow.
func (e *Election[K, V]) Observe() (<-chan Change, func()) {
	changes, done := e.lock.Observe()

	obs := make(chan Change)
	go func() {
		defer close(obs)
		for change := range changes {
			obs <- Change{Elected: change.Held, Leader: change.Holder}
		}
	}()

	return obs, done
}
