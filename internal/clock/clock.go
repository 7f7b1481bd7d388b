// Package clock abstracts wall-clock time so retry backoff and lease renewal
// can be driven deterministically in tests.
package clock

import "time"

// Clock is the time surface the session client, retry policies, and lease
// renewal loops depend on.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
	Sleep(d time.Duration)
}

// Real is the production Clock, backed by the time package. Now is
// normalized to UTC so hybrid logical clock timestamps compare across hosts
// regardless of local zone.
type Real struct{}

func (Real) Now() time.Time {
	return time.Now().UTC()
}

func (Real) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

func (Real) Sleep(d time.Duration) {
	time.Sleep(d)
}
