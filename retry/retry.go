// Package retry provides the backoff policies used by the session client to
// pace connection and reconnection attempts.
package retry

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"pkt.systems/mqsession/internal/clock"
)

// Policy decides whether a failed attempt should be retried and after what
// delay. attempt is the 1-based count of failures so far.
type Policy interface {
	ShouldRetry(attempt uint64, lastErr error) (bool, time.Duration)
}

const (
	defaultMinInterval = time.Second / 8
	defaultMaxInterval = 30 * time.Second
)

// ExponentialBackoff is a stateless Policy with exponential backoff and
// optional jitter.
type ExponentialBackoff struct {
	// MaxAttempts caps the number of attempts. Zero means unlimited; one
	// disables retries.
	MaxAttempts uint64

	// MinInterval is the delay after the first failure (before jitter).
	// Defaults to 1/8s.
	MinInterval time.Duration

	// MaxInterval caps the delay between attempts (before jitter). Defaults
	// to 30s.
	MaxInterval time.Duration

	// NoJitter disables the default +/-5% jitter.
	NoJitter bool
}

// ShouldRetry implements Policy.
func (e *ExponentialBackoff) ShouldRetry(
	attempt uint64,
	_ error,
) (bool, time.Duration) {
	if attempt == 0 {
		attempt = 1
	}
	if e.MaxAttempts != 0 && attempt >= e.MaxAttempts {
		return false, 0
	}

	minInterval := e.MinInterval
	if minInterval <= 0 {
		minInterval = defaultMinInterval
	}
	maxInterval := e.MaxInterval
	if maxInterval <= 0 {
		maxInterval = defaultMaxInterval
	}
	if maxInterval < minInterval {
		maxInterval = minInterval
	}

	// Clamp the exponent so the pre-jitter delay never exceeds MaxInterval.
	factor := math.Pow(2, min(
		float64(attempt-1),
		math.Log2(float64(maxInterval)/float64(minInterval)),
	))
	if !e.NoJitter {
		factor = jitter(factor)
	}

	return true, time.Duration(factor * float64(minInterval))
}

// Jitter between 95% and 105% of the base to avoid synchronized retries.
func jitter(base float64) float64 {
	// #nosec G404
	return base * (.95 + .1*rand.Float64())
}

// WithAutoReset wraps a policy with a forgiveness window: if more than window
// has elapsed since the previous consultation, the wrapped policy is consulted
// as if this were the first failure. A long-lived stable connection therefore
// does not inherit an escalated backoff from a distant failure burst.
func WithAutoReset(inner Policy, window time.Duration, clk clock.Clock) Policy {
	if clk == nil {
		clk = clock.Real{}
	}
	return &autoReset{inner: inner, window: window, clock: clk}
}

type autoReset struct {
	inner  Policy
	window time.Duration
	clock  clock.Clock

	mu   sync.Mutex
	base uint64
	last time.Time
}

func (a *autoReset) ShouldRetry(
	attempt uint64,
	lastErr error,
) (bool, time.Duration) {
	a.mu.Lock()

	now := a.clock.Now()
	if !a.last.IsZero() && now.Sub(a.last) > a.window {
		a.base = attempt - 1
	}
	if a.base >= attempt {
		// The caller restarted its own count.
		a.base = attempt - 1
	}
	effective := attempt - a.base
	a.last = now

	a.mu.Unlock()

	return a.inner.ShouldRetry(effective, lastErr)
}
