// Package hlc implements the hybrid logical clock used to version state store
// entries and order fencing tokens across distributed clients.
package hlc

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pkt.systems/mqsession/internal/clock"
)

// DefaultMaxClockDrift bounds how far an HLC may run ahead of the wall clock
// before it is considered invalid.
const DefaultMaxClockDrift = time.Minute

// HybridLogicalClock combines a physical timestamp with a logical counter so
// that causally related events compare consistently even under clock skew.
// The zero value represents "no timestamp".
type HybridLogicalClock struct {
	timestamp time.Time
	counter   uint64
	nodeID    string
}

// Timestamp returns the physical component in UTC with millisecond precision.
func (h HybridLogicalClock) Timestamp() time.Time {
	return h.timestamp
}

// Counter returns the logical component.
func (h HybridLogicalClock) Counter() uint64 {
	return h.counter
}

// NodeID returns the identity of the node that produced this value.
func (h HybridLogicalClock) NodeID() string {
	return h.nodeID
}

// IsZero reports whether this HLC is the zero value.
func (h HybridLogicalClock) IsZero() bool {
	// A zero timestamp makes the other components meaningless.
	return h.timestamp.IsZero()
}

// Compare orders two HLC values: negative if h is earlier than other, zero if
// equal, positive if later. Ties on timestamp and counter break on node ID so
// the order is total.
func (h HybridLogicalClock) Compare(other HybridLogicalClock) int {
	if h.timestamp.Equal(other.timestamp) {
		switch {
		case h.counter > other.counter:
			return 1
		case h.counter < other.counter:
			return -1
		default:
			return strings.Compare(h.nodeID, other.nodeID)
		}
	}
	return h.timestamp.Compare(other.timestamp)
}

// String serializes the HLC as "<unix-ms>:<counter>:<node-id>".
func (h HybridLogicalClock) String() string {
	return fmt.Sprintf(
		"%015d:%05d:%s",
		h.timestamp.UnixMilli(),
		h.counter,
		h.nodeID,
	)
}

// Parse deserializes an HLC from its string form.
func Parse(value string) (HybridLogicalClock, error) {
	parts := strings.Split(value, ":")
	if len(parts) != 3 {
		return HybridLogicalClock{}, fmt.Errorf(
			"hlc: %q must contain three ':'-separated segments", value)
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return HybridLogicalClock{}, fmt.Errorf(
			"hlc: invalid timestamp segment %q", parts[0])
	}

	counter, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return HybridLogicalClock{}, fmt.Errorf(
			"hlc: invalid counter segment %q", parts[1])
	}

	return HybridLogicalClock{
		timestamp: time.UnixMilli(timestamp).UTC(),
		counter:   counter,
		nodeID:    parts[2],
	}, nil
}

// Source is a shared HLC instance that advances monotonically as local events
// occur and remote timestamps are observed. One Source per application is
// typical.
type Source struct {
	mu       sync.Mutex
	current  HybridLogicalClock
	clock    clock.Clock
	maxDrift time.Duration
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithClock substitutes the wall clock, primarily for tests.
func WithClock(clk clock.Clock) SourceOption {
	return func(s *Source) { s.clock = clk }
}

// WithMaxClockDrift overrides DefaultMaxClockDrift.
func WithMaxClockDrift(d time.Duration) SourceOption {
	return func(s *Source) { s.maxDrift = d }
}

// NewSource creates an HLC source with a fresh node identity.
func NewSource(opts ...SourceOption) *Source {
	s := &Source{
		clock:    clock.Real{},
		maxDrift: DefaultMaxClockDrift,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.current = HybridLogicalClock{
		timestamp: s.now(),
		nodeID:    uuid.Must(uuid.NewV7()).String(),
	}
	return s
}

// Get advances the source to the current time and returns the new value.
func (s *Source) Get() (HybridLogicalClock, error) {
	return s.Update(HybridLogicalClock{})
}

// Update advances the source past both the wall clock and the observed remote
// value, returning the new local value.
func (s *Source) Update(
	remote HybridLogicalClock,
) (HybridLogicalClock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ignore our own timestamps echoed back to us.
	if remote.nodeID == s.current.nodeID {
		return s.current, nil
	}

	wall := s.now()

	// Validating both inputs up front guarantees the chosen result cannot
	// overflow and is within the drift bound.
	if err := s.validate(wall, s.current); err != nil {
		return HybridLogicalClock{}, err
	}
	if err := s.validate(wall, remote); err != nil {
		return HybridLogicalClock{}, err
	}

	next := HybridLogicalClock{nodeID: s.current.nodeID}
	switch {
	case wall.After(s.current.timestamp) && wall.After(remote.timestamp):
		next.timestamp = wall
		next.counter = 0

	case s.current.timestamp.Equal(remote.timestamp):
		next.timestamp = s.current.timestamp
		next.counter = max(s.current.counter, remote.counter) + 1

	case s.current.timestamp.After(remote.timestamp):
		next.timestamp = s.current.timestamp
		next.counter = s.current.counter + 1

	default:
		next.timestamp = remote.timestamp
		next.counter = remote.counter + 1
	}

	s.current = next
	return next, nil
}

func (s *Source) validate(wall time.Time, h HybridLogicalClock) error {
	switch {
	case h.counter == math.MaxUint64:
		return fmt.Errorf("hlc: counter overflow on node %q", h.nodeID)
	case h.timestamp.Sub(wall) > s.maxDrift:
		return fmt.Errorf("hlc: clock drift exceeds %v", s.maxDrift)
	default:
		return nil
	}
}

func (s *Source) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Millisecond)
}
