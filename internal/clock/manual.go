package clock

import (
	"slices"
	"sync"
	"time"
)

// Manual is a Clock whose time only moves when Advance is called. Timers
// fire in deadline order, so a renewal scheduled before a timeout is
// delivered before it even when both become due in one Advance.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	waiting []manualWaiter
}

type manualWaiter struct {
	due time.Time
	ch  chan time.Time
}

// NewManual constructs a Manual clock frozen at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// After returns a channel that receives the manual time once it has advanced
// by at least d. A non-positive d fires immediately.
func (m *Manual) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	if d <= 0 {
		ch <- m.now
		return ch
	}

	w := manualWaiter{due: m.now.Add(d), ch: ch}
	at, _ := slices.BinarySearchFunc(m.waiting, w,
		func(a, b manualWaiter) int { return a.due.Compare(b.due) })
	m.waiting = slices.Insert(m.waiting, at, w)
	return ch
}

// Sleep blocks until the manual clock has advanced by at least d.
func (m *Manual) Sleep(d time.Duration) {
	<-m.After(d)
}

// Advance moves the clock forward by d, fires every timer that has come due,
// and returns the new time. Negative d is treated as zero.
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.now = m.now.Add(d)
	fired := 0
	for _, w := range m.waiting {
		if w.due.After(m.now) {
			break
		}
		w.ch <- m.now
		fired++
	}
	m.waiting = slices.Delete(m.waiting, 0, fired)
	return m.now
}

// Pending reports how many timers are waiting for the clock to advance.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiting)
}
