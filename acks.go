package mqsession

import (
	"sync"

	"github.com/eclipse/paho.golang/paho"
)

// pendingReceive is one QoS 1 publish awaiting application acknowledgment.
type pendingReceive struct {
	attempt uint64
	packet  *paho.Publish
	acked   bool
}

// ackTracker serializes outbound PUBACKs. MQTT requires acknowledgments in
// the order the publishes were received, so an ack for a later message is
// held until every earlier message has been acked too. Entries from a dead
// connection generation are cleared; the server redelivers them.
type ackTracker struct {
	mu      sync.Mutex
	pending []*pendingReceive

	// send transmits one acknowledgment, reporting whether it was accepted.
	send func(attempt uint64, packet *paho.Publish) bool
}

func newAckTracker(send func(uint64, *paho.Publish) bool) *ackTracker {
	return &ackTracker{send: send}
}

// Track registers an inbound publish and returns the function that
// acknowledges it. The returned function is idempotent and may be called from
// any goroutine; the acknowledgment is transmitted once all earlier tracked
// publishes have been acknowledged as well.
func (t *ackTracker) Track(attempt uint64, packet *paho.Publish) func() {
	entry := &pendingReceive{attempt: attempt, packet: packet}

	t.mu.Lock()
	t.pending = append(t.pending, entry)
	t.mu.Unlock()

	return sync.OnceFunc(func() {
		t.mu.Lock()
		defer t.mu.Unlock()

		entry.acked = true
		t.flush()
	})
}

// flush transmits the longest acked prefix of the pending list. Caller holds
// t.mu.
func (t *ackTracker) flush() {
	for len(t.pending) > 0 && t.pending[0].acked {
		head := t.pending[0]
		t.pending = t.pending[1:]
		t.send(head.attempt, head.packet)
	}
}

// Clear drops all pending acknowledgments. Called on disconnect; the broker
// redelivers unacknowledged QoS 1 publishes on the next connection.
func (t *ackTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.pending = nil
}
