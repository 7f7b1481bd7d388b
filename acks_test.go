package mqsession

import (
	"testing"

	"github.com/eclipse/paho.golang/paho"
)

func TestAckTrackerFlushesInReceiptOrder(t *testing.T) {
	t.Parallel()

	var sent []uint16
	tracker := newAckTracker(func(_ uint64, p *paho.Publish) bool {
		sent = append(sent, p.PacketID)
		return true
	})

	ack1 := tracker.Track(1, &paho.Publish{PacketID: 1})
	ack2 := tracker.Track(1, &paho.Publish{PacketID: 2})
	ack3 := tracker.Track(1, &paho.Publish{PacketID: 3})

	// Acking the second message first must not release anything.
	ack2()
	if len(sent) != 0 {
		t.Fatalf("sent = %v before head was acked", sent)
	}

	// Acking the first releases both, in receipt order.
	ack1()
	if len(sent) != 2 || sent[0] != 1 || sent[1] != 2 {
		t.Fatalf("sent = %v, want [1 2]", sent)
	}

	ack3()
	if len(sent) != 3 || sent[2] != 3 {
		t.Fatalf("sent = %v, want [1 2 3]", sent)
	}
}

func TestAckTrackerAckIsIdempotent(t *testing.T) {
	t.Parallel()

	var sent int
	tracker := newAckTracker(func(uint64, *paho.Publish) bool {
		sent++
		return true
	})

	ack := tracker.Track(1, &paho.Publish{PacketID: 1})
	ack()
	ack()
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
}

func TestAckTrackerClearDropsPending(t *testing.T) {
	t.Parallel()

	var sent int
	tracker := newAckTracker(func(uint64, *paho.Publish) bool {
		sent++
		return true
	})

	ack1 := tracker.Track(1, &paho.Publish{PacketID: 1})
	ack2 := tracker.Track(1, &paho.Publish{PacketID: 2})

	// Disconnect clears everything that was not yet acked.
	tracker.Clear()
	ack1()
	ack2()
	if sent != 0 {
		t.Fatalf("sent = %d after clear, want 0", sent)
	}

	// A fresh generation works normally afterwards.
	ack := tracker.Track(2, &paho.Publish{PacketID: 1})
	ack()
	if sent != 1 {
		t.Fatalf("sent = %d, want 1", sent)
	}
}
