package statestore

import (
	"context"
	"encoding/hex"
	"strings"
	"sync"

	"pkt.systems/mqsession"
	"pkt.systems/mqsession/hlc"
	"pkt.systems/mqsession/statestore/internal/resp"
)

// Notify is one key change notification.
type Notify[K, V Bytes] struct {
	Key       K
	Operation string
	Value     V
	Version   hlc.HybridLogicalClock

	// Ack acknowledges the underlying MQTT message when manual
	// acknowledgment is enabled; it is nil otherwise.
	Ack func()
}

// Notify requests a notification channel for a key. It returns the channel
// and a function that removes and closes it. KeyNotify must be called to make
// the store actually send notifications (though the channel already receives
// them if KeyNotify was called previously). The store does not queue messages
// for a disconnected client, so notifications are best-effort: they may be
// missed, duplicated, or reordered around a reconnect.
func (c *Client[K, V]) Notify(key K) (<-chan Notify[K, V], func()) {
	k := string(key)

	// Buffered so a slow receiver does not stall the fan-out immediately.
	ch := make(chan Notify[K, V], 1)
	done := make(chan struct{})

	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	kn, ok := c.notify[k]
	if !ok {
		kn = map[chan Notify[K, V]]chan struct{}{}
		c.notify[k] = kn
	}
	kn[ch] = done

	return ch, sync.OnceFunc(func() {
		close(done)

		c.notifyMu.Lock()
		defer c.notifyMu.Unlock()

		close(ch)

		delete(kn, ch)
		if len(kn) == 0 {
			delete(c.notify, k)
		}
	})
}

// handleNotify decodes one NOTIFY message and fans it out to the channels
// registered for its key.
func (c *Client[K, V]) handleNotify(
	ctx context.Context,
	msg *mqsession.Message,
) {
	if !c.manualAck {
		defer msg.Ack()
	}

	keyHex := strings.TrimPrefix(msg.Topic, c.notifyPrefix)
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		c.logger.Warn("invalid notification key", "key", keyHex)
		return
	}

	data, err := resp.BlobArray[[]byte](msg.Payload)
	if err != nil {
		c.logger.Warn("invalid notification payload", "error", err)
		return
	}

	// "NOTIFY <op>" bare, or "NOTIFY <op> VALUE <value>".
	opOnly := len(data) == 2
	hasValue := len(data) == 4
	if (!opOnly && !hasValue) ||
		string(data[0]) != "NOTIFY" ||
		(hasValue && string(data[2]) != "VALUE") {
		c.logger.Warn("invalid notification payload")
		return
	}

	notify := Notify[K, V]{
		Key:       K(key),
		Operation: string(data[1]),
		Version:   c.observeVersion(msg.UserProperties),
	}
	if hasValue {
		notify.Value = V(data[3])
	}
	if c.manualAck {
		notify.Ack = msg.Ack
	}

	c.notifySend(ctx, notify)
}

func (c *Client[K, V]) notifySend(ctx context.Context, notify Notify[K, V]) {
	c.notifyMu.RLock()
	defer c.notifyMu.RUnlock()

	for ch, done := range c.notify[string(notify.Key)] {
		select {
		case ch <- notify:
		case <-done:
		case <-ctx.Done():
		}
	}
}
