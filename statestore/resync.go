package statestore

import (
	"context"
)

// resync runs after each reconnect. The store drops KEYNOTIFY registrations
// with the session's observer state, so every watched key is re-registered
// and its current value fetched to synthesize a catch-up notification.
func (c *Client[K, V]) resync(ctx context.Context) {
	c.keynotifyMu.Lock()
	defer c.keynotifyMu.Unlock()

	var opts KeyNotifyOptions
	for k := range c.keynotify {
		key := K(k)

		// Re-register without touching the refcount. Failure is tolerable;
		// the GET below still delivers the latest value as a best effort.
		if _, err := invoke(
			ctx, c, parseOK, &opts, "KEYNOTIFY", k,
		); err != nil {
			c.logger.Warn("notification recovery failed",
				"key", k, "error", err)
		}

		res, err := c.Get(ctx, key)
		if err != nil {
			c.logger.Warn("key refresh failed", "key", k, "error", err)
			continue
		}

		// A zero version means the key no longer exists.
		op := "SET"
		if res.Version.IsZero() {
			op = "DELETE"
		}

		notify := Notify[K, V]{
			Key:       key,
			Operation: op,
			Value:     res.Value,
			Version:   res.Version,
		}
		if c.manualAck {
			// There is no underlying message; keep the callback shape.
			notify.Ack = func() {}
		}
		c.notifySend(ctx, notify)
	}
}
