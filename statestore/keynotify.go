package statestore

import (
	"context"
	"time"
)

type (
	// KeyNotifyOption configures the KeyNotify methods.
	KeyNotifyOption interface{ keynotify(*KeyNotifyOptions) }

	// KeyNotifyOptions are the resolved options for the KeyNotify methods.
	KeyNotifyOptions struct {
		Timeout time.Duration
	}
)

// KeyNotify asks the state store to start sending change notifications for
// the given key. It should be paired with a KeyNotifyStop call. Calls for the
// same key are counted; the store request is only sent while the count rises
// from zero, and re-sent on reconnect.
func (c *Client[K, V]) KeyNotify(
	ctx context.Context,
	key K,
	opt ...KeyNotifyOption,
) error {
	if err := validateKey(key); err != nil {
		return err
	}

	var opts KeyNotifyOptions
	opts.Apply(opt)

	c.keynotifyMu.Lock()
	defer c.keynotifyMu.Unlock()

	c.logger.Debug("KEYNOTIFY", "key", string(key))
	if _, err := invoke(
		ctx, c, parseOK, &opts, "KEYNOTIFY", string(key),
	); err != nil {
		return err
	}

	c.keynotify[string(key)]++
	return nil
}

// KeyNotifyStop undoes one successful KeyNotify call for the given key,
// asking the store to stop notifications once the last interest is released.
// It may be retried on failure.
func (c *Client[K, V]) KeyNotifyStop(
	ctx context.Context,
	key K,
	opt ...KeyNotifyOption,
) error {
	if err := validateKey(key); err != nil {
		return err
	}

	var opts KeyNotifyOptions
	opts.Apply(opt)

	c.keynotifyMu.Lock()
	defer c.keynotifyMu.Unlock()

	if c.keynotify[string(key)] == 1 {
		c.logger.Debug("KEYNOTIFY STOP", "key", string(key))
		if _, err := invoke(
			ctx, c, parseOK, &opts, "KEYNOTIFY", string(key), "STOP",
		); err != nil {
			return err
		}

		delete(c.keynotify, string(key))
		return nil
	}

	if c.keynotify[string(key)] > 0 {
		c.keynotify[string(key)]--
	}
	return nil
}

// Apply resolves the provided options onto o.
func (o *KeyNotifyOptions) Apply(
	opts []KeyNotifyOption,
	rest ...KeyNotifyOption,
) {
	for _, opt := range opts {
		if opt != nil {
			opt.keynotify(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.keynotify(o)
		}
	}
}

func (o *KeyNotifyOptions) keynotify(opt *KeyNotifyOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithTimeout) keynotify(opt *KeyNotifyOptions) {
	opt.Timeout = time.Duration(o)
}

func (o *KeyNotifyOptions) invoke() invokeParams {
	return invokeParams{timeout: o.Timeout}
}
