package statestore

import (
	"context"
	"time"

	"pkt.systems/mqsession/hlc"
	"pkt.systems/mqsession/statestore/internal/resp"
)

type (
	// DelOption configures the Del and VDel methods.
	DelOption interface{ del(*DelOptions) }

	// DelOptions are the resolved options for the Del and VDel methods.
	DelOptions struct {
		FencingToken hlc.HybridLogicalClock
		Timeout      time.Duration
	}
)

// Del deletes the given key. It returns the number of keys deleted
// (typically 0 or 1).
func (c *Client[K, V]) Del(
	ctx context.Context,
	key K,
	opt ...DelOption,
) (*Response[int], error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var opts DelOptions
	opts.Apply(opt)

	c.logger.Debug("DEL", "key", string(key))
	return invoke(ctx, c, resp.Number, &opts, "DEL", string(key))
}

// VDel deletes the given key if it is equal to the given value. It returns
// the number of values deleted (typically 0 or 1), or -1 if the key was
// present but did not match the given value.
func (c *Client[K, V]) VDel(
	ctx context.Context,
	key K,
	val V,
	opt ...DelOption,
) (*Response[int], error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var opts DelOptions
	opts.Apply(opt)

	c.logger.Debug("VDEL", "key", string(key))
	return invoke(ctx, c, resp.Number, &opts, "VDEL", string(key), string(val))
}

// Apply resolves the provided options onto o.
func (o *DelOptions) Apply(opts []DelOption, rest ...DelOption) {
	for _, opt := range opts {
		if opt != nil {
			opt.del(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.del(o)
		}
	}
}

func (o *DelOptions) del(opt *DelOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithFencingToken) del(opt *DelOptions) {
	opt.FencingToken = hlc.HybridLogicalClock(o)
}

func (o WithTimeout) del(opt *DelOptions) { opt.Timeout = time.Duration(o) }

func (o *DelOptions) invoke() invokeParams {
	return invokeParams{timeout: o.Timeout, fencingToken: o.FencingToken}
}
