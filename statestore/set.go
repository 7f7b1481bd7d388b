package statestore

import (
	"context"
	"strconv"
	"time"

	"pkt.systems/mqsession/hlc"
)

type (
	// SetOption configures the Set method.
	SetOption interface{ set(*SetOptions) }

	// SetOptions are the resolved options for the Set method.
	SetOptions struct {
		Condition    Condition
		Expiry       time.Duration
		FencingToken hlc.HybridLogicalClock
		Timeout      time.Duration
	}
)

// Set the value of the given key. If the key is set, it returns true and the
// new version; if the key is not set due to the specified condition, it
// returns false and the stored version.
func (c *Client[K, V]) Set(
	ctx context.Context,
	key K,
	val V,
	opt ...SetOption,
) (*Response[bool], error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var opts SetOptions
	opts.Apply(opt)

	args := []string{"SET", string(key), string(val)}
	switch opts.Condition {
	case Always, NotExists, NotExistsOrEqual:
		if opts.Condition != Always {
			args = append(args, string(opts.Condition))
		}
	default:
		return nil, ArgumentError{Name: "Condition", Value: opts.Condition}
	}
	switch {
	case opts.Expiry < 0:
		return nil, ArgumentError{Name: "Expiry", Value: opts.Expiry}
	case opts.Expiry > 0:
		args = append(args,
			"PX", strconv.FormatInt(opts.Expiry.Milliseconds(), 10))
	}

	c.logger.Debug("SET", "key", string(key))
	return invoke(ctx, c, parseOK, &opts, args...)
}

// Apply resolves the provided options onto o.
func (o *SetOptions) Apply(opts []SetOption, rest ...SetOption) {
	for _, opt := range opts {
		if opt != nil {
			opt.set(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.set(o)
		}
	}
}

func (o *SetOptions) set(opt *SetOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithCondition) set(opt *SetOptions) { opt.Condition = Condition(o) }

// Conditions may also be used directly as options for convenience.
func (o Condition) set(opt *SetOptions) { opt.Condition = o }

func (o WithExpiry) set(opt *SetOptions) { opt.Expiry = time.Duration(o) }

func (o WithFencingToken) set(opt *SetOptions) {
	opt.FencingToken = hlc.HybridLogicalClock(o)
}

func (o WithTimeout) set(opt *SetOptions) { opt.Timeout = time.Duration(o) }

func (o *SetOptions) invoke() invokeParams {
	return invokeParams{timeout: o.Timeout, fencingToken: o.FencingToken}
}
