package statestore

import (
	"context"
	"time"

	"pkt.systems/mqsession/statestore/internal/resp"
)

type (
	// GetOption configures the Get method.
	GetOption interface{ get(*GetOptions) }

	// GetOptions are the resolved options for the Get method.
	GetOptions struct {
		Timeout time.Duration
	}
)

// Get the value and version of the given key. If the key is not present, it
// returns a fully zero response; if the key is present but empty, it returns
// an empty value and the stored version.
func (c *Client[K, V]) Get(
	ctx context.Context,
	key K,
	opt ...GetOption,
) (*Response[V], error) {
	if err := validateKey(key); err != nil {
		return nil, err
	}

	var opts GetOptions
	opts.Apply(opt)

	c.logger.Debug("GET", "key", string(key))
	return invoke(ctx, c, resp.Blob[V], &opts, "GET", string(key))
}

// Apply resolves the provided options onto o.
func (o *GetOptions) Apply(opts []GetOption, rest ...GetOption) {
	for _, opt := range opts {
		if opt != nil {
			opt.get(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.get(o)
		}
	}
}

func (o *GetOptions) get(opt *GetOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o WithTimeout) get(opt *GetOptions) { opt.Timeout = time.Duration(o) }

func (o *GetOptions) invoke() invokeParams {
	return invokeParams{timeout: o.Timeout}
}
