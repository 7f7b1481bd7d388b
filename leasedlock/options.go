package leasedlock

import (
	"time"

	"pkt.systems/mqsession/statestore"
)

type (
	// Option configures lock requests.
	Option interface{ request(*Options) }

	// Options are the resolved options for lock requests.
	Options struct {
		Timeout   time.Duration
		SessionID string
		Renew     time.Duration
	}

	// WithTimeout bounds the time spent on the request.
	WithTimeout time.Duration

	// WithSessionID suffixes the lock holder value with a session ID,
	// allowing distinct locks on the same key from the same MQTT client.
	WithSessionID string

	// WithRenew re-acquires the lease at this interval until an attempt
	// fails or the lock is released. Renewal failures surface through Token.
	WithRenew time.Duration
)

// Apply resolves the provided options onto o.
func (o *Options) Apply(opts []Option, rest ...Option) {
	for _, opt := range opts {
		if opt != nil {
			opt.request(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.request(o)
		}
	}
}

func (o *Options) request(opt *Options) {
	if o != nil {
		*opt = *o
	}
}

func (o WithTimeout) request(opt *Options)   { opt.Timeout = time.Duration(o) }
func (o WithSessionID) request(opt *Options) { opt.SessionID = string(o) }
func (o WithRenew) request(opt *Options)     { opt.Renew = time.Duration(o) }

func (o *Options) set() *statestore.SetOptions {
	return &statestore.SetOptions{Timeout: o.Timeout}
}

func (o *Options) get() *statestore.GetOptions {
	return &statestore.GetOptions{Timeout: o.Timeout}
}

func (o *Options) del() *statestore.DelOptions {
	return &statestore.DelOptions{Timeout: o.Timeout}
}

func (o *Options) keynotify() *statestore.KeyNotifyOptions {
	return &statestore.KeyNotifyOptions{Timeout: o.Timeout}
}
