package statestore

import (
	"time"

	"pkt.systems/pslog"

	"pkt.systems/mqsession/hlc"
)

type (
	// ClientOption configures the client.
	ClientOption interface{ client(*ClientOptions) }

	// ClientOptions are the resolved options for the client.
	ClientOptions struct {
		Logger    pslog.Logger
		HLC       *hlc.Source
		ManualAck bool
		Timeout   time.Duration
	}

	// Condition specifies the conditions under which a key will be set.
	Condition string

	// WithCondition indicates that the key should only be set under the given
	// condition.
	WithCondition Condition

	// WithExpiry indicates that the key should expire after the given
	// duration (millisecond precision).
	WithExpiry time.Duration

	// WithFencingToken protects the request with a fencing token; the store
	// rejects it if the key is locked with a higher version.
	WithFencingToken hlc.HybridLogicalClock

	// WithTimeout bounds the time spent waiting for the response. It also
	// serves as a ClientOption setting the default for all requests.
	WithTimeout time.Duration

	// WithManualAck defers MQTT acknowledgment of notifications to the
	// receiver via Notify.Ack.
	WithManualAck bool

	withLogger struct{ pslog.Logger }

	withHLC struct{ *hlc.Source }
)

const (
	// Always sets the key unconditionally. This is the default.
	Always Condition = ""

	// NotExists sets the key only if it does not exist.
	NotExists Condition = "NX"

	// NotExistsOrEqual sets the key only if it does not exist or is equal to
	// the set value, typically to refresh the expiry on a held key.
	NotExistsOrEqual Condition = "NEX"
)

// WithLogger enables logging with the provided logger.
func WithLogger(logger pslog.Logger) ClientOption {
	return withLogger{logger}
}

// WithHLC shares a hybrid logical clock source with other clients in the
// application instead of the client creating its own.
func WithHLC(source *hlc.Source) ClientOption {
	return withHLC{source}
}

// Apply resolves the provided options onto o.
func (o *ClientOptions) Apply(opts []ClientOption, rest ...ClientOption) {
	for _, opt := range opts {
		if opt != nil {
			opt.client(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.client(o)
		}
	}
}

func (o *ClientOptions) client(opt *ClientOptions) {
	if o != nil {
		*opt = *o
	}
}

func (o withLogger) client(opt *ClientOptions)  { opt.Logger = o.Logger }
func (o withHLC) client(opt *ClientOptions)     { opt.HLC = o.Source }
func (o WithManualAck) client(opt *ClientOptions) {
	opt.ManualAck = bool(o)
}
func (o WithTimeout) client(opt *ClientOptions) {
	opt.Timeout = time.Duration(o)
}
