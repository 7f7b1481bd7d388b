package mqsession

import (
	"context"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"pkt.systems/pslog"

	"pkt.systems/mqsession/retry"
)

// SessionClientOption configures a SessionClient during construction.
type SessionClientOption func(*SessionClient)

// WithLogger sets the logger. Passing nil falls back to pslog.NoopLogger().
func WithLogger(logger pslog.Logger) SessionClientOption {
	return func(c *SessionClient) {
		if logger == nil {
			logger = pslog.NoopLogger()
		}
		c.logger = logger
	}
}

// WithClientID sets the MQTT client identifier.
func WithClientID(clientID string) SessionClientOption {
	return func(c *SessionClient) {
		c.settings.ClientID = clientID
	}
}

// WithConnRetry sets the retry policy governing connection and reconnection
// attempts.
func WithConnRetry(policy retry.Policy) SessionClientOption {
	return func(c *SessionClient) {
		c.connRetry = policy
	}
}

// WithCleanStart sets the Clean Start flag for the first connection.
// Reconnections always request session resumption regardless of this value.
//
// Clean Start is true by default. Disable it only if resuming a prior
// session under the same client ID is intended.
func WithCleanStart(cleanStart bool) SessionClientOption {
	return func(c *SessionClient) {
		c.settings.CleanStart = cleanStart
	}
}

// WithKeepAlive sets the MQTT keep-alive interval.
func WithKeepAlive(keepAlive time.Duration) SessionClientOption {
	return func(c *SessionClient) {
		c.settings.KeepAlive = keepAlive
	}
}

// WithSessionExpiry sets the requested session expiry interval.
func WithSessionExpiry(expiry time.Duration) SessionClientOption {
	return func(c *SessionClient) {
		c.settings.SessionExpiry = expiry
	}
}

// WithReceiveMaximum caps concurrent inbound QoS 1 deliveries.
func WithReceiveMaximum(receiveMaximum uint16) SessionClientOption {
	return func(c *SessionClient) {
		c.settings.ReceiveMaximum = receiveMaximum
	}
}

// WithConnectionTimeout bounds each individual connect attempt.
func WithConnectionTimeout(timeout time.Duration) SessionClientOption {
	return func(c *SessionClient) {
		c.settings.ConnectionTimeout = timeout
	}
}

// WithConnectUserProperties attaches user properties to the CONNECT packet.
func WithConnectUserProperties(props map[string]string) SessionClientOption {
	return func(c *SessionClient) {
		c.settings.UserProperties = props
	}
}

// WithConnectionSettings replaces the entire settings struct. Options applied
// after this one override individual fields.
func WithConnectionSettings(settings *ConnectionSettings) SessionClientOption {
	return func(c *SessionClient) {
		if settings != nil {
			c.settings = *settings
		}
	}
}

// WithConnectionProvider overrides how the network connection is opened,
// bypassing the ServerURL-derived dialer.
func WithConnectionProvider(provider ConnectionProvider) SessionClientOption {
	return func(c *SessionClient) {
		c.connectionProvider = provider
	}
}

// WithMetrics registers the session client's Prometheus metrics with the
// supplied registerer. Without this option no metrics are collected.
func WithMetrics(reg prometheus.Registerer) SessionClientOption {
	return func(c *SessionClient) {
		c.metrics = newMetrics(reg)
	}
}

// WithWill sets the will message, and optionally its properties, sent by the
// server if this client's connection terminates abnormally.
func WithWill(message *WillMessage, properties *WillProperties) SessionClientOption {
	return func(c *SessionClient) {
		c.will = message
		c.willProperties = properties
	}
}

// UserNameProvider returns the MQTT User Name for one connect attempt. When
// ok is false no User Name is sent.
type UserNameProvider func(ctx context.Context) (userName string, ok bool, err error)

// PasswordProvider returns the MQTT Password for one connect attempt. When ok
// is false no Password is sent.
type PasswordProvider func(ctx context.Context) (password []byte, ok bool, err error)

// ConstantUserName wraps an unchanging User Name as a UserNameProvider.
func ConstantUserName(userName string) UserNameProvider {
	return func(context.Context) (string, bool, error) {
		return userName, true, nil
	}
}

// ConstantPassword wraps an unchanging Password as a PasswordProvider.
func ConstantPassword(password []byte) PasswordProvider {
	return func(context.Context) ([]byte, bool, error) {
		return password, true, nil
	}
}

// FilePassword reads the Password from a file on every connect attempt,
// supporting rotated credentials.
func FilePassword(filename string) PasswordProvider {
	return func(context.Context) ([]byte, bool, error) {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, false, err
		}
		return data, true, nil
	}
}

// WithUserName sets the provider consulted for the MQTT User Name on each
// connect attempt.
func WithUserName(provider UserNameProvider) SessionClientOption {
	return func(c *SessionClient) {
		c.userNameProvider = provider
	}
}

// WithPassword sets the provider consulted for the MQTT Password on each
// connect attempt.
func WithPassword(provider PasswordProvider) SessionClientOption {
	return func(c *SessionClient) {
		c.passwordProvider = provider
	}
}

// WithAuthProvider sets the provider driving MQTT v5 enhanced authentication
// on every connection and reauthentication.
func WithAuthProvider(provider AuthProvider) SessionClientOption {
	return func(c *SessionClient) {
		c.authProvider = provider
	}
}

// withConnectionFactory swaps the Connection implementation, for tests.
func withConnectionFactory(factory ConnectionFactory) SessionClientOption {
	return func(c *SessionClient) {
		c.connectionFactory = factory
	}
}

// WillMessage is the last-will message carried in the CONNECT packet.
type WillMessage struct {
	Retain  bool
	QoS     byte
	Topic   string
	Payload []byte
}

// WillProperties are the optional properties of a will message.
type WillProperties struct {
	PayloadFormat     byte
	WillDelayInterval time.Duration
	MessageExpiry     time.Duration
	ContentType       string
	ResponseTopic     string
	CorrelationData   []byte
	User              map[string]string
}

// PublishOption configures a single Publish call.
type PublishOption interface{ publish(*PublishOptions) }

// PublishOptions are the resolved options of a Publish call. The struct form
// itself is a valid PublishOption.
type PublishOptions struct {
	ContentType     string
	CorrelationData []byte
	MessageExpiry   uint32
	PayloadFormat   byte
	QoS             byte
	ResponseTopic   string
	Retain          bool
	UserProperties  map[string]string
}

// Apply resolves the provided options onto o.
func (o *PublishOptions) Apply(opts []PublishOption, rest ...PublishOption) {
	for _, opt := range opts {
		if opt != nil {
			opt.publish(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.publish(o)
		}
	}
}

func (o *PublishOptions) publish(opt *PublishOptions) {
	if o != nil {
		*opt = *o
	}
}

// SubscribeOption configures a single Subscribe call.
type SubscribeOption interface{ subscribe(*SubscribeOptions) }

// SubscribeOptions are the resolved options of a Subscribe call.
type SubscribeOptions struct {
	NoLocal        bool
	QoS            byte
	Retain         bool
	RetainHandling byte
	UserProperties map[string]string
}

// Apply resolves the provided options onto o.
func (o *SubscribeOptions) Apply(opts []SubscribeOption, rest ...SubscribeOption) {
	for _, opt := range opts {
		if opt != nil {
			opt.subscribe(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.subscribe(o)
		}
	}
}

func (o *SubscribeOptions) subscribe(opt *SubscribeOptions) {
	if o != nil {
		*opt = *o
	}
}

// UnsubscribeOption configures a single Unsubscribe call.
type UnsubscribeOption interface{ unsubscribe(*UnsubscribeOptions) }

// UnsubscribeOptions are the resolved options of an Unsubscribe call.
type UnsubscribeOptions struct {
	UserProperties map[string]string
}

// Apply resolves the provided options onto o.
func (o *UnsubscribeOptions) Apply(opts []UnsubscribeOption, rest ...UnsubscribeOption) {
	for _, opt := range opts {
		if opt != nil {
			opt.unsubscribe(o)
		}
	}
	for _, opt := range rest {
		if opt != nil {
			opt.unsubscribe(o)
		}
	}
}

func (o *UnsubscribeOptions) unsubscribe(opt *UnsubscribeOptions) {
	if o != nil {
		*opt = *o
	}
}

// WithQoS sets the quality of service of a publish or subscribe. Only QoS 0
// and 1 are supported.
type WithQoS byte

func (o WithQoS) publish(opt *PublishOptions)     { opt.QoS = byte(o) }
func (o WithQoS) subscribe(opt *SubscribeOptions) { opt.QoS = byte(o) }

// WithRetain sets the retain flag on a publish, or retain-as-published on a
// subscribe.
type WithRetain bool

func (o WithRetain) publish(opt *PublishOptions)     { opt.Retain = bool(o) }
func (o WithRetain) subscribe(opt *SubscribeOptions) { opt.Retain = bool(o) }

// WithNoLocal requests that the server not forward this client's own
// publishes back on a subscription.
type WithNoLocal bool

func (o WithNoLocal) subscribe(opt *SubscribeOptions) { opt.NoLocal = bool(o) }

// WithRetainHandling sets the MQTT retain handling mode of a subscribe.
type WithRetainHandling byte

func (o WithRetainHandling) subscribe(opt *SubscribeOptions) {
	opt.RetainHandling = byte(o)
}

// WithContentType sets the content type of a publish.
type WithContentType string

func (o WithContentType) publish(opt *PublishOptions) {
	opt.ContentType = string(o)
}

// WithCorrelationData sets the correlation data of a publish.
type WithCorrelationData []byte

func (o WithCorrelationData) publish(opt *PublishOptions) {
	opt.CorrelationData = []byte(o)
}

// WithResponseTopic sets the response topic of a publish.
type WithResponseTopic string

func (o WithResponseTopic) publish(opt *PublishOptions) {
	opt.ResponseTopic = string(o)
}

// WithMessageExpiry sets the message expiry of a publish, in seconds.
type WithMessageExpiry uint32

func (o WithMessageExpiry) publish(opt *PublishOptions) {
	opt.MessageExpiry = uint32(o)
}

// WithPayloadFormat sets the payload format indicator of a publish: 0 for
// unspecified bytes, 1 for UTF-8.
type WithPayloadFormat byte

func (o WithPayloadFormat) publish(opt *PublishOptions) {
	opt.PayloadFormat = byte(o)
}

// WithUserProperties sets the user properties of a publish, subscribe, or
// unsubscribe.
type WithUserProperties map[string]string

func (o WithUserProperties) publish(opt *PublishOptions) {
	opt.UserProperties = map[string]string(o)
}

func (o WithUserProperties) subscribe(opt *SubscribeOptions) {
	opt.UserProperties = map[string]string(o)
}

func (o WithUserProperties) unsubscribe(opt *UnsubscribeOptions) {
	opt.UserProperties = map[string]string(o)
}
