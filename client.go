package mqsession

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/eclipse/paho.golang/paho/session"
	"github.com/eclipse/paho.golang/paho/session/state"
	"github.com/google/uuid"
	"pkt.systems/pslog"

	"pkt.systems/mqsession/internal/clock"
	"pkt.systems/mqsession/internal/conn"
	"pkt.systems/mqsession/internal/queue"
	"pkt.systems/mqsession/internal/svcfields"
	"pkt.systems/mqsession/retry"
)

const maxPublishQueueSize = math.MaxUint16

// SessionClient maintains a durable MQTT v5 session with QoS 0 and 1 across
// an unreliable network connection. It connects, watches for disconnections,
// and reconnects with session resumption, while queued publishes and
// receipt-ordered acknowledgments carry across connection generations.
type SessionClient struct {
	settings ConnectionSettings

	userNameProvider UserNameProvider
	passwordProvider PasswordProvider
	authProvider     AuthProvider
	will             *WillMessage
	willProperties   *WillProperties

	connRetry retry.Policy

	// session carries QoS 1 in-flight state across connections so the
	// server-side session can be resumed.
	session session.SessionManager

	conn               *conn.Tracker[Connection]
	connectionFactory  ConnectionFactory
	connectionProvider ConnectionProvider

	outgoing *queue.Queue[*outgoingPublish]
	acks     *ackTracker

	messageHandlers         *queue.HandlerList[func(*Message)]
	connectEventHandlers    *queue.HandlerList[ConnectEventHandler]
	disconnectEventHandlers *queue.HandlerList[DisconnectEventHandler]
	fatalErrorHandlers      *queue.HandlerList[func(error)]

	started  atomic.Bool
	shutdown *conn.Background

	clk     clock.Clock
	logger  pslog.Logger
	metrics *metrics
}

// ConnectEvent notifies handlers of a successfully established connection.
type ConnectEvent struct {
	ReasonCode     byte
	SessionPresent bool
}

// ConnectEventHandler is called synchronously after each successful
// connection, in registration order. Handlers must not block.
type ConnectEventHandler func(*ConnectEvent)

// DisconnectEvent notifies handlers of a detected disconnection. ReasonCode
// is set for server-initiated DISCONNECT packets, Error for transport-level
// failures; both may be nil on a clean shutdown.
type DisconnectEvent struct {
	ReasonCode *byte
	Error      error
}

// DisconnectEventHandler is called synchronously after each detected
// disconnection, in registration order. Handlers must not block.
type DisconnectEventHandler func(*DisconnectEvent)

// NewSessionClient creates a session client for the given server URL, e.g.
// "tcp://localhost:1883". The client does nothing until Start is called.
func NewSessionClient(
	serverURL string,
	opts ...SessionClientOption,
) (*SessionClient, error) {
	c := &SessionClient{
		settings: ConnectionSettings{
			ServerURL:  serverURL,
			CleanStart: true,
		},
		session:                 state.NewInMemory(),
		conn:                    conn.NewTracker[Connection](),
		connectionFactory:       defaultConnectionFactory,
		outgoing:                queue.New[*outgoingPublish](maxPublishQueueSize),
		messageHandlers:         queue.NewHandlerList[func(*Message)](),
		connectEventHandlers:    queue.NewHandlerList[ConnectEventHandler](),
		disconnectEventHandlers: queue.NewHandlerList[DisconnectEventHandler](),
		fatalErrorHandlers:      queue.NewHandlerList[func(error)](),
		shutdown:                conn.NewBackground(&ClientStateError{State: ShutDown}),
		clk:                     clock.Real{},
		logger:                  pslog.NoopLogger(),
	}
	c.acks = newAckTracker(c.sendAck)

	for _, opt := range opts {
		opt(c)
	}
	c.logger = svcfields.WithSubsystem(c.logger, "mqtt.session")

	if err := c.settings.Validate(); err != nil {
		return nil, err
	}
	if c.settings.ClientID == "" {
		c.settings.ClientID = randomClientID()
	}

	if c.connRetry == nil {
		c.connRetry = retry.WithAutoReset(
			&retry.ExponentialBackoff{}, time.Minute, c.clk)
	}
	if c.connectionProvider == nil {
		provider, err := c.settings.provider()
		if err != nil {
			return nil, err
		}
		c.connectionProvider = provider
	}

	return c, nil
}

// NewSessionClientFromConnectionString creates a session client from a
// semicolon-delimited connection string. See ParseConnectionString.
func NewSessionClientFromConnectionString(
	connStr string,
	opts ...SessionClientOption,
) (*SessionClient, error) {
	settings, err := ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	return NewSessionClient(
		settings.ServerURL,
		append([]SessionClientOption{WithConnectionSettings(settings)}, opts...)...,
	)
}

// NewSessionClientFromEnv creates a session client from MQTT_* environment
// variables. See SettingsFromEnv.
func NewSessionClientFromEnv(
	opts ...SessionClientOption,
) (*SessionClient, error) {
	settings, err := SettingsFromEnv()
	if err != nil {
		return nil, err
	}
	return NewSessionClient(
		settings.ServerURL,
		append([]SessionClientOption{WithConnectionSettings(settings)}, opts...)...,
	)
}

// ID returns the MQTT client identifier.
func (c *SessionClient) ID() string {
	return c.settings.ClientID
}

// Start spawns the background connection and publish goroutines. Stop must be
// called afterwards to release them.
func (c *SessionClient) Start() error {
	if !c.started.CompareAndSwap(false, true) {
		return &ClientStateError{State: Started}
	}

	ctx, _ := c.shutdown.With(context.Background())

	go func() {
		defer c.shutdown.Close()
		if err := c.manageConnection(ctx); err != nil {
			c.logger.Error("session terminated", "error", err)
			for handler := range c.fatalErrorHandlers.All() {
				go handler(err)
			}
		}
	}()

	go c.manageOutgoingPublishes(ctx)

	c.logger.Debug("session client started", "client_id", c.settings.ClientID)
	return nil
}

// Stop terminates the session client. Pending operations fail with a
// ClientStateError and background goroutines wind down. Stop is idempotent
// once the client has been started.
func (c *SessionClient) Stop() error {
	if !c.started.Load() {
		return &ClientStateError{State: NotStarted}
	}
	c.shutdown.Close()
	return nil
}

// RegisterMessageHandler adds a handler receiving every inbound publish in
// receipt order. The returned function removes the handler and cancels
// contexts passed to in-flight deliveries.
func (c *SessionClient) RegisterMessageHandler(handler MessageHandler) func() {
	ctx, cancel := context.WithCancel(context.Background())
	remove := c.messageHandlers.Append(func(msg *Message) {
		handler(ctx, msg)
	})
	return func() {
		remove()
		cancel()
	}
}

// RegisterConnectEventHandler adds a handler called after each successful
// connection. The returned function removes it.
func (c *SessionClient) RegisterConnectEventHandler(
	handler ConnectEventHandler,
) func() {
	return c.connectEventHandlers.Append(handler)
}

// RegisterDisconnectEventHandler adds a handler called after each detected
// disconnection. The returned function removes it.
func (c *SessionClient) RegisterDisconnectEventHandler(
	handler DisconnectEventHandler,
) func() {
	return c.disconnectEventHandlers.Append(handler)
}

// RegisterFatalErrorHandler adds a handler called in a goroutine if the
// session client terminates due to a fatal error, including session loss.
// The returned function removes it.
func (c *SessionClient) RegisterFatalErrorHandler(handler func(error)) func() {
	return c.fatalErrorHandlers.Append(handler)
}

func randomClientID() string {
	return "mqsession-" + uuid.NewString()
}

// userPropertiesToMap converts Paho user properties, returning nil for empty
// input.
func userPropertiesToMap(props paho.UserProperties) map[string]string {
	if len(props) == 0 {
		return nil
	}
	m := make(map[string]string, len(props))
	for _, prop := range props {
		m[prop.Key] = prop.Value
	}
	return m
}

// mapToUserProperties converts a map to Paho user properties, returning nil
// for empty input.
func mapToUserProperties(m map[string]string) paho.UserProperties {
	if len(m) == 0 {
		return nil
	}
	props := make(paho.UserProperties, 0, len(m))
	for key, value := range m {
		props = append(props, paho.UserProperty{Key: key, Value: value})
	}
	return props
}
