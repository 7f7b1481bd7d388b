package mqsession

import (
	"context"
	"math"

	"github.com/eclipse/paho.golang/paho"
)

// manageConnection establishes the initial connection and then listens for
// disconnections to reconnect. It blocks until ctx ends or the connection can
// no longer be maintained, returning the fatal error in the latter case.
func (c *SessionClient) manageConnection(ctx context.Context) error {
	defer c.cleanup()

	var reconnect bool
	for {
		connack, err := c.connectWithRetry(ctx, reconnect)
		if err != nil {
			return err
		}
		if connack == nil {
			// ctx ended while connecting; shutting down.
			return nil
		}

		// signalConnection and signalDisconnection are only called from this
		// loop so handlers observe them strictly alternating.
		c.signalConnection(&ConnectEvent{
			ReasonCode:     connack.ReasonCode,
			SessionPresent: connack.SessionPresent,
		})
		reconnect = true

		select {
		case <-c.conn.Current().Down.Done():
			// Any receives the application has not acknowledged yet must
			// never be acknowledged on the next connection.
			c.acks.Clear()
			c.metrics.disconnect()

			switch err := c.conn.Current().Err.(type) {
			case *FatalDisconnectError:
				c.signalDisconnection(&DisconnectEvent{
					ReasonCode: &err.ReasonCode,
				})
				return err
			case *DisconnectError:
				c.signalDisconnection(&DisconnectEvent{
					ReasonCode: &err.ReasonCode,
				})
			default:
				c.signalDisconnection(&DisconnectEvent{Error: err})
			}

		case <-ctx.Done():
			return nil
		}
	}
}

// connectWithRetry runs connect attempts under the retry policy until one
// succeeds, a fatal error occurs, or ctx ends. A nil connack with nil error
// means ctx ended.
func (c *SessionClient) connectWithRetry(
	ctx context.Context,
	reconnect bool,
) (*paho.Connack, error) {
	connectTimeout := c.settings.ConnectionTimeout
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}

	for attempt := uint64(1); ; attempt++ {
		connack, err := func() (*paho.Connack, error) {
			connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
			defer cancel()
			return c.connect(connCtx, reconnect)
		}()
		if err == nil {
			return connack, nil
		}
		if ctx.Err() != nil {
			return nil, nil
		}
		if isFatalError(err) {
			return nil, err
		}

		again, delay := c.connRetry.ShouldRetry(attempt, err)
		if !again {
			return nil, err
		}

		c.logger.Warn("connect attempt failed",
			"attempt", attempt, "retry_in", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, nil
		case <-c.clk.After(delay):
		}
	}
}

// connect performs a single connect attempt: open the network connection,
// build a Connection around it, and exchange CONNECT/CONNACK. On success the
// connection is registered with the tracker.
func (c *SessionClient) connect(
	ctx context.Context,
	reconnect bool,
) (*paho.Connack, error) {
	attempt := c.conn.Attempt()
	c.metrics.connectAttempt()

	netConn, err := c.connectionProvider(ctx)
	if err != nil {
		return nil, err
	}

	var auther paho.Auther
	if c.authProvider != nil {
		auther = &pahoAuther{c}
	}

	connection := c.connectionFactory(&paho.ClientConfig{
		ClientID:    c.settings.ClientID,
		Conn:        netConn,
		Session:     c.session,
		AuthHandler: auther,

		// Timeouts are controlled through the contexts handed to Paho, so
		// its own packet timeout is effectively disabled.
		PacketTimeout: math.MaxInt64,

		// The session client manages acknowledgment ordering itself.
		EnableManualAcknowledgment: true,

		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			c.makeOnPublishReceived(attempt),
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			if isFatalDisconnectCode(d.ReasonCode) {
				c.conn.Disconnect(attempt, &FatalDisconnectError{d.ReasonCode})
			} else {
				c.conn.Disconnect(attempt, &DisconnectError{d.ReasonCode})
			}
		},
		OnClientError: func(err error) {
			c.conn.Disconnect(attempt, err)
		},
	})

	packet, err := c.buildConnectPacket(ctx, reconnect)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("connecting",
		"attempt", attempt, "clean_start", packet.CleanStart)
	connack, err := connection.Connect(ctx, packet)

	switch {
	case connack == nil:
		// Errors without a CONNACK are network-level and retriable.
		return nil, err

	case isFatalConnackCode(connack.ReasonCode):
		return nil, &FatalConnackError{connack.ReasonCode}

	case connack.ReasonCode >= 0x80:
		return nil, &ConnackError{connack.ReasonCode}

	case reconnect && !connack.SessionPresent:
		// The server discarded our session; subscriptions and queued
		// messages are gone and resuming transparently is impossible.
		c.forceDisconnect(connection)
		return nil, &SessionLostError{}

	default:
		if err := c.conn.Connect(connection); err != nil {
			return nil, err
		}
		if c.authProvider != nil &&
			(connack.Properties == nil || connack.Properties.AuthMethod == "") {
			// The provider still learns of success when the server does not
			// echo the auth method on the CONNACK.
			c.authProvider.AuthSuccess(c.requestReauth)
		}
		return connack, nil
	}
}

func (c *SessionClient) buildConnectPacket(
	ctx context.Context,
	reconnect bool,
) (*paho.Connect, error) {
	sessionExpiry := c.settings.SessionExpiry
	if sessionExpiry == 0 {
		sessionExpiry = defaultSessionExpiry
	}
	sessionExpirySeconds := uint32(sessionExpiry.Seconds())

	keepAlive := c.settings.KeepAlive
	if keepAlive == 0 {
		keepAlive = defaultKeepAlive
	}

	receiveMaximum := c.settings.ReceiveMaximum
	if receiveMaximum == 0 {
		receiveMaximum = defaultReceiveMaximum
	}

	packet := &paho.Connect{
		ClientID:   c.settings.ClientID,
		CleanStart: !reconnect && c.settings.CleanStart,
		KeepAlive:  uint16(keepAlive.Seconds()),
		Properties: &paho.ConnectProperties{
			SessionExpiryInterval: &sessionExpirySeconds,
			ReceiveMaximum:        &receiveMaximum,
			RequestProblemInfo:    true,
			User: mapToUserProperties(
				c.settings.UserProperties,
			),
		},
	}

	userName := c.settings.Username
	userNameFlag := userName != ""
	if c.userNameProvider != nil {
		var err error
		userName, userNameFlag, err = c.userNameProvider(ctx)
		if err != nil {
			return nil, &InvalidArgumentError{
				message: "error getting username",
				wrapped: err,
			}
		}
	}
	if userNameFlag {
		packet.UsernameFlag = true
		packet.Username = userName
	}

	passwordProvider := c.passwordProvider
	if passwordProvider == nil {
		switch {
		case c.settings.PasswordFile != "":
			passwordProvider = FilePassword(c.settings.PasswordFile)
		case len(c.settings.Password) > 0:
			passwordProvider = ConstantPassword(c.settings.Password)
		}
	}
	if passwordProvider != nil {
		password, passwordFlag, err := passwordProvider(ctx)
		if err != nil {
			return nil, &InvalidArgumentError{
				message: "error getting password",
				wrapped: err,
			}
		}
		if passwordFlag {
			packet.PasswordFlag = true
			packet.Password = password
		}
	}

	if c.authProvider != nil {
		values, err := c.authProvider.InitiateAuth(false)
		if err != nil {
			return nil, &InvalidArgumentError{
				message: "error getting auth values",
				wrapped: err,
			}
		}
		packet.Properties.AuthMethod = values.Method
		packet.Properties.AuthData = values.Data
	}

	if c.will != nil {
		packet.WillMessage = &paho.WillMessage{
			Retain:  c.will.Retain,
			QoS:     c.will.QoS,
			Topic:   c.will.Topic,
			Payload: c.will.Payload,
		}
		props := &paho.WillProperties{}
		if wp := c.willProperties; wp != nil {
			delay := uint32(wp.WillDelayInterval.Seconds())
			expiry := uint32(wp.MessageExpiry.Seconds())
			format := wp.PayloadFormat
			props.WillDelayInterval = &delay
			props.MessageExpiry = &expiry
			props.PayloadFormat = &format
			props.ContentType = wp.ContentType
			props.ResponseTopic = wp.ResponseTopic
			props.CorrelationData = wp.CorrelationData
			props.User = mapToUserProperties(wp.User)
		}
		packet.WillProperties = props
	}

	return packet, nil
}

func (c *SessionClient) signalConnection(event *ConnectEvent) {
	c.logger.Info("connected",
		"reason_code", int(event.ReasonCode),
		"session_present", event.SessionPresent)
	c.metrics.connected()

	for handler := range c.connectEventHandlers.All() {
		handler(event)
	}
}

func (c *SessionClient) signalDisconnection(event *DisconnectEvent) {
	switch {
	case event.ReasonCode != nil:
		c.logger.Warn("disconnected", "reason_code", int(*event.ReasonCode))
	case event.Error != nil:
		c.logger.Warn("disconnected", "error", event.Error)
	default:
		c.logger.Info("disconnected")
	}

	for handler := range c.disconnectEventHandlers.All() {
		handler(event)
	}
}

// forceDisconnect sends a best-effort DISCONNECT asking the server to drop
// session state immediately.
func (c *SessionClient) forceDisconnect(connection Connection) {
	immediateSessionExpiry := uint32(0)
	_ = connection.Disconnect(&paho.Disconnect{
		ReasonCode: disconnectNormalDisconnection,
		Properties: &paho.DisconnectProperties{
			SessionExpiryInterval: &immediateSessionExpiry,
		},
	})
}

// cleanup runs when the connection loop exits, sending a DISCONNECT on any
// live connection and signalling the final disconnection.
func (c *SessionClient) cleanup() {
	if connection := c.conn.Current().Client; connection != nil {
		c.forceDisconnect(connection)
		c.signalDisconnection(&DisconnectEvent{})
	}
}
