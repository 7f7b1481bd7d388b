package statestore

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pkt.systems/pslog"

	"pkt.systems/mqsession"
	"pkt.systems/mqsession/hlc"
	"pkt.systems/mqsession/internal/svcfields"
	"pkt.systems/mqsession/statestore/internal/resp"
)

// Topic structure of the state store service. The service ID is fixed.
const (
	serviceID    = "FA9AE35F-2F64-47CD-9BFF-08E2B32A0FE8"
	requestTopic = "statestore/v1/" + serviceID + "/command/invoke"

	// User properties carrying the request/response timestamp and the fencing
	// token for protected writes.
	timestampProperty    = "__ts"
	fencingTokenProperty = "__ft"
)

const defaultInvokeTimeout = 10 * time.Second

type (
	// MqttClient is the subset of the session client the store client needs.
	MqttClient interface {
		ID() string
		Publish(ctx context.Context, topic string, payload []byte,
			opts ...mqsession.PublishOption) (*mqsession.Ack, error)
		Subscribe(ctx context.Context, topic string,
			opts ...mqsession.SubscribeOption) (*mqsession.Ack, error)
		Unsubscribe(ctx context.Context, topic string,
			opts ...mqsession.UnsubscribeOption) (*mqsession.Ack, error)
		RegisterMessageHandler(mqsession.MessageHandler) func()
		RegisterConnectEventHandler(mqsession.ConnectEventHandler) func()
	}

	// Client is a state store client. It takes the key and value types as
	// parameters to avoid unnecessary casting; both may be string, []byte, or
	// equivalent types.
	Client[K, V Bytes] struct {
		mqtt      MqttClient
		logger    pslog.Logger
		clock     *hlc.Source
		manualAck bool
		timeout   time.Duration

		responseTopic string
		notifyPrefix  string
		notifyFilter  string

		pending   map[string]chan response
		pendingMu sync.Mutex

		notify   map[string]map[chan Notify[K, V]]chan struct{}
		notifyMu sync.RWMutex

		keynotify   map[string]uint
		keynotifyMu sync.Mutex

		started atomic.Bool
		stop    []func()
	}

	// response is a matched reply to an in-flight request.
	response struct {
		payload []byte
		version hlc.HybridLogicalClock
	}
)

// New creates a state store client on top of an already-configured session
// client. Start must be called before any store methods.
func New[K, V Bytes](client MqttClient, opt ...ClientOption) (
	*Client[K, V], error,
) {
	var opts ClientOptions
	opts.Apply(opt)

	if client == nil {
		return nil, ArgumentError{Name: "client"}
	}

	logger := opts.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}

	clk := opts.HLC
	if clk == nil {
		clk = hlc.NewSource()
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = defaultInvokeTimeout
	}

	// Notifications address this client by its uppercased hex-encoded ID.
	hexID := strings.ToUpper(hex.EncodeToString([]byte(client.ID())))
	prefix := "clients/statestore/v1/" + serviceID + "/" + hexID +
		"/command/notify/"

	return &Client[K, V]{
		mqtt:          client,
		logger:        svcfields.WithSubsystem(logger, "statestore"),
		clock:         clk,
		manualAck:     opts.ManualAck,
		timeout:       timeout,
		responseTopic: "clients/" + client.ID() + "/response",
		notifyPrefix:  prefix,
		notifyFilter:  prefix + "+",
		pending:       map[string]chan response{},
		notify:        map[string]map[chan Notify[K, V]]chan struct{}{},
		keynotify:     map[string]uint{},
	}, nil
}

// Start subscribes to the response and notification topics and begins routing
// inbound messages. The underlying session client must already be started.
func (c *Client[K, V]) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return fmt.Errorf("statestore: client already started")
	}

	c.stop = append(c.stop, c.mqtt.RegisterMessageHandler(c.handleMessage))

	for _, topic := range []string{c.responseTopic, c.notifyFilter} {
		ack, err := c.mqtt.Subscribe(ctx, topic, mqsession.WithQoS(1))
		if err != nil {
			return err
		}
		if ack.ReasonCode >= 0x80 {
			return fmt.Errorf(
				"statestore: subscribe to %q failed with reason code 0x%02X",
				topic, ack.ReasonCode)
		}
	}

	resyncCtx, cancel := context.WithCancel(context.Background())
	c.stop = append(c.stop,
		c.mqtt.RegisterConnectEventHandler(func(*mqsession.ConnectEvent) {
			go c.resync(resyncCtx)
		}),
		cancel,
	)

	c.logger.Debug("state store client started",
		"response_topic", c.responseTopic)
	return nil
}

// Stop unhooks the client from the session client and drops its
// subscriptions. Notification channels are not closed; their removal
// functions remain valid.
func (c *Client[K, V]) Stop() {
	for _, stop := range c.stop {
		stop()
	}
	c.stop = nil

	if !c.started.Load() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	for _, topic := range []string{c.responseTopic, c.notifyFilter} {
		if _, err := c.mqtt.Unsubscribe(ctx, topic); err != nil {
			c.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	c.logger.Debug("state store client stopped")
}

// ID returns the ID of the underlying MQTT client.
func (c *Client[K, V]) ID() string {
	return c.mqtt.ID()
}

// handleMessage routes one inbound MQTT message to the response or
// notification path. Messages for other topics are acknowledged and dropped.
func (c *Client[K, V]) handleMessage(ctx context.Context, msg *mqsession.Message) {
	switch {
	case msg.Topic == c.responseTopic:
		c.handleResponse(msg)
	case strings.HasPrefix(msg.Topic, c.notifyPrefix):
		c.handleNotify(ctx, msg)
	default:
		msg.Ack()
	}
}

func (c *Client[K, V]) handleResponse(msg *mqsession.Message) {
	defer msg.Ack()

	correlation := string(msg.CorrelationData)

	c.pendingMu.Lock()
	ch, ok := c.pending[correlation]
	delete(c.pending, correlation)
	c.pendingMu.Unlock()

	if !ok {
		// Either the request timed out or this is a duplicate delivery.
		c.logger.Debug("unmatched response dropped")
		return
	}

	ch <- response{msg.Payload, c.observeVersion(msg.UserProperties)}
}

// observeVersion extracts the store's timestamp from a message and folds it
// into the local clock.
func (c *Client[K, V]) observeVersion(
	props map[string]string,
) hlc.HybridLogicalClock {
	raw, ok := props[timestampProperty]
	if !ok {
		return hlc.HybridLogicalClock{}
	}

	version, err := hlc.Parse(raw)
	if err != nil {
		c.logger.Warn("invalid timestamp property", "value", raw, "error", err)
		return hlc.HybridLogicalClock{}
	}

	if _, err := c.clock.Update(version); err != nil {
		c.logger.Warn("clock update failed", "error", err)
	}
	return version
}

// invokeParams are the transport-level parameters of one request.
type invokeParams struct {
	timeout      time.Duration
	fencingToken hlc.HybridLogicalClock
}

// invokeOptions extracts the transport parameters from per-method options.
type invokeOptions interface{ invoke() invokeParams }

// invoke sends one request to the state store and waits for the matched
// response, parsed by the given function.
func invoke[T any, K, V Bytes](
	ctx context.Context,
	c *Client[K, V],
	parse func([]byte) (T, error),
	opts invokeOptions,
	args ...string,
) (*Response[T], error) {
	if !c.started.Load() {
		return nil, fmt.Errorf("statestore: client not started")
	}

	params := opts.invoke()
	timeout := params.timeout
	if timeout == 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	correlation := uuid.New()
	ch := make(chan response, 1)

	c.pendingMu.Lock()
	c.pending[string(correlation[:])] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, string(correlation[:]))
		c.pendingMu.Unlock()
	}()

	ts, err := c.clock.Get()
	if err != nil {
		return nil, err
	}
	props := map[string]string{timestampProperty: ts.String()}
	if !params.fencingToken.IsZero() {
		props[fencingTokenProperty] = params.fencingToken.String()
	}

	ack, err := c.mqtt.Publish(ctx, requestTopic, resp.Command(args...),
		mqsession.WithQoS(1),
		mqsession.WithResponseTopic(c.responseTopic),
		mqsession.WithCorrelationData(correlation[:]),
		mqsession.WithUserProperties(props),
	)
	if err != nil {
		return nil, err
	}
	if ack.ReasonCode >= 0x80 {
		return nil, fmt.Errorf(
			"statestore: request rejected with reason code 0x%02X",
			ack.ReasonCode)
	}

	select {
	case res := <-ch:
		val, err := parse(res.payload)
		if err != nil {
			return nil, err
		}
		return &Response[T]{Value: val, Version: res.version}, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// parseOK checks an "OK" response. SET returns :-1 when skipped due to its
// condition and KEYNOTIFY returns :0 when set on an existing key, so a
// number at or below zero decodes to false rather than an error.
func parseOK(data []byte) (bool, error) {
	if len(data) == 0 {
		return false, resp.PayloadError("empty payload")
	}

	switch data[0] {
	case '+', '-':
		res, err := resp.String(data)
		if err != nil {
			return false, err
		}
		if res != "OK" {
			return false, resp.Errorf("unexpected response %q", res)
		}
		return true, nil

	case ':':
		res, err := resp.Number(data)
		if err != nil {
			return false, err
		}
		if res > 0 {
			return false, resp.Errorf("unexpected response %d", res)
		}
		return false, nil

	default:
		return false, resp.Errorf("wrong type %q", data[0])
	}
}

func validateKey[K Bytes](key K) error {
	if len(key) == 0 {
		return ArgumentError{Name: "key"}
	}
	return nil
}
