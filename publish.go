package mqsession

import (
	"context"
	"errors"

	"github.com/eclipse/paho.golang/paho"
)

// Ack carries the acknowledgment of a publish, subscribe, or unsubscribe
// operation back to its caller.
type Ack struct {
	ReasonCode     byte
	ReasonString   string
	UserProperties map[string]string
}

type publishResult struct {
	ack *paho.PublishResponse
	err error
}

type outgoingPublish struct {
	packet *paho.Publish
	result chan publishResult
}

// Publish sends an MQTT PUBLISH, queueing it if currently disconnected. It
// returns once the message is acknowledged (QoS 1) or handed to the
// transport (QoS 0), or fails with PublishQueueFullError when the queue is
// full. Negative PUBACK reason codes are returned in the Ack, never retried.
func (c *SessionClient) Publish(
	ctx context.Context,
	topic string,
	payload []byte,
	opts ...PublishOption,
) (*Ack, error) {
	if !c.started.Load() {
		return nil, &ClientStateError{State: NotStarted}
	}

	pub, err := buildPublish(topic, payload, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.shutdown.With(ctx)
	defer cancel()
	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}

	// Buffered so the worker never blocks if this caller gives up first.
	queued := &outgoingPublish{pub, make(chan publishResult, 1)}
	if !c.outgoing.Enqueue(queued) {
		return nil, &PublishQueueFullError{}
	}
	c.metrics.publishQueued(c.outgoing.Len())

	select {
	case result := <-queued.result:
		if result.err != nil {
			return nil, result.err
		}
		return buildAck(result.ack), nil

	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// manageOutgoingPublishes drains the publish queue to the live connection,
// in enqueue order, resuming transparently after each reconnection. It
// blocks until ctx ends, then fails whatever is still queued.
func (c *SessionClient) manageOutgoingPublishes(ctx context.Context) {
	var pending *outgoingPublish
	defer func() {
		if pending != nil {
			pending.result <- publishResult{err: context.Cause(ctx)}
		}
		for _, pub := range c.outgoing.Drain() {
			pub.result <- publishResult{err: context.Cause(ctx)}
		}
	}()

	for ctx, connection := range c.conn.Client(ctx) {
		// Resend the publish that was cut off by the previous reconnect.
		if pending != nil && !c.sendOutgoingPublish(ctx, connection, pending) {
			continue
		}
		pending = nil

		for pub := range c.outgoing.Next(ctx) {
			if !c.sendOutgoingPublish(ctx, connection, pub) {
				pending = pub
				break
			}
		}
	}
}

// sendOutgoingPublish attempts one publish and reports whether it has been
// resolved; false means the connection dropped and the publish must be
// retried on the next one.
func (c *SessionClient) sendOutgoingPublish(
	ctx context.Context,
	connection Connection,
	pub *outgoingPublish,
) bool {
	ack, err := connection.Publish(ctx, pub.packet)

	switch {
	case ack != nil:
		// The server acknowledged, successfully or not. PUBACK errors are
		// terminal for this publish.
		c.metrics.publishSent()
		pub.result <- publishResult{ack: ack}
		return true

	case err == nil, errors.Is(err, paho.ErrNetworkErrorAfterStored):
		// Either a QoS 0 send, or the session tracker took ownership of the
		// packet and will resend it after reconnecting. The caller's part is
		// done.
		c.metrics.publishSent()
		pub.result <- publishResult{}
		return true

	case errors.Is(err, paho.ErrInvalidArguments):
		pub.result <- publishResult{err: &InvalidArgumentError{
			message: "invalid arguments in PUBLISH options",
			wrapped: err,
		}}
		return true

	default:
		return false
	}
}

func buildPublish(
	topic string,
	payload []byte,
	opts ...PublishOption,
) (*paho.Publish, error) {
	var opt PublishOptions
	opt.Apply(opts)

	if topic == "" {
		return nil, &InvalidArgumentError{message: "empty topic"}
	}
	if opt.QoS >= 2 {
		return nil, &InvalidArgumentError{message: "invalid or unsupported QoS"}
	}
	if opt.PayloadFormat >= 2 {
		return nil, &InvalidArgumentError{
			message: "invalid payload format indicator",
		}
	}

	pub := &paho.Publish{
		QoS:     opt.QoS,
		Retain:  opt.Retain,
		Topic:   topic,
		Payload: payload,
		Properties: &paho.PublishProperties{
			ContentType:     opt.ContentType,
			CorrelationData: opt.CorrelationData,
			PayloadFormat:   &opt.PayloadFormat,
			ResponseTopic:   opt.ResponseTopic,
			User:            mapToUserProperties(opt.UserProperties),
		},
	}
	if opt.MessageExpiry > 0 {
		pub.Properties.MessageExpiry = &opt.MessageExpiry
	}
	return pub, nil
}

func buildAck(resp *paho.PublishResponse) *Ack {
	if resp == nil {
		return &Ack{}
	}
	ack := &Ack{ReasonCode: resp.ReasonCode}
	if resp.Properties != nil {
		ack.ReasonString = resp.Properties.ReasonString
		ack.UserProperties = userPropertiesToMap(resp.Properties.User)
	}
	return ack
}
