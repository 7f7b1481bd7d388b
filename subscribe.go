package mqsession

import (
	"context"
	"errors"
	"sync"

	"github.com/eclipse/paho.golang/paho"
)

// Message is an inbound publish delivered to a MessageHandler. Ack must be
// called once the application has processed the message; acknowledgments are
// sent to the server in receipt order regardless of the order Ack is called
// in, and are discarded if the connection drops first.
type Message struct {
	Topic   string
	Payload []byte
	PublishOptions

	Ack func()
}

// MessageHandler processes one inbound publish. The context is cancelled
// when the handler is unregistered.
type MessageHandler func(context.Context, *Message)

// Subscribe sends an MQTT SUBSCRIBE, transparently waiting out any
// disconnection. Negative SUBACK reason codes are returned in the Ack, never
// retried.
func (c *SessionClient) Subscribe(
	ctx context.Context,
	topic string,
	opts ...SubscribeOption,
) (*Ack, error) {
	if !c.started.Load() {
		return nil, &ClientStateError{State: NotStarted}
	}

	sub, err := buildSubscribe(topic, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.shutdown.With(ctx)
	defer cancel()

	for ctx, connection := range c.conn.Client(ctx) {
		suback, err := connection.Subscribe(ctx, sub)

		if errors.Is(err, paho.ErrInvalidArguments) {
			return nil, &InvalidArgumentError{
				message: "invalid arguments in SUBSCRIBE options",
				wrapped: err,
			}
		}
		if suback != nil {
			ack := &Ack{ReasonCode: suback.Reasons[0]}
			if suback.Properties != nil {
				ack.ReasonString = suback.Properties.ReasonString
				ack.UserProperties = userPropertiesToMap(suback.Properties.User)
			}
			return ack, nil
		}
	}

	return nil, context.Cause(ctx)
}

// Unsubscribe sends an MQTT UNSUBSCRIBE, transparently waiting out any
// disconnection. Negative UNSUBACK reason codes are returned in the Ack,
// never retried.
func (c *SessionClient) Unsubscribe(
	ctx context.Context,
	topic string,
	opts ...UnsubscribeOption,
) (*Ack, error) {
	if !c.started.Load() {
		return nil, &ClientStateError{State: NotStarted}
	}

	unsub, err := buildUnsubscribe(topic, opts...)
	if err != nil {
		return nil, err
	}

	ctx, cancel := c.shutdown.With(ctx)
	defer cancel()

	for ctx, connection := range c.conn.Client(ctx) {
		unsuback, err := connection.Unsubscribe(ctx, unsub)

		if errors.Is(err, paho.ErrInvalidArguments) {
			return nil, &InvalidArgumentError{
				message: "invalid arguments in UNSUBSCRIBE options",
				wrapped: err,
			}
		}
		if unsuback != nil {
			ack := &Ack{ReasonCode: unsuback.Reasons[0]}
			if unsuback.Properties != nil {
				ack.ReasonString = unsuback.Properties.ReasonString
				ack.UserProperties = userPropertiesToMap(unsuback.Properties.User)
			}
			return ack, nil
		}
	}

	return nil, context.Cause(ctx)
}

// makeOnPublishReceived builds the single inbound-publish callback registered
// on the connection for one connection generation.
func (c *SessionClient) makeOnPublishReceived(
	attempt uint64,
) func(paho.PublishReceived) (bool, error) {
	return func(received paho.PublishReceived) (bool, error) {
		packet := received.Packet
		c.metrics.messageReceived()

		// QoS 0 messages have no acknowledgment; the Ack func is a no-op so
		// handlers can treat every message uniformly.
		ack := func() {}
		if packet.QoS > 0 {
			ack = c.acks.Track(attempt, packet)
		}

		// Every registered handler must ack before the message is eligible
		// to be acknowledged to the server.
		var willAck sync.WaitGroup
		for handler := range c.messageHandlers.All() {
			willAck.Add(1)
			handler(buildMessage(packet, sync.OnceFunc(willAck.Done)))
		}

		if packet.QoS > 0 {
			go func() {
				willAck.Wait()
				ack()
			}()
		}
		return true, nil
	}
}

// sendAck forwards one acknowledgment to the server, dropping it if the
// connection generation it belongs to is no longer current.
func (c *SessionClient) sendAck(attempt uint64, packet *paho.Publish) bool {
	current := c.conn.Current()
	if current.Client == nil || current.Attempt != attempt {
		c.metrics.ackDropped()
		return false
	}
	if err := current.Client.Ack(packet); err != nil {
		// Ack errors are unlikely; the server will redeliver.
		c.logger.Error("acknowledge failed",
			"packet_id", packet.PacketID, "error", err)
		c.metrics.ackDropped()
		return false
	}
	c.metrics.ackSent()
	return true
}

func buildSubscribe(
	topic string,
	opts ...SubscribeOption,
) (*paho.Subscribe, error) {
	var opt SubscribeOptions
	opt.Apply(opts)

	if topic == "" {
		return nil, &InvalidArgumentError{message: "empty topic filter"}
	}
	if opt.QoS >= 2 {
		return nil, &InvalidArgumentError{message: "invalid or unsupported QoS"}
	}

	sub := &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{
			Topic:             topic,
			QoS:               opt.QoS,
			NoLocal:           opt.NoLocal,
			RetainAsPublished: opt.Retain,
			RetainHandling:    opt.RetainHandling,
		}},
	}
	if len(opt.UserProperties) > 0 {
		sub.Properties = &paho.SubscribeProperties{
			User: mapToUserProperties(opt.UserProperties),
		}
	}
	return sub, nil
}

func buildUnsubscribe(
	topic string,
	opts ...UnsubscribeOption,
) (*paho.Unsubscribe, error) {
	var opt UnsubscribeOptions
	opt.Apply(opts)

	if topic == "" {
		return nil, &InvalidArgumentError{message: "empty topic filter"}
	}

	unsub := &paho.Unsubscribe{Topics: []string{topic}}
	if len(opt.UserProperties) > 0 {
		unsub.Properties = &paho.UnsubscribeProperties{
			User: mapToUserProperties(opt.UserProperties),
		}
	}
	return unsub, nil
}

func buildMessage(packet *paho.Publish, ack func()) *Message {
	msg := &Message{
		Topic:   packet.Topic,
		Payload: packet.Payload,
		PublishOptions: PublishOptions{
			QoS:    packet.QoS,
			Retain: packet.Retain,
		},
		Ack: ack,
	}
	if props := packet.Properties; props != nil {
		msg.ContentType = props.ContentType
		msg.CorrelationData = props.CorrelationData
		msg.ResponseTopic = props.ResponseTopic
		msg.UserProperties = userPropertiesToMap(props.User)
		if props.MessageExpiry != nil {
			msg.MessageExpiry = *props.MessageExpiry
		}
		if props.PayloadFormat != nil {
			msg.PayloadFormat = *props.PayloadFormat
		}
	}
	return msg
}
