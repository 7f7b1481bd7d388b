// Package mqsession maintains a durable, ordered, at-least-once MQTT v5
// session on top of an unreliable network connection, and is the foundation
// for the distributed primitives in the statestore, leasedlock, and
// leaderelection packages.
//
// Copyright (C) 2026 pkt.systems
//
// # Session client
//
// SessionClient owns a background connection loop that connects, watches for
// disconnections, and reconnects with CleanStart=false so the server can
// resume session state. Publish enqueues onto an ordered queue; a worker
// goroutine replays the queue to the live connection, so publishes issued
// while disconnected are flushed in enqueue order once the connection
// returns, and each caller's pending call completes only when its message is
// acknowledged. Subscribe and Unsubscribe run directly on the live
// connection, blocking until one is available.
//
//	client, err := mqsession.NewSessionClient("tcp://localhost:1883")
//	if err != nil { log.Fatal(err) }
//	if err := client.Start(); err != nil { log.Fatal(err) }
//	defer client.Stop()
//
//	ack, err := client.Publish(ctx, "sensors/temp", []byte("21.5"),
//	    mqsession.WithQoS(1))
//
// Inbound messages are dispatched in receipt order, and their acknowledgments
// are sent to the server in that same order no matter when the application
// acknowledges each message. Acknowledgments that are still pending when the
// connection drops are discarded; the server redelivers after reconnect.
//
// # Failure model
//
// Network-level failures and the retriable CONNACK reason codes are retried
// per the configured retry.Policy. Fatal CONNACK and DISCONNECT reason codes,
// and a reconnect that comes back without server session state, terminate the
// client and are reported through the fatal-error and session-lost handlers.
// MQTT-level failures of individual operations (PUBACK, SUBACK, UNSUBACK
// reason codes) are never retried; they surface on the call that issued them.
package mqsession
