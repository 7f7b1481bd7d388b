package mqsession

import "fmt"

// ClientState is the lifecycle state of a SessionClient.
type ClientState byte

const (
	// NotStarted means Start has not been called yet.
	NotStarted ClientState = iota

	// Started means the client is running and has not been stopped or
	// terminated by a fatal error.
	Started

	// ShutDown means the client was stopped or terminated by a fatal error.
	// This state is terminal.
	ShutDown
)

func (s ClientState) String() string {
	switch s {
	case NotStarted:
		return "not started"
	case Started:
		return "started"
	case ShutDown:
		return "shut down"
	default:
		return fmt.Sprintf("unknown state %d", byte(s))
	}
}

// ClientStateError is returned when an operation cannot proceed in the
// session client's current state.
type ClientStateError struct {
	State ClientState
}

func (e *ClientStateError) Error() string {
	return "mqsession: the session client is " + e.State.String()
}

// ConnackError indicates a CONNACK with an error reason code that is
// classified as retriable. It surfaces to callers only when the retry policy
// gives up with it as the last error.
type ConnackError struct {
	ReasonCode byte
}

func (e *ConnackError) Error() string {
	return fmt.Sprintf(
		"mqsession: CONNACK with error reason code 0x%02x", e.ReasonCode)
}

// FatalConnackError indicates the session client terminated because the
// server returned a CONNACK with an unretriable reason code.
type FatalConnackError struct {
	ReasonCode byte
}

func (e *FatalConnackError) Error() string {
	return fmt.Sprintf(
		"mqsession: CONNACK with fatal reason code 0x%02x", e.ReasonCode)
}

// DisconnectError indicates a server-initiated DISCONNECT with a reason code
// that permits reconnection. It is used internally to decide on reconnection
// and appears to users only in logs and DisconnectEvents.
type DisconnectError struct {
	ReasonCode byte
}

func (e *DisconnectError) Error() string {
	return fmt.Sprintf(
		"mqsession: DISCONNECT with reason code 0x%02x", e.ReasonCode)
}

// FatalDisconnectError indicates the session client terminated because the
// server sent a DISCONNECT with an unretriable reason code.
type FatalDisconnectError struct {
	ReasonCode byte
}

func (e *FatalDisconnectError) Error() string {
	return fmt.Sprintf(
		"mqsession: DISCONNECT with fatal reason code 0x%02x", e.ReasonCode)
}

// SessionLostError indicates the session client terminated because a
// reconnection CONNACK reported no session present, meaning any server-side
// subscription and queued-message state is gone.
type SessionLostError struct{}

func (*SessionLostError) Error() string {
	return "mqsession: expected server to have session state, but CONNACK " +
		"reported session present false"
}

// ConnectionError indicates a failure opening the network connection to the
// server. It is always retriable.
type ConnectionError struct {
	message string
	wrapped error
}

func (e *ConnectionError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("mqsession: %s: %v", e.message, e.wrapped)
	}
	return "mqsession: " + e.message
}

func (e *ConnectionError) Unwrap() error {
	return e.wrapped
}

// InvalidArgumentError indicates an invalid value for an option or argument,
// detected before any I/O. It is never retried.
type InvalidArgumentError struct {
	message string
	wrapped error
}

func (e *InvalidArgumentError) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("mqsession: %s: %v", e.message, e.wrapped)
	}
	return "mqsession: " + e.message
}

func (e *InvalidArgumentError) Unwrap() error {
	return e.wrapped
}

// PublishQueueFullError is returned when the publish queue has no room for
// another message. It indicates either an unstable connection or an
// application publishing faster than the connection can drain.
type PublishQueueFullError struct{}

func (*PublishQueueFullError) Error() string {
	return "mqsession: publish queue full"
}

// isFatalError reports whether err should terminate the connection loop
// rather than be retried.
func isFatalError(err error) bool {
	switch err.(type) {
	case *InvalidArgumentError,
		*SessionLostError,
		*FatalConnackError,
		*FatalDisconnectError,
		*ClientStateError:
		return true
	default:
		return false
	}
}
