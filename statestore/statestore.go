// Package statestore implements a key-value store client speaking the
// RESP-over-MQTT state store protocol. Requests are published to a well-known
// service topic and responses are matched back by correlation data on a
// per-client response topic; key change notifications arrive on a dedicated
// notification topic. Every stored value carries a hybrid logical clock
// version, which doubles as a fencing token for protected writes.
package statestore

import (
	"errors"
	"fmt"

	"pkt.systems/mqsession/hlc"
	"pkt.systems/mqsession/statestore/internal/resp"
)

type (
	// Bytes constrains key and value types to byte data.
	Bytes = resp.Bytes

	// Response is a state store response: a value whose meaning depends on
	// the method, and the stored version of the key (if any).
	Response[T any] struct {
		Value   T
		Version hlc.HybridLogicalClock
	}

	// ServiceError is an error returned by the state store itself.
	ServiceError = resp.ServiceError

	// PayloadError indicates a response the client could not decode.
	PayloadError = resp.PayloadError

	// ArgumentError indicates an invalid argument to a store method.
	ArgumentError struct {
		Name  string
		Value any
	}
)

var (
	// ErrService is wrapped by all ServiceError values.
	ErrService = resp.ErrService

	// ErrPayload is wrapped by all PayloadError values.
	ErrPayload = resp.ErrPayload

	// ErrArgument is wrapped by all ArgumentError values.
	ErrArgument = errors.New("invalid argument")
)

func (e ArgumentError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s: %s", ErrArgument, e.Name)
	}
	return fmt.Sprintf("%s: %s=%v", ErrArgument, e.Name, e.Value)
}

func (ArgumentError) Unwrap() error {
	return ErrArgument
}
