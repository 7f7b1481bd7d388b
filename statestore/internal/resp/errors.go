package resp

import (
	"errors"
	"fmt"
)

var (
	// ErrService is wrapped by all ServiceError values.
	ErrService = errors.New("service error")

	// ErrPayload is wrapped by all PayloadError values.
	ErrPayload = errors.New("malformed payload")
)

// ServiceError is an error string returned by the state store itself.
type ServiceError string

// Well-known service errors.
const (
	TimestampSkew            ServiceError = "the request timestamp is too far in the future; ensure that the client and broker system clocks are synchronized"
	MissingFencingToken      ServiceError = "a fencing token is required for this request"
	FencingTokenSkew         ServiceError = "the request fencing token timestamp is too far in the future; ensure that the client and broker system clocks are synchronized"
	FencingTokenLowerVersion ServiceError = "the request fencing token is a lower version than the fencing token protecting the resource"
	QuotaExceeded            ServiceError = "the quota has been exceeded"
	SyntaxError              ServiceError = "syntax error"
	NotAuthorized            ServiceError = "not authorized"
	UnknownCommand           ServiceError = "unknown command"
	WrongNumberOfArguments   ServiceError = "wrong number of arguments"
	TimestampMissing         ServiceError = "missing timestamp"
	TimestampMalformed       ServiceError = "malformed timestamp"
	KeyLengthZero            ServiceError = "the key length is zero"
)

func (e ServiceError) Error() string {
	return fmt.Sprintf("%s: %s", ErrService, string(e))
}

func (ServiceError) Unwrap() error {
	return ErrService
}

// PayloadError indicates a response the client could not decode.
type PayloadError string

func (e PayloadError) Error() string {
	return fmt.Sprintf("%s: %s", ErrPayload, string(e))
}

func (PayloadError) Unwrap() error {
	return ErrPayload
}
