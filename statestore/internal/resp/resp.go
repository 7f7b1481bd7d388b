// Package resp implements the subset of the RESP wire format spoken by the
// state store: blob arrays for requests, and simple strings, numbers, blobs
// and blob arrays for responses.
package resp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Bytes constrains key and value types to byte data.
type Bytes interface{ ~string | ~[]byte }

var crlf = []byte{'\r', '\n'}

// Command encodes a request as a blob array, e.g.
// Command("SET", "key", "val") -> "*3\r\n$3\r\nSET\r\n$3\r\nkey\r\n$3\r\nval\r\n".
func Command(args ...string) []byte {
	data := strconv.AppendInt([]byte{'*'}, int64(len(args)), 10)
	data = append(data, crlf...)
	for _, arg := range args {
		data = appendBlob(data, arg)
	}
	return data
}

func appendBlob(data []byte, blob string) []byte {
	data = strconv.AppendInt(append(data, '$'), int64(len(blob)), 10)
	data = append(data, crlf...)
	data = append(data, blob...)
	return append(data, crlf...)
}

// String decodes a simple string response ("+OK\r\n").
func String(data []byte) (string, error) {
	str, _, err := parseString('+', data)
	return str, err
}

// Number decodes a number response (":1\r\n").
func Number(data []byte) (int, error) {
	num, _, err := parseNumber(':', data)
	return num, err
}

// Blob decodes a blob response ("$3\r\nval\r\n"). A nil blob ("$-1\r\n")
// decodes to the zero value.
func Blob[T Bytes](data []byte) (T, error) {
	blob, _, err := parseBlob[T]('$', data)
	return blob, err
}

// BlobArray decodes a blob array response.
func BlobArray[T Bytes](data []byte) ([]T, error) {
	n, idx, err := parseNumber('*', data)
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, Errorf("invalid array length %d", n)
	}

	ary := make([]T, n)
	for i := range ary {
		data = data[idx:]
		ary[i], idx, err = parseBlob[T]('$', data)
		if err != nil {
			return nil, err
		}
	}
	return ary, nil
}

func parseString(typ byte, data []byte) (string, int, error) {
	if len(data) == 0 {
		return "", 0, PayloadError("empty payload")
	}

	sep := bytes.Index(data, crlf)
	if sep < 0 {
		return "", 0, PayloadError("missing separator")
	}

	arg := string(data[1:sep])
	idx := sep + len(crlf)

	switch data[0] {
	case '-':
		return "", 0, ServiceError(strings.TrimPrefix(arg, "ERR "))
	case typ:
		return arg, idx, nil
	default:
		return "", 0, Errorf("wrong type %q", data[0])
	}
}

func parseNumber(typ byte, data []byte) (int, int, error) {
	val, idx, err := parseString(typ, data)
	if err != nil {
		return 0, 0, err
	}

	num, err := strconv.Atoi(val)
	if err != nil {
		return 0, 0, Errorf("invalid number %q", val)
	}
	return num, idx, nil
}

func parseBlob[T Bytes](typ byte, data []byte) (T, int, error) {
	var zero T

	n, idx, err := parseNumber(typ, data)
	if err != nil {
		return zero, 0, err
	}

	// A length of -1 is the nil blob, returned for missing keys.
	if n == -1 {
		return zero, idx, nil
	}
	if n < 0 {
		return zero, idx, Errorf("invalid blob length %d", n)
	}

	if len(data)-idx-len(crlf) < n {
		return zero, idx, PayloadError("insufficient data")
	}
	if data[idx+n] != crlf[0] || data[idx+n+1] != crlf[1] {
		return zero, idx, PayloadError("missing separator")
	}

	return T(data[idx : idx+n]), idx + n + len(crlf), nil
}

// Errorf builds a PayloadError from a format string.
func Errorf(format string, args ...any) PayloadError {
	return PayloadError(fmt.Sprintf(format, args...))
}
