package krpc

import (
	"fmt"

	"github.com/zeebo/bencode"
)

// KRPC error codes (BEP-5).
const (
	ErrCodeGeneric       = 201
	ErrCodeServer        = 202
	ErrCodeProtocol      = 203
	ErrCodeMethodUnknown = 204
)

// ErrorValue is the payload of an error frame: a bencoded list holding
// an integer code and a human-readable message.
type ErrorValue struct {
	Code    int
	Message string
}

// MarshalBencode encodes the error as the two-element list the wire
// format requires.
func (e ErrorValue) MarshalBencode() ([]byte, error) {
	return bencode.EncodeBytes([]interface{}{e.Code, e.Message})
}

// UnmarshalBencode decodes the [code, message] list.
func (e *ErrorValue) UnmarshalBencode(data []byte) error {
	var raw []interface{}
	if err := bencode.DecodeBytes(data, &raw); err != nil {
		return fmt.Errorf("krpc: decoding error value: %w", err)
	}
	if len(raw) != 2 {
		return fmt.Errorf("krpc: error value must have 2 elements, got %d", len(raw))
	}
	code, ok := raw[0].(int64)
	if !ok {
		return fmt.Errorf("krpc: error code is not an integer")
	}
	msg, ok := raw[1].(string)
	if !ok {
		return fmt.Errorf("krpc: error message is not a string")
	}
	e.Code = int(code)
	e.Message = msg
	return nil
}
