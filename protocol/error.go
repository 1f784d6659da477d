package protocol

import (
	"encoding/json"

	"github.com/m4xw311/mcpchat/errors"
)

// ErrorCode is a JSON-RPC error code.
type ErrorCode int

// JSON-RPC 2.0 error codes as defined in https://www.jsonrpc.org/specification
const (
	ErrParse          ErrorCode = -32700
	ErrInvalidRequest ErrorCode = -32600
	ErrMethodNotFound ErrorCode = -32601
	ErrInvalidParams  ErrorCode = -32602
	ErrInternal       ErrorCode = -32603
)

// Error is the error object of a response.
type Error struct {
	Code    ErrorCode       `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Err converts the wire object into a ProtocolError.
func (e *Error) Err() error {
	return &errors.ProtocolError{
		Code:    int(e.Code),
		Message: e.Message,
		Data:    e.Data,
	}
}
