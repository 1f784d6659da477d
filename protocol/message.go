// Package protocol defines the JSON-RPC 2.0 envelope exchanged with an MCP
// tool server.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/m4xw311/mcpchat/errors"
)

// Version is the only JSON-RPC version this client speaks.
const Version = "2.0"

// MCP methods used by the client.
const (
	MethodInitialize  = "initialize"
	MethodInitialized = "notifications/initialized"
	MethodToolsList   = "tools/list"
	MethodToolsCall   = "tools/call"
)

// Message is a request, notification or response. Requests carry Method and
// Params, and an ID when a response is expected. Responses carry the ID of
// the request and exactly one of Result or Error.
type Message struct {
	Version string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewRequest builds a request expecting a response with the given id.
func NewRequest(id int64, method string, params any) (*Message, error) {
	msg, err := NewNotification(method, params)
	if err != nil {
		return nil, err
	}
	msg.ID = &id
	return msg, nil
}

// NewNotification builds a request that expects no response.
func NewNotification(method string, params any) (*Message, error) {
	msg := &Message{Version: Version, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal params for %s", method)
		}
		msg.Params = raw
	}
	return msg, nil
}

// NewResponse builds a successful response. Used by servers and tests.
func NewResponse(id int64, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal result")
	}
	return &Message{Version: Version, ID: &id, Result: raw}, nil
}

// IsResponse reports whether the message answers a request.
func (m *Message) IsResponse() bool {
	return m.ID != nil && m.Method == "" && (m.Result != nil || m.Error != nil)
}

// IDValue returns the id, or 0 and false for notifications.
func (m *Message) IDValue() (int64, bool) {
	if m.ID == nil {
		return 0, false
	}
	return *m.ID, true
}

// Decode parses a single message from raw JSON.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.Version != Version {
		return nil, fmt.Errorf("unsupported jsonrpc version %q", msg.Version)
	}
	return &msg, nil
}
