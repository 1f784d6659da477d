package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"
)

// ErrClientClosed is delivered to every request still pending when the
// client is torn down.
var ErrClientClosed = stderrors.New("client closed")

// TransportError is a non-2xx HTTP status or a network failure.
type TransportError struct {
	URL        string
	StatusCode int    // zero for network failures
	Body       string // capped snippet of the response body
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("transport: %s: HTTP %d: %s", e.URL, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("transport: %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("transport: %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TimeoutError means no matching response arrived before the deadline.
type TimeoutError struct {
	ID     int64
	Method string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request %d (%s) timed out after %s", e.ID, e.Method, e.After)
}

// Timeout lets callers test for timeouts with a net.Error style check.
func (e *TimeoutError) Timeout() bool { return true }

// ProtocolError is a response that carried an error object.
type ProtocolError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// NotReadyError is an operation attempted outside the Ready state.
type NotReadyError struct {
	Op    string
	State string
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("%s: session not ready (state %s)", e.Op, e.State)
}

// ConnectionError is a failed connect attempt.
type ConnectionError struct {
	Server string
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to MCP server %s: %v", e.Server, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ToolExecutionError is a tool whose remote execution failed. The agent
// absorbs it into the conversation instead of returning it.
type ToolExecutionError struct {
	Tool    string
	Message string
	Err     error
}

func (e *ToolExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool '%s' failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("tool '%s' failed: %s", e.Tool, e.Message)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// ModelCallError is a failure at the language-model boundary.
type ModelCallError struct {
	Model string
	Err   error
}

func (e *ModelCallError) Error() string {
	return fmt.Sprintf("model call (%s) failed: %v", e.Model, e.Err)
}

func (e *ModelCallError) Unwrap() error { return e.Err }
