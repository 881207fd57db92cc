package a2a

import (
	"errors"
	"fmt"
)

// JSON-RPC 2.0 error codes, including the A2A-reserved range.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeTaskNotFound         = -32001
	CodeTaskNotCancelable    = -32002
	CodePushNotSupported     = -32003
	CodeUnsupportedOperation = -32004
	CodeAuthRequired         = -32010
)

// Task manager errors.
var (
	ErrTaskNotFound      = errors.New("a2a: task not found")
	ErrTaskLimit         = errors.New("a2a: task limit reached")
	ErrTaskTerminal      = errors.New("a2a: task is in a terminal state")
	ErrTaskNotCancelable = errors.New("a2a: task is not cancelable")
)

// Error is a JSON-RPC 2.0 protocol error. It implements error so handlers
// can return it directly and have the dispatcher map it onto the wire.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("a2a: rpc error %d: %s", e.Code, e.Message)
}

// NewError returns a protocol error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf returns a protocol error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// HTTPError is returned by the client when a server responds with a
// non-2xx status before any JSON-RPC envelope could be read.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("a2a: http status %d", e.Status)
}

// CardFetchError is returned when an agent-card fetch yields a non-2xx
// response.
type CardFetchError struct {
	URL    string
	Status int
}

func (e *CardFetchError) Error() string {
	return fmt.Sprintf("a2a: card fetch %s: status %d", e.URL, e.Status)
}
