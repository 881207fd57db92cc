package gateway

import (
	"errors"
	"fmt"
	"time"
)

// Common gateway errors.
var (
	// ErrNotConnected is returned by Request when the client is not in
	// the connected state at call time.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrReconnectExhausted is reported by Err after the client spends
	// its reconnect budget without re-establishing the connection.
	ErrReconnectExhausted = errors.New("gateway: reconnect attempts exhausted")

	// ErrUnknownFrame is returned by DecodeFrame for JSON that matches
	// no frame kind.
	ErrUnknownFrame = errors.New("gateway: unknown frame")
)

// TimeoutError is returned by Request when no matching response
// arrives within the request timeout.
type TimeoutError struct {
	Method  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("gateway: %s timed out after %s", e.Method, e.Timeout)
}

// RPCError is returned by Request when the server answers ok=false.
// Server handlers may also return it to control the wire error code.
type RPCError struct {
	Code    string
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway: rpc error %s: %s", e.Code, e.Message)
}

// CloseError fails pending requests when the connection drops before
// their responses arrive. Requests never survive a reconnect.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("gateway: connection closed (%d): %s", e.Code, e.Reason)
}
