package a2a

import (
	"context"
	"encoding/json"
	"errors"
)

// Handler processes the params of a single JSON-RPC method and returns a
// result to be marshaled into the response. Returning a *Error puts that
// exact code on the wire; any other error maps to InternalError.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Dispatcher routes JSON-RPC requests to registered method handlers.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher creates an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register installs a handler for a method name, replacing any previous one.
func (d *Dispatcher) Register(method string, h Handler) {
	d.handlers[method] = h
}

// Dispatch validates the request envelope, routes it to the matching
// handler, and wraps the outcome in a Response. It never returns nil.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request) *Response {
	if err := validateEnvelope(req); err != nil {
		return errorResponse(req.ID, err)
	}

	h, ok := d.handlers[req.Method]
	if !ok {
		return errorResponse(req.ID, Errorf(CodeMethodNotFound, "method not found: %s", req.Method))
	}

	params := req.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}

	result, err := h(ctx, params)
	if err != nil {
		var rpcErr *Error
		if errors.As(err, &rpcErr) {
			return errorResponse(req.ID, rpcErr)
		}
		return errorResponse(req.ID, NewError(CodeInternalError, err.Error()))
	}

	return resultResponse(req.ID, result)
}

// ParseRequest decodes a JSON-RPC request body. On malformed JSON it
// returns a ready-to-write ParseError response instead of a request.
func ParseRequest(body []byte) (*Request, *Response) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errorResponse(nil, NewError(CodeParseError, "parse error"))
	}
	return &req, nil
}

// validateEnvelope checks the JSON-RPC 2.0 envelope invariants.
func validateEnvelope(req *Request) *Error {
	if req.JSONRPC != "2.0" {
		return NewError(CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}
	if req.Method == "" {
		return NewError(CodeInvalidRequest, "method is required")
	}
	switch req.ID.(type) {
	case nil, string, float64, int, int64, json.Number:
		return nil
	}
	return NewError(CodeInvalidRequest, "id must be a string, number, or null")
}

// resultResponse wraps a handler result in a success response.
func resultResponse(id, result any) *Response {
	data, err := json.Marshal(result)
	if err != nil {
		return errorResponse(id, NewError(CodeInternalError, "marshal result: "+err.Error()))
	}
	return &Response{JSONRPC: "2.0", ID: id, Result: data}
}

// errorResponse wraps a protocol error in an error response.
func errorResponse(id any, rpcErr *Error) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: rpcErr}
}
