// Package gateway implements the framed duplex transport between UI
// clients and the agent runtime.
//
// Frames travel as one JSON object per WebSocket message and come in
// three kinds, discriminated by field presence rather than an explicit
// tag: a Request carries "method", an Event carries "name", and
// anything else with an "id" is a Response. The server answers every
// Request with exactly one Response correlated by id and pushes Event
// frames at will; the client correlates responses to in-flight
// requests and fans events out to subscribers.
package gateway

import (
	"encoding/json"
	"fmt"
)

// Methods understood by the built-in server handlers. MethodAgent and
// MethodAgentIdentity are reserved for the embedding application,
// which registers them via Server.Handle.
const (
	MethodConnect       = "connect"
	MethodAgent         = "agent"
	MethodAgentIdentity = "agent_identity"
	MethodSessionsList  = "sessions_list"
	MethodSessionsPatch = "sessions_patch"
	MethodConfigGet     = "config_get"
)

// Event names pushed by the server.
const (
	// EventAgent carries streamed agent output chunks
	// {runId, seq, stream, data} with stream one of text, thinking or
	// tool_call.
	EventAgent = "agent"

	// EventChat carries whole chat messages.
	EventChat = "chat"
)

// Request asks the peer to invoke a named method.
type Request struct {
	ID     string         `json:"id"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

// Response answers exactly one Request, correlated by ID.
type Response struct {
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
}

// FrameError is the failure half of a Response.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Event is a server-originated push; it expects no reply.
type Event struct {
	Name    string          `json:"name"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an Event with the payload marshaled to JSON.
func NewEvent(name string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal event payload: %w", err)
	}
	return &Event{Name: name, Payload: data}, nil
}

// probe mirrors the discriminating fields of all frame kinds.
type probe struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Name   string `json:"name"`
}

// DecodeFrame parses one wire frame, returning *Request, *Event or
// *Response. Frames matching no kind fail with ErrUnknownFrame.
func DecodeFrame(data []byte) (any, error) {
	var p probe
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("gateway: malformed frame: %w", err)
	}

	switch {
	case p.Method != "":
		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			return nil, fmt.Errorf("gateway: malformed request frame: %w", err)
		}
		return &req, nil
	case p.Name != "":
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, fmt.Errorf("gateway: malformed event frame: %w", err)
		}
		return &ev, nil
	case p.ID != "":
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("gateway: malformed response frame: %w", err)
		}
		return &resp, nil
	default:
		return nil, ErrUnknownFrame
	}
}

// frameKind labels a frame for metrics.
func frameKind(frame any) string {
	switch frame.(type) {
	case *Request:
		return "request"
	case *Response:
		return "response"
	case *Event:
		return "event"
	default:
		return "unknown"
	}
}
