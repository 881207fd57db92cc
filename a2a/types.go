// Package a2a implements the Agent-to-Agent (A2A) v0.2 protocol: JSON-RPC 2.0
// over HTTP with SSE streaming, a task state machine, an in-memory task
// manager, an agent-card discovery cache, and a known-agent registry.
package a2a

import (
	"encoding/json"
	"errors"
	"time"
)

// ProtocolVersion is the A2A protocol version implemented by this package.
const ProtocolVersion = "0.2"

// WellKnownCardPath is the discovery path agent cards are served from.
const WellKnownCardPath = "/.well-known/agent-card.json"

// JSON-RPC method names.
const (
	MethodSendMessage   = "message/send"
	MethodStreamMessage = "message/stream"
	MethodGetTask       = "tasks/get"
	MethodCancelTask    = "tasks/cancel"
)

// AgentCard describes a remote agent: identity, endpoint, capabilities,
// and skills. Cards are immutable once fetched and keyed by normalized
// base URL.
type AgentCard struct {
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	URL            string          `json:"url"`
	Version        string          `json:"version"`
	Capabilities   Capabilities    `json:"capabilities"`
	Skills         []Skill         `json:"skills,omitempty"`
	Authentication *Authentication `json:"authentication,omitempty"`
	Provider       *Provider       `json:"provider,omitempty"`
}

// Capabilities advertises the optional protocol features an agent supports.
type Capabilities struct {
	Streaming              bool `json:"streaming"`
	PushNotifications      bool `json:"pushNotifications"`
	StateTransitionHistory bool `json:"stateTransitionHistory"`
}

// Skill is a single advertised capability of an agent.
type Skill struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Authentication lists the auth schemes an agent accepts.
type Authentication struct {
	Schemes []string `json:"schemes"`
}

// Provider identifies the organization behind an agent.
type Provider struct {
	Organization string `json:"organization"`
	URL          string `json:"url,omitempty"`
}

// TaskState is the lifecycle state of a task.
type TaskState string

// Task states. Completed, failed, and canceled are terminal.
const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateFailed        TaskState = "failed"
	TaskStateCanceled      TaskState = "canceled"
)

// Task is a unit of work driven via A2A.
type Task struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Status    TaskStatus     `json:"status"`
	History   []Message      `json:"history,omitempty"`
	Artifacts []Artifact     `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskStatus records the current state of a task, an optional status
// message, and the time of the last transition.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Role identifies the author of a message.
type Role string

// Message roles.
const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Message is a single conversational turn with one or more parts.
type Message struct {
	Role     Role           `json:"role"`
	Parts    []Part         `json:"parts"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Part content type discriminators.
const (
	PartTypeText = "text"
	PartTypeFile = "file"
	PartTypeData = "data"
)

// Part is one unit of message or artifact content. Exactly one of Text,
// File, or Data is set, matching the Type discriminator.
type Part struct {
	Type string         `json:"type"`
	Text string         `json:"text,omitempty"`
	File *FileContent   `json:"file,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// FileContent carries file data either inline (base64 bytes) or by URI.
type FileContent struct {
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Bytes    string `json:"bytes,omitempty"`
	URI      string `json:"uri,omitempty"`
}

// NewTextPart returns a text part.
func NewTextPart(text string) Part {
	return Part{Type: PartTypeText, Text: text}
}

// NewFilePart returns a file part.
func NewFilePart(file FileContent) Part {
	return Part{Type: PartTypeFile, File: &file}
}

// NewDataPart returns a structured-data part.
func NewDataPart(data map[string]any) Part {
	return Part{Type: PartTypeData, Data: data}
}

// Validate checks that the part's discriminator matches its content.
func (p Part) Validate() error {
	switch p.Type {
	case PartTypeText:
		if p.Text == "" {
			return errors.New("a2a: text part has no text")
		}
	case PartTypeFile:
		if p.File == nil {
			return errors.New("a2a: file part has no file")
		}
		if p.File.Bytes == "" && p.File.URI == "" {
			return errors.New("a2a: file part needs bytes or uri")
		}
	case PartTypeData:
		if p.Data == nil {
			return errors.New("a2a: data part has no data")
		}
	default:
		return errors.New("a2a: unknown part type " + p.Type)
	}
	return nil
}

// Artifact is agent-produced output. Artifacts within a task are ordered
// by Index; LastChunk marks the final chunk of a streamed artifact.
type Artifact struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Parts       []Part `json:"parts"`
	Index       int    `json:"index"`
	Append      bool   `json:"append,omitempty"`
	LastChunk   bool   `json:"lastChunk,omitempty"`
}

// Stream event type discriminators, emitted explicitly on the wire.
const (
	EventTypeStatusUpdate   = "status_update"
	EventTypeArtifactUpdate = "artifact_update"
)

// TaskStatusUpdateEvent announces a task state transition. Final is true
// exactly when the new state is terminal.
type TaskStatusUpdateEvent struct {
	Type   string     `json:"type"`
	TaskID string     `json:"taskId"`
	Status TaskStatus `json:"status"`
	Final  bool       `json:"final"`
}

// TaskArtifactUpdateEvent announces a new artifact on a task.
type TaskArtifactUpdateEvent struct {
	Type     string   `json:"type"`
	TaskID   string   `json:"taskId"`
	Artifact Artifact `json:"artifact"`
}

// StreamEvent is the closed union of events observed on a task stream.
// Exactly one field is non-nil.
type StreamEvent struct {
	StatusUpdate   *TaskStatusUpdateEvent
	ArtifactUpdate *TaskArtifactUpdateEvent
}

// TaskID returns the task the event belongs to.
func (e StreamEvent) TaskID() string {
	switch {
	case e.StatusUpdate != nil:
		return e.StatusUpdate.TaskID
	case e.ArtifactUpdate != nil:
		return e.ArtifactUpdate.TaskID
	}
	return ""
}

// Final reports whether the event closes the stream.
func (e StreamEvent) Final() bool {
	return e.StatusUpdate != nil && e.StatusUpdate.Final
}

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// SendMessageParams are the params of message/send and message/stream.
type SendMessageParams struct {
	Message   Message        `json:"message"`
	SessionID string         `json:"sessionId,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// TaskQueryParams are the params of tasks/get.
type TaskQueryParams struct {
	ID string `json:"id"`
}

// TaskCancelParams are the params of tasks/cancel.
type TaskCancelParams struct {
	ID string `json:"id"`
}
