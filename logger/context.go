package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const (
	// taskIDKey is the context key for A2A task identifiers.
	taskIDKey contextKey = "task_id"
	// sessionIDKey is the context key for session identifiers.
	sessionIDKey contextKey = "session_id"
	// swarmIDKey is the context key for swarm identifiers.
	swarmIDKey contextKey = "swarm_id"
	// agentIDKey is the context key for agent identifiers.
	agentIDKey contextKey = "agent_id"
	// requestIDKey is the context key for JSON-RPC request identifiers.
	requestIDKey contextKey = "request_id"
)

// WithTaskID returns a new context with the given task ID attached.
// Log records emitted with this context include a task_id attribute.
func WithTaskID(ctx context.Context, taskID string) context.Context {
	return context.WithValue(ctx, taskIDKey, taskID)
}

// TaskIDFromContext extracts the task ID from the context.
// Returns an empty string if no task ID is present.
func TaskIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(taskIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSessionID returns a new context with the given session ID attached.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// SessionIDFromContext extracts the session ID from the context.
// Returns an empty string if no session ID is present.
func SessionIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionIDKey).(string); ok {
		return v
	}
	return ""
}

// WithSwarmID returns a new context with the given swarm ID attached.
func WithSwarmID(ctx context.Context, swarmID string) context.Context {
	return context.WithValue(ctx, swarmIDKey, swarmID)
}

// SwarmIDFromContext extracts the swarm ID from the context.
// Returns an empty string if no swarm ID is present.
func SwarmIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(swarmIDKey).(string); ok {
		return v
	}
	return ""
}

// WithAgentID returns a new context with the given agent ID attached.
func WithAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey, agentID)
}

// AgentIDFromContext extracts the agent ID from the context.
// Returns an empty string if no agent ID is present.
func AgentIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(agentIDKey).(string); ok {
		return v
	}
	return ""
}

// WithRequestID returns a new context with the given request ID attached.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request ID from the context.
// Returns an empty string if no request ID is present.
func RequestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}
