package logger

import (
	"context"
	"log/slog"
)

// ContextHandler wraps another slog.Handler and automatically adds
// contextual fields from the context to log records. It extracts
// task, session, swarm, agent, and request identifiers placed in the
// context via the With* helpers in this package.
type ContextHandler struct {
	handler slog.Handler
}

// NewContextHandler creates a new ContextHandler wrapping the given handler.
func NewContextHandler(handler slog.Handler) *ContextHandler {
	return &ContextHandler{handler: handler}
}

// Enabled reports whether the handler handles records at the given level.
func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle adds contextual fields from the context before passing the
// record to the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, record slog.Record) error {
	record.AddAttrs(contextAttrs(ctx)...)
	return h.handler.Handle(ctx, record)
}

// WithAttrs returns a new ContextHandler whose wrapped handler has the given attributes.
func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{handler: h.handler.WithAttrs(attrs)}
}

// WithGroup returns a new ContextHandler whose wrapped handler has the given group.
func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{handler: h.handler.WithGroup(name)}
}

// Unwrap returns the wrapped handler.
func (h *ContextHandler) Unwrap() slog.Handler {
	return h.handler
}

// contextAttrs collects the identifier attributes present in ctx.
func contextAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr

	if taskID := TaskIDFromContext(ctx); taskID != "" {
		attrs = append(attrs, slog.String("task_id", taskID))
	}
	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		attrs = append(attrs, slog.String("session_id", sessionID))
	}
	if swarmID := SwarmIDFromContext(ctx); swarmID != "" {
		attrs = append(attrs, slog.String("swarm_id", swarmID))
	}
	if agentID := AgentIDFromContext(ctx); agentID != "" {
		attrs = append(attrs, slog.String("agent_id", agentID))
	}
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, slog.String("request_id", requestID))
	}

	return attrs
}

// Verify ContextHandler implements slog.Handler at compile time.
var _ slog.Handler = (*ContextHandler)(nil)
