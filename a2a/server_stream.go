package a2a

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/forgelabs-ai/agentmesh/logger"
	metrics "github.com/forgelabs-ai/agentmesh/metrics/prometheus"
)

// subscriberBuffer is the per-subscriber event queue size. The oldest
// event is dropped when a slow subscriber overflows it.
const subscriberBuffer = 64

// handleMessagesStream serves the streaming JSON-RPC endpoint. It accepts
// message/send and message/stream, runs the execute hook concurrently, and
// writes task events as SSE frames wrapping JSON-RPC responses that reuse
// the original request id.
func (s *Server) handleMessagesStream(w http.ResponseWriter, r *http.Request) {
	ctx := logger.WithRequestID(r.Context(), uuid.NewString())

	if err := s.authorize(r); err != nil {
		logger.WarnContext(ctx, "unauthorized a2a stream request", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		http.Error(w, "Content-Type must be application/json", http.StatusUnsupportedMediaType)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSON(w, http.StatusOK, errorResponse(nil, NewError(CodeParseError, "parse error")))
		return
	}

	req, parseErr := ParseRequest(body)
	if parseErr != nil {
		writeJSON(w, http.StatusOK, parseErr)
		return
	}
	if envErr := validateEnvelope(req); envErr != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, envErr))
		return
	}
	if req.Method != MethodSendMessage && req.Method != MethodStreamMessage {
		writeJSON(w, http.StatusOK, errorResponse(req.ID,
			Errorf(CodeMethodNotFound, "method not found: %s", req.Method)))
		return
	}
	if s.hook == nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID,
			NewError(CodeUnsupportedOperation, "streaming is not supported by this agent")))
		return
	}

	params := req.Params
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	var sendParams SendMessageParams
	if err := json.Unmarshal(params, &sendParams); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, NewError(CodeInvalidParams, "invalid params")))
		return
	}
	if err := validateMessage(sendParams.Message); err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID,
			Errorf(CodeInvalidParams, "invalid message: %v", err)))
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusOK, errorResponse(req.ID,
			NewError(CodeInternalError, "streaming not supported by transport")))
		return
	}

	task, err := s.manager.CreateTask(sendParams.Message, sendParams.SessionID, sendParams.Metadata)
	if err != nil {
		writeJSON(w, http.StatusOK, errorResponse(req.ID, NewError(CodeInternalError, err.Error())))
		return
	}
	ctx = logger.WithTaskID(ctx, task.ID)
	logger.DebugContext(ctx, "streaming a2a task", "method", req.Method)

	setSSEHeaders(w)
	flusher.Flush()

	// Subscribe before the hook starts so no event is missed.
	queue := make(chan StreamEvent, subscriberBuffer)
	unsubscribe, err := s.manager.Subscribe(task.ID, func(evt StreamEvent) {
		enqueueDropOldest(queue, evt, task.ID)
	})
	if err != nil {
		return
	}
	defer unsubscribe()

	// Client disconnect cancels the hook via the request context.
	go s.runTask(r.Context(), task, sendParams.Message)

	s.streamEvents(r, w, flusher, queue, func(evt StreamEvent) {
		writeSSEResponse(w, flusher, req.ID, evt)
	})
}

// handleTaskSubscribe serves SSE subscriptions to an existing task. Events
// are raw StreamEvent JSON without a JSON-RPC envelope, current status
// first. A task already terminal closes the stream after that first event.
func (s *Server) handleTaskSubscribe(w http.ResponseWriter, r *http.Request) {
	if err := s.authorize(r); err != nil {
		logger.Warn("unauthorized a2a subscribe request", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	taskID := r.URL.Query().Get("taskId")
	if taskID == "" {
		http.Error(w, "taskId query parameter is required", http.StatusBadRequest)
		return
	}

	task, err := s.manager.MustGetTask(taskID)
	if err != nil {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	setSSEHeaders(w)

	current := StreamEvent{StatusUpdate: &TaskStatusUpdateEvent{
		Type:   EventTypeStatusUpdate,
		TaskID: task.ID,
		Status: task.Status,
		Final:  IsTerminal(task.Status.State),
	}}
	writeSSEEvent(w, flusher, current)
	if current.Final() {
		return
	}

	queue := make(chan StreamEvent, subscriberBuffer)
	unsubscribe, err := s.manager.Subscribe(task.ID, func(evt StreamEvent) {
		enqueueDropOldest(queue, evt, task.ID)
	})
	if err != nil {
		return
	}
	defer unsubscribe()

	s.streamEvents(r, w, flusher, queue, func(evt StreamEvent) {
		writeSSEEvent(w, flusher, evt)
	})
}

// streamEvents pumps queued task events to the client until a final event,
// client disconnect, or server shutdown, emitting heartbeat comments on
// the configured cadence.
func (s *Server) streamEvents(r *http.Request, w http.ResponseWriter, flusher http.Flusher,
	queue <-chan StreamEvent, write func(StreamEvent),
) {
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.rootCtx.Done():
			return
		case <-heartbeat.C:
			writeSSEComment(w, flusher)
		case evt := <-queue:
			write(evt)
			if evt.Final() {
				return
			}
		}
	}
}

// enqueueDropOldest offers an event to a bounded subscriber queue,
// discarding the oldest queued event when full. It never blocks.
func enqueueDropOldest(queue chan StreamEvent, evt StreamEvent, taskID string) {
	select {
	case queue <- evt:
		return
	default:
	}

	select {
	case <-queue:
		metrics.RecordSubscriberDrop()
		logger.Warn("dropped task event for slow subscriber", "task_id", taskID)
	default:
	}

	select {
	case queue <- evt:
	default:
	}
}

// setSSEHeaders sets the response headers for an SSE stream.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// marshalRaw marshals v to json.RawMessage.
func marshalRaw(v any) json.RawMessage {
	data, _ := json.Marshal(v)
	return data
}

// eventPayload returns the concrete event behind a StreamEvent.
func eventPayload(evt StreamEvent) any {
	if evt.StatusUpdate != nil {
		return evt.StatusUpdate
	}
	return evt.ArtifactUpdate
}

// writeSSEResponse writes an event wrapped in a JSON-RPC response, reusing
// the originating request id for every event on the stream.
func writeSSEResponse(w http.ResponseWriter, flusher http.Flusher, id any, evt StreamEvent) {
	data, _ := json.Marshal(Response{
		JSONRPC: "2.0",
		ID:      id,
		Result:  marshalRaw(eventPayload(evt)),
	})
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// writeSSEEvent writes a raw event frame.
func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, evt StreamEvent) {
	data, _ := json.Marshal(eventPayload(evt))
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

// writeSSEComment writes a heartbeat comment frame.
func writeSSEComment(w http.ResponseWriter, flusher http.Flusher) {
	_, _ = fmt.Fprint(w, ": ping\n\n")
	flusher.Flush()
}
