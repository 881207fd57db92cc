package a2a

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/forgelabs-ai/agentmesh/logger"
	metrics "github.com/forgelabs-ai/agentmesh/metrics/prometheus"
	"github.com/forgelabs-ai/agentmesh/version"
)

const (
	// maxBodyBytes caps JSON-RPC request bodies at 10 MiB.
	maxBodyBytes = 10 << 20

	// defaultReadHeaderTimeout prevents Slowloris attacks.
	defaultReadHeaderTimeout = 10 * time.Second

	// DefaultHeartbeat is the cadence of SSE keepalive comments.
	DefaultHeartbeat = 15 * time.Second
)

// AuthMode selects how the server authenticates JSON-RPC and SSE callers.
type AuthMode string

// Auth modes.
const (
	AuthModeNone    AuthMode = "none"
	AuthModeToken   AuthMode = "token"
	AuthModeGateway AuthMode = "gateway"
)

// ExecuteTaskHook runs a task on behalf of the server. It receives the
// stored task and the initiating message, and returns the response text
// plus any file or data parts. The context is canceled when the task is
// canceled or the server shuts down.
type ExecuteTaskHook func(ctx context.Context, task *Task, msg Message) (string, []Part, error)

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithAgentName sets the name advertised on the agent card.
func WithAgentName(name string) ServerOption {
	return func(s *Server) { s.agentName = name }
}

// WithDescription sets the description advertised on the agent card.
func WithDescription(desc string) ServerOption {
	return func(s *Server) { s.description = desc }
}

// WithBaseURL sets the canonical base URL advertised on the agent card.
func WithBaseURL(baseURL string) ServerOption {
	return func(s *Server) { s.baseURL = NormalizeBaseURL(baseURL) }
}

// WithSkills sets the skills advertised on the agent card.
func WithSkills(skills []Skill) ServerOption {
	return func(s *Server) { s.skills = skills }
}

// WithCard overrides the generated agent card entirely.
func WithCard(card *AgentCard) ServerOption {
	return func(s *Server) { s.card = card }
}

// WithTaskManager sets a custom task manager. Defaults to NewManager().
func WithTaskManager(m *Manager) ServerOption {
	return func(s *Server) { s.manager = m }
}

// WithExecuteHook sets the hook that executes incoming tasks.
func WithExecuteHook(hook ExecuteTaskHook) ServerOption {
	return func(s *Server) { s.hook = hook }
}

// WithAuth sets the auth mode and bearer token. Modes token and gateway
// require a non-empty token.
func WithAuth(mode AuthMode, token string) ServerOption {
	return func(s *Server) {
		s.authMode = mode
		s.authToken = token
	}
}

// WithAddr sets the listen address for Start.
func WithAddr(addr string) ServerOption {
	return func(s *Server) { s.addr = addr }
}

// WithStreaming toggles the streaming capability on the agent card.
func WithStreaming(enabled bool) ServerOption {
	return func(s *Server) { s.streaming = enabled }
}

// WithPushNotifications toggles the pushNotifications capability on the
// agent card.
func WithPushNotifications(enabled bool) ServerOption {
	return func(s *Server) { s.pushNotifications = enabled }
}

// WithHeartbeat sets the SSE keepalive cadence. Defaults to DefaultHeartbeat.
func WithHeartbeat(d time.Duration) ServerOption {
	return func(s *Server) { s.heartbeat = d }
}

// Server exposes an agent over the A2A protocol: agent-card discovery,
// a JSON-RPC endpoint, and two SSE endpoints.
type Server struct {
	agentName         string
	description       string
	baseURL           string
	skills            []Skill
	card              *AgentCard
	addr              string
	manager           *Manager
	hook              ExecuteTaskHook
	authMode          AuthMode
	authToken         string
	streaming         bool
	pushNotifications bool
	heartbeat         time.Duration

	dispatcher *Dispatcher
	httpSrv    *http.Server

	rootCtx    context.Context
	rootCancel context.CancelFunc

	cancelsMu sync.Mutex
	cancels   map[string]context.CancelFunc // task_id → cancel for in-flight hook
}

// NewServer creates an A2A server. It fails when a non-none auth mode is
// configured without a token.
func NewServer(opts ...ServerOption) (*Server, error) {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	s := &Server{
		agentName:  "agentmesh",
		authMode:   AuthModeNone,
		streaming:  true,
		heartbeat:  DefaultHeartbeat,
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
		cancels:    make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(s)
	}

	switch s.authMode {
	case AuthModeNone:
	case AuthModeToken, AuthModeGateway:
		if s.authToken == "" {
			rootCancel()
			return nil, fmt.Errorf("a2a: auth mode %q requires a token", s.authMode)
		}
	default:
		rootCancel()
		return nil, fmt.Errorf("a2a: unknown auth mode %q", s.authMode)
	}

	if s.manager == nil {
		s.manager = NewManager()
	}
	if s.heartbeat <= 0 {
		s.heartbeat = DefaultHeartbeat
	}

	s.dispatcher = NewDispatcher()
	s.dispatcher.Register(MethodSendMessage, s.rpcSendMessage)
	s.dispatcher.Register(MethodGetTask, s.rpcGetTask)
	s.dispatcher.Register(MethodCancelTask, s.rpcCancelTask)

	return s, nil
}

// Manager returns the server's task manager.
func (s *Server) Manager() *Manager {
	return s.manager
}

// Card returns the agent card the server advertises.
func (s *Server) Card() AgentCard {
	if s.card != nil {
		return *s.card
	}
	return AgentCard{
		Name:        s.agentName,
		Description: s.description,
		URL:         s.baseURL,
		Version:     version.GetVersion(),
		Capabilities: Capabilities{
			Streaming:              s.streaming,
			PushNotifications:      s.pushNotifications,
			StateTransitionHistory: true,
		},
		Skills: s.skills,
	}
}

// Handler returns an http.Handler implementing the A2A protocol.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+WellKnownCardPath, s.handleAgentCard)
	mux.HandleFunc("POST /a2a/messages", s.handleMessages)
	mux.HandleFunc("POST /a2a/messages:stream", s.handleMessagesStream)
	mux.HandleFunc("GET /a2a/tasks/subscribe", s.handleTaskSubscribe)
	return otelhttp.NewHandler(mux, "a2a.server")
}

// Start serves the A2A protocol on the configured address, blocking until
// the server stops.
func (s *Server) Start() error {
	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	logger.Info("a2a server listening", "addr", s.addr, "agent", s.agentName)
	return s.httpSrv.ListenAndServe()
}

// Serve serves the A2A protocol on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: defaultReadHeaderTimeout,
	}
	return s.httpSrv.Serve(ln)
}

// Shutdown gracefully stops the server: drains HTTP requests and cancels
// all in-flight task hooks.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpSrv != nil {
		err = s.httpSrv.Shutdown(ctx)
	}

	s.rootCancel()

	s.cancelsMu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.cancels = make(map[string]context.CancelFunc)
	s.cancelsMu.Unlock()

	logger.Info("a2a server stopped", "agent", s.agentName)
	return err
}

// handleAgentCard serves the agent card. No auth.
func (s *Server) handleAgentCard(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.Card())
}

// handleMessages serves the synchronous JSON-RPC endpoint.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := logger.WithRequestID(r.Context(), uuid.NewString())

	if err := s.authorize(r); err != nil {
		logger.WarnContext(ctx, "unauthorized a2a request", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, errorResponse(nil, err))
		return
	}

	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		writeJSON(w, http.StatusUnsupportedMediaType,
			errorResponse(nil, NewError(CodeInvalidRequest, "Content-Type must be application/json")))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge,
				errorResponse(nil, NewError(CodeInvalidRequest, "request body too large")))
			return
		}
		writeJSON(w, http.StatusOK, errorResponse(nil, NewError(CodeParseError, "parse error")))
		return
	}

	req, parseErr := ParseRequest(body)
	if parseErr != nil {
		writeJSON(w, http.StatusOK, parseErr)
		metrics.RecordA2ARequest("invalid", strconv.Itoa(CodeParseError), time.Since(start).Seconds())
		return
	}

	logger.DebugContext(ctx, "dispatching a2a rpc", "method", req.Method)
	resp := s.dispatcher.Dispatch(ctx, req)
	writeJSON(w, http.StatusOK, resp)

	code := "ok"
	if resp.Error != nil {
		code = strconv.Itoa(resp.Error.Code)
	}
	metrics.RecordA2ARequest(req.Method, code, time.Since(start).Seconds())
}

// rpcSendMessage handles message/send: create a task, run the execute hook
// to completion, and return the final task.
func (s *Server) rpcSendMessage(ctx context.Context, raw json.RawMessage) (any, error) {
	if s.hook == nil {
		return nil, NewError(CodeUnsupportedOperation, "message/send is not supported by this agent")
	}

	var params SendMessageParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, NewError(CodeInvalidParams, "invalid params")
	}
	if err := validateMessage(params.Message); err != nil {
		return nil, Errorf(CodeInvalidParams, "invalid message: %v", err)
	}

	task, err := s.manager.CreateTask(params.Message, params.SessionID, params.Metadata)
	if err != nil {
		return nil, err
	}

	// The hook outlives a dropped connection on the sync route, so it runs
	// under the server's root context rather than the request's.
	s.runTask(s.rootCtx, task, params.Message)

	return s.manager.MustGetTask(task.ID)
}

// rpcGetTask handles tasks/get.
func (s *Server) rpcGetTask(_ context.Context, raw json.RawMessage) (any, error) {
	var params TaskQueryParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, NewError(CodeInvalidParams, "invalid params")
	}

	task, err := s.manager.MustGetTask(params.ID)
	if err != nil {
		return nil, Errorf(CodeTaskNotFound, "task not found: %s", params.ID)
	}
	return task, nil
}

// rpcCancelTask handles tasks/cancel: transition the task to canceled and
// signal the in-flight hook, returning the canceled task.
func (s *Server) rpcCancelTask(_ context.Context, raw json.RawMessage) (any, error) {
	var params TaskCancelParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, NewError(CodeInvalidParams, "invalid params")
	}

	task, err := s.manager.CancelTask(params.ID)
	if err != nil {
		switch {
		case errors.Is(err, ErrTaskNotFound):
			return nil, Errorf(CodeTaskNotFound, "task not found: %s", params.ID)
		case errors.Is(err, ErrTaskNotCancelable):
			return nil, Errorf(CodeTaskNotCancelable, "task is not cancelable: %s", params.ID)
		}
		return nil, err
	}

	s.cancelTaskHook(params.ID)
	return task, nil
}

// runTask drives the execute hook for a task and records the outcome:
// working → completed with one artifact, failed with an error message, or
// canceled when the task context is canceled mid-flight.
func (s *Server) runTask(parent context.Context, task *Task, msg Message) {
	ctx, cancel := context.WithCancel(parent)
	s.cancelsMu.Lock()
	s.cancels[task.ID] = cancel
	s.cancelsMu.Unlock()
	defer func() {
		s.cancelsMu.Lock()
		delete(s.cancels, task.ID)
		s.cancelsMu.Unlock()
		cancel()
	}()

	ctx = logger.WithTaskID(ctx, task.ID)
	if err := s.manager.UpdateStatus(task.ID, TaskStateWorking, nil); err != nil {
		return
	}

	text, files, err := s.hook(ctx, task, msg)

	if ctx.Err() != nil {
		// Canceled mid-flight: tasks/cancel or shutdown owns the terminal
		// transition, so only ensure one happened.
		if _, cancelErr := s.manager.CancelTask(task.ID); cancelErr != nil && !errors.Is(cancelErr, ErrTaskNotCancelable) {
			logger.WarnContext(ctx, "cancel after hook interrupt failed", "error", cancelErr.Error())
		}
		return
	}

	if err != nil {
		failMsg := Message{Role: RoleAgent, Parts: []Part{NewTextPart("Error: " + err.Error())}}
		_ = s.manager.UpdateStatus(task.ID, TaskStateFailed, &failMsg)
		return
	}

	parts := make([]Part, 0, len(files)+1)
	if text != "" {
		parts = append(parts, NewTextPart(text))
	}
	parts = append(parts, files...)
	if len(parts) > 0 {
		_ = s.manager.AddArtifact(task.ID, Artifact{Parts: parts, Index: 0, LastChunk: true})
	}

	var doneMsg *Message
	if text != "" {
		doneMsg = &Message{Role: RoleAgent, Parts: []Part{NewTextPart(text)}}
	}
	_ = s.manager.UpdateStatus(task.ID, TaskStateCompleted, doneMsg)
}

// cancelTaskHook cancels the in-flight hook context for a task, if any.
func (s *Server) cancelTaskHook(taskID string) {
	s.cancelsMu.Lock()
	defer s.cancelsMu.Unlock()
	if cancel, ok := s.cancels[taskID]; ok {
		cancel()
		delete(s.cancels, taskID)
	}
}

// authorize checks the Authorization header against the configured token.
func (s *Server) authorize(r *http.Request) *Error {
	if s.authMode == AuthModeNone {
		return nil
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return NewError(CodeAuthRequired, "missing bearer token")
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
		return NewError(CodeAuthRequired, "invalid token")
	}
	return nil
}

// validateMessage checks the invariants of an incoming message.
func validateMessage(msg Message) error {
	if msg.Role != RoleUser && msg.Role != RoleAgent {
		return fmt.Errorf("unknown role %q", msg.Role)
	}
	if len(msg.Parts) == 0 {
		return errors.New("message requires at least one part")
	}
	for i, part := range msg.Parts {
		if err := part.Validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}

// writeJSON writes a JSON-RPC response with the given HTTP status.
func writeJSON(w http.ResponseWriter, status int, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
