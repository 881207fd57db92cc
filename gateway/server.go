package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/forgelabs-ai/agentmesh/logger"
	metrics "github.com/forgelabs-ai/agentmesh/metrics/prometheus"
	"github.com/forgelabs-ai/agentmesh/sessions"
	"github.com/forgelabs-ai/agentmesh/version"
)

// Server timing constants.
const (
	serverWriteWait  = 10 * time.Second
	serverPongWait   = 60 * time.Second
	serverPingPeriod = 30 * time.Second
	serverReadLimit  = 1 << 20
)

// HandlerFunc serves one gateway method. The returned value is
// marshaled into the response payload; a returned error produces an
// ok=false response instead. Returning *RPCError controls the wire
// error code; other errors map to "internal" except the sessions
// sentinels, which map to "not_found" and "invalid_params".
type HandlerFunc func(ctx context.Context, params map[string]any) (any, error)

// Server is the WebSocket side of the gateway transport. It upgrades
// HTTP requests, reads Request frames, dispatches each to its handler
// on its own goroutine, and writes exactly one Response per request
// id. Events are pushed with Conn.PushEvent or BroadcastEvent.
//
// The connect handler is always registered; sessions_* and config_get
// come from options. The embedding application registers its agent
// methods with Handle.
type Server struct {
	upgrader websocket.Upgrader

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	conns    map[*Conn]struct{}
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithSessions registers the sessions_list and sessions_patch handlers
// backed by store.
func WithSessions(store sessions.Store) ServerOption {
	return func(s *Server) {
		s.handlers[MethodSessionsList] = sessionsListHandler(store)
		s.handlers[MethodSessionsPatch] = sessionsPatchHandler(store)
	}
}

// WithConfigSnapshot registers the config_get handler. snapshot is
// invoked per request and its result marshaled into the payload.
func WithConfigSnapshot(snapshot func() any) ServerOption {
	return func(s *Server) {
		s.handlers[MethodConfigGet] = func(context.Context, map[string]any) (any, error) {
			return snapshot(), nil
		}
	}
}

// WithCheckOrigin overrides the upgrader origin check.
func WithCheckOrigin(fn func(*http.Request) bool) ServerOption {
	return func(s *Server) {
		s.upgrader.CheckOrigin = fn
	}
}

// NewServer creates a gateway server.
func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		handlers: make(map[string]HandlerFunc),
		conns:    make(map[*Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// UIs are served from their own origin during development.
			// Deployments that pin origins use WithCheckOrigin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	s.handlers[MethodConnect] = connectHandler

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Handle registers a handler for method, replacing any previous one.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// ServeHTTP upgrades the request to a WebSocket and serves frames
// until the connection drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("gateway upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := &Conn{
		id: uuid.NewString(),
		ws: ws,
	}

	s.addConn(conn)
	metrics.RecordGatewayConnect()
	logger.Info("gateway client connected", "conn_id", conn.id, "remote", r.RemoteAddr)

	defer func() {
		s.removeConn(conn)
		_ = ws.Close()
		metrics.RecordGatewayDisconnect()
		logger.Info("gateway client disconnected", "conn_id", conn.id)
	}()

	// The handler context lives as long as the connection, not the
	// upgrade request.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.readLoop(withConn(ctx, conn), conn)
}

// BroadcastEvent pushes an event to every connected client. A failed
// write is logged and doesn't affect the other connections; the dead
// connection is reaped by its own read loop.
func (s *Server) BroadcastEvent(name string, payload any) error {
	ev, err := NewEvent(name, payload)
	if err != nil {
		return err
	}

	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		if err := conn.writeFrame(ev); err != nil {
			logger.Warn("gateway broadcast failed", "conn_id", conn.id, "event", name, "error", err)
		}
	}

	return nil
}

// ConnCount returns the number of active connections.
func (s *Server) ConnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Close disconnects every client. The server stays usable for new
// connections; callers shutting down must stop their HTTP server too.
func (s *Server) Close() {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.RUnlock()

	for _, conn := range conns {
		conn.close()
	}
}

func (s *Server) addConn(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) removeConn(conn *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// readLoop reads frames until the connection drops. The read deadline
// is refreshed by pongs answering the ping ticker.
func (s *Server) readLoop(ctx context.Context, conn *Conn) {
	ws := conn.ws
	ws.SetReadLimit(serverReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(serverPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(serverPongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go s.pingLoop(conn, stopPing)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn("gateway read failed", "conn_id", conn.id, "error", err)
			}
			return
		}

		frame, err := DecodeFrame(data)
		if err != nil {
			logger.Warn("gateway received malformed frame", "conn_id", conn.id, "error", err)
			continue
		}

		req, ok := frame.(*Request)
		if !ok {
			logger.Debug("gateway ignoring non-request frame", "conn_id", conn.id, "kind", frameKind(frame))
			continue
		}
		metrics.RecordGatewayFrame("in", "request")

		go s.dispatch(ctx, conn, req)
	}
}

func (s *Server) pingLoop(conn *Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(serverPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(serverWriteWait)
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Warn("gateway ping failed", "conn_id", conn.id, "error", err)
				return
			}
		}
	}
}

// dispatch runs one handler and writes exactly one Response for the
// request id.
func (s *Server) dispatch(ctx context.Context, conn *Conn, req *Request) {
	resp := &Response{ID: req.ID}

	result, err := s.invoke(ctx, req)
	switch {
	case err != nil:
		resp.Error = frameError(err)
	default:
		payload, merr := json.Marshal(result)
		if merr != nil {
			resp.Error = &FrameError{Code: "internal", Message: "marshal payload: " + merr.Error()}
		} else {
			resp.OK = true
			resp.Payload = payload
		}
	}

	if err := conn.writeFrame(resp); err != nil {
		logger.Warn("gateway response write failed", "conn_id", conn.id, "id", req.ID, "error", err)
	}
}

// invoke looks up and runs the handler. A panic is contained to the
// request and surfaces as an internal error.
func (s *Server) invoke(ctx context.Context, req *Request) (result any, err error) {
	s.mu.RLock()
	handler, ok := s.handlers[req.Method]
	s.mu.RUnlock()
	if !ok {
		return nil, &RPCError{Code: "method_not_found", Message: fmt.Sprintf("unknown method %q", req.Method)}
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("gateway handler panicked", "method", req.Method, "panic", r)
			result = nil
			err = &RPCError{Code: "internal", Message: fmt.Sprintf("handler panic: %v", r)}
		}
	}()

	return handler(ctx, req.Params)
}

// frameError maps a handler error onto a wire error.
func frameError(err error) *FrameError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return &FrameError{Code: rpcErr.Code, Message: rpcErr.Message}
	}

	switch {
	case errors.Is(err, sessions.ErrNotFound):
		return &FrameError{Code: "not_found", Message: err.Error()}
	case errors.Is(err, sessions.ErrInvalidID), errors.Is(err, sessions.ErrInvalidSession):
		return &FrameError{Code: "invalid_params", Message: err.Error()}
	default:
		return &FrameError{Code: "internal", Message: err.Error()}
	}
}

// connectHandler answers the client handshake with server identity.
func connectHandler(context.Context, map[string]any) (any, error) {
	return map[string]any{
		"server":    "agentmesh",
		"version":   version.GetVersion(),
		"timestamp": time.Now().UnixMilli(),
	}, nil
}

func sessionsListHandler(store sessions.Store) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		var opts sessions.ListOptions
		if v, ok := params["limit"].(float64); ok {
			opts.Limit = int(v)
		}
		if v, ok := params["offset"].(float64); ok {
			opts.Offset = int(v)
		}
		if v, ok := params["sortBy"].(string); ok {
			opts.SortBy = v
		}
		if v, ok := params["sortOrder"].(string); ok {
			opts.SortOrder = v
		}

		list, err := store.List(ctx, opts)
		if err != nil {
			return nil, err
		}
		return map[string]any{"sessions": list}, nil
	}
}

func sessionsPatchHandler(store sessions.Store) HandlerFunc {
	return func(ctx context.Context, params map[string]any) (any, error) {
		id, _ := params["id"].(string)
		if id == "" {
			return nil, &RPCError{Code: "invalid_params", Message: "id is required"}
		}

		fields, _ := params["fields"].(map[string]any)
		if fields == nil {
			return nil, &RPCError{Code: "invalid_params", Message: "fields object is required"}
		}

		return store.Patch(ctx, id, fields)
	}
}

// Conn is one accepted gateway connection. Handlers that stream output
// retrieve it with ConnFromContext and push Event frames while the
// request is still in flight.
type Conn struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// ID returns the server-assigned connection ID.
func (c *Conn) ID() string {
	return c.id
}

// PushEvent sends an Event frame to this connection.
func (c *Conn) PushEvent(name string, payload any) error {
	ev, err := NewEvent(name, payload)
	if err != nil {
		return err
	}
	return c.writeFrame(ev)
}

// writeFrame serializes all writes on the connection.
func (c *Conn) writeFrame(frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("gateway: marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(serverWriteWait)); err != nil {
		return fmt.Errorf("gateway: set write deadline: %w", err)
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("gateway: write frame: %w", err)
	}
	metrics.RecordGatewayFrame("out", frameKind(frame))

	return nil
}

// close sends a close frame and tears the connection down; the read
// loop notices and finishes cleanup.
func (c *Conn) close() {
	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	_ = c.ws.SetWriteDeadline(time.Now().Add(serverWriteWait))
	_ = c.ws.WriteMessage(websocket.CloseMessage, msg)
	c.writeMu.Unlock()
	_ = c.ws.Close()
}

type connKey struct{}

func withConn(ctx context.Context, conn *Conn) context.Context {
	return context.WithValue(ctx, connKey{}, conn)
}

// ConnFromContext returns the connection a handler is serving.
func ConnFromContext(ctx context.Context) (*Conn, bool) {
	conn, ok := ctx.Value(connKey{}).(*Conn)
	return conn, ok
}
