package gateway

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/forgelabs-ai/agentmesh/logger"
	"github.com/forgelabs-ai/agentmesh/version"
)

// ConnState is the observable client connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
)

// Client defaults.
const (
	DefaultRequestTimeout = 30 * time.Second

	defaultDialTimeout    = 10 * time.Second
	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 16 * 1024 * 1024
	defaultReconnectBase  = 500 * time.Millisecond
	defaultReconnectCap   = 30 * time.Second
	defaultMaxReconnects  = 10
	defaultClientName     = "agentmesh"
)

// ClientConfig configures a gateway client.
type ClientConfig struct {
	// URL is the WebSocket endpoint.
	URL string

	// Headers are sent during the WebSocket handshake.
	Headers http.Header

	// ClientName identifies this client in the connect handshake.
	// Defaults to "agentmesh".
	ClientName string

	// RequestTimeout bounds each Request. Defaults to 30s.
	RequestTimeout time.Duration

	// DialTimeout is the WebSocket handshake timeout. Defaults to 10s.
	DialTimeout time.Duration
}

func (c *ClientConfig) defaults() {
	if c.ClientName == "" {
		c.ClientName = defaultClientName
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
}

type pendingResult struct {
	resp *Response
	err  error
}

// Client maintains a single connection to a gateway server, typically
// one per process. It exposes request/response RPC, event
// subscriptions, and observable connection state. On connection loss
// the client fails every pending request with *CloseError and
// reconnects with exponential backoff until the attempt budget runs
// out or Disconnect is called; requests never retry across reconnects.
type Client struct {
	cfg ClientConfig

	mu      sync.Mutex
	writeMu sync.Mutex // serializes writes (gorilla/websocket requirement)
	ws      *websocket.Conn
	state   ConnState
	closed  bool
	lastErr error
	pending map[string]chan pendingResult

	stateSubs map[int]func(ConnState)
	eventSubs map[string]map[int]func(json.RawMessage)
	nextSub   int

	runCtx    context.Context
	runCancel context.CancelFunc

	// Reconnect policy: delay = clamp(base×2^attempt + jitter[0, base),
	// base, cap), up to maxReconnects attempts.
	reconnectBase time.Duration
	reconnectCap  time.Duration
	maxReconnects int
}

// NewClient creates a gateway client. Call Connect to establish the
// connection.
func NewClient(cfg *ClientConfig) *Client {
	cfg.defaults()
	return &Client{
		cfg:           *cfg,
		state:         StateDisconnected,
		pending:       make(map[string]chan pendingResult),
		stateSubs:     make(map[int]func(ConnState)),
		eventSubs:     make(map[string]map[int]func(json.RawMessage)),
		reconnectBase: defaultReconnectBase,
		reconnectCap:  defaultReconnectCap,
		maxReconnects: defaultMaxReconnects,
	}
}

// Connect dials the gateway and starts the read pump. After a
// successful connect the client issues the connect handshake with
// {client, version, timestamp} and reconnects automatically on
// connection loss. A client that was disconnected — by Disconnect or
// by reconnect exhaustion — can Connect again.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("gateway: already %s", state)
	}
	c.closed = false
	c.lastErr = nil
	if c.runCancel != nil {
		c.runCancel()
	}
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	c.mu.Unlock()

	c.setState(StateConnecting)

	ws, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.startConn(ws)
	return nil
}

// Disconnect closes the connection, cancels any reconnect in flight,
// and fails all pending requests with *CloseError.
func (c *Client) Disconnect() {
	c.mu.Lock()
	alreadyDown := c.closed && c.ws == nil
	c.closed = true
	ws := c.ws
	c.ws = nil
	if c.runCancel != nil {
		c.runCancel()
	}
	c.mu.Unlock()

	if alreadyDown {
		return
	}

	if ws != nil {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = ws.SetWriteDeadline(time.Now().Add(defaultWriteWait))
		_ = ws.WriteMessage(websocket.CloseMessage, msg)
		c.writeMu.Unlock()
		_ = ws.Close()
	}

	c.failPending(&CloseError{Code: websocket.CloseNormalClosure, Reason: "client disconnected"})
	c.setState(StateDisconnected)
	logger.Info("gateway client disconnected")
}

// Request invokes method on the server and waits for the matching
// response. It fails with ErrNotConnected when the client is not
// connected at call time, *TimeoutError when no response arrives
// within the request timeout, *RPCError when the server answers
// ok=false, and *CloseError when the connection drops mid-flight.
func (c *Client) Request(ctx context.Context, method string, params map[string]any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.state != StateConnected || c.ws == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	ws := c.ws
	id := uuid.NewString()
	ch := make(chan pendingResult, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer c.clearPending(id)

	if err := c.writeFrame(ws, &Request{ID: id, Method: method, Params: params}); err != nil {
		return nil, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, &TimeoutError{Method: method, Timeout: c.cfg.RequestTimeout}
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		if !res.resp.OK {
			if res.resp.Error != nil {
				return nil, &RPCError{Code: res.resp.Error.Code, Message: res.resp.Error.Message}
			}
			return nil, &RPCError{Code: "unknown", Message: "request failed"}
		}
		return res.resp.Payload, nil
	}
}

// On subscribes fn to an event name. Every subscriber of the name
// receives each event in arrival order; a panicking subscriber doesn't
// affect its siblings. The returned function removes the subscription.
func (c *Client) On(event string, fn func(json.RawMessage)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	if c.eventSubs[event] == nil {
		c.eventSubs[event] = make(map[int]func(json.RawMessage))
	}
	c.eventSubs[event][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.eventSubs[event], id)
	}
}

// OnStateChange subscribes fn to connection state transitions. The
// returned function removes the subscription.
func (c *Client) OnStateChange(fn func(ConnState)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSub
	c.nextSub++
	c.stateSubs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateSubs, id)
	}
}

// State returns the current connection state.
func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err reports why the client is disconnected: ErrReconnectExhausted
// after the retry budget is spent, nil otherwise.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}

	ws, resp, err := dialer.DialContext(ctx, c.cfg.URL, c.cfg.Headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("gateway: dial %s: %w", c.cfg.URL, err)
	}

	ws.SetReadLimit(defaultMaxMessageSize)
	return ws, nil
}

// startConn installs a freshly dialed connection unless Disconnect won
// the race, then starts the read pump and the handshake.
func (c *Client) startConn(ws *websocket.Conn) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = ws.Close()
		return
	}
	c.ws = ws
	c.lastErr = nil
	c.mu.Unlock()

	c.setState(StateConnected)
	go c.readPump(ws)
	go c.handshake()
}

// handshake identifies the client to the server. Failures are logged;
// the server tolerates clients that never send one.
func (c *Client) handshake() {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	defer cancel()

	_, err := c.Request(ctx, MethodConnect, map[string]any{
		"client":    c.cfg.ClientName,
		"version":   version.GetVersion(),
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		logger.Warn("gateway handshake failed", "error", err)
	}
}

// readPump reads frames until the connection drops, then fails pending
// requests and schedules a reconnect unless Disconnect was called.
func (c *Client) readPump(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.handleDrop(ws, err)
			return
		}

		frame, derr := DecodeFrame(data)
		if derr != nil {
			logger.Warn("gateway client received malformed frame", "error", derr)
			continue
		}

		switch f := frame.(type) {
		case *Response:
			c.deliverResponse(f)
		case *Event:
			c.dispatchEvent(f)
		default:
			logger.Debug("gateway client ignoring frame", "kind", frameKind(frame))
		}
	}
}

func (c *Client) deliverResponse(resp *Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.mu.Unlock()

	if ok {
		ch <- pendingResult{resp: resp}
	}
}

// dispatchEvent fans an event out to its subscribers.
func (c *Client) dispatchEvent(ev *Event) {
	c.mu.Lock()
	subs := make([]func(json.RawMessage), 0, len(c.eventSubs[ev.Name]))
	for _, fn := range c.eventSubs[ev.Name] {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("gateway event subscriber panicked", "event", ev.Name, "panic", r)
				}
			}()
			fn(ev.Payload)
		}()
	}
}

// handleDrop tears down a lost connection. When Disconnect already
// took over, the pending requests were failed there and nothing is
// left to do.
func (c *Client) handleDrop(ws *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.ws != ws {
		c.mu.Unlock()
		return
	}
	c.ws = nil
	closed := c.closed
	c.mu.Unlock()

	_ = ws.Close()

	closeErr := &CloseError{Code: websocket.CloseAbnormalClosure, Reason: cause.Error()}
	var wsClose *websocket.CloseError
	if errors.As(cause, &wsClose) {
		closeErr = &CloseError{Code: wsClose.Code, Reason: wsClose.Text}
	}
	c.failPending(closeErr)

	if closed {
		return
	}

	logger.Warn("gateway connection lost", "error", cause)
	c.setState(StateConnecting)
	go c.reconnectLoop()
}

// reconnectLoop re-dials with exponential backoff and jitter until a
// connect succeeds, the attempt budget is exhausted, or Disconnect is
// called.
func (c *Client) reconnectLoop() {
	c.mu.Lock()
	runCtx := c.runCtx
	c.mu.Unlock()
	if runCtx == nil {
		return
	}

	for attempt := 0; attempt < c.maxReconnects; attempt++ {
		delay := c.reconnectDelay(attempt)
		logger.Debug("gateway reconnect scheduled", "attempt", attempt+1, "delay", delay)

		select {
		case <-runCtx.Done():
			return
		case <-time.After(delay):
		}

		dialCtx, cancel := context.WithTimeout(runCtx, c.cfg.DialTimeout)
		ws, err := c.dial(dialCtx)
		cancel()
		if err == nil {
			logger.Info("gateway reconnected", "attempt", attempt+1)
			c.startConn(ws)
			return
		}

		logger.Warn("gateway reconnect failed",
			"attempt", attempt+1, "max_attempts", c.maxReconnects, "error", err)
	}

	logger.Error("gateway reconnect exhausted", "attempts", c.maxReconnects)
	c.mu.Lock()
	c.lastErr = ErrReconnectExhausted
	c.mu.Unlock()
	c.setState(StateDisconnected)
}

// reconnectDelay computes the backoff for one attempt: base×2^attempt
// plus jitter in [0, base), clamped to [base, cap].
func (c *Client) reconnectDelay(attempt int) time.Duration {
	backoff := float64(c.reconnectBase) * math.Pow(2, float64(attempt))
	if backoff > float64(c.reconnectCap) {
		backoff = float64(c.reconnectCap)
	}

	var jitter time.Duration
	if c.reconnectBase > 0 {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(c.reconnectBase)))
		jitter = time.Duration(n.Int64())
	}

	delay := time.Duration(backoff) + jitter
	if delay < c.reconnectBase {
		delay = c.reconnectBase
	}
	if delay > c.reconnectCap {
		delay = c.reconnectCap
	}
	return delay
}

func (c *Client) writeFrame(ws *websocket.Conn, frame any) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("gateway: marshal frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := ws.SetWriteDeadline(time.Now().Add(defaultWriteWait)); err != nil {
		return fmt.Errorf("gateway: set write deadline: %w", err)
	}
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("gateway: write frame: %w", err)
	}

	return nil
}

func (c *Client) clearPending(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// failPending fails every in-flight request with err.
func (c *Client) failPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan pendingResult)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- pendingResult{err: err}
	}
}

// setState records the new state and notifies subscribers outside the
// lock.
func (c *Client) setState(state ConnState) {
	c.mu.Lock()
	if c.state == state {
		c.mu.Unlock()
		return
	}
	c.state = state
	subs := make([]func(ConnState), 0, len(c.stateSubs))
	for _, fn := range c.stateSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(state)
	}
}
