package a2a

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// DefaultClientTimeout bounds unary calls when the caller's context has
// no deadline.
const DefaultClientTimeout = 120 * time.Second

// maxSSELineBytes caps a single SSE data line on the read side.
const maxSSELineBytes = maxBodyBytes

// ClientOption configures a [Client].
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBearer sets an Authorization: Bearer token on all requests.
func WithBearer(token string) ClientOption {
	return func(c *Client) { c.bearer = token }
}

// WithAPIKey sets an X-API-Key header on all requests.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) { c.apiKey = key }
}

// WithTimeout sets the default timeout for unary calls. It applies only
// when the caller's context carries no deadline. Streaming calls are not
// bounded.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// Client calls a remote A2A agent: message/send, message/stream,
// tasks/get, tasks/cancel, and SSE task subscriptions.
type Client struct {
	baseURL    string
	httpClient *http.Client
	bearer     string
	apiKey     string
	timeout    time.Duration
	reqID      int64
}

// NewClient creates a Client targeting baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		timeout:    DefaultClientTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// setHeaders applies auth and trace headers to an outgoing request.
func (c *Client) setHeaders(ctx context.Context, req *http.Request) {
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

func (c *Client) nextID() int64 {
	return atomic.AddInt64(&c.reqID, 1)
}

// withDeadline applies the default timeout when ctx has no deadline.
func (c *Client) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// SendMessage sends a message/send request and returns the final task.
func (c *Client) SendMessage(ctx context.Context, params SendMessageParams) (*Task, error) {
	var task Task
	if err := c.rpcCall(ctx, MethodSendMessage, params, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// GetTask retrieves a task by ID via tasks/get.
func (c *Client) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.rpcCall(ctx, MethodGetTask, TaskQueryParams{ID: taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// CancelTask cancels a task by ID via tasks/cancel and returns the
// canceled task.
func (c *Client) CancelTask(ctx context.Context, taskID string) (*Task, error) {
	var task Task
	if err := c.rpcCall(ctx, MethodCancelTask, TaskCancelParams{ID: taskID}, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// SendMessageStream sends a message/stream request and returns a channel
// of stream events. The channel closes when the server ends the stream or
// the context is canceled.
func (c *Client) SendMessageStream(ctx context.Context, params SendMessageParams) (<-chan StreamEvent, error) {
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("a2a: marshal params: %w", err)
	}

	body, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      c.nextID(),
		Method:  MethodStreamMessage,
		Params:  paramsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("a2a: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/a2a/messages:stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("a2a: stream: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	c.setHeaders(ctx, req)

	return c.readEventStream(ctx, req)
}

// Subscribe attaches to an existing task's SSE stream and returns a
// channel of raw stream events, current status first.
func (c *Client) Subscribe(ctx context.Context, taskID string) (<-chan StreamEvent, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/a2a/tasks/subscribe?taskId="+url.QueryEscape(taskID), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("a2a: subscribe: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	c.setHeaders(ctx, req)

	return c.readEventStream(ctx, req)
}

// readEventStream issues req and pumps its SSE body into a channel.
func (c *Client) readEventStream(ctx context.Context, req *http.Request) (<-chan StreamEvent, error) {
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // closed in goroutine below
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("a2a: stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_ = resp.Body.Close()
		return nil, &HTTPError{Status: resp.StatusCode}
	}

	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		ReadSSE(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// rpcCall performs a JSON-RPC 2.0 POST to /a2a/messages.
func (c *Client) rpcCall(ctx context.Context, method string, params, result any) error {
	ctx, cancel := c.withDeadline(ctx)
	defer cancel()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("a2a: marshal params: %w", err)
	}

	body, err := json.Marshal(Request{
		JSONRPC: "2.0",
		ID:      c.nextID(),
		Method:  method,
		Params:  paramsJSON,
	})
	if err != nil {
		return fmt.Errorf("a2a: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/a2a/messages", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("a2a: %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(ctx, req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("a2a: %s: %w", method, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Status: resp.StatusCode}
	}

	var rpcResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("a2a: %s: decode response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}

	if result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("a2a: %s: decode result: %w", method, err)
		}
	}
	return nil
}

// ReadSSE reads SSE events from r and sends parsed StreamEvents to ch.
// Comment lines and malformed payloads are skipped silently.
func ReadSSE(ctx context.Context, r io.Reader, ch chan<- StreamEvent) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxSSELineBytes)
	var buf strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, ":") {
			continue // SSE comment
		}

		if strings.HasPrefix(line, "data:") {
			appendDataLine(&buf, line)
			continue
		}

		// Empty line terminates the current event.
		if line == "" && buf.Len() > 0 {
			if !emitEvent(ctx, buf.String(), ch) {
				return
			}
			buf.Reset()
		}
	}

	// Handle any remaining buffered data.
	if buf.Len() > 0 {
		emitEvent(ctx, buf.String(), ch)
	}
}

// appendDataLine extracts the payload from an SSE "data:" line and appends
// it to buf, joining multiple data lines with newlines per the SSE format.
func appendDataLine(buf *strings.Builder, line string) {
	d := line[len("data:"):]
	if d != "" && d[0] == ' ' {
		d = d[1:]
	}
	if buf.Len() > 0 {
		buf.WriteByte('\n')
	}
	buf.WriteString(d)
}

// emitEvent parses data as a stream event and sends it to ch.
// Returns false if the context is canceled and the caller should stop.
func emitEvent(ctx context.Context, data string, ch chan<- StreamEvent) bool {
	evt, ok := parseStreamEvent(data)
	if !ok {
		return true
	}
	select {
	case ch <- evt:
		return true
	case <-ctx.Done():
		return false
	}
}

// parseStreamEvent parses a JSON payload into a StreamEvent. It unwraps a
// JSON-RPC envelope when present, then discriminates on the explicit type
// field, falling back to field presence for servers that omit it.
func parseStreamEvent(data string) (StreamEvent, bool) {
	raw := json.RawMessage(data)

	var envelope struct {
		Result json.RawMessage `json:"result"`
	}
	if json.Unmarshal(raw, &envelope) == nil && len(envelope.Result) > 0 {
		raw = envelope.Result
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return StreamEvent{}, false
	}

	var eventType string
	if t, ok := fields["type"]; ok {
		_ = json.Unmarshal(t, &eventType)
	}

	_, hasArtifact := fields["artifact"]
	_, hasStatus := fields["status"]

	switch {
	case eventType == EventTypeArtifactUpdate, eventType == "" && hasArtifact:
		var evt TaskArtifactUpdateEvent
		if json.Unmarshal(raw, &evt) != nil {
			return StreamEvent{}, false
		}
		return StreamEvent{ArtifactUpdate: &evt}, true
	case eventType == EventTypeStatusUpdate, eventType == "" && hasStatus:
		var evt TaskStatusUpdateEvent
		if json.Unmarshal(raw, &evt) != nil {
			return StreamEvent{}, false
		}
		return StreamEvent{StatusUpdate: &evt}, true
	}
	return StreamEvent{}, false
}
