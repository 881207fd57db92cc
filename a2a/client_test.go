package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendMessage(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))
	client := NewClient(ts.URL)

	task, err := client.SendMessage(context.Background(), SendMessageParams{
		Message:   userMsg("ping"),
		SessionID: "sess-1",
	})
	require.NoError(t, err)

	assert.Equal(t, TaskStateCompleted, task.Status.State)
	assert.Equal(t, "sess-1", task.SessionID)
	require.Len(t, task.Artifacts, 1)
	assert.Equal(t, "pong", task.Artifacts[0].Parts[0].Text)
}

func TestClient_SendMessageStream(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))
	client := NewClient(ts.URL)

	ch, err := client.SendMessageStream(context.Background(), SendMessageParams{Message: userMsg("ping")})
	require.NoError(t, err)

	var events []StreamEvent
	for evt := range ch {
		events = append(events, evt)
	}

	require.Len(t, events, 3)
	assert.Equal(t, TaskStateWorking, events[0].StatusUpdate.Status.State)
	assert.Equal(t, "pong", events[1].ArtifactUpdate.Artifact.Parts[0].Text)
	assert.Equal(t, TaskStateCompleted, events[2].StatusUpdate.Status.State)
	assert.True(t, events[2].Final())
}

func TestClient_GetTask(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))
	client := NewClient(ts.URL)

	sent, err := client.SendMessage(context.Background(), SendMessageParams{Message: userMsg("ping")})
	require.NoError(t, err)

	task, err := client.GetTask(context.Background(), sent.ID)
	require.NoError(t, err)
	assert.Equal(t, sent.ID, task.ID)
}

func TestClient_GetTask_NotFound(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))
	client := NewClient(ts.URL)

	_, err := client.GetTask(context.Background(), "nonexistent")

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeTaskNotFound, rpcErr.Code)
}

func TestClient_CancelTask_Completed(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))
	client := NewClient(ts.URL)

	sent, err := client.SendMessage(context.Background(), SendMessageParams{Message: userMsg("ping")})
	require.NoError(t, err)

	_, err = client.CancelTask(context.Background(), sent.ID)

	var rpcErr *Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, CodeTaskNotCancelable, rpcErr.Code)
}

func TestClient_Subscribe(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))
	client := NewClient(ts.URL)

	sent, err := client.SendMessage(context.Background(), SendMessageParams{Message: userMsg("ping")})
	require.NoError(t, err)

	ch, err := client.Subscribe(context.Background(), sent.ID)
	require.NoError(t, err)

	var events []StreamEvent
	for evt := range ch {
		events = append(events, evt)
	}
	require.Len(t, events, 1)
	assert.Equal(t, TaskStateCompleted, events[0].StatusUpdate.Status.State)
	assert.True(t, events[0].Final())
}

func TestClient_Subscribe_NotFound(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))
	client := NewClient(ts.URL)

	_, err := client.Subscribe(context.Background(), "nonexistent")

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
}

func TestClient_HTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	_, err := client.GetTask(context.Background(), "t1")

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Status)
}

func TestClient_Unauthorized(t *testing.T) {
	_, ts := newTestServer(t,
		WithExecuteHook(echoHook("pong")),
		WithAuth(AuthModeToken, "secret"),
	)

	_, err := NewClient(ts.URL).GetTask(context.Background(), "t1")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Status)

	// The right bearer token gets through.
	_, err = NewClient(ts.URL, WithBearer("secret")).
		SendMessage(context.Background(), SendMessageParams{Message: userMsg("ping")})
	assert.NoError(t, err)
}

func TestClient_AuthHeaders(t *testing.T) {
	var gotAuth, gotKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("X-API-Key")
		_ = json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", ID: 1, Result: json.RawMessage(`{"id":"t1"}`)})
	}))
	defer ts.Close()

	client := NewClient(ts.URL, WithBearer("tok"), WithAPIKey("key-1"))
	_, err := client.GetTask(context.Background(), "t1")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "key-1", gotKey)
}

func TestClient_WithDeadline(t *testing.T) {
	client := NewClient("http://example.com", WithTimeout(time.Second))

	ctx, cancel := client.withDeadline(context.Background())
	defer cancel()
	_, ok := ctx.Deadline()
	assert.True(t, ok, "default timeout should apply when the caller has no deadline")

	parent, parentCancel := context.WithTimeout(context.Background(), time.Hour)
	defer parentCancel()
	ctx2, cancel2 := client.withDeadline(parent)
	defer cancel2()
	deadline, ok := ctx2.Deadline()
	require.True(t, ok)
	assert.True(t, deadline.After(time.Now().Add(time.Minute)), "caller deadline should win")
}

func TestClient_TrimsBaseURL(t *testing.T) {
	client := NewClient("http://example.com/agent/")
	assert.Equal(t, "http://example.com/agent", client.baseURL)
}

func readAllSSE(t *testing.T, input string) []StreamEvent {
	t.Helper()
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		ReadSSE(context.Background(), strings.NewReader(input), ch)
	}()
	var events []StreamEvent
	for evt := range ch {
		events = append(events, evt)
	}
	return events
}

func TestReadSSE(t *testing.T) {
	input := ": ping\n\n" +
		`data: {"jsonrpc":"2.0","id":1,"result":{"type":"status_update","taskId":"t1","status":{"state":"working","timestamp":"2025-06-01T12:00:00Z"},"final":false}}` + "\n\n" +
		`data: {"type":"artifact_update","taskId":"t1","artifact":{"parts":[{"type":"text","text":"pong"}],"index":0,"lastChunk":true}}` + "\n\n"

	events := readAllSSE(t, input)

	require.Len(t, events, 2)

	require.NotNil(t, events[0].StatusUpdate, "JSON-RPC envelopes should be unwrapped")
	assert.Equal(t, "t1", events[0].StatusUpdate.TaskID)
	assert.Equal(t, TaskStateWorking, events[0].StatusUpdate.Status.State)

	require.NotNil(t, events[1].ArtifactUpdate)
	assert.Equal(t, "pong", events[1].ArtifactUpdate.Artifact.Parts[0].Text)
	assert.True(t, events[1].ArtifactUpdate.Artifact.LastChunk)
}

func TestReadSSE_SkipsMalformed(t *testing.T) {
	input := "data: not json\n\n" +
		`data: {"kind":"mystery"}` + "\n\n" +
		`data: {"type":"status_update","taskId":"t1","status":{"state":"completed","timestamp":"2025-06-01T12:00:00Z"},"final":true}` + "\n\n"

	events := readAllSSE(t, input)

	require.Len(t, events, 1)
	assert.Equal(t, TaskStateCompleted, events[0].StatusUpdate.Status.State)
}

func TestReadSSE_MultiLineData(t *testing.T) {
	input := `data: {"taskId":"t2",` + "\n" +
		`data: "status":{"state":"completed","timestamp":"2025-06-01T12:00:00Z"},"final":true}` + "\n\n"

	events := readAllSSE(t, input)

	// No type discriminator: field presence identifies the status event.
	require.Len(t, events, 1)
	require.NotNil(t, events[0].StatusUpdate)
	assert.Equal(t, "t2", events[0].StatusUpdate.TaskID)
	assert.True(t, events[0].Final())
}

func TestReadSSE_FieldPresenceFallback(t *testing.T) {
	input := `data: {"taskId":"t3","artifact":{"parts":[{"type":"text","text":"hi"}],"index":0}}` + "\n\n"

	events := readAllSSE(t, input)

	require.Len(t, events, 1)
	require.NotNil(t, events[0].ArtifactUpdate)
	assert.Equal(t, "hi", events[0].ArtifactUpdate.Artifact.Parts[0].Text)
}

func TestReadSSE_UnterminatedFinalEvent(t *testing.T) {
	input := `data: {"type":"status_update","taskId":"t4","status":{"state":"failed","timestamp":"2025-06-01T12:00:00Z"},"final":true}`

	events := readAllSSE(t, input)

	require.Len(t, events, 1)
	assert.Equal(t, TaskStateFailed, events[0].StatusUpdate.Status.State)
}

func TestReadSSE_ContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	ch := make(chan StreamEvent) // unbuffered with no receiver
	go func() {
		defer close(done)
		input := `data: {"type":"status_update","taskId":"t1","status":{"state":"working","timestamp":"2025-06-01T12:00:00Z"},"final":false}` + "\n\n"
		ReadSSE(ctx, strings.NewReader(input), ch)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("ReadSSE did not stop on context cancellation")
	}
}

func TestParseStreamEvent(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		wantOK bool
		kind   string
	}{
		{"status with type", `{"type":"status_update","taskId":"a","status":{"state":"working","timestamp":"2025-06-01T12:00:00Z"}}`, true, "status"},
		{"artifact with type", `{"type":"artifact_update","taskId":"a","artifact":{"parts":[]}}`, true, "artifact"},
		{"not json", `nope`, false, ""},
		{"json array", `[1,2,3]`, false, ""},
		{"no discriminating fields", `{"foo":"bar"}`, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evt, ok := parseStreamEvent(tt.data)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			switch tt.kind {
			case "status":
				assert.NotNil(t, evt.StatusUpdate)
			case "artifact":
				assert.NotNil(t, evt.ArtifactUpdate)
			}
		})
	}
}

func TestClient_RequestIDsIncrease(t *testing.T) {
	var ids []any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		ids = append(ids, req.ID)
		_ = json.NewEncoder(w).Encode(Response{JSONRPC: "2.0", ID: req.ID, Result: json.RawMessage(`{"id":"t"}`)})
	}))
	defer ts.Close()

	client := NewClient(ts.URL)
	for range 3 {
		_, err := client.GetTask(context.Background(), "t")
		require.NoError(t, err)
	}

	require.Len(t, ids, 3)
	for i, id := range ids {
		assert.Equal(t, fmt.Sprintf("%v", i+1), fmt.Sprintf("%v", id))
	}
}
