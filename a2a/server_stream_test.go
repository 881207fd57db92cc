package a2a

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openStream posts a message/stream request and returns the raw response.
func openStream(t *testing.T, ts *httptest.Server, id any, params SendMessageParams, headers map[string]string) *http.Response {
	t.Helper()
	paramsJSON, err := json.Marshal(params)
	require.NoError(t, err)
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: id, Method: MethodStreamMessage, Params: paramsJSON})
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/a2a/messages:stream", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// streamEventChan pumps SSE events from resp into a channel that closes
// when the stream ends.
func streamEventChan(resp *http.Response) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		ReadSSE(context.Background(), resp.Body, ch)
	}()
	return ch
}

// collectStream drains a message/stream request to completion.
func collectStream(t *testing.T, ts *httptest.Server, params SendMessageParams) []StreamEvent {
	t.Helper()
	resp := openStream(t, ts, 1, params, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []StreamEvent
	for evt := range streamEventChan(resp) {
		events = append(events, evt)
	}
	return events
}

func TestServer_StreamMessage(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))

	events := collectStream(t, ts, SendMessageParams{Message: userMsg("ping")})

	require.Len(t, events, 3)

	require.NotNil(t, events[0].StatusUpdate)
	assert.Equal(t, TaskStateWorking, events[0].StatusUpdate.Status.State)
	assert.False(t, events[0].Final())

	require.NotNil(t, events[1].ArtifactUpdate)
	require.Len(t, events[1].ArtifactUpdate.Artifact.Parts, 1)
	assert.Equal(t, "pong", events[1].ArtifactUpdate.Artifact.Parts[0].Text)
	assert.True(t, events[1].ArtifactUpdate.Artifact.LastChunk)

	require.NotNil(t, events[2].StatusUpdate)
	assert.Equal(t, TaskStateCompleted, events[2].StatusUpdate.Status.State)
	assert.True(t, events[2].Final())

	taskID := events[0].TaskID()
	assert.NotEmpty(t, taskID)
	for _, evt := range events {
		assert.Equal(t, taskID, evt.TaskID())
	}
}

func TestServer_StreamMessage_EnvelopeReusesRequestID(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))

	resp := openStream(t, ts, 7, SendMessageParams{Message: userMsg("ping")}, nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var frames int
	for line := range strings.Lines(string(raw)) {
		line = strings.TrimSuffix(line, "\n")
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		frames++
		var envelope Response
		require.NoError(t, json.Unmarshal([]byte(line[len("data: "):]), &envelope))
		assert.Equal(t, "2.0", envelope.JSONRPC)
		assert.EqualValues(t, 7, envelope.ID)
		assert.NotEmpty(t, envelope.Result)
		assert.Nil(t, envelope.Error)
	}
	assert.Equal(t, 3, frames)
}

func TestServer_StreamMessage_HookError(t *testing.T) {
	hook := func(context.Context, *Task, Message) (string, []Part, error) {
		return "", nil, assert.AnError
	}
	_, ts := newTestServer(t, WithExecuteHook(hook))

	events := collectStream(t, ts, SendMessageParams{Message: userMsg("ping")})

	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.NotNil(t, last.StatusUpdate)
	assert.Equal(t, TaskStateFailed, last.StatusUpdate.Status.State)
	assert.True(t, last.Final())
	require.NotNil(t, last.StatusUpdate.Status.Message)
	assert.Contains(t, last.StatusUpdate.Status.Message.Parts[0].Text, "Error: ")
}

func TestServer_StreamMessage_CancelMidFlight(t *testing.T) {
	hook := func(ctx context.Context, _ *Task, _ Message) (string, []Part, error) {
		<-ctx.Done()
		return "", nil, ctx.Err()
	}
	_, ts := newTestServer(t, WithExecuteHook(hook))

	resp := openStream(t, ts, 1, SendMessageParams{Message: userMsg("work")}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ch := streamEventChan(resp)

	first := <-ch
	require.NotNil(t, first.StatusUpdate)
	require.Equal(t, TaskStateWorking, first.StatusUpdate.Status.State)

	cancelResp := rpcRequest(t, ts, MethodCancelTask, TaskCancelParams{ID: first.TaskID()})
	canceled := taskResult(t, cancelResp)
	assert.Equal(t, TaskStateCanceled, canceled.Status.State)

	select {
	case evt, ok := <-ch:
		require.True(t, ok, "stream closed without a canceled event")
		require.NotNil(t, evt.StatusUpdate)
		assert.Equal(t, TaskStateCanceled, evt.StatusUpdate.Status.State)
		assert.True(t, evt.Final())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for canceled event")
	}

	// The stream terminates after the final event.
	_, ok := <-ch
	assert.False(t, ok)
}

func TestServer_StreamMessage_MethodRejected(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))

	paramsJSON, err := json.Marshal(TaskQueryParams{ID: "x"})
	require.NoError(t, err)
	body, err := json.Marshal(Request{JSONRPC: "2.0", ID: 1, Method: MethodGetTask, Params: paramsJSON})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/a2a/messages:stream", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")
	var rpcResp Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, CodeMethodNotFound, rpcResp.Error.Code)
}

func TestServer_StreamMessage_Unauthorized(t *testing.T) {
	_, ts := newTestServer(t,
		WithExecuteHook(echoHook("pong")),
		WithAuth(AuthModeToken, "secret"),
	)

	resp := openStream(t, ts, 1, SendMessageParams{Message: userMsg("ping")}, nil)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_StreamMessage_InvalidMessage(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))

	resp := openStream(t, ts, 1, SendMessageParams{Message: Message{Role: RoleUser}}, nil)
	defer resp.Body.Close()

	var rpcResp Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rpcResp))
	require.NotNil(t, rpcResp.Error)
	assert.Equal(t, CodeInvalidParams, rpcResp.Error.Code)
}

func TestServer_TaskSubscribe_CompletedTask(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))

	sent := taskResult(t, rpcRequest(t, ts, MethodSendMessage, SendMessageParams{Message: userMsg("ping")}))

	resp, err := http.Get(ts.URL + "/a2a/tasks/subscribe?taskId=" + sent.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	var events []StreamEvent
	for evt := range streamEventChan(resp) {
		events = append(events, evt)
	}

	// A terminal task yields its current status and the stream closes.
	require.Len(t, events, 1)
	require.NotNil(t, events[0].StatusUpdate)
	assert.Equal(t, TaskStateCompleted, events[0].StatusUpdate.Status.State)
	assert.True(t, events[0].Final())
}

func TestServer_TaskSubscribe_Live(t *testing.T) {
	proceed := make(chan struct{})
	hook := func(ctx context.Context, _ *Task, _ Message) (string, []Part, error) {
		select {
		case <-proceed:
			return "done", nil, nil
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}
	_, ts := newTestServer(t, WithExecuteHook(hook))

	streamResp := openStream(t, ts, 1, SendMessageParams{Message: userMsg("work")}, nil)
	require.Equal(t, http.StatusOK, streamResp.StatusCode)
	streamCh := streamEventChan(streamResp)

	first := <-streamCh
	require.Equal(t, TaskStateWorking, first.StatusUpdate.Status.State)
	taskID := first.TaskID()

	subResp, err := http.Get(ts.URL + "/a2a/tasks/subscribe?taskId=" + taskID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, subResp.StatusCode)
	subCh := streamEventChan(subResp)

	// The subscriber sees the current status before any new events.
	current := <-subCh
	require.NotNil(t, current.StatusUpdate)
	assert.Equal(t, TaskStateWorking, current.StatusUpdate.Status.State)
	assert.False(t, current.Final())

	close(proceed)

	var subEvents []StreamEvent
	for evt := range subCh {
		subEvents = append(subEvents, evt)
	}
	require.Len(t, subEvents, 2)
	require.NotNil(t, subEvents[0].ArtifactUpdate)
	assert.Equal(t, "done", subEvents[0].ArtifactUpdate.Artifact.Parts[0].Text)
	require.NotNil(t, subEvents[1].StatusUpdate)
	assert.Equal(t, TaskStateCompleted, subEvents[1].StatusUpdate.Status.State)

	// The originating stream saw the same tail.
	var streamEvents []StreamEvent
	for evt := range streamCh {
		streamEvents = append(streamEvents, evt)
	}
	require.Len(t, streamEvents, 2)
	assert.NotNil(t, streamEvents[0].ArtifactUpdate)
	assert.Equal(t, TaskStateCompleted, streamEvents[1].StatusUpdate.Status.State)
}

func TestServer_TaskSubscribe_NotFound(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))

	resp, err := http.Get(ts.URL + "/a2a/tasks/subscribe?taskId=nonexistent")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServer_TaskSubscribe_MissingParam(t *testing.T) {
	_, ts := newTestServer(t, WithExecuteHook(echoHook("pong")))

	resp, err := http.Get(ts.URL + "/a2a/tasks/subscribe")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_TaskSubscribe_Unauthorized(t *testing.T) {
	_, ts := newTestServer(t,
		WithExecuteHook(echoHook("pong")),
		WithAuth(AuthModeToken, "secret"),
	)

	resp, err := http.Get(ts.URL + "/a2a/tasks/subscribe?taskId=x")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEnqueueDropOldest(t *testing.T) {
	queue := make(chan StreamEvent, 2)

	evt := func(id string) StreamEvent {
		return StreamEvent{StatusUpdate: &TaskStatusUpdateEvent{TaskID: id}}
	}

	enqueueDropOldest(queue, evt("1"), "t")
	enqueueDropOldest(queue, evt("2"), "t")
	enqueueDropOldest(queue, evt("3"), "t")

	// The oldest event is discarded, never the newest.
	assert.Equal(t, "2", (<-queue).TaskID())
	assert.Equal(t, "3", (<-queue).TaskID())
}
