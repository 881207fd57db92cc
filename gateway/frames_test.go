package gateway

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_Request(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"id":"r1","method":"connect","params":{"client":"ui","attempt":2}}`))
	require.NoError(t, err)

	req, ok := frame.(*Request)
	require.True(t, ok)
	assert.Equal(t, "r1", req.ID)
	assert.Equal(t, "connect", req.Method)
	assert.Equal(t, "ui", req.Params["client"])
	assert.Equal(t, float64(2), req.Params["attempt"])
}

func TestDecodeFrame_Response(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"id":"r1","ok":true,"payload":{"server":"agentmesh"}}`))
	require.NoError(t, err)

	resp, ok := frame.(*Response)
	require.True(t, ok)
	assert.Equal(t, "r1", resp.ID)
	assert.True(t, resp.OK)
	assert.JSONEq(t, `{"server":"agentmesh"}`, string(resp.Payload))
	assert.Nil(t, resp.Error)
}

func TestDecodeFrame_ErrorResponse(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"id":"r2","ok":false,"error":{"code":"not_found","message":"no such session"}}`))
	require.NoError(t, err)

	resp, ok := frame.(*Response)
	require.True(t, ok)
	assert.False(t, resp.OK)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "not_found", resp.Error.Code)
	assert.Equal(t, "no such session", resp.Error.Message)
}

func TestDecodeFrame_Event(t *testing.T) {
	frame, err := DecodeFrame([]byte(`{"name":"agent","payload":{"runId":"run-1","seq":0,"stream":"text","data":"hi"}}`))
	require.NoError(t, err)

	ev, ok := frame.(*Event)
	require.True(t, ok)
	assert.Equal(t, "agent", ev.Name)
	assert.Contains(t, string(ev.Payload), `"runId":"run-1"`)
}

func TestDecodeFrame_Unknown(t *testing.T) {
	_, err := DecodeFrame([]byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownFrame)

	_, err = DecodeFrame([]byte(`{"payload":{"x":1}}`))
	assert.ErrorIs(t, err, ErrUnknownFrame)
}

func TestDecodeFrame_Malformed(t *testing.T) {
	_, err := DecodeFrame([]byte(`{nope`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed frame")
}

func TestRequestRoundTrip(t *testing.T) {
	data, err := json.Marshal(&Request{ID: "r1", Method: "sessions_list", Params: map[string]any{"limit": 10}})
	require.NoError(t, err)

	frame, err := DecodeFrame(data)
	require.NoError(t, err)

	req, ok := frame.(*Request)
	require.True(t, ok)
	assert.Equal(t, "sessions_list", req.Method)
	assert.Equal(t, float64(10), req.Params["limit"])
}

func TestNewEvent(t *testing.T) {
	ev, err := NewEvent(EventChat, map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, EventChat, ev.Name)
	assert.JSONEq(t, `{"text":"hello"}`, string(ev.Payload))

	_, err = NewEvent(EventChat, make(chan int))
	assert.Error(t, err)
}
