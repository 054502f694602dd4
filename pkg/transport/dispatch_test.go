package transport

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// echoHandler answers "echo" with its params and panics on "boom"
type echoHandler struct {
	notes []string
}

func (h *echoHandler) HandleRequest(_ context.Context, req *protocol.Request) *protocol.Response {
	switch req.Method {
	case "echo":
		resp, _ := protocol.NewResponse(req.ID, req.Params)
		return resp
	case "boom":
		panic("handler exploded")
	case "nil":
		return nil
	}
	return protocol.NewErrorResponse(req.ID, protocol.MethodNotFound, "method not found", nil)
}

func (h *echoHandler) HandleNotification(_ context.Context, n *protocol.Notification) error {
	h.notes = append(h.notes, n.Method)
	return nil
}

func decodeReply(t *testing.T, data []byte) *protocol.Response {
	t.Helper()
	require.NotNil(t, data)
	var resp protocol.Response
	require.NoError(t, json.Unmarshal(data, &resp))
	return &resp
}

func TestServeFrame(t *testing.T) {
	h := &echoHandler{}
	ctx := context.Background()
	logger := logging.Nop()

	tests := []struct {
		name     string
		frame    string
		wantID   interface{}
		wantCode protocol.ErrorCode
		wantNil  bool
	}{
		{name: "echo", frame: `{"jsonrpc":"2.0","id":1,"method":"echo","params":{"a":1}}`, wantID: float64(1)},
		{name: "unknown method keeps id", frame: `{"jsonrpc":"2.0","id":"x-7","method":"nope"}`, wantID: "x-7", wantCode: protocol.MethodNotFound},
		{name: "panic becomes internal", frame: `{"jsonrpc":"2.0","id":2,"method":"boom"}`, wantID: float64(2), wantCode: protocol.InternalError},
		{name: "nil response becomes internal", frame: `{"jsonrpc":"2.0","id":3,"method":"nil"}`, wantID: float64(3), wantCode: protocol.InternalError},
		{name: "parse error has null id", frame: `{"jsonrpc":`, wantID: nil, wantCode: protocol.ParseError},
		{name: "bad version with id", frame: `{"jsonrpc":"1.0","id":4,"method":"echo"}`, wantID: float64(4), wantCode: protocol.InvalidRequest},
		{name: "notification has no reply", frame: `{"jsonrpc":"2.0","method":"notifications/initialized"}`, wantNil: true},
		{name: "stray response is dropped", frame: `{"jsonrpc":"2.0","id":5,"result":{}}`, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := serveFrame(ctx, h, logger, []byte(tt.frame))
			if tt.wantNil {
				assert.Nil(t, reply)
				return
			}
			resp := decodeReply(t, reply)
			assert.Equal(t, tt.wantID, resp.ID)
			if tt.wantCode == 0 {
				assert.Nil(t, resp.Error)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
	assert.Equal(t, []string{"notifications/initialized"}, h.notes)
}

func TestServeFrameBatch(t *testing.T) {
	h := &echoHandler{}
	frame := `[
		{"jsonrpc":"2.0","id":1,"method":"echo","params":"a"},
		{"jsonrpc":"2.0","method":"notifications/cancelled"},
		{"jsonrpc":"2.0","id":2,"method":"nope"}
	]`

	reply := serveFrame(context.Background(), h, logging.Nop(), []byte(frame))
	require.NotNil(t, reply)

	var out []protocol.Response
	require.NoError(t, json.Unmarshal(reply, &out))
	require.Len(t, out, 2)
	assert.Equal(t, float64(1), out[0].ID)
	assert.Nil(t, out[0].Error)
	assert.Equal(t, float64(2), out[1].ID)
	assert.Equal(t, protocol.MethodNotFound, out[1].Error.Code)

	assert.Nil(t, serveFrame(context.Background(), h, logging.Nop(),
		[]byte(`[{"jsonrpc":"2.0","method":"notifications/cancelled"}]`)))
}

func TestServeFrameWithoutHandler(t *testing.T) {
	reply := serveFrame(context.Background(), nil, logging.Nop(), []byte(`{"jsonrpc":"2.0","id":9,"method":"ping"}`))
	resp := decodeReply(t, reply)
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.MethodNotFound, resp.Error.Code)
}
