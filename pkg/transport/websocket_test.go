package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/utils"
)

// slowEchoHandler delays "slow" requests so replies can overtake each other
type slowEchoHandler struct{}

func (slowEchoHandler) HandleRequest(_ context.Context, req *protocol.Request) *protocol.Response {
	if req.Method == "slow" {
		time.Sleep(150 * time.Millisecond)
	}
	resp, _ := protocol.NewResponse(req.ID, req.Method)
	return resp
}

func startWebSocketServer(t *testing.T) *WebSocketServer {
	t.Helper()
	cfg := config.DefaultTransportConfig(config.TransportWebSocket)
	cfg.ListenAddr = "127.0.0.1:0"

	srv := NewWebSocketServer(cfg, WithLogger(logging.Nop()))
	srv.SetRequestHandler(slowEchoHandler{})
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	return srv
}

func dial(t *testing.T, srv *WebSocketServer) *WebSocketTransport {
	t.Helper()
	c, err := DialWebSocket(context.Background(), "ws://"+srv.Addr(), WithLogger(logging.Nop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWebSocketRepliesArriveOutOfOrder(t *testing.T) {
	srv := startWebSocketServer(t)
	client := dial(t, srv)

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		order []string
		got   = map[string]string{}
	)
	send := func(id int, method string) {
		defer wg.Done()
		req, err := protocol.NewRequest(id, method, nil)
		if !assert.NoError(t, err) {
			return
		}
		resp, err := client.SendRequest(context.Background(), req)
		if !assert.NoError(t, err) {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		order = append(order, protocol.IDKey(resp.ID))
		got[protocol.IDKey(resp.ID)] = string(resp.Result)
	}

	wg.Add(2)
	go send(1, "slow")
	time.Sleep(20 * time.Millisecond)
	go send(2, "fast")
	wg.Wait()

	assert.Equal(t, []string{"2", "1"}, order)
	assert.JSONEq(t, `"slow"`, got["1"])
	assert.JSONEq(t, `"fast"`, got["2"])
}

func TestWebSocketBroadcastReachesEveryPeer(t *testing.T) {
	srv := startWebSocketServer(t)
	clients := []*WebSocketTransport{dial(t, srv), dial(t, srv), dial(t, srv)}
	require.Eventually(t, func() bool { return srv.PeerCount() == 3 }, time.Second, 10*time.Millisecond)

	report, err := srv.Broadcast(context.Background(), note(t, protocol.MethodResourcesListChanged))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Delivered)
	assert.Empty(t, report.Removed)

	for _, c := range clients {
		select {
		case <-c.Ready():
		case <-time.After(time.Second):
			t.Fatal("broadcast not received")
		}
		n, err := c.ReceiveNotification()
		require.NoError(t, err)
		require.NotNil(t, n)
		assert.Equal(t, protocol.MethodResourcesListChanged, n.Method)
	}
}

func TestWebSocketPeerRemovedOnDisconnect(t *testing.T) {
	srv := startWebSocketServer(t)
	a := dial(t, srv)
	dial(t, srv)
	require.Eventually(t, func() bool { return srv.PeerCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return srv.PeerCount() == 1 }, time.Second, 10*time.Millisecond)

	_, err := a.SendRequest(context.Background(), &protocol.Request{ID: 1, Method: "x"})
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindNotConnected))
}

func TestWebSocketServerStopClosesClients(t *testing.T) {
	utils.VerifyNoLeaks(t)
	srv := startWebSocketServer(t)
	c := dial(t, srv)
	require.Eventually(t, func() bool { return srv.PeerCount() == 1 }, time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))

	assert.False(t, srv.IsRunning())
	assert.Equal(t, 0, srv.PeerCount())
	assert.Eventually(t, func() bool { return !c.IsConnected() }, time.Second, 10*time.Millisecond)

	_, err := srv.Broadcast(context.Background(), note(t, "x"))
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindNotConnected))
	assert.NoError(t, srv.Stop(ctx), "second stop is a no-op")
}

func TestWebSocketDialFailure(t *testing.T) {
	_, err := DialWebSocket(context.Background(), "ws://127.0.0.1:1", WithLogger(logging.Nop()))
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindTransportIO), "got %v", err)
}
