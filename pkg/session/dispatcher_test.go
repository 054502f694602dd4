package session

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

func notification(t *testing.T, method string, params interface{}) *protocol.Notification {
	t.Helper()
	n, err := protocol.NewNotification(method, params)
	require.NoError(t, err)
	return n
}

type orderLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *orderLog) add(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, s)
}

func (l *orderLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

func TestDispatchOrderAndIsolation(t *testing.T) {
	d := NewDispatcher(logging.Nop(), nil, 0)
	log := &orderLog{}

	d.AddHandler(HandlerFunc(func(_ context.Context, n *protocol.Notification) error {
		log.add("first:" + n.Method)
		return errors.New("boom")
	}))
	d.AddHandler(HandlerFunc(func(context.Context, *protocol.Notification) error {
		panic("handler bug")
	}))
	d.AddHandler(HandlerFunc(func(_ context.Context, n *protocol.Notification) error {
		log.add("third:" + n.Method)
		return nil
	}))
	assert.Equal(t, 3, d.Handlers())

	d.Dispatch(context.Background(), notification(t, "a", nil))
	d.Dispatch(context.Background(), notification(t, "b", nil))

	assert.Equal(t, []string{"first:a", "third:a", "first:b", "third:b"}, log.snapshot())
	assert.Equal(t, uint64(2), d.Delivered())
}

func TestRunDrainsAndStopsOnClose(t *testing.T) {
	d := NewDispatcher(logging.Nop(), nil, time.Millisecond)
	log := &orderLog{}
	d.AddHandler(HandlerFunc(func(_ context.Context, n *protocol.Notification) error {
		log.add(n.Method)
		return nil
	}))

	m := transport.NewMockTransport()
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background(), m) }()

	for _, method := range []string{"one", "two", "three"} {
		require.True(t, m.Inject(notification(t, method, nil)))
	}
	require.Eventually(t, func() bool { return len(log.snapshot()) == 3 }, time.Second, time.Millisecond)

	_ = m.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, transport.ErrChannelClosed)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after the channel closed")
	}
	assert.Equal(t, []string{"one", "two", "three"}, log.snapshot())
}

func TestRunStopsOnCancel(t *testing.T) {
	d := NewDispatcher(logging.Nop(), nil, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx, transport.NewMockTransport()) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestBuiltinHandlers(t *testing.T) {
	ctx := context.Background()

	var uri string
	require.NoError(t, ResourceUpdatedHandler(func(u string) { uri = u }).
		HandleNotification(ctx, notification(t, protocol.MethodResourceUpdated, protocol.ResourceUpdatedParams{URI: "file:///x"})))
	assert.Equal(t, "file:///x", uri)

	changed := 0
	h := ToolListChangedHandler(func() { changed++ })
	require.NoError(t, h.HandleNotification(ctx, notification(t, protocol.MethodToolsListChanged, nil)))
	require.NoError(t, h.HandleNotification(ctx, notification(t, protocol.MethodPromptsListChanged, nil)))
	assert.Equal(t, 1, changed)

	total := 10.0
	var (
		gotToken    interface{}
		gotProgress float64
		gotTotal    *float64
	)
	require.NoError(t, ProgressHandler(func(token interface{}, progress float64, tot *float64) {
		gotToken, gotProgress, gotTotal = token, progress, tot
	}).HandleNotification(ctx, notification(t, protocol.MethodProgress, protocol.ProgressParams{
		ProgressToken: "job-1", Progress: 4, Total: &total,
	})))
	assert.Equal(t, "job-1", gotToken)
	assert.Equal(t, 4.0, gotProgress)
	require.NotNil(t, gotTotal)
	assert.Equal(t, 10.0, *gotTotal)

	var msg protocol.LoggingMessageParams
	require.NoError(t, LogMessageHandler(func(p protocol.LoggingMessageParams) { msg = p }).
		HandleNotification(ctx, notification(t, protocol.MethodLogMessage, protocol.LoggingMessageParams{
			Level: protocol.LogLevelWarning, Logger: "db", Data: "slow query",
		})))
	assert.Equal(t, protocol.LogLevelWarning, msg.Level)
	assert.Equal(t, "slow query", msg.Data)

	require.NoError(t, LoggingHandler(logging.Nop()).HandleNotification(ctx, notification(t, "x", nil)))
}

func TestHandlerRejectsMalformedParams(t *testing.T) {
	n := &protocol.Notification{
		JSONRPCMessage: protocol.JSONRPCMessage{JSONRPC: protocol.JSONRPCVersion},
		Method:         protocol.MethodResourceUpdated,
		Params:         []byte(`{"uri": 42}`),
	}
	called := false
	err := ResourceUpdatedHandler(func(string) { called = true }).HandleNotification(context.Background(), n)
	assert.Error(t, err)
	assert.False(t, called)
}

func scrape(t *testing.T, m *observability.PrometheusMetrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	return rec.Body.String()
}

func TestInboundNotificationCountedOnce(t *testing.T) {
	metrics, err := observability.NewPrometheusMetrics(config.MetricsConfig{Namespace: "disp"})
	require.NoError(t, err)

	inR, inW := io.Pipe()
	tr := transport.NewStdioTransport(inR, io.Discard,
		transport.WithLogger(logging.Nop()),
		transport.WithMetrics(metrics),
	)
	t.Cleanup(func() {
		_ = tr.Close()
		_ = inW.Close()
	})

	d := NewDispatcher(logging.Nop(), metrics, 5*time.Millisecond)
	got := make(chan string, 1)
	d.AddHandler(HandlerFunc(func(_ context.Context, n *protocol.Notification) error {
		got <- n.Method
		return errors.New("boom")
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx, tr) }()

	_, err = inW.Write([]byte(`{"jsonrpc":"2.0","method":"notifications/progress","params":{"progressToken":"t","progress":1}}` + "\n"))
	require.NoError(t, err)
	select {
	case method := <-got:
		assert.Equal(t, protocol.MethodProgress, method)
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not dispatched")
	}

	require.Eventually(t, func() bool {
		return strings.Contains(scrape(t, metrics), `disp_error_total{kind="Internal"} 1`)
	}, time.Second, 5*time.Millisecond, "handler failure recorded")
	assert.Contains(t, scrape(t, metrics),
		`disp_notification_total{direction="inbound",method="notifications/progress"} 1`)
}
