package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/server"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/session"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

var routedMethods = []string{
	protocol.MethodInitialize,
	protocol.MethodPing,
	protocol.MethodListTools,
	protocol.MethodCallTool,
	protocol.MethodListResources,
	protocol.MethodListResourceTemplates,
	protocol.MethodReadResource,
	protocol.MethodSubscribeResource,
	protocol.MethodUnsubscribeResource,
	protocol.MethodListPrompts,
	protocol.MethodGetPrompt,
	protocol.MethodComplete,
	protocol.MethodSetLogLevel,
}

// routerMock answers every request with r, as a server connection would
func routerMock(r *server.Router) *transport.MockTransport {
	m := transport.NewMockTransport()
	for _, method := range routedMethods {
		m.Handle(method, func(req *protocol.Request) (*protocol.Response, error) {
			return r.HandleRequest(context.Background(), req), nil
		})
	}
	return m
}

func testConfig() config.SessionConfig {
	cfg := config.DefaultSessionConfig()
	cfg.HeartbeatInterval = 0
	cfg.ConnectionTimeout = time.Second
	cfg.RequestTimeout = time.Second
	cfg.MaxReconnectAttempts = 3
	cfg.NotificationPollInterval = 5 * time.Millisecond
	return cfg
}

func noSleep(context.Context, time.Duration) error { return nil }

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithLogger(logging.Nop()),
		WithSessionOptions(session.WithSleep(noSleep)),
	}, opts...)
	c := New(testConfig(), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

type greetInput struct {
	Name string `json:"name" jsonschema:"required"`
}

func testRouter(t *testing.T) *server.Router {
	t.Helper()
	tools := server.NewInMemoryTools()
	require.NoError(t, server.AddTool(tools, "greet", "Greets someone",
		func(_ context.Context, in greetInput) (*protocol.CallToolResult, error) {
			return &protocol.CallToolResult{Content: []protocol.Content{protocol.TextContent("hello " + in.Name)}}, nil
		}))
	for i := 0; i < 4; i++ {
		tools.Register(protocol.Tool{Name: fmt.Sprintf("noop-%d", i)}, nil)
	}

	resources := server.NewInMemoryResources()
	resources.RegisterText(protocol.Resource{URI: "mem://readme", Name: "readme"}, "read me")
	resources.RegisterTemplate(protocol.ResourceTemplate{URITemplate: "mem://{id}", Name: "by id"})

	prompts := server.NewInMemoryPrompts()
	prompts.Register(protocol.Prompt{Name: "review"}, func(_ context.Context, args map[string]string) (*protocol.GetPromptResult, error) {
		return &protocol.GetPromptResult{Description: "review " + args["file"]}, nil
	})

	return server.NewRouter(
		server.WithLogger(logging.Nop()),
		server.WithName("test-server"),
		server.WithPageSize(2),
		server.WithTools(tools),
		server.WithResources(resources),
		server.WithPrompts(prompts),
		server.WithCompletion(server.CompletionFunc(func(_ context.Context, p *protocol.CompleteParams) (*protocol.CompleteResult, error) {
			var res protocol.CompleteResult
			res.Completion.Values = []string{p.Argument.Value + "-1", p.Argument.Value + "-2"}
			return &res, nil
		})),
	)
}

func connected(t *testing.T, opts ...Option) (*Client, *server.Router) {
	t.Helper()
	r := testRouter(t)
	c := newTestClient(t, opts...)
	require.NoError(t, c.Connect(context.Background(), routerMock(r)))
	return c, r
}

func TestClientConnect(t *testing.T) {
	c, r := connected(t, WithClientInfo("tester", "1.2.3"), WithRoots(true))

	assert.Equal(t, session.Connected, c.State().Kind)
	require.NotNil(t, c.ServerInfo())
	assert.Equal(t, "test-server", c.ServerInfo().ServerInfo.Name)
	assert.NotNil(t, c.Capabilities().Tools)

	require.NotNil(t, r.ClientInfo())
	assert.Equal(t, "tester", r.ClientInfo().Name)
	require.NoError(t, c.Ping(context.Background()))
}

func TestClientNotConnected(t *testing.T) {
	c := newTestClient(t)
	assert.Equal(t, protocol.ServerCapabilities{}, c.Capabilities())

	_, err := c.ListTools(context.Background(), "")
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindNotConnected))

	err = c.Dial(context.Background())
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindInvalidState))
}

func TestClientTools(t *testing.T) {
	c, _ := connected(t)
	ctx := context.Background()

	page, err := c.ListTools(ctx, "")
	require.NoError(t, err)
	assert.Len(t, page.Tools, 2)
	assert.NotEmpty(t, page.NextCursor)

	res, err := c.CallTool(ctx, "greet", greetInput{Name: "ada"})
	require.NoError(t, err)
	require.Len(t, res.Content, 1)
	assert.Equal(t, "hello ada", res.Content[0].Text)

	_, err = c.CallTool(ctx, "missing", nil)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindToolNotFound))

	_, err = c.CallTool(ctx, "greet", map[string]int{"age": 3})
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindInvalidParams))

	_, err = c.CallTool(ctx, "greet", func() {})
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindSerialization))
}

func TestClientListAll(t *testing.T) {
	c, _ := connected(t)

	tools, err := c.ListAllTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 5)
	assert.Equal(t, "greet", tools[0].Name)

	limited, _ := connected(t, WithMaxPages(2))
	tools, err = limited.ListAllTools(context.Background())
	require.NoError(t, err)
	assert.Len(t, tools, 4)
}

func TestClientResources(t *testing.T) {
	c, r := connected(t)
	ctx := context.Background()

	resources, err := c.ListAllResources(ctx)
	require.NoError(t, err)
	require.Len(t, resources, 1)
	assert.Equal(t, "mem://readme", resources[0].URI)

	templates, err := c.ListAllResourceTemplates(ctx)
	require.NoError(t, err)
	require.Len(t, templates, 1)

	content, err := c.ReadResource(ctx, "mem://readme")
	require.NoError(t, err)
	assert.Equal(t, "read me", content.Contents[0].Text)

	_, err = c.ReadResource(ctx, "mem://nope")
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindResourceNotFound))

	require.NoError(t, c.Subscribe(ctx, "mem://readme"))
	assert.True(t, r.Subscriptions().IsSubscribed("mem://readme"))
	require.NoError(t, c.Unsubscribe(ctx, "mem://readme"))
	assert.False(t, r.Subscriptions().IsSubscribed("mem://readme"))
}

func TestClientPromptsAndCompletion(t *testing.T) {
	c, _ := connected(t)
	ctx := context.Background()

	prompts, err := c.ListAllPrompts(ctx)
	require.NoError(t, err)
	require.Len(t, prompts, 1)

	res, err := c.GetPrompt(ctx, "review", map[string]string{"file": "main.go"})
	require.NoError(t, err)
	assert.Equal(t, "review main.go", res.Description)

	_, err = c.GetPrompt(ctx, "absent", nil)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindPromptNotFound))

	params := &protocol.CompleteParams{}
	params.Ref.Type = "ref/prompt"
	params.Ref.Name = "review"
	params.Argument.Name = "file"
	params.Argument.Value = "ma"
	done, err := c.Complete(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, []string{"ma-1", "ma-2"}, done.Completion.Values)
}

func TestClientSetLogLevel(t *testing.T) {
	c, r := connected(t)

	require.NoError(t, c.SetLogLevel(context.Background(), protocol.LogLevelWarning))
	assert.Equal(t, protocol.LogLevelWarning, r.LogLevel())

	err := c.SetLogLevel(context.Background(), protocol.LogLevel("loud"))
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindInvalidParams))
}

func TestClientNotifyRootsListChanged(t *testing.T) {
	c := newTestClient(t, WithRoots(true))
	m := routerMock(testRouter(t))
	require.NoError(t, c.Connect(context.Background(), m))

	require.NoError(t, c.NotifyRootsListChanged(context.Background()))
	var methods []string
	for _, n := range m.Notifications() {
		methods = append(methods, n.Method)
	}
	assert.Contains(t, methods, protocol.MethodRootsListChanged)
}

func TestCallToolWithProgress(t *testing.T) {
	m := transport.NewMockTransport()
	got := make(chan protocol.ProgressParams, 1)
	var once sync.Once

	tools := server.NewInMemoryTools()
	tools.Register(protocol.Tool{Name: "slow"}, func(ctx context.Context, _ json.RawMessage) (*protocol.CallToolResult, error) {
		token, ok := server.ProgressToken(ctx)
		if !ok {
			return nil, mcperrors.InvalidParams("no progress token")
		}
		total := 2.0
		n, err := protocol.NewNotification(protocol.MethodProgress, protocol.ProgressParams{
			ProgressToken: token, Progress: 1, Total: &total, Message: "halfway",
		})
		if err != nil {
			return nil, err
		}
		m.Inject(n)
		// hold the response until the client saw the progress
		select {
		case p := <-got:
			got <- p
		case <-time.After(2 * time.Second):
		}
		return &protocol.CallToolResult{}, nil
	})

	r := server.NewRouter(server.WithLogger(logging.Nop()), server.WithTools(tools))
	for _, method := range routedMethods {
		m.Handle(method, func(req *protocol.Request) (*protocol.Response, error) {
			return r.HandleRequest(context.Background(), req), nil
		})
	}

	c := newTestClient(t)
	require.NoError(t, c.Connect(context.Background(), m))

	_, err := c.CallToolWithProgress(context.Background(), "slow", nil, func(p protocol.ProgressParams) {
		once.Do(func() { got <- p })
	})
	require.NoError(t, err)

	select {
	case p := <-got:
		assert.Equal(t, 1.0, p.Progress)
		require.NotNil(t, p.Total)
		assert.Equal(t, 2.0, *p.Total)
		assert.Equal(t, "halfway", p.Message)
	default:
		t.Fatal("progress callback never ran")
	}

	c.progressMu.Lock()
	assert.Empty(t, c.progress, "token is released after the call")
	c.progressMu.Unlock()
}

type countingFactory struct {
	router *server.Router
	calls  atomic.Int32
	fail   bool

	mu    sync.Mutex
	conns []*transport.MockTransport
}

func (f *countingFactory) dial(context.Context) (transport.Transport, error) {
	f.calls.Add(1)
	if f.fail {
		return nil, mcperrors.TransportIO("test", "dial", fmt.Errorf("refused"))
	}
	m := routerMock(f.router)
	f.mu.Lock()
	f.conns = append(f.conns, m)
	f.mu.Unlock()
	return m, nil
}

func (f *countingFactory) last() *transport.MockTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := c.Session().WaitForState(ctx, func(st session.State) bool { return st.Is(session.Connected) })
	require.NoError(t, err)
}

func TestSuperviseReconnects(t *testing.T) {
	f := &countingFactory{router: testRouter(t)}
	c := newTestClient(t, WithTransportFactory(f.dial))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Supervise(ctx) }()

	// the first dial happens as soon as supervision starts
	waitConnected(t, c)
	assert.Equal(t, int32(1), f.calls.Load())

	_ = f.last().Close()
	require.Eventually(t, func() bool { return f.calls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	waitConnected(t, c)
	require.NoError(t, c.Ping(context.Background()))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Supervise did not return after cancel")
	}
}

func TestSuperviseStopsAfterClose(t *testing.T) {
	f := &countingFactory{router: testRouter(t)}
	c := newTestClient(t, WithTransportFactory(f.dial))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Supervise(ctx) }()
	waitConnected(t, c)

	require.NoError(t, c.Close(context.Background()))
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, session.Disconnected, c.State().Kind)
}

func TestSuperviseGivesUp(t *testing.T) {
	f := &countingFactory{router: testRouter(t), fail: true}
	c := newTestClient(t, WithTransportFactory(f.dial))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := c.Supervise(ctx)
	require.Error(t, err)
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindReconnectExhausted))
	assert.Equal(t, int32(3), f.calls.Load())
	assert.Equal(t, session.Failed, c.State().Kind)
}

func TestSuperviseRequiresFactory(t *testing.T) {
	c := newTestClient(t)
	err := c.Supervise(context.Background())
	assert.True(t, mcperrors.IsKind(err, mcperrors.KindInvalidState))
}
