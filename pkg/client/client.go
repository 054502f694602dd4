package client

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/session"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

type options struct {
	logger       logging.Logger
	factory      session.TransportFactory
	maxPages     int
	sessionOpts  []session.Option
	capabilities protocol.ClientCapabilities
}

// Option configures a Client
type Option func(*options)

// WithLogger sets the logger for the client and its session
func WithLogger(l logging.Logger) Option {
	return func(o *options) {
		o.logger = l
		o.sessionOpts = append(o.sessionOpts, session.WithLogger(l))
	}
}

func WithMetrics(m observability.MetricsProvider) Option {
	return func(o *options) { o.sessionOpts = append(o.sessionOpts, session.WithMetrics(m)) }
}

// WithClientInfo sets the implementation announced in initialize
func WithClientInfo(name, version string) Option {
	return func(o *options) { o.sessionOpts = append(o.sessionOpts, session.WithClientInfo(name, version)) }
}

// WithRoots announces the roots capability
func WithRoots(listChanged bool) Option {
	return func(o *options) { o.capabilities.Roots = &protocol.ListChangedCapability{ListChanged: listChanged} }
}

// WithHandler registers a notification handler before the first connect
func WithHandler(h session.Handler) Option {
	return func(o *options) { o.sessionOpts = append(o.sessionOpts, session.WithHandler(h)) }
}

// WithTransportFactory sets how Dial and Supervise obtain transports
func WithTransportFactory(f session.TransportFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithMaxPages bounds the ListAll* helpers; zero fetches every page
func WithMaxPages(n int) Option {
	return func(o *options) { o.maxPages = n }
}

// WithSessionOptions passes options straight to the underlying session
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) { o.sessionOpts = append(o.sessionOpts, opts...) }
}

// Client is a typed MCP client over a session.Session. Methods fail with
// NotConnected unless the session is Connected.
type Client struct {
	session  *session.Session
	logger   logging.Logger
	factory  session.TransportFactory
	maxPages int
	closed   atomic.Bool

	progressMu sync.Mutex
	progress   map[string]func(protocol.ProgressParams)
}

func New(cfg config.SessionConfig, opts ...Option) *Client {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}

	c := &Client{
		logger:   o.logger.WithFields(logging.String("component", "client")),
		factory:  o.factory,
		maxPages: o.maxPages,
		progress: make(map[string]func(protocol.ProgressParams)),
	}
	sessionOpts := append([]session.Option{session.WithCapabilities(o.capabilities)}, o.sessionOpts...)
	sessionOpts = append(sessionOpts, session.WithHandler(session.HandlerFunc(c.routeProgress)))
	c.session = session.New(cfg, sessionOpts...)
	return c
}

func (c *Client) Session() *session.Session { return c.session }

func (c *Client) State() session.State { return c.session.State() }

// Connect performs the initialize handshake over t
func (c *Client) Connect(ctx context.Context, t transport.Transport) error {
	c.closed.Store(false)
	return c.session.Connect(ctx, t)
}

// Dial connects a transport built by the configured factory
func (c *Client) Dial(ctx context.Context) error {
	if c.factory == nil {
		return mcperrors.InvalidState("dial", "no transport factory")
	}
	t, err := c.factory(ctx)
	if err != nil {
		return err
	}
	return c.Connect(ctx, t)
}

// Close disconnects and stops Supervise from reconnecting
func (c *Client) Close(ctx context.Context) error {
	c.closed.Store(true)
	return c.session.Disconnect(ctx)
}

// ServerInfo is the initialize result of the current connection
func (c *Client) ServerInfo() *protocol.InitializeResult {
	return c.session.ServerInfo()
}

// Capabilities returns what the server announced, or the zero value before connecting
func (c *Client) Capabilities() protocol.ServerCapabilities {
	if info := c.session.ServerInfo(); info != nil {
		return info.Capabilities
	}
	return protocol.ServerCapabilities{}
}

func (c *Client) Ping(ctx context.Context) error {
	return c.session.Request(ctx, protocol.MethodPing, nil, nil)
}

func (c *Client) ListTools(ctx context.Context, cursor string) (*protocol.ListToolsResult, error) {
	var result protocol.ListToolsResult
	if err := c.session.Request(ctx, protocol.MethodListTools, protocol.PaginatedParams{Cursor: cursor}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// CallTool invokes a tool. args is encoded as the arguments object and may be nil.
func (c *Client) CallTool(ctx context.Context, name string, args interface{}) (*protocol.CallToolResult, error) {
	return c.callTool(ctx, name, args, nil)
}

// CallToolWithProgress is CallTool with a progress token; fn runs for every
// notifications/progress the server sends for this call.
func (c *Client) CallToolWithProgress(ctx context.Context, name string, args interface{}, fn func(protocol.ProgressParams)) (*protocol.CallToolResult, error) {
	token := uuid.NewString()
	key := protocol.IDKey(token)

	c.progressMu.Lock()
	c.progress[key] = fn
	c.progressMu.Unlock()
	defer func() {
		c.progressMu.Lock()
		delete(c.progress, key)
		c.progressMu.Unlock()
	}()

	return c.callTool(ctx, name, args, &protocol.RequestMeta{ProgressToken: token})
}

func (c *Client) callTool(ctx context.Context, name string, args interface{}, meta *protocol.RequestMeta) (*protocol.CallToolResult, error) {
	params := protocol.CallToolParams{Name: name, Meta: meta}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, mcperrors.Serialization(err)
		}
		params.Arguments = raw
	}

	var result protocol.CallToolResult
	if err := c.session.Request(ctx, protocol.MethodCallTool, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// routeProgress hands notifications/progress to the call that owns the token
func (c *Client) routeProgress(_ context.Context, n *protocol.Notification) error {
	if n.Method != protocol.MethodProgress {
		return nil
	}
	var params protocol.ProgressParams
	if err := n.DecodeParams(&params); err != nil {
		return err
	}
	c.progressMu.Lock()
	fn := c.progress[protocol.IDKey(params.ProgressToken)]
	c.progressMu.Unlock()
	if fn != nil {
		fn(params)
	}
	return nil
}

func (c *Client) ListResources(ctx context.Context, cursor string) (*protocol.ListResourcesResult, error) {
	var result protocol.ListResourcesResult
	if err := c.session.Request(ctx, protocol.MethodListResources, protocol.PaginatedParams{Cursor: cursor}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ListResourceTemplates(ctx context.Context, cursor string) (*protocol.ListResourceTemplatesResult, error) {
	var result protocol.ListResourceTemplatesResult
	if err := c.session.Request(ctx, protocol.MethodListResourceTemplates, protocol.PaginatedParams{Cursor: cursor}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) ReadResource(ctx context.Context, uri string) (*protocol.ReadResourceResult, error) {
	var result protocol.ReadResourceResult
	if err := c.session.Request(ctx, protocol.MethodReadResource, protocol.ReadResourceParams{URI: uri}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Subscribe asks for notifications/resources/updated about uri
func (c *Client) Subscribe(ctx context.Context, uri string) error {
	return c.session.Request(ctx, protocol.MethodSubscribeResource, protocol.SubscribeParams{URI: uri}, nil)
}

func (c *Client) Unsubscribe(ctx context.Context, uri string) error {
	return c.session.Request(ctx, protocol.MethodUnsubscribeResource, protocol.SubscribeParams{URI: uri}, nil)
}

func (c *Client) ListPrompts(ctx context.Context, cursor string) (*protocol.ListPromptsResult, error) {
	var result protocol.ListPromptsResult
	if err := c.session.Request(ctx, protocol.MethodListPrompts, protocol.PaginatedParams{Cursor: cursor}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetPrompt(ctx context.Context, name string, args map[string]string) (*protocol.GetPromptResult, error) {
	var result protocol.GetPromptResult
	if err := c.session.Request(ctx, protocol.MethodGetPrompt, protocol.GetPromptParams{Name: name, Arguments: args}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) Complete(ctx context.Context, params *protocol.CompleteParams) (*protocol.CompleteResult, error) {
	var result protocol.CompleteResult
	if err := c.session.Request(ctx, protocol.MethodComplete, params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetLogLevel sets the minimum level of notifications/message the server sends
func (c *Client) SetLogLevel(ctx context.Context, level protocol.LogLevel) error {
	if !level.Valid() {
		return mcperrors.InvalidParams("unknown log level %q", level)
	}
	return c.session.Request(ctx, protocol.MethodSetLogLevel, protocol.SetLevelParams{Level: level}, nil)
}

// NotifyRootsListChanged tells the server the client's roots changed
func (c *Client) NotifyRootsListChanged(ctx context.Context) error {
	return c.session.Notify(ctx, protocol.MethodRootsListChanged, nil)
}
