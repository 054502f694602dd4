package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// Transport is the client side of a connection to a single server.
type Transport interface {
	// SendRequest sends req and waits for the response carrying the same id.
	SendRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error)

	// SendNotification is fire-and-forget; failures are reported, never retried.
	SendNotification(ctx context.Context, n *protocol.Notification) error

	// ReceiveNotification polls the inbound notification queue without blocking.
	// It returns (nil, nil) when nothing is queued and ErrChannelClosed once the
	// connection is gone and the queue is drained.
	ReceiveNotification() (*protocol.Notification, error)

	// Close is idempotent. Afterwards every operation fails with NotConnected.
	Close() error

	IsConnected() bool
	Info() string
}

// Notifier is implemented by transports that can signal queued notifications,
// letting consumers wait instead of polling.
type Notifier interface {
	Ready() <-chan struct{}
}

// ServerTransport accepts peer connections and serves them with one handler.
type ServerTransport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error

	// SetRequestHandler installs the handler used for every peer. It must be
	// called before Start.
	SetRequestHandler(h RequestHandler)

	// SendNotification broadcasts n to every connected peer. Peers whose send
	// fails are disconnected and removed.
	SendNotification(ctx context.Context, n *protocol.Notification) error

	IsRunning() bool
	Info() string
}

// PeerCounter is implemented by server transports that track connected peers
type PeerCounter interface {
	PeerCount() int
}

// RequestHandler answers inbound requests. It must always return a response
// whose id equals the request id.
type RequestHandler interface {
	HandleRequest(ctx context.Context, req *protocol.Request) *protocol.Response
}

// RequestHandlerFunc adapts a function to RequestHandler
type RequestHandlerFunc func(ctx context.Context, req *protocol.Request) *protocol.Response

func (f RequestHandlerFunc) HandleRequest(ctx context.Context, req *protocol.Request) *protocol.Response {
	return f(ctx, req)
}

// NotificationHandler is an optional extension of RequestHandler. Server
// transports pass notifications received from peers to it.
type NotificationHandler interface {
	HandleNotification(ctx context.Context, n *protocol.Notification) error
}

// HandlerMiddleware wraps the handler a server transport dispatches to.
// Wrappers that should still see peer notifications must implement
// NotificationHandler themselves.
type HandlerMiddleware func(RequestHandler) RequestHandler

// WrapHandler applies middleware to h, the first one outermost
func WrapHandler(h RequestHandler, middleware ...HandlerMiddleware) RequestHandler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// PeerContextFunc derives the context a websocket peer is served with from
// the upgrade request, for values such as the authenticated caller.
type PeerContextFunc func(parent context.Context, r *http.Request) context.Context

// Config selects and tunes a transport
type Config = config.TransportConfig

// Errors
var (
	// ErrChannelClosed is returned by ReceiveNotification once the inbound side is closed
	ErrChannelClosed = errors.New("notification channel closed")

	ErrUnsupportedTransportType = errors.New("unsupported transport type")
)

type options struct {
	logger         logging.Logger
	metrics        observability.MetricsProvider
	tracing        *observability.TracingProvider
	reader         io.Reader
	writer         io.Writer
	httpClient     *http.Client
	dialer         *websocket.Dialer
	requestHandler RequestHandler
	middleware     []Middleware
	httpMiddleware []func(http.Handler) http.Handler
	peerContext    PeerContextFunc
	observe        bool
}

// Option configures transport construction
type Option func(*options)

// WithLogger sets the logger. Transports log under their own component name.
func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records transport metrics. For client transports built by New
// this also installs the observability middleware.
func WithMetrics(m observability.MetricsProvider) Option {
	return func(o *options) {
		o.metrics = m
		o.observe = true
	}
}

// WithTracing enables spans around client transport calls built by New
func WithTracing(tp *observability.TracingProvider) Option {
	return func(o *options) {
		o.tracing = tp
		o.observe = true
	}
}

// WithStdio sets the streams used by stdio transports. Defaults are os.Stdin and os.Stdout.
func WithStdio(r io.Reader, w io.Writer) Option {
	return func(o *options) {
		o.reader = r
		o.writer = w
	}
}

// WithHTTPClient sets the client used by the HTTP transport
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithDialer sets the websocket dialer
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithClientRequestHandler answers requests initiated by the server, such as
// roots/list. Without one such requests get MethodNotFound.
func WithClientRequestHandler(h RequestHandler) Option {
	return func(o *options) { o.requestHandler = h }
}

// WithMiddleware wraps client transports built by New, outermost first
func WithMiddleware(m ...Middleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, m...) }
}

// WithHTTPMiddleware wraps the HTTP handler of the HTTP and websocket
// servers, outermost first. CORS and request logging stay outside it.
func WithHTTPMiddleware(m ...func(http.Handler) http.Handler) Option {
	return func(o *options) { o.httpMiddleware = append(o.httpMiddleware, m...) }
}

// WithPeerContext sets how the websocket server derives a peer's context
// from its upgrade request
func WithPeerContext(fn PeerContextFunc) Option {
	return func(o *options) { o.peerContext = fn }
}

// wrapHTTP applies m to h, the first one outermost
func wrapHTTP(h http.Handler, m []func(http.Handler) http.Handler) http.Handler {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func buildOptions(opts []Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}
	if o.metrics == nil {
		o.metrics = observability.NoopMetrics()
	}
	return o
}

// New dials or opens a client transport of the configured type and wraps it
// with the configured middleware.
func New(ctx context.Context, cfg Config, opts ...Option) (Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	var (
		base Transport
		err  error
	)
	switch cfg.Type {
	case config.TransportStdio:
		base = newStdioTransport(cfg, o)
	case config.TransportWebSocket:
		base, err = dialWebSocket(ctx, cfg, o)
	case config.TransportHTTP:
		base, err = newHTTPTransport(ctx, cfg, o)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransportType, cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	middleware := o.middleware
	if o.observe {
		middleware = append(middleware, NewObservabilityMiddleware(o.logger, o.metrics, o.tracing))
	}
	return Chain(middleware...).Wrap(base), nil
}

// NewServer builds a server transport of the configured type
func NewServer(cfg Config, opts ...Option) (ServerTransport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)

	switch cfg.Type {
	case config.TransportStdio:
		return newStdioServer(cfg, o), nil
	case config.TransportWebSocket:
		return newWebSocketServer(cfg, o), nil
	case config.TransportHTTP:
		return newHTTPServer(cfg, o), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTransportType, cfg.Type)
	}
}
