package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/broker"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

// DefaultTopic is the broker topic used when WithBroker is given none
const DefaultTopic = "mcp.notifications"

type options struct {
	cfg        config.ServerConfig
	logger     logging.Logger
	metrics    observability.MetricsProvider
	tracing    *observability.TracingProvider
	tools      ToolsProvider
	resources  ResourcesProvider
	prompts    PromptsProvider
	completion CompletionProvider
	broker     broker.Broker
	topic      string
	middleware []transport.HandlerMiddleware
}

// Option configures a Server or Router
type Option func(*options)

// WithConfig replaces the whole server configuration
func WithConfig(cfg config.ServerConfig) Option {
	return func(o *options) { o.cfg = cfg }
}

func WithName(name string) Option {
	return func(o *options) { o.cfg.Name = name }
}

func WithVersion(version string) Option {
	return func(o *options) { o.cfg.Version = version }
}

// WithInstructions sets the text returned to clients by initialize
func WithInstructions(text string) Option {
	return func(o *options) { o.cfg.Instructions = text }
}

// WithPageSize sets the page size of every list method
func WithPageSize(n int) Option {
	return func(o *options) { o.cfg.PageSize = n }
}

func WithTools(p ToolsProvider) Option {
	return func(o *options) { o.tools = p }
}

func WithResources(p ResourcesProvider) Option {
	return func(o *options) { o.resources = p }
}

func WithPrompts(p PromptsProvider) Option {
	return func(o *options) { o.prompts = p }
}

func WithCompletion(p CompletionProvider) Option {
	return func(o *options) { o.completion = p }
}

func WithLogger(l logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithMetrics(m observability.MetricsProvider) Option {
	return func(o *options) { o.metrics = m }
}

func WithTracing(tp *observability.TracingProvider) Option {
	return func(o *options) { o.tracing = tp }
}

// WithBroker routes every broadcast through b so that servers sharing the
// topic deliver each other's notifications to their own peers.
func WithBroker(b broker.Broker, topic string) Option {
	return func(o *options) {
		o.broker = b
		o.topic = topic
	}
}

// WithHandlerMiddleware wraps the router before it is installed on the
// transport, the first middleware outermost. Authorization and rate limits
// plug in here.
func WithHandlerMiddleware(m ...transport.HandlerMiddleware) Option {
	return func(o *options) { o.middleware = append(o.middleware, m...) }
}

func buildOptions(opts []Option) *options {
	o := &options{cfg: config.DefaultServerConfig()}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.Default()
	}
	if o.metrics == nil {
		o.metrics = observability.NoopMetrics()
	}
	if o.tracing == nil {
		o.tracing = observability.NoopTracing()
	}
	if o.topic == "" {
		o.topic = DefaultTopic
	}
	return o
}

// broadcaster is implemented by server transports that report which peers a
// broadcast removed
type broadcaster interface {
	Broadcast(ctx context.Context, n *protocol.Notification) (transport.BroadcastReport, error)
}

// Stats is a snapshot of a running server
type Stats struct {
	State         State
	Uptime        time.Duration
	Peers         int
	InFlight      int
	Subscriptions int
}

// Server ties a ServerTransport to a Router and drives it through its
// lifecycle. Notifications sent through the server reach every connected peer.
type Server struct {
	transport transport.ServerTransport
	router    *Router
	lifecycle *Lifecycle
	logger    logging.Logger
	metrics   observability.MetricsProvider
	cfg       config.ServerConfig

	broker broker.Broker
	topic  string

	relayMu     sync.Mutex
	relayCancel context.CancelFunc
	relayDone   chan struct{}
}

// New builds a server answering requests on t. Providers that can change at
// runtime get a hook that broadcasts the matching list_changed notification.
func New(t transport.ServerTransport, opts ...Option) *Server {
	o := buildOptions(opts)
	logger := o.logger.WithFields(logging.String("component", "server"), logging.String("server", o.cfg.Name))

	s := &Server{
		transport: t,
		router:    newRouter(o),
		lifecycle: NewLifecycle(o.logger),
		logger:    logger,
		metrics:   o.metrics,
		cfg:       o.cfg,
		broker:    o.broker,
		topic:     o.topic,
	}
	t.SetRequestHandler(transport.WrapHandler(s.router, o.middleware...))

	s.watch(o.tools, s.NotifyToolListChanged)
	s.watch(o.resources, s.NotifyResourceListChanged)
	s.watch(o.prompts, s.NotifyPromptListChanged)

	s.lifecycle.OnStop(s.router.subscriptions.Clear)
	return s
}

func (s *Server) watch(provider interface{}, notify func(context.Context) error) {
	cn, ok := provider.(changeNotifier)
	if !ok {
		return
	}
	cn.OnChange(func() {
		if !s.lifecycle.IsRunning() {
			return
		}
		if err := notify(context.Background()); err != nil {
			s.logger.WithError(err).Warn("list changed notification failed")
		}
	})
}

func (s *Server) Router() *Router { return s.router }

func (s *Server) Lifecycle() *Lifecycle { return s.lifecycle }

func (s *Server) Transport() transport.ServerTransport { return s.transport }

// Start starts the transport and, with a broker, the relay that delivers
// published notifications to local peers.
func (s *Server) Start(ctx context.Context) error {
	if err := s.lifecycle.Start(ctx, s.transport); err != nil {
		return err
	}
	if s.broker != nil {
		s.startRelay()
	}
	return nil
}

// Stop stops the relay and the transport
func (s *Server) Stop(ctx context.Context) error {
	s.stopRelay()
	return s.lifecycle.Stop(ctx)
}

// StopWithTimeout stops within d, or within the configured shutdown timeout
// when d is zero.
func (s *Server) StopWithTimeout(d time.Duration) error {
	if d <= 0 {
		d = s.cfg.ShutdownTimeout
	}
	s.stopRelay()
	return s.lifecycle.StopWithTimeout(d)
}

func (s *Server) IsRunning() bool {
	return s.lifecycle.IsRunning()
}

func (s *Server) startRelay() {
	s.relayMu.Lock()
	defer s.relayMu.Unlock()
	if s.relayCancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.relayCancel = cancel
	s.relayDone = done

	go func() {
		defer close(done)
		err := s.broker.Subscribe(ctx, s.topic, s.relay)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, broker.ErrClosed) {
			s.logger.WithError(err).Error("notification relay stopped", logging.String("topic", s.topic))
		}
	}()
	s.logger.Debug("notification relay started", logging.String("topic", s.topic))
}

func (s *Server) stopRelay() {
	s.relayMu.Lock()
	cancel, done := s.relayCancel, s.relayDone
	s.relayCancel, s.relayDone = nil, nil
	s.relayMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// relay delivers a notification published by any node. A bad message is
// logged and skipped so one node cannot stop delivery on the others.
func (s *Server) relay(ctx context.Context, env broker.Envelope) error {
	var n protocol.Notification
	if err := json.Unmarshal(env.Data, &n); err != nil {
		s.logger.Warn("dropping malformed relayed notification", logging.String("id", env.ID), logging.Err(err))
		return nil
	}
	if err := s.deliver(ctx, &n); err != nil {
		s.logger.WithError(err).Debug("relayed notification not delivered", logging.String("method", n.Method))
	}
	return nil
}

// Broadcast sends n to every peer. With a broker the notification is
// published and reaches local peers through the relay.
func (s *Server) Broadcast(ctx context.Context, n *protocol.Notification) error {
	if !s.lifecycle.IsRunning() {
		return mcperrors.InvalidState("broadcast", s.lifecycle.State().String())
	}
	if s.broker == nil {
		return s.deliver(ctx, n)
	}
	data, err := json.Marshal(n)
	if err != nil {
		return mcperrors.Serialization(err)
	}
	if _, err := s.broker.Publish(ctx, s.topic, data); err != nil {
		return mcperrors.TransportIO("broker", "publish", err)
	}
	return nil
}

func (s *Server) deliver(ctx context.Context, n *protocol.Notification) error {
	b, ok := s.transport.(broadcaster)
	if !ok {
		return s.transport.SendNotification(ctx, n)
	}
	report, err := b.Broadcast(ctx, n)
	if err != nil {
		return err
	}
	if len(report.Removed) > 0 {
		s.logger.Info("removed unreachable peers",
			logging.String("method", n.Method),
			logging.Any("peers", report.Removed),
		)
	}
	return nil
}

func (s *Server) notify(ctx context.Context, method string, params interface{}) error {
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.Serialization(err)
	}
	return s.Broadcast(ctx, n)
}

func (s *Server) NotifyToolListChanged(ctx context.Context) error {
	return s.notify(ctx, protocol.MethodToolsListChanged, nil)
}

func (s *Server) NotifyResourceListChanged(ctx context.Context) error {
	return s.notify(ctx, protocol.MethodResourcesListChanged, nil)
}

func (s *Server) NotifyPromptListChanged(ctx context.Context) error {
	return s.notify(ctx, protocol.MethodPromptsListChanged, nil)
}

// NotifyResourceUpdated announces a change to uri. Nothing is sent unless
// some client subscribed to it.
func (s *Server) NotifyResourceUpdated(ctx context.Context, uri string) error {
	subs := s.router.subscriptions
	if !subs.IsSubscribed(uri) {
		return nil
	}
	if err := s.notify(ctx, protocol.MethodResourceUpdated, protocol.ResourceUpdatedParams{URI: uri}); err != nil {
		return err
	}
	subs.Touch(uri)
	return nil
}

// SendProgress reports progress for a request that carried token
func (s *Server) SendProgress(ctx context.Context, token interface{}, progress float64, total *float64, message string) error {
	return s.notify(ctx, protocol.MethodProgress, protocol.ProgressParams{
		ProgressToken: token,
		Progress:      progress,
		Total:         total,
		Message:       message,
	})
}

// SendLogMessage sends a notifications/message when level is at or above
// the level set by the client.
func (s *Server) SendLogMessage(ctx context.Context, level protocol.LogLevel, logger string, data interface{}) error {
	if !level.Valid() {
		return mcperrors.InvalidParams("unknown log level %q", level)
	}
	if !level.AtLeast(s.router.LogLevel()) {
		return nil
	}
	return s.notify(ctx, protocol.MethodLogMessage, protocol.LoggingMessageParams{
		Level:  level,
		Logger: logger,
		Data:   data,
	})
}

func (s *Server) Stats() Stats {
	st := Stats{
		State:         s.lifecycle.State(),
		Uptime:        s.lifecycle.Uptime(),
		InFlight:      s.router.InFlight(),
		Subscriptions: s.router.subscriptions.Len(),
	}
	if pc, ok := s.transport.(transport.PeerCounter); ok {
		st.Peers = pc.PeerCount()
	}
	return st
}
