package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/cors"
	"github.com/tmaxmax/go-sse"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

const sseKeepAlive = 30 * time.Second

// HTTPServer serves requests posted to /mcp with the reply in the response
// body. Clients subscribed to /mcp/events are registry peers and receive
// broadcast notifications as server-sent events.
type HTTPServer struct {
	cfg      Config
	logger   logging.Logger
	metrics  observability.MetricsProvider
	registry *Registry
	handler  RequestHandler
	wrap     []func(http.Handler) http.Handler

	running   atomic.Bool
	keepAlive time.Duration
	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	streams   sync.WaitGroup
}

func NewHTTPServer(cfg Config, opts ...Option) *HTTPServer {
	return newHTTPServer(cfg, buildOptions(opts))
}

func newHTTPServer(cfg Config, o *options) *HTTPServer {
	logger := o.logger.WithFields(logging.String("component", "http_server"))
	return &HTTPServer{
		cfg:       cfg,
		logger:    logger,
		metrics:   o.metrics,
		registry:  NewRegistry(logger, o.metrics),
		wrap:      o.httpMiddleware,
		keepAlive: sseKeepAlive,
	}
}

func (s *HTTPServer) SetRequestHandler(h RequestHandler) {
	s.handler = h
}

// Registry exposes the event stream subscribers
func (s *HTTPServer) Registry() *Registry {
	return s.registry
}

// Handler returns the routed handler wrapped with CORS and request logging
func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathRPC, s.handleRPC)
	mux.HandleFunc("POST "+PathNotify, s.handleRPC)
	mux.HandleFunc("GET "+PathEvents, s.handleEvents)
	mux.HandleFunc("GET "+PathHealth, s.handleHealth)
	if h, ok := s.metrics.(interface{ Handler() http.Handler }); ok {
		mux.Handle("GET /metrics", h.Handler())
	}

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Accept", "Authorization", "X-Request-ID", "Last-Event-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	})
	return c.Handler(logging.HTTPMiddleware(s.logger)(wrapHTTP(mux, s.wrap)))
}

func (s *HTTPServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return mcperrors.TransportIO("http", "listen", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln in the background until Stop is called
func (s *HTTPServer) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return mcperrors.InvalidState("start", "running")
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ConnectTimeout,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}
	s.running.Store(true)

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", logging.Err(err))
		}
	}()
	s.logger.Info("http server listening", logging.String("addr", ln.Addr().String()))
	return nil
}

func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *HTTPServer) handleRPC(w http.ResponseWriter, r *http.Request) {
	if !s.running.Load() {
		http.Error(w, "server is not running", http.StatusServiceUnavailable)
		return
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxMessageSize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	reply := serveFrame(r.Context(), s.handler, s.logger.WithContext(r.Context()), data)
	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(reply)
}

func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	if !s.running.Load() {
		http.Error(w, "server is not running", http.StatusServiceUnavailable)
		return
	}
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		s.logger.Warn("event stream upgrade failed", logging.Err(err))
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	p := &ssePeer{sess: sess, done: make(chan struct{})}
	// an initial comment commits the headers so the client sees the stream open
	if err := p.comment("connected"); err != nil {
		return
	}

	s.mu.Lock()
	if !s.running.Load() {
		s.mu.Unlock()
		return
	}
	s.streams.Add(1)
	ctx := s.ctx
	s.mu.Unlock()
	defer s.streams.Done()

	id := s.registry.Add(p)
	defer s.registry.Remove(id)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			if err := p.comment("keep-alive"); err != nil {
				s.logger.Debug("keep-alive failed", logging.String("peer_id", id), logging.Err(err))
				return
			}
		}
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	code := http.StatusOK
	if !s.running.Load() {
		status = "stopped"
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"peers":  s.registry.Len(),
	})
}

func (s *HTTPServer) SendNotification(ctx context.Context, n *protocol.Notification) error {
	_, err := s.Broadcast(ctx, n)
	return err
}

// Broadcast sends n to every event stream subscriber
func (s *HTTPServer) Broadcast(ctx context.Context, n *protocol.Notification) (BroadcastReport, error) {
	if !s.running.Load() {
		return BroadcastReport{}, mcperrors.NotConnected()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return BroadcastReport{}, mcperrors.Serialization(err)
	}
	report := s.registry.Broadcast(ctx, data)
	s.metrics.RecordNotification(ctx, n.Method, observability.DirectionOutbound)
	return report, nil
}

// Stop ends every event stream and shuts the HTTP server down
func (s *HTTPServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	s.registry.CloseAll()
	err := s.server.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return mcperrors.FromContext(ctx.Err(), "stop http server", 0)
	}
	if err != nil {
		return mcperrors.TransportIO("http", "shutdown", err)
	}
	return nil
}

func (s *HTTPServer) IsRunning() bool {
	return s.running.Load()
}

func (s *HTTPServer) PeerCount() int {
	return s.registry.Len()
}

func (s *HTTPServer) Info() string {
	if addr := s.Addr(); addr != "" {
		return "http(" + addr + ")"
	}
	return "http(" + s.cfg.ListenAddr + ")"
}

// ssePeer writes broadcast frames to one event stream. go-sse sessions are
// not safe for concurrent sends.
type ssePeer struct {
	mu     sync.Mutex
	sess   *sse.Session
	done   chan struct{}
	closed bool
}

func (p *ssePeer) Send(_ context.Context, data []byte) error {
	msg := &sse.Message{Type: sse.Type("message")}
	msg.AppendData(string(data))
	return p.send(msg)
}

func (p *ssePeer) comment(text string) error {
	msg := &sse.Message{}
	msg.AppendComment(text)
	return p.send(msg)
}

func (p *ssePeer) send(msg *sse.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return mcperrors.ConnectionClosed("sse")
	}
	if err := p.sess.Send(msg); err != nil {
		return mcperrors.TransportIO("sse", "send", err)
	}
	if err := p.sess.Flush(); err != nil {
		return mcperrors.TransportIO("sse", "flush", err)
	}
	return nil
}

// Close ends the stream; the handler goroutine returns and the response completes
func (p *ssePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}
