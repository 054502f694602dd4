package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// WebSocketServer accepts websocket peers. Every peer gets its own read loop;
// replies go to the originating peer only and notifications are broadcast
// through the registry.
type WebSocketServer struct {
	cfg      Config
	logger   logging.Logger
	metrics  observability.MetricsProvider
	registry *Registry
	upgrader websocket.Upgrader
	handler  RequestHandler
	wrap     []func(http.Handler) http.Handler
	peerCtx  PeerContextFunc

	running  atomic.Bool
	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	group    *errgroup.Group
}

// NewWebSocketServer creates a server listening on cfg.ListenAddr once started.
// Handler can also be mounted on an existing mux.
func NewWebSocketServer(cfg Config, opts ...Option) *WebSocketServer {
	return newWebSocketServer(cfg, buildOptions(opts))
}

func newWebSocketServer(cfg Config, o *options) *WebSocketServer {
	logger := o.logger.WithFields(logging.String("component", "websocket_server"))
	s := &WebSocketServer{
		cfg:      cfg,
		logger:   logger,
		metrics:  o.metrics,
		registry: NewRegistry(logger, o.metrics),
		wrap:     o.httpMiddleware,
		peerCtx:  o.peerContext,
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: cfg.ConnectTimeout,
		CheckOrigin:      originChecker(cfg.AllowedOrigins),
	}
	return s
}

// originChecker allows same-host requests, requests without an Origin and
// the listed origins. A single "*" allows everything.
func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || set["*"] || set[origin] {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	}
}

func (s *WebSocketServer) SetRequestHandler(h RequestHandler) {
	s.handler = h
}

// Registry exposes the connected peers
func (s *WebSocketServer) Registry() *Registry {
	return s.registry
}

// Start listens on the configured address and serves in the background
func (s *WebSocketServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return mcperrors.TransportIO("websocket", "listen", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts peers on ln in the background until Stop is called
func (s *WebSocketServer) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return mcperrors.InvalidState("start", "running")
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.group, s.ctx = errgroup.WithContext(s.ctx)
	s.listener = ln
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ConnectTimeout,
	}
	s.running.Store(true)

	s.group.Go(func() error {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("websocket server stopped", logging.Err(err))
			return err
		}
		return nil
	})
	s.logger.Info("websocket server listening", logging.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the listening address once started
func (s *WebSocketServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler upgrades requests to websocket peers
func (s *WebSocketServer) Handler() http.Handler {
	return wrapHTTP(http.HandlerFunc(s.serveWebSocket), s.wrap)
}

func (s *WebSocketServer) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.running.Load() {
		http.Error(w, "server is not running", http.StatusServiceUnavailable)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", logging.Err(err), logging.String("remote_addr", r.RemoteAddr))
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageSize)

	p := &wsPeer{conn: conn, writeTimeout: s.cfg.WriteTimeout}

	// Stop holds mu while waiting for peer loops, so no loop starts after it
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running.Load() {
		_ = p.Close()
		return
	}
	group := s.group
	id := s.registry.Add(p)
	ctx := logging.ContextWithPeerID(s.ctx, id)
	if s.peerCtx != nil {
		ctx = s.peerCtx(ctx, r)
	}

	group.Go(func() error {
		s.servePeer(ctx, group, id, p)
		return nil
	})
	if s.cfg.PingInterval > 0 {
		group.Go(func() error {
			p.keepAlive(ctx, s.cfg.PingInterval)
			return nil
		})
	}
}

func (s *WebSocketServer) servePeer(ctx context.Context, group *errgroup.Group, id string, p *wsPeer) {
	defer s.registry.Remove(id)
	logger := s.logger.WithContext(ctx)

	p.extendReadDeadline(s.cfg.ReadTimeout)
	p.conn.SetPongHandler(func(string) error {
		p.extendReadDeadline(s.cfg.ReadTimeout)
		return nil
	})

	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("peer read failed", logging.Err(err))
			}
			return
		}
		p.extendReadDeadline(s.cfg.ReadTimeout)

		group.Go(func() error {
			reply := serveFrame(ctx, s.handler, logger, data)
			if reply == nil {
				return nil
			}
			if err := p.Send(ctx, reply); err != nil {
				logger.Warn("failed to send reply, removing peer", logging.Err(err))
				s.registry.Remove(id)
			}
			return nil
		})
	}
}

// SendNotification broadcasts n to every peer
func (s *WebSocketServer) SendNotification(ctx context.Context, n *protocol.Notification) error {
	_, err := s.Broadcast(ctx, n)
	return err
}

// Broadcast sends n to every peer and reports which peers were removed
func (s *WebSocketServer) Broadcast(ctx context.Context, n *protocol.Notification) (BroadcastReport, error) {
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

// Stop closes the listener, every peer and waits for all peer loops
func (s *WebSocketServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Swap(false) {
		return nil
	}
	shutdownErr := s.server.Shutdown(ctx)
	s.cancel()
	s.registry.CloseAll()

	done := make(chan error, 1)
	go func() { done <- s.group.Wait() }()
	select {
	case err := <-done:
		if shutdownErr != nil {
			return mcperrors.TransportIO("websocket", "shutdown", shutdownErr)
		}
		return err
	case <-ctx.Done():
		return mcperrors.FromContext(ctx.Err(), "stop websocket server", 0)
	}
}

func (s *WebSocketServer) IsRunning() bool {
	return s.running.Load()
}

func (s *WebSocketServer) PeerCount() int {
	return s.registry.Len()
}

func (s *WebSocketServer) Info() string {
	if addr := s.Addr(); addr != "" {
		return "websocket(" + addr + ")"
	}
	return "websocket(" + s.cfg.ListenAddr + ")"
}

// wsPeer serializes writes to one websocket connection
type wsPeer struct {
	conn         *websocket.Conn
	wmu          sync.Mutex
	writeTimeout time.Duration
	closed       atomic.Bool
}

func (p *wsPeer) Send(_ context.Context, data []byte) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()

	if p.closed.Load() {
		return mcperrors.ConnectionClosed("websocket")
	}
	if p.writeTimeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return mcperrors.TransportIO("websocket", "write", err)
	}
	return nil
}

func (p *wsPeer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing connection")
	_ = p.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return p.conn.Close()
}

func (p *wsPeer) keepAlive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.closed.Load() {
				return
			}
			if err := p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(p.writeTimeout)); err != nil {
				_ = p.conn.Close()
				return
			}
		}
	}
}

func (p *wsPeer) extendReadDeadline(d time.Duration) {
	if d > 0 {
		_ = p.conn.SetReadDeadline(time.Now().Add(d))
	}
}
