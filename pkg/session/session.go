// Package session implements the client connection state machine: the
// initialize handshake, heartbeat, reconnection with exponential backoff and
// notification dispatch over a transport.Transport.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

// TransportFactory builds a fresh transport for a reconnect attempt
type TransportFactory func(ctx context.Context) (transport.Transport, error)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Stats is a snapshot of session counters
type Stats struct {
	State                 State
	ConnectedAt           time.Time
	Uptime                time.Duration
	ReconnectAttempts     uint32
	RequestsSent          uint64
	NotificationsReceived uint64
}

// Option configures a Session
type Option func(*Session)

func WithLogger(l logging.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithMetrics(m observability.MetricsProvider) Option {
	return func(s *Session) { s.metrics = m }
}

// WithClientInfo sets the name and version announced during initialize
func WithClientInfo(name, version string) Option {
	return func(s *Session) { s.clientInfo = protocol.Implementation{Name: name, Version: version} }
}

func WithCapabilities(caps protocol.ClientCapabilities) Option {
	return func(s *Session) { s.capabilities = caps }
}

// WithSleep replaces the backoff sleep, mainly for tests
func WithSleep(fn SleepFunc) Option {
	return func(s *Session) { s.sleep = fn }
}

// WithHandler installs a notification handler
func WithHandler(h Handler) Option {
	return func(s *Session) { s.pendingHandlers = append(s.pendingHandlers, h) }
}

// Session owns one client connection at a time
type Session struct {
	cfg          config.SessionConfig
	logger       logging.Logger
	metrics      observability.MetricsProvider
	clientInfo   protocol.Implementation
	capabilities protocol.ClientCapabilities
	sleep        SleepFunc

	dispatcher      *Dispatcher
	pendingHandlers []Handler
	watcher         *StateWatcher

	// lifecycle serializes Connect, Disconnect and Reconnect
	lifecycle sync.Mutex

	mu          sync.Mutex
	transport   transport.Transport
	cancel      context.CancelFunc
	group       *errgroup.Group
	connectedAt time.Time
	serverInfo  *protocol.InitializeResult

	autoReconnect atomic.Bool
	attempts      atomic.Uint32
	nextID        atomic.Int64
	requestsSent  atomic.Uint64
}

// New creates a disconnected session
func New(cfg config.SessionConfig, opts ...Option) *Session {
	s := &Session{
		cfg:        cfg,
		clientInfo: protocol.Implementation{Name: "mcp-runtime-go", Version: "0.1.0"},
		sleep:      sleepContext,
		watcher:    NewStateWatcher(State{Kind: Disconnected}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	if s.metrics == nil {
		s.metrics = observability.NoopMetrics()
	}
	s.logger = s.logger.WithFields(logging.String("component", "session"))
	s.dispatcher = NewDispatcher(s.logger, s.metrics, cfg.NotificationPollInterval)
	for _, h := range s.pendingHandlers {
		s.dispatcher.AddHandler(h)
	}
	s.pendingHandlers = nil
	s.autoReconnect.Store(cfg.AutoReconnect)
	return s
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns the current connection state
func (s *Session) State() State {
	return s.watcher.Current()
}

// Watcher exposes state transitions
func (s *Session) Watcher() *StateWatcher {
	return s.watcher
}

// AddHandler appends a notification handler
func (s *Session) AddHandler(h Handler) {
	s.dispatcher.AddHandler(h)
}

// SetAutoReconnect enables or disables Reconnect
func (s *Session) SetAutoReconnect(enabled bool) {
	s.autoReconnect.Store(enabled)
}

// ServerInfo returns the initialize result of the current connection
func (s *Session) ServerInfo() *protocol.InitializeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverInfo
}

func (s *Session) setState(st State) {
	prev := s.watcher.Current()
	s.watcher.Set(st)
	s.metrics.RecordConnectionState(context.Background(), st.Kind.String())
	s.logger.Debug("state changed",
		logging.String("from", prev.String()),
		logging.String("to", st.String()),
	)
}

// Connect performs the initialize handshake over t and starts the heartbeat
// and notification tasks. A failed handshake closes t and leaves the session
// Failed; it is not retried.
func (s *Session) Connect(ctx context.Context, t transport.Transport) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.connect(ctx, t)
}

func (s *Session) connect(ctx context.Context, t transport.Transport) error {
	if st := s.State(); st.Is(Connected) || st.Is(Connecting) {
		return mcperrors.InvalidState("connect", st.String())
	}
	s.teardown()
	s.setState(State{Kind: Connecting})

	hctx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout)
	result, err := s.handshake(hctx, t)
	hctxErr := hctx.Err()
	cancel()

	if err != nil {
		_ = t.Close()
		switch {
		case ctx.Err() != nil:
			err = mcperrors.Cancelled("connect", ctx.Err())
		case errors.Is(hctxErr, context.DeadlineExceeded) || mcperrors.IsKind(err, mcperrors.KindRequestTimeout):
			err = mcperrors.ConnectionTimeout("connect", s.cfg.ConnectionTimeout)
		case !mcperrors.IsKind(err, mcperrors.KindHandshakeFailed):
			err = mcperrors.HandshakeFailed(err)
		}
		s.setState(FailedState(err.Error()))
		s.logger.WithError(err).Warn("connect failed", logging.String("transport", t.Info()))
		return err
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	group, loopCtx := errgroup.WithContext(loopCtx)

	s.mu.Lock()
	s.transport = t
	s.cancel = loopCancel
	s.group = group
	s.connectedAt = time.Now()
	s.serverInfo = result
	s.attempts.Store(0)
	s.setState(State{Kind: Connected})
	s.mu.Unlock()

	group.Go(func() error { return s.dispatch(loopCtx, t) })
	if s.cfg.HeartbeatInterval > 0 {
		group.Go(func() error { return s.heartbeat(loopCtx, t) })
	}

	s.logger.Info("connected",
		logging.String("transport", t.Info()),
		logging.String("server", result.ServerInfo.Name),
		logging.String("protocol_version", result.ProtocolVersion),
	)
	return nil
}

func (s *Session) handshake(ctx context.Context, t transport.Transport) (*protocol.InitializeResult, error) {
	params := protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolRevision,
		Capabilities:    s.capabilities,
		ClientInfo:      s.clientInfo,
	}
	req, err := protocol.NewRequest(s.nextID.Add(1), protocol.MethodInitialize, params)
	if err != nil {
		return nil, mcperrors.Serialization(err)
	}

	resp, err := t.SendRequest(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, mcperrors.HandshakeFailed(mcperrors.FromProtocolError(resp.Error))
	}

	var result protocol.InitializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, mcperrors.HandshakeFailed(mcperrors.Serialization(err))
	}
	if result.ProtocolVersion == "" {
		return nil, mcperrors.HandshakeFailed(mcperrors.ProtocolViolation("initialize result has no protocol version"))
	}

	note, err := protocol.NewNotification(protocol.MethodInitialized, nil)
	if err != nil {
		return nil, mcperrors.Serialization(err)
	}
	if err := t.SendNotification(ctx, note); err != nil {
		return nil, err
	}
	return &result, nil
}

// Disconnect detaches the connection, moves to Disconnected, and waits for
// the background tasks to stop and the transport to close. If ctx ends first
// it returns a Cancelled error; the session is already Disconnected and free
// to connect again while the old transport finishes closing in the
// background. It is a no-op on a session that holds no transport.
func (s *Session) Disconnect(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	t, cancel, group := s.detach()
	if !s.State().Is(Disconnected) {
		s.setState(State{Kind: Disconnected})
	}

	done := make(chan struct{})
	go func() {
		reap(t, cancel, group)
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("transport still closing after disconnect", logging.Err(ctx.Err()))
		return mcperrors.Cancelled("disconnect", ctx.Err())
	}
	s.logger.Info("disconnected")
	return nil
}

// teardown cancels and waits for the tasks of the previous connection and
// closes its transport. It must not be called from those tasks.
func (s *Session) teardown() {
	reap(s.detach())
}

// detach takes the current connection out of the session
func (s *Session) detach() (transport.Transport, context.CancelFunc, *errgroup.Group) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, cancel, group := s.transport, s.cancel, s.group
	s.transport = nil
	s.cancel = nil
	s.group = nil
	s.connectedAt = time.Time{}
	return t, cancel, group
}

func reap(t transport.Transport, cancel context.CancelFunc, group *errgroup.Group) {
	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}
	if t != nil {
		_ = t.Close()
	}
}

// dropConnection marks t as lost. It cancels the tasks without waiting, so
// it is safe to call from them; the next teardown reaps them. The state
// changes under mu so a connection installed after t is never marked lost.
func (s *Session) dropConnection(t transport.Transport, cause error) {
	s.mu.Lock()
	if s.transport != t {
		s.mu.Unlock()
		return
	}
	s.transport = nil
	s.connectedAt = time.Time{}
	cancel := s.cancel
	s.setState(State{Kind: Disconnected})
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = t.Close()
	s.logger.WithError(cause).Warn("connection lost", logging.String("transport", t.Info()))
}

// Reconnect waits out the backoff for the next attempt and connects a
// transport built by factory. Past the attempt ceiling, or with
// auto-reconnect off, it fails immediately and leaves the session Failed.
func (s *Session) Reconnect(ctx context.Context, factory TransportFactory) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	if !s.autoReconnect.Load() {
		s.setState(FailedState("auto-reconnect disabled"))
		s.metrics.RecordReconnectAttempt(ctx, "rejected")
		return mcperrors.ReconnectDisabled()
	}

	limit := s.cfg.MaxReconnectAttempts
	n := s.attempts.Load()
	if n >= limit {
		err := mcperrors.ReconnectExhausted(limit)
		s.setState(FailedState(err.Error()))
		s.metrics.RecordReconnectAttempt(ctx, "rejected")
		return err
	}
	n = s.attempts.Add(1)
	s.setState(State{Kind: Reconnecting})

	delay := Delay(n, s.cfg.ReconnectDelay, s.cfg.ReconnectBackoff, s.cfg.MaxReconnectDelay)
	s.logger.Info("reconnecting",
		logging.Uint32("attempt", n),
		logging.Uint32("max_attempts", limit),
		logging.Duration("delay", delay),
	)
	if err := s.sleep(ctx, delay); err != nil {
		err = mcperrors.Cancelled("reconnect", err)
		s.setState(FailedState(err.Error()))
		s.metrics.RecordReconnectAttempt(ctx, "cancelled")
		return err
	}

	s.teardown()

	t, err := factory(ctx)
	if err != nil {
		s.setState(FailedState(err.Error()))
		s.metrics.RecordReconnectAttempt(ctx, "failure")
		s.logger.WithError(err).Warn("reconnect transport failed", logging.Uint32("attempt", n))
		return err
	}

	if err := s.connect(ctx, t); err != nil {
		s.metrics.RecordReconnectAttempt(ctx, "failure")
		return err
	}
	s.metrics.RecordReconnectAttempt(ctx, "success")
	return nil
}

func (s *Session) dispatch(ctx context.Context, t transport.Transport) error {
	err := s.dispatcher.Run(ctx, t)
	if errors.Is(err, transport.ErrChannelClosed) {
		s.dropConnection(t, mcperrors.ConnectionClosed(t.Info()))
		return nil
	}
	if err != nil {
		s.dropConnection(t, err)
	}
	return err
}

// heartbeat pings the server every interval. A failed ping drops the
// connection and ends the task; reconnecting is left to the caller.
func (s *Session) heartbeat(ctx context.Context, t transport.Transport) error {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if !s.State().Is(Connected) {
			return nil
		}

		timeout := s.cfg.HeartbeatTimeout
		if timeout <= 0 {
			timeout = s.cfg.HeartbeatInterval
		}
		pctx, cancel := context.WithTimeout(ctx, timeout)
		err := s.ping(pctx, t)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.WithError(err).Warn("heartbeat failed")
			s.dropConnection(t, err)
			return nil
		}
	}
}

// ping treats any response, error responses included, as proof of liveness
func (s *Session) ping(ctx context.Context, t transport.Transport) error {
	req, err := protocol.NewRequest(s.nextID.Add(1), protocol.MethodPing, nil)
	if err != nil {
		return mcperrors.Serialization(err)
	}
	_, err = t.SendRequest(ctx, req)
	if err != nil && ctx.Err() != nil {
		return mcperrors.FromContext(ctx.Err(), protocol.MethodPing, s.cfg.HeartbeatTimeout)
	}
	return err
}

func (s *Session) current() (transport.Transport, error) {
	if !s.State().Is(Connected) {
		return nil, mcperrors.NotConnected()
	}
	s.mu.Lock()
	t := s.transport
	s.mu.Unlock()
	if t == nil {
		return nil, mcperrors.NotConnected()
	}
	return t, nil
}

func isConnectionLoss(err error) bool {
	return mcperrors.IsKind(err, mcperrors.KindTransportIO) || mcperrors.IsKind(err, mcperrors.KindNotConnected)
}

// Request sends method with params and decodes the result into result,
// which may be nil. Outside Connected it fails with NotConnected without
// touching the transport.
func (s *Session) Request(ctx context.Context, method string, params, result interface{}) error {
	t, err := s.current()
	if err != nil {
		return err
	}

	req, err := protocol.NewRequest(s.nextID.Add(1), method, params)
	if err != nil {
		return mcperrors.Serialization(err)
	}

	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	s.requestsSent.Add(1)
	resp, err := t.SendRequest(ctx, req)
	if err != nil {
		switch {
		case isConnectionLoss(err):
			s.dropConnection(t, err)
		case ctx.Err() != nil:
			s.cancelRemote(t, req.ID, ctx.Err())
		case mcperrors.IsKind(err, mcperrors.KindRequestTimeout):
			// the transport gave up on its own deadline
			s.cancelRemote(t, req.ID, err)
		}
		return err
	}
	if resp.Error != nil {
		return mcperrors.FromProtocolError(resp.Error)
	}
	if result == nil || len(resp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return mcperrors.Serialization(err)
	}
	return nil
}

// cancelRemote tells the server to stop working on an abandoned request
func (s *Session) cancelRemote(t transport.Transport, id interface{}, cause error) {
	n, err := protocol.NewNotification(protocol.MethodCancelled, protocol.CancelledParams{
		RequestID: id,
		Reason:    cause.Error(),
	})
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := t.SendNotification(ctx, n); err != nil {
		s.logger.WithError(err).Debug("cancel notification not sent", logging.String("request_id", protocol.IDKey(id)))
	}
}

// Notify sends a notification. Outside Connected it fails with NotConnected.
func (s *Session) Notify(ctx context.Context, method string, params interface{}) error {
	t, err := s.current()
	if err != nil {
		return err
	}
	n, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.Serialization(err)
	}
	if err := t.SendNotification(ctx, n); err != nil {
		if isConnectionLoss(err) {
			s.dropConnection(t, err)
		}
		return err
	}
	return nil
}

// Stats returns a snapshot of the session counters
func (s *Session) Stats() Stats {
	s.mu.Lock()
	connectedAt := s.connectedAt
	s.mu.Unlock()

	st := Stats{
		State:                 s.State(),
		ConnectedAt:           connectedAt,
		ReconnectAttempts:     s.attempts.Load(),
		RequestsSent:          s.requestsSent.Load(),
		NotificationsReceived: s.dispatcher.Delivered(),
	}
	if !connectedAt.IsZero() {
		st.Uptime = time.Since(connectedAt)
	}
	return st
}

// WaitForState blocks until pred holds for the current or a later state
func (s *Session) WaitForState(ctx context.Context, pred func(State) bool) (State, error) {
	sub := s.watcher.Subscribe()
	defer sub.Unsubscribe()
	for {
		st, err := sub.Next(ctx)
		if err != nil {
			return State{}, err
		}
		if pred(st) {
			return st, nil
		}
	}
}
