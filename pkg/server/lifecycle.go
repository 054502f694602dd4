package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

// State is the lifecycle state of a server
type State int

const (
	StateCreated State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Lifecycle drives a server transport through
// Created -> Starting -> Running -> Stopping -> Stopped, with Error reachable
// from a failed start or stop. Listeners run synchronously on the goroutine
// that made the transition.
type Lifecycle struct {
	logger logging.Logger

	mu        sync.Mutex
	state     State
	reason    string
	startedAt time.Time
	transport transport.ServerTransport
	onStart   []func()
	onStop    []func()
	onError   []func(error)

	running atomic.Bool

	// gate serializes calls into the transport
	gate chan struct{}
}

func NewLifecycle(logger logging.Logger) *Lifecycle {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Lifecycle{
		logger: logger.WithFields(logging.String("component", "lifecycle")),
		gate:   make(chan struct{}, 1),
	}
}

// OnStart registers fn to run after each transition to Running
func (l *Lifecycle) OnStart(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStart = append(l.onStart, fn)
}

// OnStop registers fn to run after each transition to Stopped
func (l *Lifecycle) OnStop(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onStop = append(l.onStop, fn)
}

// OnError registers fn to run after each transition to Error
func (l *Lifecycle) OnError(fn func(error)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onError = append(l.onError, fn)
}

func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Reason describes the failure behind StateError
func (l *Lifecycle) Reason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// IsRunning is lock-free
func (l *Lifecycle) IsRunning() bool {
	return l.running.Load()
}

// Uptime is zero unless the server is running
func (l *Lifecycle) Uptime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateRunning || l.startedAt.IsZero() {
		return 0
	}
	return time.Since(l.startedAt)
}

// Start starts t. Only Created and Stopped servers can start.
func (l *Lifecycle) Start(ctx context.Context, t transport.ServerTransport) error {
	if err := l.acquire(ctx, "start"); err != nil {
		return err
	}

	l.mu.Lock()
	if l.state != StateCreated && l.state != StateStopped {
		from := l.state
		l.mu.Unlock()
		l.release()
		return mcperrors.InvalidState("start", from.String())
	}
	l.state = StateStarting
	l.reason = ""
	l.transport = t
	l.mu.Unlock()

	l.logger.Debug("starting", logging.String("transport", t.Info()))
	if err := t.Start(ctx); err != nil {
		l.release()
		l.fail(StateStarting, err)
		return err
	}

	l.mu.Lock()
	if l.state != StateStarting {
		// Stop arrived while starting; it stops t once the gate is free
		from := l.state
		l.mu.Unlock()
		l.release()
		return mcperrors.InvalidState("start", from.String())
	}
	l.state = StateRunning
	l.startedAt = time.Now()
	l.running.Store(true)
	listeners := append([]func(){}, l.onStart...)
	l.mu.Unlock()
	l.release()

	l.logger.Info("server running", logging.String("transport", t.Info()))
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// Stop stops the transport. Only Running and Starting servers can stop; a
// Stop issued while Starting waits for the transport to finish starting.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.state != StateRunning && l.state != StateStarting {
		from := l.state
		l.mu.Unlock()
		return mcperrors.InvalidState("stop", from.String())
	}
	l.state = StateStopping
	l.running.Store(false)
	l.mu.Unlock()

	if err := l.acquire(ctx, "stop"); err != nil {
		l.fail(StateStopping, err)
		return err
	}
	l.mu.Lock()
	t := l.transport
	l.mu.Unlock()

	l.logger.Debug("stopping")
	err := t.Stop(ctx)
	l.release()
	if err != nil {
		l.fail(StateStopping, err)
		return err
	}

	l.mu.Lock()
	if l.state != StateStopping {
		// StopWithTimeout gave up and already moved to Error
		l.mu.Unlock()
		return nil
	}
	l.state = StateStopped
	l.startedAt = time.Time{}
	listeners := append([]func(){}, l.onStop...)
	l.mu.Unlock()

	l.logger.Info("server stopped")
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// StopWithTimeout is Stop bounded by d. When d elapses first the lifecycle
// moves to Error, the stop in flight is cancelled and a ConnectionTimeout
// error is returned.
func (l *Lifecycle) StopWithTimeout(d time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	timer := time.NewTimer(d)
	defer timer.Stop()

	done := make(chan error, 1)
	go func() { done <- l.Stop(ctx) }()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		err := mcperrors.ConnectionTimeout("stop", d)
		l.fail(StateStopping, err)
		return err
	}
}

// acquire takes the gate that serializes t.Start and t.Stop
func (l *Lifecycle) acquire(ctx context.Context, op string) error {
	select {
	case l.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return mcperrors.FromContext(ctx.Err(), op, 0)
	}
}

func (l *Lifecycle) release() {
	<-l.gate
}

// fail moves to Error only while the lifecycle is still in from, so a
// transition that already gave up is reported once.
func (l *Lifecycle) fail(from State, err error) {
	l.mu.Lock()
	if cur := l.state; cur != from {
		l.mu.Unlock()
		l.logger.WithError(err).Debug("late lifecycle failure ignored", logging.String("state", cur.String()))
		return
	}
	l.state = StateError
	l.reason = err.Error()
	l.startedAt = time.Time{}
	l.running.Store(false)
	listeners := append([]func(error){}, l.onError...)
	l.mu.Unlock()

	l.logger.WithError(err).Error("server lifecycle failed")
	for _, fn := range listeners {
		fn(err)
	}
}

// String renders the state, with the reason for Error
func (l *Lifecycle) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateError {
		return fmt.Sprintf("Error(%s)", l.reason)
	}
	return l.state.String()
}
