package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/transport"
)

// Handler receives server notifications
type Handler interface {
	HandleNotification(ctx context.Context, n *protocol.Notification) error
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, n *protocol.Notification) error

func (f HandlerFunc) HandleNotification(ctx context.Context, n *protocol.Notification) error {
	return f(ctx, n)
}

// Dispatcher delivers notifications to an ordered list of handlers
type Dispatcher struct {
	mu       sync.RWMutex
	handlers []Handler

	logger       logging.Logger
	metrics      observability.MetricsProvider
	pollInterval time.Duration
	delivered    atomic.Uint64
}

// NewDispatcher creates a dispatcher. A zero poll interval uses 10ms.
func NewDispatcher(logger logging.Logger, metrics observability.MetricsProvider, pollInterval time.Duration) *Dispatcher {
	if logger == nil {
		logger = logging.Nop()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics()
	}
	if pollInterval <= 0 {
		pollInterval = 10 * time.Millisecond
	}
	return &Dispatcher{
		logger:       logger.WithFields(logging.String("component", "dispatcher")),
		metrics:      metrics,
		pollInterval: pollInterval,
	}
}

// AddHandler appends h. Handlers run in the order they were added.
func (d *Dispatcher) AddHandler(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, h)
}

// Handlers returns the number of installed handlers
func (d *Dispatcher) Handlers() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.handlers)
}

// Delivered returns the number of notifications dispatched so far
func (d *Dispatcher) Delivered() uint64 {
	return d.delivered.Load()
}

// Dispatch hands n to every handler in order. A failing or panicking handler
// is logged and the remaining handlers still run.
func (d *Dispatcher) Dispatch(ctx context.Context, n *protocol.Notification) {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers...)
	d.mu.RUnlock()

	d.delivered.Add(1)

	for i, h := range handlers {
		if err := d.invoke(ctx, h, n); err != nil {
			d.metrics.RecordError(ctx, mcperrors.KindOf(err).String())
			d.logger.WithError(err).Warn("notification handler failed",
				logging.String("method", n.Method),
				logging.Int("handler", i),
			)
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, n *protocol.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h.HandleNotification(ctx, n)
}

// Run drains source until ctx is cancelled or the source reports
// ErrChannelClosed. When nothing is queued it waits on the source's ready
// signal or the poll interval.
func (d *Dispatcher) Run(ctx context.Context, source transport.Transport) error {
	var ready <-chan struct{}
	if notifier, ok := source.(transport.Notifier); ok {
		ready = notifier.Ready()
	}

	timer := time.NewTimer(d.pollInterval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			return nil
		}

		n, err := source.ReceiveNotification()
		if errors.Is(err, transport.ErrChannelClosed) {
			d.logger.Debug("notification channel closed", logging.String("transport", source.Info()))
			return err
		}
		if err != nil {
			return err
		}
		if n != nil {
			d.Dispatch(ctx, n)
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(d.pollInterval)

		select {
		case <-ctx.Done():
			return nil
		case <-ready:
		case <-timer.C:
		}
	}
}
