package transport

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/logging"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/observability"
	"github.com/ajitpratap0/mcp-runtime-go/pkg/protocol"
)

// Middleware wraps a client transport to add behaviour around its calls
type Middleware interface {
	Wrap(t Transport) Transport
}

// MiddlewareFunc is an adapter to allow the use of ordinary functions as middleware
type MiddlewareFunc func(Transport) Transport

func (f MiddlewareFunc) Wrap(t Transport) Transport {
	return f(t)
}

// Chain composes middleware so that the first one is the outermost
func Chain(middleware ...Middleware) Middleware {
	return MiddlewareFunc(func(t Transport) Transport {
		for i := len(middleware) - 1; i >= 0; i-- {
			t = middleware[i].Wrap(t)
		}
		return t
	})
}

// Unwrap returns the innermost transport below any middleware
func Unwrap(t Transport) Transport {
	for {
		w, ok := t.(interface{ Unwrap() Transport })
		if !ok {
			return t
		}
		t = w.Unwrap()
	}
}

// middlewareTransport delegates every call to next
type middlewareTransport struct {
	next Transport
}

func (m *middlewareTransport) SendRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return m.next.SendRequest(ctx, req)
}

func (m *middlewareTransport) SendNotification(ctx context.Context, n *protocol.Notification) error {
	return m.next.SendNotification(ctx, n)
}

func (m *middlewareTransport) ReceiveNotification() (*protocol.Notification, error) {
	return m.next.ReceiveNotification()
}

func (m *middlewareTransport) Close() error { return m.next.Close() }

func (m *middlewareTransport) IsConnected() bool { return m.next.IsConnected() }

func (m *middlewareTransport) Info() string { return m.next.Info() }

func (m *middlewareTransport) Unwrap() Transport { return m.next }

// Ready passes through the wrapped transport's signal. Transports without one
// get a nil channel, which never fires, and consumers fall back to polling.
func (m *middlewareTransport) Ready() <-chan struct{} {
	if n, ok := m.next.(Notifier); ok {
		return n.Ready()
	}
	return nil
}

// ObservabilityMiddleware logs, counts and traces outbound requests and notifications
type ObservabilityMiddleware struct {
	logger  logging.Logger
	metrics observability.MetricsProvider
	tracing *observability.TracingProvider
}

func NewObservabilityMiddleware(logger logging.Logger, metrics observability.MetricsProvider, tracing *observability.TracingProvider) *ObservabilityMiddleware {
	if logger == nil {
		logger = logging.Nop()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics()
	}
	if tracing == nil {
		tracing = observability.NoopTracing()
	}
	return &ObservabilityMiddleware{
		logger:  logger.WithFields(logging.String("component", "transport")),
		metrics: metrics,
		tracing: tracing,
	}
}

func (om *ObservabilityMiddleware) Wrap(t Transport) Transport {
	return &observabilityTransport{
		middlewareTransport: middlewareTransport{next: t},
		om:                  om,
	}
}

type observabilityTransport struct {
	middlewareTransport
	om *ObservabilityMiddleware
}

func (ot *observabilityTransport) SendRequest(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	ctx, span := ot.om.tracing.StartSpan(ctx, req.Method, trace.SpanKindClient,
		attribute.String("mcp.request.id", protocol.IDKey(req.ID)),
		attribute.String("mcp.transport", ot.next.Info()),
	)
	defer span.End()

	start := time.Now()
	resp, err := ot.next.SendRequest(ctx, req)
	duration := time.Since(start)

	// a JSON-RPC error reply still counts as a failed call
	status := observability.StatusOf(err)
	if err == nil && resp != nil && resp.Error != nil {
		status = observability.StatusError
		span.SetAttributes(attribute.Int("mcp.error.code", int(resp.Error.Code)))
	}
	ot.om.metrics.RecordRequest(ctx, req.Method, status, duration)

	logger := ot.om.logger.WithFields(
		logging.String("method", req.Method),
		logging.String("id", protocol.IDKey(req.ID)),
		logging.Duration("duration", duration),
	)
	if err != nil {
		ot.om.tracing.RecordError(ctx, err)
		logger.WithError(err).Debug("request failed")
		return nil, err
	}
	logger.Debug("request completed", logging.String("status", status))
	return resp, nil
}

func (ot *observabilityTransport) SendNotification(ctx context.Context, n *protocol.Notification) error {
	ctx, span := ot.om.tracing.StartSpan(ctx, n.Method, trace.SpanKindProducer)
	defer span.End()

	err := ot.next.SendNotification(ctx, n)
	if err != nil {
		ot.om.tracing.RecordError(ctx, err)
		ot.om.logger.WithError(err).Debug("notification failed", logging.String("method", n.Method))
		return err
	}
	ot.om.metrics.RecordNotification(ctx, n.Method, observability.DirectionOutbound)
	return nil
}
