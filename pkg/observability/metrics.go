// Package observability provides Prometheus metrics and OpenTelemetry tracing
// for sessions, transports and servers.
package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
)

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Notification directions
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// MetricsProvider records runtime metrics. Implementations must be safe for concurrent use.
type MetricsProvider interface {
	// RecordRequest records a request sent by a client
	RecordRequest(ctx context.Context, method, status string, duration time.Duration)
	// RecordIncomingRequest records a request dispatched by a server
	RecordIncomingRequest(ctx context.Context, method, status string, duration time.Duration)
	RecordNotification(ctx context.Context, method, direction string)

	// RecordConnectionState marks state as the current client connection state
	RecordConnectionState(ctx context.Context, state string)
	RecordActivePeers(ctx context.Context, delta int)
	RecordReconnectAttempt(ctx context.Context, outcome string)
	RecordBroadcast(ctx context.Context, delivered, removed int)
	RecordError(ctx context.Context, kind string)
}

var connectionStates = []string{"Disconnected", "Connecting", "Connected", "Reconnecting", "Failed"}

// PrometheusMetrics implements MetricsProvider on a private registry
type PrometheusMetrics struct {
	registry *prometheus.Registry

	requestDuration         *prometheus.HistogramVec
	requestTotal            *prometheus.CounterVec
	incomingRequestDuration *prometheus.HistogramVec
	incomingRequestTotal    *prometheus.CounterVec
	notificationTotal       *prometheus.CounterVec
	connectionState         *prometheus.GaugeVec
	activePeers             prometheus.Gauge
	reconnectTotal          *prometheus.CounterVec
	broadcastDelivered      prometheus.Counter
	broadcastRemoved        prometheus.Counter
	errorTotal              *prometheus.CounterVec
}

// NewPrometheusMetrics builds and registers every collector.
// Buckets default to milliseconds from 1 to 10000.
func NewPrometheusMetrics(cfg config.MetricsConfig) (*PrometheusMetrics, error) {
	if cfg.Namespace == "" {
		cfg.Namespace = "mcp"
	}
	buckets := cfg.HistogramBuckets
	if len(buckets) == 0 {
		buckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	}

	ns, sub := cfg.Namespace, cfg.Subsystem
	p := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),

		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "request_duration_milliseconds",
			Help:      "Duration of outgoing requests in milliseconds",
			Buckets:   buckets,
		}, []string{"method", "status"}),
		requestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "request_total",
			Help:      "Total number of outgoing requests",
		}, []string{"method", "status"}),
		incomingRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "incoming_request_duration_milliseconds",
			Help:      "Duration of request dispatch in milliseconds",
			Buckets:   buckets,
		}, []string{"method", "status"}),
		incomingRequestTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "incoming_request_total",
			Help:      "Total number of dispatched requests",
		}, []string{"method", "status"}),
		notificationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "notification_total",
			Help:      "Total number of notifications by direction",
		}, []string{"method", "direction"}),
		connectionState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "connection_state",
			Help:      "Current client connection state (1 = current)",
		}, []string{"state"}),
		activePeers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "active_peers",
			Help:      "Number of peers registered with a server transport",
		}),
		reconnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts by outcome",
		}, []string{"outcome"}),
		broadcastDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "broadcast_delivered_total",
			Help:      "Notifications delivered to peers by broadcast",
		}),
		broadcastRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "broadcast_removed_peers_total",
			Help:      "Peers removed after a failed broadcast send",
		}),
		errorTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Subsystem: sub,
			Name:      "error_total",
			Help:      "Errors by kind",
		}, []string{"kind"}),
	}

	cs := []prometheus.Collector{
		p.requestDuration,
		p.requestTotal,
		p.incomingRequestDuration,
		p.incomingRequestTotal,
		p.notificationTotal,
		p.connectionState,
		p.activePeers,
		p.reconnectTotal,
		p.broadcastDelivered,
		p.broadcastRemoved,
		p.errorTotal,
		collectors.NewGoCollector(),
	}
	for _, c := range cs {
		if err := p.registry.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				return nil, err
			}
		}
	}
	return p, nil
}

// Registry exposes the private registry, mainly for tests
func (p *PrometheusMetrics) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus text format
func (p *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

func (p *PrometheusMetrics) RecordRequest(_ context.Context, method, status string, duration time.Duration) {
	p.requestDuration.WithLabelValues(method, status).Observe(millis(duration))
	p.requestTotal.WithLabelValues(method, status).Inc()
}

func (p *PrometheusMetrics) RecordIncomingRequest(_ context.Context, method, status string, duration time.Duration) {
	p.incomingRequestDuration.WithLabelValues(method, status).Observe(millis(duration))
	p.incomingRequestTotal.WithLabelValues(method, status).Inc()
}

func (p *PrometheusMetrics) RecordNotification(_ context.Context, method, direction string) {
	p.notificationTotal.WithLabelValues(method, direction).Inc()
}

func (p *PrometheusMetrics) RecordConnectionState(_ context.Context, state string) {
	for _, s := range connectionStates {
		p.connectionState.WithLabelValues(s).Set(0)
	}
	p.connectionState.WithLabelValues(state).Set(1)
}

func (p *PrometheusMetrics) RecordActivePeers(_ context.Context, delta int) {
	p.activePeers.Add(float64(delta))
}

func (p *PrometheusMetrics) RecordReconnectAttempt(_ context.Context, outcome string) {
	p.reconnectTotal.WithLabelValues(outcome).Inc()
}

func (p *PrometheusMetrics) RecordBroadcast(_ context.Context, delivered, removed int) {
	p.broadcastDelivered.Add(float64(delivered))
	p.broadcastRemoved.Add(float64(removed))
}

func (p *PrometheusMetrics) RecordError(_ context.Context, kind string) {
	p.errorTotal.WithLabelValues(kind).Inc()
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// StatusOf returns StatusError for a non-nil error
func StatusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}

type noopMetrics struct{}

// NoopMetrics returns a MetricsProvider that records nothing
func NoopMetrics() MetricsProvider { return noopMetrics{} }

func (noopMetrics) RecordRequest(context.Context, string, string, time.Duration) {}
func (noopMetrics) RecordIncomingRequest(context.Context, string, string, time.Duration) {}
func (noopMetrics) RecordNotification(context.Context, string, string) {}
func (noopMetrics) RecordConnectionState(context.Context, string) {}
func (noopMetrics) RecordActivePeers(context.Context, int) {}
func (noopMetrics) RecordReconnectAttempt(context.Context, string) {}
func (noopMetrics) RecordBroadcast(context.Context, int, int) {}
func (noopMetrics) RecordError(context.Context, string) {}
