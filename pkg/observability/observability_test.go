package observability

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
)

func TestPrometheusMetrics(t *testing.T) {
	m, err := NewPrometheusMetrics(config.DefaultMetricsConfig())
	require.NoError(t, err)
	ctx := context.Background()

	m.RecordRequest(ctx, "ping", StatusSuccess, 3*time.Millisecond)
	m.RecordRequest(ctx, "ping", StatusSuccess, 5*time.Millisecond)
	m.RecordRequest(ctx, "tools/call", StatusError, time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("ping", StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestTotal.WithLabelValues("tools/call", StatusError)))

	m.RecordConnectionState(ctx, "Connecting")
	m.RecordConnectionState(ctx, "Connected")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connectionState.WithLabelValues("Connected")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.connectionState.WithLabelValues("Connecting")))

	m.RecordActivePeers(ctx, 3)
	m.RecordActivePeers(ctx, -1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activePeers))

	m.RecordBroadcast(ctx, 2, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.broadcastRemoved))
}

func TestPrometheusHandler(t *testing.T) {
	m, err := NewPrometheusMetrics(config.MetricsConfig{Namespace: "test"})
	require.NoError(t, err)
	m.RecordNotification(context.Background(), "notifications/progress", DirectionInbound)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `test_notification_total{direction="inbound",method="notifications/progress"} 1`)
}

func TestNewPrometheusMetricsTwice(t *testing.T) {
	// private registries never collide
	_, err := NewPrometheusMetrics(config.DefaultMetricsConfig())
	require.NoError(t, err)
	_, err = NewPrometheusMetrics(config.DefaultMetricsConfig())
	require.NoError(t, err)
}

func TestTracingRecordsErrors(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := NewTracingProviderFrom(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)), "svc")

	ctx, span := tp.StartSpan(context.Background(), "tools/call", trace.SpanKindServer)
	tp.RecordError(ctx, mcperrors.ToolNotFound("echo"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "mcp.tools/call", spans[0].Name())
	assert.Len(t, spans[0].Events(), 1)

	var kind string
	for _, a := range spans[0].Attributes() {
		if a.Key == "mcp.error.kind" {
			kind = a.Value.AsString()
		}
	}
	assert.Equal(t, "ToolNotFound", kind)
}

func TestNoopTracing(t *testing.T) {
	tp, err := NewTracingProvider(config.DefaultTracingConfig())
	require.NoError(t, err)
	ctx, span := tp.StartSpan(context.Background(), "ping", trace.SpanKindClient)
	tp.RecordError(ctx, assert.AnError)
	span.End()
	assert.False(t, span.IsRecording())
	assert.NoError(t, tp.Shutdown(context.Background()))
}

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics()
	m.RecordRequest(context.Background(), "ping", StatusOf(nil), time.Millisecond)
	assert.Equal(t, StatusError, StatusOf(assert.AnError))
}
