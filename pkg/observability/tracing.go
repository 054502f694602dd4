package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ajitpratap0/mcp-runtime-go/pkg/config"
	mcperrors "github.com/ajitpratap0/mcp-runtime-go/pkg/errors"
)

const tracerName = "github.com/ajitpratap0/mcp-runtime-go"

// TracingProvider creates spans around requests, notifications and dispatch
type TracingProvider struct {
	tracer   trace.Tracer
	service  string
	shutdown func(context.Context) error
}

// NewTracingProvider builds a provider from cfg. A disabled config yields a
// no-op provider; otherwise an SDK tracer provider with a batching exporter
// is installed as the global provider.
func NewTracingProvider(cfg config.TracingConfig) (*TracingProvider, error) {
	if !cfg.Enabled {
		return NoopTracing(), nil
	}

	exporter, err := createExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(createSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &TracingProvider{
		tracer:   tp.Tracer(tracerName),
		service:  cfg.ServiceName,
		shutdown: tp.Shutdown,
	}, nil
}

// NewTracingProviderFrom wraps an existing tracer provider, for example one
// backed by an in-memory span recorder.
func NewTracingProviderFrom(tp trace.TracerProvider, service string) *TracingProvider {
	return &TracingProvider{tracer: tp.Tracer(tracerName), service: service}
}

// NoopTracing returns a provider whose spans are never recorded
func NoopTracing() *TracingProvider {
	return &TracingProvider{tracer: noop.NewTracerProvider().Tracer(tracerName)}
}

func createExporter(cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case config.ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithHeaders(cfg.Headers),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	case config.ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.Endpoint),
			otlptracehttp.WithHeaders(cfg.Headers),
		}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))
	case config.ExporterNoop:
		return noopExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.Exporter)
	}
}

func createSampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

// StartSpan starts a span named after an MCP method
func (tp *TracingProvider) StartSpan(ctx context.Context, method string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("mcp.method", method))
	if tp.service != "" {
		attrs = append(attrs, attribute.String("mcp.service", tp.service))
	}
	return tp.tracer.Start(ctx, "mcp."+method, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// RecordError marks the span in ctx as failed. MCP errors also record their kind and code.
func (tp *TracingProvider) RecordError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		span.SetAttributes(
			attribute.String("mcp.error.kind", mcpErr.Kind().String()),
			attribute.Int("mcp.error.code", mcpErr.Code()),
		)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Shutdown flushes and stops the exporter, if any
func (tp *TracingProvider) Shutdown(ctx context.Context) error {
	if tp.shutdown == nil {
		return nil
	}
	return tp.shutdown(ctx)
}

type noopExporter struct{}

func (noopExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (noopExporter) Shutdown(context.Context) error { return nil }
