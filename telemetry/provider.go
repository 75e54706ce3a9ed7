package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

// Exporter selects where spans and metrics are sent.
type Exporter string

const (
	// ExporterStdout pretty-prints to stdout, for local runs.
	ExporterStdout Exporter = "stdout"
	// ExporterOTLP ships over gRPC, configured by the standard
	// OTEL_EXPORTER_OTLP_* variables.
	ExporterOTLP Exporter = "otlp"
)

const (
	spanBatchTimeout = time.Second
	metricInterval   = 10 * time.Second
)

func newSpanExporter(ctx context.Context, exp Exporter) (trace.SpanExporter, error) {
	switch exp {
	case ExporterStdout:
		return stdouttrace.New()
	case ExporterOTLP:
		return otlptracegrpc.New(ctx)
	}
	return nil, fmt.Errorf("unknown telemetry exporter %q", exp)
}

func newMetricExporter(ctx context.Context, exp Exporter) (metric.Exporter, error) {
	switch exp {
	case ExporterStdout:
		return stdoutmetric.New()
	case ExporterOTLP:
		return otlpmetricgrpc.New(ctx)
	}
	return nil, fmt.Errorf("unknown telemetry exporter %q", exp)
}

// NewProviders builds a tracer and a meter provider that both report
// res through exp, and installs them as the global providers.
func NewProviders(ctx context.Context, res *resource.Resource, exp Exporter) (*trace.TracerProvider, *metric.MeterProvider, error) {
	spans, err := newSpanExporter(ctx, exp)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create %s trace exporter: %w", exp, err)
	}
	tp := trace.NewTracerProvider(
		trace.WithBatcher(spans, trace.WithBatchTimeout(spanBatchTimeout)),
		trace.WithResource(res),
	)

	metrics, err := newMetricExporter(ctx, exp)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, fmt.Errorf("failed to create %s metric exporter: %w", exp, err)
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metrics, metric.WithInterval(metricInterval))),
		metric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	return tp, mp, nil
}
