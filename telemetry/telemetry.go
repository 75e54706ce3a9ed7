package telemetry

import (
	"context"
	"errors"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

type Telemetry struct {
	tp *trace.TracerProvider
	mp *metric.MeterProvider

	meter  otelmetric.Meter
	tracer oteltrace.Tracer

	serviceName    string
	serviceVersion string

	steps *stepInstruments
}

// NewTelemetry exports to stdout in dev mode and over OTLP otherwise.
func NewTelemetry(ctx context.Context, serviceName, serviceVersion string, isDev bool) (*Telemetry, error) {
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(serviceVersion),
	)

	exp := ExporterOTLP
	if isDev {
		exp = ExporterStdout
	}

	tp, mp, err := NewProviders(ctx, res, exp)
	if err != nil {
		return nil, err
	}

	return newTelemetry(tp, mp, serviceName, serviceVersion)
}

func newTelemetry(tp *trace.TracerProvider, mp *metric.MeterProvider, serviceName, serviceVersion string) (*Telemetry, error) {
	t := &Telemetry{
		tp: tp,
		mp: mp,

		meter:  mp.Meter(serviceName),
		tracer: tp.Tracer(serviceName, oteltrace.WithInstrumentationVersion(serviceVersion)),

		serviceName:    serviceName,
		serviceVersion: serviceVersion,
	}

	steps, err := newStepInstruments(t.meter)
	if err != nil {
		return nil, err
	}
	t.steps = steps

	return t, nil
}

func (t *Telemetry) Meter() otelmetric.Meter {
	return t.meter
}

func (t *Telemetry) Tracer() oteltrace.Tracer {
	return t.tracer
}

func (t *Telemetry) TraceStart(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	return t.tracer.Start(ctx, name)
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.tp.Shutdown(ctx),
		t.mp.Shutdown(ctx),
	)
}
