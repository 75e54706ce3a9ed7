package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"splice.sh/core/pipeline"
	"splice.sh/core/splice/engine"
)

type stepInstruments struct {
	duration otelmetric.Int64Histogram
	total    otelmetric.Int64Counter
}

func newStepInstruments(meter otelmetric.Meter) (*stepInstruments, error) {
	duration, err := meter.Int64Histogram(
		"step_duration_millis",
		otelmetric.WithDescription("Wall-clock time of a single pipeline step, in milliseconds."),
		otelmetric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	total, err := meter.Int64Counter(
		"steps_total",
		otelmetric.WithDescription("Number of pipeline steps executed, by tool and outcome."),
		otelmetric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &stepInstruments{duration: duration, total: total}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, engine.ErrTimedOut):
		return "timeout"
	case errors.Is(err, engine.ErrToolUnavailable):
		return "unavailable"
	case errors.Is(err, engine.ErrToolFailed):
		return "failed"
	default:
		return "error"
	}
}

// ObserveStep implements engine.StepObserver.
func (t *Telemetry) ObserveStep(ctx context.Context, tool pipeline.Tool, d time.Duration, err error) {
	attrs := otelmetric.WithAttributes(
		attribute.String("tool", string(tool)),
		attribute.String("outcome", outcome(err)),
	)
	t.steps.duration.Record(ctx, d.Milliseconds(), attrs)
	t.steps.total.Add(ctx, 1, attrs)
}

var _ engine.StepObserver = (*Telemetry)(nil)
