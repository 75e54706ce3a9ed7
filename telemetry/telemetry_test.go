package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"

	"splice.sh/core/pipeline"
	"splice.sh/core/splice/engine"
)

func testTelemetry(t *testing.T) (*Telemetry, *metric.ManualReader) {
	t.Helper()
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	tp := trace.NewTracerProvider()

	tel, err := newTelemetry(tp, mp, "splice-test", "dev")
	require.NoError(t, err)
	t.Cleanup(func() { tel.Shutdown(context.Background()) })
	return tel, reader
}

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestObserveStep(t *testing.T) {
	tel, reader := testTelemetry(t)

	ctx := context.Background()
	tel.ObserveStep(ctx, pipeline.ToolFFmpeg, 20*time.Millisecond, nil)
	tel.ObserveStep(ctx, pipeline.ToolFFmpeg, time.Second, engine.ErrTimedOut)

	metrics := collect(t, reader)
	require.Contains(t, metrics, "steps_total")
	require.Contains(t, metrics, "step_duration_millis")

	sum, ok := metrics["steps_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, sum.DataPoints, 2, "one series per outcome")
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "success", outcome(nil))
	assert.Equal(t, "timeout", outcome(&engine.StepError{Step: 1, Err: engine.ErrTimedOut}))
	assert.Equal(t, "failed", outcome(&engine.ToolError{Tool: "sox"}))
	assert.Equal(t, "unavailable", outcome(engine.ErrToolUnavailable))
	assert.Equal(t, "error", outcome(context.Canceled))
}

func TestRequestMiddleware(t *testing.T) {
	tel, reader := testTelemetry(t)

	r := chi.NewRouter()
	r.Use(tel.RequestInFlight())
	r.Use(tel.RequestDuration())
	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	rec := httptest.NewRecorder()
	tel.Handler(r, "test").ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/abc", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	metrics := collect(t, reader)
	require.Contains(t, metrics, "request_duration_millis")

	hist, ok := metrics["request_duration_millis"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	route, ok := hist.DataPoints[0].Attributes.Value("http.route")
	require.True(t, ok)
	assert.Equal(t, "/runs/{id}", route.AsString())
}

func TestNewProviders(t *testing.T) {
	ctx := context.Background()

	tp, mp, err := NewProviders(ctx, resource.Empty(), ExporterStdout)
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(ctx))
	assert.NoError(t, mp.Shutdown(ctx))

	_, _, err = NewProviders(ctx, resource.Empty(), Exporter("carrier-pigeon"))
	assert.ErrorContains(t, err, `unknown telemetry exporter "carrier-pigeon"`)
}
