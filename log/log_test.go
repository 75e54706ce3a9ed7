package log

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForRun(t *testing.T) {
	var buf bytes.Buffer
	ctx := IntoContext(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	ctx, l := ForRun(ctx, "run-1")
	assert.Same(t, l, FromContext(ctx))
	assert.Equal(t, []any{"run", "run-1"}, RunAttrs(ctx))

	l.Info("step finished")
	assert.Contains(t, buf.String(), "run=run-1")
}

func TestRunAttrsOutsideRun(t *testing.T) {
	assert.Nil(t, RunAttrs(context.Background()))
	assert.Nil(t, RunAttrs(nil))
}

func TestFromContextDefault(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}
