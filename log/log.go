package log

import (
	"context"
	"log/slog"
	"os"

	"github.com/charmbracelet/log"
)

// Debug controls the level of handlers created after it is set. The
// server flips it on in dev mode before building its loggers.
var Debug = false

func NewHandler(name string) slog.Handler {
	level := log.InfoLevel
	if Debug {
		level = log.DebugLevel
	}

	return log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          name,
		Level:           level,
	})
}

func New(name string) *slog.Logger {
	return slog.New(NewHandler(name))
}

func NewContext(ctx context.Context, name string) context.Context {
	return IntoContext(ctx, New(name))
}

type (
	ctxKey struct{}
	runKey struct{}
)

// IntoContext adds a logger to a context. Use FromContext to
// pull the logger out.
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, or the default slog
// logger when there is none.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return slog.Default()
	}

	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// ForRun tags the logger in ctx with a run id and stores it back, so
// everything logged on behalf of that run can be told apart from
// concurrent runs.
func ForRun(ctx context.Context, runID string) (context.Context, *slog.Logger) {
	l := FromContext(ctx).With("run", runID)
	ctx = context.WithValue(ctx, runKey{}, runID)
	return IntoContext(ctx, l), l
}

// RunAttrs returns the run attributes set by ForRun on ctx's logger,
// or nothing when ctx does not belong to a run.
func RunAttrs(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	if id, ok := ctx.Value(runKey{}).(string); ok {
		return []any{"run", id}
	}
	return nil
}

// SubLogger derives a logger whose prefix is base's prefix plus "/suffix".
func SubLogger(base *slog.Logger, suffix string) *slog.Logger {
	if cl, ok := base.Handler().(*log.Logger); ok {
		prefix := cl.GetPrefix()
		if prefix != "" {
			prefix = prefix + "/" + suffix
		} else {
			prefix = suffix
		}
		return slog.New(NewHandler(prefix))
	}

	return slog.New(NewHandler(suffix))
}
