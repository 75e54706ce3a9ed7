package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"splice.sh/core/log"
	"splice.sh/core/pipeline"
)

const (
	DefaultTimeout = 120 * time.Second

	// how long Wait keeps draining pipes after the process was killed
	killGrace = 5 * time.Second
)

type Output struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Runner executes allow-listed tools as child processes, without a
// shell.
type Runner struct {
	l        *slog.Logger
	binaries map[pipeline.Tool]string
}

type RunnerOpt func(*Runner)

// WithBinary overrides the executable used for tool.
func WithBinary(tool pipeline.Tool, path string) RunnerOpt {
	return func(r *Runner) {
		r.binaries[tool] = path
	}
}

func NewRunner(ctx context.Context, opts ...RunnerOpt) *Runner {
	r := &Runner{
		l:        log.FromContext(ctx).With("component", "runner"),
		binaries: make(map[pipeline.Tool]string),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runner) binary(tool pipeline.Tool) (string, bool) {
	if bin, ok := r.binaries[tool]; ok {
		return bin, true
	}
	return string(tool), tool.Allowed()
}

// Run starts tool with args in dir and waits for it. Relative paths in
// args resolve against dir; an empty dir inherits the working
// directory of this process. A zero timeout means DefaultTimeout. When
// the timeout expires the process group is killed and ErrTimedOut is
// returned.
func (r *Runner) Run(ctx context.Context, tool pipeline.Tool, args []string, dir string, timeout time.Duration) (Output, error) {
	var out Output

	bin, ok := r.binary(tool)
	if !ok {
		return out, fmt.Errorf("%w: %q is not an allowed tool", ErrToolUnavailable, tool)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = killGrace
	configureKill(cmd)

	l := r.l.With(log.RunAttrs(ctx)...).With("tool", tool)
	l.Info("exec", "args", strings.Join(args, " "))

	start := time.Now()
	if err := cmd.Start(); err != nil {
		if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			l.Error("tool unavailable", "binary", bin, "error", err)
			return out, fmt.Errorf("%w: %s is not installed or not on PATH", ErrToolUnavailable, tool)
		}
		return out, fmt.Errorf("%w: starting %s: %v", ErrInternal, tool, err)
	}

	err := cmd.Wait()
	out = Output{
		Stdout:   stripANSI(stdout.String()),
		Stderr:   stripANSI(stderr.String()),
		Duration: time.Since(start),
	}

	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		l.Error("exec timed out", "timeout", timeout)
		return out, fmt.Errorf("%w: %s exceeded %s", ErrTimedOut, tool, timeout)
	case ctxErr != nil:
		return out, fmt.Errorf("%s: %w", tool, ctxErr)
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			l.Error("exec failed", "exit_code", code, "stderr", strings.TrimSpace(out.Stderr))
			return out, &ToolError{
				Tool:     string(tool),
				ExitCode: code,
				Message:  Classify(tool, out.Stderr, code),
				Stderr:   out.Stderr,
			}
		}
		return out, fmt.Errorf("%w: waiting for %s: %v", ErrInternal, tool, err)
	}

	if s := strings.TrimSpace(out.Stdout); s != "" {
		l.Debug("exec stdout", "stdout", s)
	}
	if s := strings.TrimSpace(out.Stderr); s != "" {
		l.Debug("exec stderr", "stderr", s)
	}
	l.Info("exec finished", "duration", out.Duration)

	return out, nil
}
