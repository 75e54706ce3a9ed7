package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"

	"splice.sh/core/log"
	"splice.sh/core/pipeline"
	"splice.sh/core/splice/models"
)

type ToolRunner interface {
	Run(ctx context.Context, tool pipeline.Tool, args []string, dir string, timeout time.Duration) (Output, error)
}

// StepObserver is told about every step that reached the runner.
type StepObserver interface {
	ObserveStep(ctx context.Context, tool pipeline.Tool, d time.Duration, err error)
}

type Executor struct {
	l        *slog.Logger
	runner   ToolRunner
	timeout  time.Duration
	observer StepObserver
}

type ExecutorOpt func(*Executor)

func WithStepTimeout(d time.Duration) ExecutorOpt {
	return func(e *Executor) {
		e.timeout = d
	}
}

func WithObserver(o StepObserver) ExecutorOpt {
	return func(e *Executor) {
		e.observer = o
	}
}

func NewExecutor(ctx context.Context, runner ToolRunner, opts ...ExecutorOpt) *Executor {
	e := &Executor{
		l:       log.FromContext(ctx).With("component", "executor"),
		runner:  runner,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Result is the final output of a successful execution. Path lies
// inside the workspace handed to Execute.
type Result struct {
	Path string
	Name string
	Ext  string
}

type executeOpts struct {
	runLogger *models.RunLogger
}

type ExecuteOpt func(*executeOpts)

// WithRunLogger mirrors each step's command line and output into a
// run log.
func WithRunLogger(l *models.RunLogger) ExecuteOpt {
	return func(o *executeOpts) {
		o.runLogger = l
	}
}

// Execute validates cmd against the ids in table and then runs its
// steps in order inside workspace. Nothing is spawned for a rejected
// command. The first failing step aborts the run with a *StepError.
// table is not modified; the caller owns workspace and removes it.
func (e *Executor) Execute(ctx context.Context, cmd pipeline.Command, table pipeline.Table, workspace string, opts ...ExecuteOpt) (Result, error) {
	var o executeOpts
	for _, opt := range opts {
		opt(&o)
	}

	if err := pipeline.Validate(cmd, table.IDs()); err != nil {
		return Result{}, err
	}

	workspace, err := filepath.Abs(workspace)
	if err != nil {
		return Result{}, fmt.Errorf("%w: workspace: %v", ErrInternal, err)
	}

	paths := table.Clone()
	var res Result

	for i, step := range cmd.Steps {
		pos := i + 1
		last := pos == len(cmd.Steps)

		ext := strings.ToLower(step.OutputExt)
		name := fmt.Sprintf("%s.%s", pipeline.StepID(pos), ext)
		if last {
			name = "output." + ext
		}

		outPath, err := securejoin.SecureJoin(workspace, name)
		if err != nil {
			return Result{}, &StepError{Step: pos, Err: fmt.Errorf("%w: output path: %v", ErrInternal, err)}
		}

		if missing := pipeline.Unresolved(step, paths); len(missing) > 0 {
			return Result{}, &StepError{Step: pos, Err: fmt.Errorf("%w: unresolved references %s", ErrInternal, strings.Join(missing, ", "))}
		}

		args := pipeline.ResolveArgs(step, paths, outPath)
		if err := e.runStep(ctx, pos, step.Tool, args, workspace, outPath, o.runLogger); err != nil {
			return Result{}, &StepError{Step: pos, Err: err}
		}

		paths[pipeline.StepID(pos)] = outPath
		res = Result{Path: outPath, Name: name, Ext: ext}
	}

	e.l.With(log.RunAttrs(ctx)...).Info("pipeline finished", "steps", len(cmd.Steps), "output", res.Name)
	return res, nil
}

func (e *Executor) runStep(ctx context.Context, pos int, tool pipeline.Tool, args []string, workspace, outPath string, rl *models.RunLogger) error {
	commandLine := string(tool) + " " + strings.Join(args, " ")
	l := e.l.With(log.RunAttrs(ctx)...).With("step", pos, "tool", tool)
	l.Info("running step")

	if rl != nil {
		if err := rl.StepStarted(pos, commandLine); err != nil {
			l.Warn("failed to write run log", "error", err)
		}
	}

	// the workspace is the only place a step may write to
	out, err := e.runner.Run(ctx, tool, args, workspace, e.timeout)
	if err == nil {
		if _, statErr := os.Stat(outPath); statErr != nil {
			err = fmt.Errorf("%w: %s produced no output file", ErrToolFailed, tool)
		}
	}

	if e.observer != nil {
		e.observer.ObserveStep(ctx, tool, out.Duration, err)
	}

	if rl != nil {
		writeOutput(rl.DataWriter(pos, "stdout"), out.Stdout)
		writeOutput(rl.DataWriter(pos, "stderr"), out.Stderr)
		if logErr := rl.StepFinished(pos, commandLine, err); logErr != nil {
			l.Warn("failed to write run log", "error", logErr)
		}
	}

	if err != nil {
		l.Error("step failed", "error", err)
		return err
	}
	return nil
}

func writeOutput(w io.Writer, s string) {
	if s == "" {
		return
	}
	_, _ = io.WriteString(w, s)
}

// Failure splits an execution error into the failing step (0 when the
// error is not step-local) and the underlying cause.
func Failure(err error) (int, error) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, se.Err
	}
	var re *pipeline.RejectError
	if errors.As(err, &re) {
		return re.Step, err
	}
	return 0, err
}
