// Package local runs pipeline files without a server: validation for
// authoring and one-shot execution against files on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"

	"splice.sh/core/log"
	"splice.sh/core/pipeline"
	"splice.sh/core/splice/engine"
	"splice.sh/core/splice/models"
)

func ValidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "check a pipeline file without running it",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "id",
				Usage: "reference id available to the first step (repeatable)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one pipeline file")
			}
			return Validate(writer(cmd), cmd.Args().First(), cmd.StringSlice("id"))
		},
	}
}

func RunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "execute a pipeline file against local inputs",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:  "input",
				Usage: "input as id=path (repeatable)",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "directory to write the final output to",
				Value: ".",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "per-step timeout",
				Value: engine.DefaultTimeout,
			},
			&cli.StringFlag{
				Name:  "log-dir",
				Usage: "write a JSON-lines step log here",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected exactly one pipeline file")
			}

			table, err := ParseInputs(cmd.StringSlice("input"))
			if err != nil {
				return err
			}

			return Run(ctx, writer(cmd), engine.NewRunner(ctx), RunOpts{
				File:    cmd.Args().First(),
				Inputs:  table,
				OutDir:  cmd.String("out"),
				Timeout: cmd.Duration("timeout"),
				LogDir:  cmd.String("log-dir"),
			})
		},
	}
}

var stepIDPattern = regexp.MustCompile(`(?i)^step-[0-9]+$`)

func writer(cmd *cli.Command) io.Writer {
	if w := cmd.Root().Writer; w != nil {
		return w
	}
	return os.Stdout
}

func load(path string) (pipeline.Command, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Command{}, err
	}
	cmd, err := pipeline.FromFile(b)
	if err != nil {
		return cmd, fmt.Errorf("%s: %w", path, err)
	}
	return cmd, nil
}

// Validate reports whether the pipeline in path would be accepted with
// ids available to its first step.
func Validate(w io.Writer, path string, ids []string) error {
	cmd, err := load(path)
	if err != nil {
		return err
	}

	if err := pipeline.Validate(cmd, pipeline.NewIDSet(ids...)); err != nil {
		var reject *pipeline.RejectError
		if errors.As(err, &reject) {
			fmt.Fprintf(w, "rejected (%s): %s\n", reject.Kind, reject.Error())
		}
		return err
	}

	fmt.Fprintf(w, "ok: %d step(s)\n", len(cmd.Steps))
	return nil
}

// ParseInputs turns id=path pairs into an execution table with
// absolute paths.
func ParseInputs(pairs []string) (pipeline.Table, error) {
	table := pipeline.Table{}
	for _, pair := range pairs {
		id, path, ok := strings.Cut(pair, "=")
		if !ok || id == "" || path == "" {
			return nil, fmt.Errorf("invalid input %q, expected id=path", pair)
		}
		if stepIDPattern.MatchString(id) {
			return nil, fmt.Errorf("input id %q is reserved for step outputs", id)
		}
		if _, dup := table[id]; dup {
			return nil, fmt.Errorf("duplicate input id %q", id)
		}

		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("input %s: %w", id, err)
		}
		table[id] = abs
	}
	return table, nil
}

type RunOpts struct {
	File    string
	Inputs  pipeline.Table
	OutDir  string
	Timeout time.Duration
	LogDir  string
}

// Run executes a pipeline file in a scratch workspace and copies the
// final output into opts.OutDir.
func Run(ctx context.Context, w io.Writer, runner engine.ToolRunner, opts RunOpts) error {
	l := log.FromContext(ctx)

	cmd, err := load(opts.File)
	if err != nil {
		return err
	}

	ws, err := os.MkdirTemp("", "splice-run-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(ws)

	id := filepath.Base(ws)
	ctx, l = log.ForRun(ctx, id)

	var execOpts []engine.ExecuteOpt
	if opts.LogDir != "" {
		rl, err := models.NewRunLogger(opts.LogDir, id)
		if err != nil {
			return err
		}
		defer rl.Close()
		execOpts = append(execOpts, engine.WithRunLogger(rl))
		l.Info("writing step log", "path", models.LogFilePath(opts.LogDir, id))
	}

	var executorOpts []engine.ExecutorOpt
	if opts.Timeout > 0 {
		executorOpts = append(executorOpts, engine.WithStepTimeout(opts.Timeout))
	}
	exec := engine.NewExecutor(ctx, runner, executorOpts...)
	res, err := exec.Execute(ctx, cmd, opts.Inputs, ws, execOpts...)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(opts.OutDir, 0755); err != nil {
		return err
	}
	dst, err := securejoin.SecureJoin(opts.OutDir, res.Name)
	if err != nil {
		return err
	}
	n, err := copyFile(res.Path, dst)
	if err != nil {
		return fmt.Errorf("copying output: %w", err)
	}

	fmt.Fprintf(w, "wrote %s (%s)\n", dst, humanize.Bytes(uint64(n)))
	return nil
}

func copyFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(out, in)
	if err != nil {
		out.Close()
		return n, err
	}
	return n, out.Close()
}
