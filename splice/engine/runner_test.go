package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"splice.sh/core/pipeline"
)

func TestRunnerSuccess(t *testing.T) {
	r := NewRunner(context.Background(), WithBinary(pipeline.ToolSox, "echo"))

	out, err := r.Run(context.Background(), pipeline.ToolSox, []string{"hello", "world"}, "", time.Second*10)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", out.Stdout)
	assert.Empty(t, out.Stderr)
}

func TestRunnerNoShell(t *testing.T) {
	r := NewRunner(context.Background(), WithBinary(pipeline.ToolSox, "echo"))

	out, err := r.Run(context.Background(), pipeline.ToolSox, []string{"$HOME;", "`id`", "|", "cat"}, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "$HOME; `id` | cat\n", out.Stdout)
}

func TestRunnerFailure(t *testing.T) {
	r := NewRunner(context.Background(), WithBinary(pipeline.ToolFFmpeg, "ls"))

	out, err := r.Run(context.Background(), pipeline.ToolFFmpeg, []string{"/splice-test-does-not-exist"}, "", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolFailed)

	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.NotZero(t, te.ExitCode)
	assert.Equal(t, "an input file does not exist or its path is unusable", te.Message)
	assert.Contains(t, out.Stderr, "No such file or directory")
}

func TestRunnerEmptyStderr(t *testing.T) {
	r := NewRunner(context.Background(), WithBinary(pipeline.ToolMagick, "false"))

	_, err := r.Run(context.Background(), pipeline.ToolMagick, nil, "", 0)

	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "exit code 1", te.Message)
}

func TestRunnerTimeout(t *testing.T) {
	r := NewRunner(context.Background(), WithBinary(pipeline.ToolSox, "sleep"))

	start := time.Now()
	_, err := r.Run(context.Background(), pipeline.ToolSox, []string{"30"}, "", 200*time.Millisecond)

	assert.ErrorIs(t, err, ErrTimedOut)
	assert.False(t, errors.Is(err, ErrToolFailed))
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestRunnerCancelled(t *testing.T) {
	r := NewRunner(context.Background(), WithBinary(pipeline.ToolSox, "sleep"))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err := r.Run(ctx, pipeline.ToolSox, []string{"30"}, "", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrTimedOut))
}

func TestRunnerUnavailable(t *testing.T) {
	r := NewRunner(context.Background(),
		WithBinary(pipeline.ToolMagick, "splice-test-no-such-binary"),
		WithBinary(pipeline.ToolSox, "/splice-test/no/such/binary"),
	)

	_, err := r.Run(context.Background(), pipeline.ToolMagick, []string{"x"}, "", 0)
	assert.ErrorIs(t, err, ErrToolUnavailable)
	assert.Contains(t, err.Error(), "not installed or not on PATH")

	_, err = r.Run(context.Background(), pipeline.ToolSox, []string{"x"}, "", 0)
	assert.ErrorIs(t, err, ErrToolUnavailable)

	_, err = r.Run(context.Background(), pipeline.Tool("bash"), []string{"-c", "id"}, "", 0)
	assert.ErrorIs(t, err, ErrToolUnavailable)
}

func TestRunnerWorkingDir(t *testing.T) {
	dir := t.TempDir()
	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	r := NewRunner(context.Background(), WithBinary(pipeline.ToolSox, "pwd"))
	out, err := r.Run(context.Background(), pipeline.ToolSox, []string{"-P"}, dir, 0)
	require.NoError(t, err)
	assert.Equal(t, want+"\n", out.Stdout)
}
