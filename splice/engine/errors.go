package engine

import (
	"errors"
	"fmt"
)

var (
	ErrTimedOut        = errors.New("timed out")
	ErrToolFailed      = errors.New("tool failed")
	ErrToolUnavailable = errors.New("tool unavailable")
	ErrInternal        = errors.New("internal error")
)

// ToolError describes a tool that ran and exited non-zero.
type ToolError struct {
	Tool     string
	ExitCode int
	// Message is the classified, user-facing explanation.
	Message string
	Stderr  string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Tool, e.Message)
}

func (e *ToolError) Is(target error) bool {
	return target == ErrToolFailed
}

// StepError localizes a failure to the 1-based step that caused it.
type StepError struct {
	Step int
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
