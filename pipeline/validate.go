package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	outputExtPattern = regexp.MustCompile(`^[A-Za-z0-9]{2,6}$`)
	drivePattern     = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
	stepIDPattern    = regexp.MustCompile(`^step-[0-9]+$`)
)

type RejectKind string

const (
	SchemaViolation  RejectKind = "schema_violation"
	UnknownReference RejectKind = "unknown_reference"
	UnsafePath       RejectKind = "unsafe_path"
)

var ErrRejected = errors.New("pipeline rejected")

// RejectError reports the first step that failed validation. Step is
// 1-based; 0 means the command as a whole was rejected.
type RejectError struct {
	Step   int
	Kind   RejectKind
	Reason string
}

func (e *RejectError) Error() string {
	if e.Step == 0 {
		return e.Reason
	}
	return fmt.Sprintf("step %d: %s", e.Step, e.Reason)
}

func (e *RejectError) Is(target error) bool {
	return target == ErrRejected
}

func reject(step int, kind RejectKind, format string, a ...any) *RejectError {
	return &RejectError{Step: step, Kind: kind, Reason: fmt.Sprintf(format, a...)}
}

// Validate checks every step of cmd before anything runs. available
// holds the ids resolvable at step 1; it is not modified. Step ids in
// available are ignored: step-N only ever names the output of step N,
// and becomes available once step N has passed. The returned error, if
// any, is a *RejectError.
func Validate(cmd Command, available IDSet) error {
	if len(cmd.Steps) == 0 {
		return reject(0, SchemaViolation, "no processing steps were generated")
	}

	ids := IDSet{}
	for id := range available {
		if !stepIDPattern.MatchString(id) {
			ids.Add(id)
		}
	}

	for i, step := range cmd.Steps {
		position := i + 1
		if err := validateStep(position, step, ids); err != nil {
			return err
		}
		ids.Add(StepID(position))
	}

	return nil
}

func validateStep(position int, step Step, ids IDSet) *RejectError {
	if !step.Tool.Allowed() {
		return reject(position, SchemaViolation, "unsupported tool %q", step.Tool)
	}

	if len(step.Args) == 0 {
		return reject(position, SchemaViolation, "step has no arguments")
	}

	if !outputExtPattern.MatchString(step.OutputExt) {
		return reject(position, SchemaViolation, "invalid output extension %q", step.OutputExt)
	}

	tokens := Tokenize(step.Args)
	s := scanArgs(tokens)

	switch {
	case s.outputs == 0:
		return reject(position, SchemaViolation, "arguments must contain the %s placeholder", OutputPlaceholder)
	case s.outputs > 1:
		return reject(position, SchemaViolation, "arguments must contain the %s placeholder exactly once", OutputPlaceholder)
	}

	if !s.legacy && len(s.references) == 0 {
		return reject(position, SchemaViolation, "arguments must contain at least one {input:<id>} placeholder")
	}

	if s.legacy && (step.InputFileID == "" || !ids.Has(step.InputFileID)) {
		return reject(position, UnknownReference, "%s requires a valid inputFileId, got %q", LegacyInputPlaceholder, step.InputFileID)
	}

	for _, id := range step.InputFileIDs {
		if !ids.Has(id) {
			return reject(position, UnknownReference, "referenced file does not exist: %s", id)
		}
	}

	for _, id := range s.references {
		if !ids.Has(id) {
			return reject(position, UnknownReference, "referenced file does not exist: %s", id)
		}
	}

	for _, t := range tokens {
		if strings.ContainsAny(t.Text, "\r\n") {
			return reject(position, SchemaViolation, "arguments must not contain line breaks")
		}

		if t.IsPlaceholder() {
			continue
		}

		if isPathLike(t.Text) {
			return reject(position, UnsafePath, "unauthorized path in arguments: %q", t.Text)
		}
	}

	return nil
}

// isPathLike reports whether arg could address a file outside the
// scratch workspace.
func isPathLike(arg string) bool {
	if strings.HasPrefix(arg, "/") || strings.HasPrefix(arg, `\`) || strings.HasPrefix(arg, "~") {
		return true
	}
	if strings.Contains(arg, "../") || strings.Contains(arg, `..\`) || arg == ".." || strings.HasSuffix(arg, "/..") {
		return true
	}
	return drivePattern.MatchString(arg)
}
