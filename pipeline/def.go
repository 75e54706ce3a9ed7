package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"gopkg.in/yaml.v3"
)

// - a prompt is turned into a Command by the generator
// - a command consists of ordered steps, these execute serially
// - each step runs one external tool and writes exactly one output file
// - step i may consume the outputs of steps 1..i-1 via the ids step-1..step-(i-1)

type Tool string

const (
	ToolFFmpeg Tool = "ffmpeg"
	ToolMagick Tool = "magick"
	ToolSox    Tool = "sox"
)

// Tools is the allow-list of executables a step may name.
var Tools = []Tool{ToolFFmpeg, ToolMagick, ToolSox}

func (t Tool) Allowed() bool {
	return slices.Contains(Tools, t)
}

type (
	Command struct {
		Steps []Step `json:"steps" yaml:"steps"`
	}

	Step struct {
		Tool Tool     `json:"tool" yaml:"tool"`
		Args []string `json:"args" yaml:"args"`

		// legacy single input, used by the bare {input} placeholder
		InputFileID string `json:"inputFileId,omitempty" yaml:"inputFileId"`
		// declared inputs; every one must be resolvable at this step
		InputFileIDs []string `json:"inputFileIds,omitempty" yaml:"inputFileIds"`

		OutputExt string `json:"outputExt" yaml:"outputExt"`
		Reasoning string `json:"reasoning,omitempty" yaml:"reasoning"`
	}

	// Table maps reference ids (uploads, artifacts, aliases, step-N) to
	// absolute paths for a single execution.
	Table map[string]string
)

// StepID is the synthetic reference id of the output of the step at
// the given 1-based position.
func StepID(position int) string {
	return fmt.Sprintf("step-%d", position)
}

func (t Table) Clone() Table {
	if t == nil {
		return Table{}
	}
	return maps.Clone(t)
}

func (t Table) IDs() IDSet {
	return NewIDSet(slices.Collect(maps.Keys(t))...)
}

// IDSet is a set of reference ids.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Add(id string) {
	s[id] = struct{}{}
}

var ErrEmptyFile = errors.New("pipeline file has no steps")

// FromFile reads a pipeline from YAML or JSON. A document holding a
// single step at the top level is accepted as a one-step command.
func FromFile(contents []byte) (Command, error) {
	var cmd Command
	if err := yaml.Unmarshal(contents, &cmd); err != nil {
		return cmd, err
	}
	if len(cmd.Steps) > 0 {
		return cmd, nil
	}

	var step Step
	if err := yaml.Unmarshal(contents, &step); err != nil {
		return cmd, err
	}
	if step.Tool == "" && len(step.Args) == 0 {
		return cmd, ErrEmptyFile
	}
	return Command{Steps: []Step{step}}, nil
}
