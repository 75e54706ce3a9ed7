package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// ParseResult is the outcome of reading generator output. It is one of
// ParsedCommand, ParsedSingleStep or *ParseError.
type ParseResult interface {
	parseResult()
}

type ParsedCommand struct {
	Command Command
}

type ParsedSingleStep struct {
	Step Step
}

// ParseError means the text does not have the shape of a pipeline at
// all. This is distinct from a RejectError, which is raised for well
// formed but unsafe pipelines.
type ParseError struct {
	Raw string
	Err error
}

func (ParsedCommand) parseResult()    {}
func (ParsedSingleStep) parseResult() {}
func (*ParseError) parseResult()      {}

func (e *ParseError) Error() string {
	return fmt.Sprintf("generator output is not a pipeline: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	ErrNoJSON       = errors.New("no JSON object found")
	ErrUnknownShape = errors.New("JSON object is neither a command nor a step")

	objectPattern = regexp.MustCompile(`(?s)\{.*\}`)
)

// ParseGenerated reads the free-form text returned by the generator.
// The text may wrap the JSON object in prose or code fences; the
// outermost {...} block is used in that case.
func ParseGenerated(text string) ParseResult {
	fields, err := decodeObject(text)
	if err != nil {
		return &ParseError{Raw: text, Err: err}
	}

	if raw, ok := fields["steps"]; ok {
		var steps []Step
		if err := json.Unmarshal(raw, &steps); err != nil {
			return &ParseError{Raw: text, Err: fmt.Errorf("steps: %w", err)}
		}
		return ParsedCommand{Command: Command{Steps: steps}}
	}

	_, hasTool := fields["tool"]
	_, hasArgs := fields["args"]
	if hasTool && hasArgs {
		var step Step
		if err := json.Unmarshal(mustMarshal(fields), &step); err != nil {
			return &ParseError{Raw: text, Err: err}
		}
		return ParsedSingleStep{Step: step}
	}

	return &ParseError{Raw: text, Err: ErrUnknownShape}
}

// CommandFrom unwraps a ParseResult into a Command.
func CommandFrom(r ParseResult) (Command, error) {
	switch v := r.(type) {
	case ParsedCommand:
		return v.Command, nil
	case ParsedSingleStep:
		return Command{Steps: []Step{v.Step}}, nil
	case *ParseError:
		return Command{}, v
	default:
		return Command{}, fmt.Errorf("unexpected parse result %T", r)
	}
}

func decodeObject(text string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &fields); err == nil && fields != nil {
		return fields, nil
	}

	block := objectPattern.FindString(text)
	if block == "" {
		return nil, ErrNoJSON
	}
	if err := json.Unmarshal([]byte(block), &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		return nil, ErrNoJSON
	}
	return fields, nil
}

func mustMarshal(fields map[string]json.RawMessage) []byte {
	b, _ := json.Marshal(fields)
	return b
}
