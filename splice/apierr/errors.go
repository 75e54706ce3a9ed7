package apierr

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error is the JSON body of every failed request. The object always
// carries an "error" tag and a "message"; rejections and execution
// failures also name the step.
type Error struct {
	Tag     string `json:"error"`
	Message string `json:"message"`
	Step    int    `json:"step,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

func (e Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Tag, e.Message)
	}
	return e.Tag
}

func New(opts ...ErrOpt) Error {
	e := Error{}
	for _, o := range opts {
		o(&e)
	}

	return e
}

type ErrOpt = func(e *Error)

func WithTag(tag string) ErrOpt {
	return func(e *Error) {
		e.Tag = tag
	}
}

func WithMessage[S ~string](s S) ErrOpt {
	return func(e *Error) {
		e.Message = string(s)
	}
}

func WithError(err error) ErrOpt {
	return func(e *Error) {
		e.Message = err.Error()
	}
}

func WithStep(step int) ErrOpt {
	return func(e *Error) {
		e.Step = step
	}
}

func WithKind[S ~string](kind S) ErrOpt {
	return func(e *Error) {
		e.Kind = string(kind)
	}
}

var BadRequestError = func(msg string) Error {
	return New(WithTag("BadRequest"), WithMessage(msg))
}

var NotFoundError = func(what string) Error {
	return New(WithTag("NotFound"), WithMessage(what+" not found"))
}

var QueueFullError = New(
	WithTag("QueueFull"),
	WithMessage("too many pipelines are running, try again later"),
)

func GenericError(err error) Error {
	return New(
		WithTag("Generic"),
		WithError(err),
	)
}

func Write(w http.ResponseWriter, e Error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(e)
}

func Unmarshal(body []byte) (Error, error) {
	var e Error
	if err := json.Unmarshal(body, &e); err != nil {
		return Error{}, fmt.Errorf("failed to unmarshal error body: %w", err)
	}
	return e, nil
}
