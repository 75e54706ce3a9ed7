package splice

import (
	"errors"
	"fmt"
	"net/http"

	"splice.sh/core/pipeline"
	"splice.sh/core/splice/apierr"
	"splice.sh/core/splice/engine"
	"splice.sh/core/splice/generator"
)

// inputError is a problem with what the client sent; its message is
// returned as is.
type inputError struct {
	msg string
}

func (e *inputError) Error() string {
	return e.msg
}

func badInput(format string, a ...any) error {
	return &inputError{msg: fmt.Sprintf(format, a...)}
}

func isInputError(err error) bool {
	var ie *inputError
	return errors.As(err, &ie)
}

// errorResponse maps an error from any stage of a request to the JSON
// body and status it is reported with.
func errorResponse(err error) (apierr.Error, int) {
	var ie *inputError
	if errors.As(err, &ie) {
		return apierr.BadRequestError(ie.msg), http.StatusBadRequest
	}

	var reject *pipeline.RejectError
	if errors.As(err, &reject) {
		return apierr.New(
			apierr.WithTag("Rejected"),
			apierr.WithMessage(reject.Reason),
			apierr.WithStep(reject.Step),
			apierr.WithKind(reject.Kind),
		), http.StatusBadRequest
	}

	switch {
	case errors.Is(err, generator.ErrMissingAPIKey):
		return apierr.New(apierr.WithTag("MissingApiKey"), apierr.WithError(err)), http.StatusBadRequest
	case errors.Is(err, generator.ErrMalformedOutput):
		return apierr.New(apierr.WithTag("GeneratorOutput"), apierr.WithError(err)), http.StatusBadGateway
	case errors.Is(err, errGenerator):
		return apierr.New(apierr.WithTag("Generator"), apierr.WithError(err)), http.StatusBadGateway
	case errors.Is(err, errQueueFull):
		return apierr.QueueFullError, http.StatusServiceUnavailable
	}

	step, cause := engine.Failure(err)
	tag := ""
	switch {
	case errors.Is(cause, engine.ErrTimedOut):
		tag = "Timeout"
	case errors.Is(cause, engine.ErrToolUnavailable):
		tag = "ToolUnavailable"
	case errors.Is(cause, engine.ErrToolFailed):
		tag = "ToolFailed"
	case errors.Is(cause, engine.ErrInternal):
		tag = "Internal"
	}
	if tag != "" {
		return apierr.New(
			apierr.WithTag(tag),
			apierr.WithError(cause),
			apierr.WithStep(step),
		), http.StatusInternalServerError
	}

	return apierr.GenericError(err), http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, e apierr.Error, status int) {
	apierr.Write(w, e, status)
}
