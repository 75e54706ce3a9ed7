package splice

import (
	"encoding/json"
	"errors"
	"net/http"

	"splice.sh/core/pipeline"
	"splice.sh/core/splice/apierr"
)

type validateRequest struct {
	// either a structured command or raw generator text
	Command *pipeline.Command `json:"command,omitempty"`
	Text    string            `json:"text,omitempty"`
	IDs     []string          `json:"ids"`
}

type validateResponse struct {
	OK     bool                `json:"ok"`
	Step   int                 `json:"step,omitempty"`
	Kind   pipeline.RejectKind `json:"kind,omitempty"`
	Reason string              `json:"reason,omitempty"`
	Steps  int                 `json:"steps,omitempty"`
}

// Validate checks a pipeline against a set of ids without running it.
func (s *Splice) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, apierr.BadRequestError("invalid JSON body"), http.StatusBadRequest)
		return
	}

	var cmd pipeline.Command
	switch {
	case req.Command != nil:
		cmd = *req.Command
	case req.Text != "":
		var err error
		cmd, err = pipeline.CommandFrom(pipeline.ParseGenerated(req.Text))
		if err != nil {
			s.writeJSON(w, http.StatusOK, validateResponse{Kind: "malformed", Reason: err.Error()})
			return
		}
	default:
		writeError(w, apierr.BadRequestError("one of command or text is required"), http.StatusBadRequest)
		return
	}

	err := pipeline.Validate(cmd, pipeline.NewIDSet(req.IDs...))
	var reject *pipeline.RejectError
	if errors.As(err, &reject) {
		s.writeJSON(w, http.StatusOK, validateResponse{Step: reject.Step, Kind: reject.Kind, Reason: reject.Reason})
		return
	}

	s.writeJSON(w, http.StatusOK, validateResponse{OK: true, Steps: len(cmd.Steps)})
}

func (s *Splice) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.l.Debug("failed to write response", "error", err)
	}
}
