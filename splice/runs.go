package splice

import (
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"splice.sh/core/splice/apierr"
	"splice.sh/core/splice/models"
)

func runID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		writeError(w, apierr.BadRequestError("invalid run id"), http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (s *Splice) GetRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	run, err := s.db.GetRun(id)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, apierr.NotFoundError("run"), http.StatusNotFound)
		return
	}
	if err != nil {
		s.l.Error("failed to get run", "id", id, "error", err)
		writeError(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, run)
}

// Logs serves the JSON-lines step log of a run.
func (s *Splice) Logs(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}

	f, err := os.Open(models.LogFilePath(s.cfg.Pipelines.LogDir, id))
	if errors.Is(err, os.ErrNotExist) {
		writeError(w, apierr.NotFoundError("run log"), http.StatusNotFound)
		return
	}
	if err != nil {
		s.l.Error("failed to open run log", "id", id, "error", err)
		writeError(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-store")
	if _, err := io.Copy(w, f); err != nil {
		s.l.Debug("failed to send run log", "id", id, "error", err)
	}
}
