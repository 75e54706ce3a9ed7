package splice

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"

	"splice.sh/core/splice/apierr"
	"splice.sh/core/splice/models"
)

type sessionArtifact struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	SizeHuman   string    `json:"sizeHuman"`
	CreatedAt   time.Time `json:"createdAt"`
	URL         string    `json:"url"`
}

type session struct {
	Artifacts []sessionArtifact `json:"artifacts"`
	Messages  []models.Message  `json:"messages"`
}

func (s *Splice) Session(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Session")

	list, err := s.store.List()
	if err != nil {
		l.Error("failed to list artifacts", "error", err)
		writeError(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	msgs, err := s.db.GetMessages()
	if err != nil {
		l.Error("failed to list messages", "error", err)
		writeError(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	out := session{
		Artifacts: make([]sessionArtifact, 0, len(list)),
		Messages:  msgs,
	}
	if out.Messages == nil {
		out.Messages = []models.Message{}
	}
	for _, a := range list {
		out.Artifacts = append(out.Artifacts, sessionArtifact{
			ID:          a.ID,
			Name:        a.Name,
			ContentType: a.ContentType,
			Size:        a.Size,
			SizeHuman:   humanize.Bytes(uint64(a.Size)),
			CreatedAt:   a.CreatedAt,
			URL:         "/artifacts/" + a.ID,
		})
	}

	s.writeJSON(w, http.StatusOK, out)
}

func (s *Splice) SessionAction(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "SessionAction")

	var body struct {
		Action string `json:"action"`
	}
	_ = json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body)

	if body.Action != "reset" {
		writeError(w, apierr.BadRequestError("unsupported action"), http.StatusBadRequest)
		return
	}

	if err := s.store.Reset(r.Context()); err != nil {
		l.Error("failed to reset artifacts", "error", err)
		writeError(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}
	if err := s.db.ClearMessages(); err != nil {
		l.Error("failed to clear transcript", "error", err)
		writeError(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	l.Info("session reset")
	s.writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
