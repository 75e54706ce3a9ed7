package splice

import (
	"errors"
	"mime"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"splice.sh/core/splice/apierr"
	"splice.sh/core/splice/artifacts"
)

func (s *Splice) Artifact(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Artifact")
	id := chi.URLParam(r, "id")

	a, err := s.store.Lookup(id)
	if errors.Is(err, artifacts.ErrNotFound) {
		writeError(w, apierr.NotFoundError("artifact"), http.StatusNotFound)
		return
	}
	if err != nil {
		l.Error("failed to look up artifact", "id", id, "error", err)
		writeError(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	f, err := os.Open(a.Path)
	if err != nil {
		// indexed but evicted or reset in the meantime
		l.Warn("artifact file missing", "id", id, "error", err)
		writeError(w, apierr.NotFoundError("artifact"), http.StatusNotFound)
		return
	}
	defer f.Close()

	h := w.Header()
	h.Set("Content-Type", contentTypeFor(a.Ext, a.ContentType))
	h.Set("Content-Disposition", mime.FormatMediaType("inline", map[string]string{"filename": a.Name}))
	h.Set("Cache-Control", "no-store")

	http.ServeContent(w, r, a.Name, a.CreatedAt, f)
}
