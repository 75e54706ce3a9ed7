package splice

import (
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hpcloud/tail"

	"splice.sh/core/splice/apierr"
	"splice.sh/core/splice/models"
)

// StreamLogs follows a run's step log over a websocket, one JSON line
// per text message, and closes once the run has finished and the log
// is drained.
func (s *Splice) StreamLogs(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	l := s.l.With("handler", "StreamLogs", "run", id)

	if _, err := s.db.GetRun(id); errors.Is(err, sql.ErrNoRows) {
		writeError(w, apierr.NotFoundError("run"), http.StatusNotFound)
		return
	} else if err != nil {
		l.Error("failed to get run", "error", err)
		writeError(w, apierr.GenericError(err), http.StatusInternalServerError)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// subscribe before the first status check so a finish in between
	// is not missed
	ch := s.n.Subscribe()
	defer s.n.Unsubscribe(ch)

	t, err := tail.TailFile(models.LogFilePath(s.cfg.Pipelines.LogDir, id), tail.Config{
		Follow: true,
		Logger: tail.DiscardingLogger,
	})
	if err != nil {
		l.Error("failed to tail run log", "err", err)
		return
	}
	defer t.Cleanup()
	defer t.Stop()

	ctx, cancel := watchClose(r.Context(), conn, l)
	defer cancel()

	stopping := false
	stopIfFinished := func() {
		if stopping {
			return
		}
		run, err := s.db.GetRun(id)
		if err != nil || run.Status.Finished() {
			stopping = true
			t.StopAtEOF()
		}
	}
	stopIfFinished()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-t.Lines:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
					time.Now().Add(time.Second))
				return
			}
			if line.Err != nil {
				l.Warn("error reading run log", "err", line.Err)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line.Text)); err != nil {
				l.Debug("failed to write log line", "err", err)
				return
			}
		case <-ch:
			stopIfFinished()
		case <-time.After(pingInterval):
			ping(conn, l)
		}
	}
}
