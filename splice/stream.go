package splice

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"splice.sh/core/splice/db"
)

const pingInterval = 30 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// watchClose drains client frames so control messages are handled,
// and cancels the returned context once the client goes away.
func watchClose(ctx context.Context, conn *websocket.Conn, l *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				l.Debug("stopped reading", "err", err)
				cancel()
				return
			}
		}
	}()
	return ctx, cancel
}

func ping(conn *websocket.Conn, l *slog.Logger) {
	if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
		l.Error("failed to write control", "err", err)
	}
}

// Events streams run status changes: every run recorded so far in
// revision order, then each change as it happens.
func (s *Splice) Events(w http.ResponseWriter, r *http.Request) {
	l := s.l.With("handler", "Events")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ch := s.n.Subscribe()
	defer s.n.Unsubscribe(ch)

	ctx, cancel := watchClose(r.Context(), conn, l)
	defer cancel()

	var rev int64
	if err := s.sendRunsSince(conn, &rev); err != nil {
		l.Error("failed to backfill", "err", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if err := s.sendRunsSince(conn, &rev); err != nil {
				l.Error("failed to stream", "err", err)
				return
			}
		case <-time.After(pingInterval):
			ping(conn, l)
		}
	}
}

// sendRunsSince writes every run changed after *rev, a page at a
// time, advancing *rev as it goes.
func (s *Splice) sendRunsSince(conn *websocket.Conn, rev *int64) error {
	for {
		runs, err := s.db.GetRunsSince(*rev)
		if err != nil {
			return err
		}

		for _, run := range runs {
			if err := conn.WriteJSON(run); err != nil {
				return err
			}
			*rev = run.Rev
		}

		if len(runs) < db.RunsPageSize {
			return nil
		}
	}
}
