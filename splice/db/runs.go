package db

import (
	"database/sql"
	"time"

	"splice.sh/core/notifier"
	"splice.sh/core/splice/models"
)

const nextRev = `(select coalesce(max(rev), 0) + 1 from runs)`

// RunsPageSize caps the rows returned by GetRunsSince.
const RunsPageSize = 100

const runColumns = `id, rev, status, prompt, step, error, artifact_id, created, updated, finished`

func (d *DB) CreateRun(id, prompt string, n *notifier.Notifier) error {
	_, err := d.Exec(`
		insert into runs (id, rev, status, prompt)
		values (?, `+nextRev+`, ?, ?)
	`, id, models.RunPending, prompt)
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) MarkRunRunning(id string, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update runs
		set status = ?, rev = `+nextRev+`, updated = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		where id = ?
	`, models.RunRunning, id)
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) MarkRunFailed(id string, step int, errorMsg string, n *notifier.Notifier) error {
	return d.finishRun(id, models.RunFailed, step, errorMsg, "", n)
}

func (d *DB) MarkRunTimeout(id string, step int, errorMsg string, n *notifier.Notifier) error {
	return d.finishRun(id, models.RunTimeout, step, errorMsg, "", n)
}

func (d *DB) MarkRunSuccess(id, artifactID string, n *notifier.Notifier) error {
	return d.finishRun(id, models.RunSuccess, 0, "", artifactID, n)
}

func (d *DB) finishRun(id string, status models.RunStatus, step int, errorMsg, artifactID string, n *notifier.Notifier) error {
	_, err := d.Exec(`
		update runs
		set status = ?,
		    step = ?,
		    error = ?,
		    artifact_id = ?,
		    rev = `+nextRev+`,
		    updated = strftime('%Y-%m-%dT%H:%M:%fZ', 'now'),
		    finished = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')
		where id = ?
	`, status, step, errorMsg, artifactID, id)
	if err != nil {
		return err
	}
	n.NotifyAll()
	return nil
}

func (d *DB) GetRun(id string) (models.Run, error) {
	row := d.QueryRow(`select `+runColumns+` from runs where id = ?`, id)
	return scanRun(row)
}

// GetRunsSince returns runs changed after revision cursor, in the
// order they changed.
func (d *DB) GetRunsSince(cursor int64) ([]models.Run, error) {
	rows, err := d.Query(`
		select `+runColumns+`
		from runs
		where rev > ?
		order by rev asc
		limit ?
	`, cursor, RunsPageSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

func scanRun(s scanner) (models.Run, error) {
	var r models.Run
	var created, updated string
	var finished sql.NullString

	err := s.Scan(&r.ID, &r.Rev, &r.Status, &r.Prompt, &r.Step, &r.Error, &r.ArtifactID, &created, &updated, &finished)
	if err != nil {
		return r, err
	}

	if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return r, err
	}
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return r, err
	}
	if finished.Valid {
		t, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return r, err
		}
		r.FinishedAt = &t
	}

	return r, nil
}
