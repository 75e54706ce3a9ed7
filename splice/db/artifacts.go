package db

import (
	"database/sql"
	"errors"
	"time"

	"splice.sh/core/splice/artifacts"
)

func (d *DB) AddArtifact(a artifacts.Artifact) error {
	_, err := d.Exec(`
		insert into artifacts (id, name, ext, content_type, path, size, created)
		values (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Name, a.Ext, a.ContentType, a.Path, a.Size, a.CreatedAt.UTC().Format(time.RFC3339Nano))
	return err
}

func (d *DB) RemoveArtifact(id string) error {
	_, err := d.Exec(`delete from artifacts where id = ?`, id)
	return err
}

func (d *DB) GetArtifact(id string) (artifacts.Artifact, error) {
	row := d.QueryRow(`
		select id, name, ext, content_type, path, size, created
		from artifacts
		where id = ?
	`, id)

	a, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return a, artifacts.ErrNotFound
	}
	return a, err
}

func (d *DB) ListArtifacts() ([]artifacts.Artifact, error) {
	rows, err := d.Query(`
		select id, name, ext, content_type, path, size, created
		from artifacts
		order by seq asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []artifacts.Artifact
	for rows.Next() {
		a, err := scanArtifact(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return list, nil
}

func (d *DB) ClearArtifacts() error {
	_, err := d.Exec(`delete from artifacts`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArtifact(s scanner) (artifacts.Artifact, error) {
	var a artifacts.Artifact
	var created string
	if err := s.Scan(&a.ID, &a.Name, &a.Ext, &a.ContentType, &a.Path, &a.Size, &created); err != nil {
		return a, err
	}

	t, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return a, err
	}
	a.CreatedAt = t
	return a, nil
}
