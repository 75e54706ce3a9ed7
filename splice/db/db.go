package db

import (
	"database/sql"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	*sql.DB
}

func Make(dbPath string) (*DB, error) {
	// https://github.com/mattn/go-sqlite3#connection-string
	opts := []string{
		"_foreign_keys=1",
		"_journal_mode=WAL",
		"_synchronous=NORMAL",
		"_auto_vacuum=incremental",
	}

	db, err := sql.Open("sqlite3", dbPath+"?"+strings.Join(opts, "&"))
	if err != nil {
		return nil, err
	}

	// an in-memory database exists per connection
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec(`
		create table if not exists artifacts (
			-- insertion order is eviction order
			seq integer primary key autoincrement,
			id text not null unique,
			name text not null,
			ext text not null,
			content_type text not null,
			path text not null,
			size integer not null,
			created text not null
		);

		create table if not exists messages (
			id integer primary key autoincrement,
			role text not null,
			content text not null,
			artifact_ids text not null default '[]', -- json
			created text not null default (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
		);

		-- status of a single pipeline execution
		create table if not exists runs (
			seq integer primary key autoincrement,
			id text not null unique,
			rev integer not null,
			status text not null,
			prompt text not null default '',
			step integer not null default 0,
			error text not null default '',
			artifact_id text not null default '',
			created text not null default (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			updated text not null default (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			finished text
		);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}
