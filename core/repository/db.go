package repository

import (
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// DB wraps the Postgres connection used by the SQL record store
type DB struct {
	*sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS foqus_jobs (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	user_name   TEXT NOT NULL DEFAULT '',
	application TEXT NOT NULL DEFAULT '',
	simulation  TEXT NOT NULL DEFAULT '',
	initialize  BOOLEAN NOT NULL DEFAULT FALSE,
	reset       BOOLEAN NOT NULL DEFAULT FALSE,
	input       JSONB,
	output      TEXT,
	state       TEXT NOT NULL,
	create_ms   BIGINT NOT NULL DEFAULT 0,
	stamps      JSONB NOT NULL DEFAULT '{}',
	consumer_id TEXT NOT NULL DEFAULT '',
	instance    TEXT NOT NULL DEFAULT '',
	message     TEXT NOT NULL DEFAULT '',
	ttl         BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS foqus_jobs_session_idx ON foqus_jobs (session_id, state);
CREATE TABLE IF NOT EXISTS foqus_consumers (
	id         TEXT PRIMARY KEY,
	instance   TEXT NOT NULL DEFAULT '',
	user_name  TEXT NOT NULL DEFAULT '',
	job_id     TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	state      TEXT NOT NULL DEFAULT '',
	events     JSONB NOT NULL DEFAULT '{}',
	ttl        BIGINT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS foqus_events (
	id         BIGSERIAL PRIMARY KEY,
	job_id     TEXT NOT NULL DEFAULT '',
	session_id TEXT NOT NULL DEFAULT '',
	user_name  TEXT NOT NULL DEFAULT '',
	name       TEXT NOT NULL,
	body       JSONB NOT NULL,
	at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS foqus_events_job_idx ON foqus_events (job_id, at);
`

// NewDB opens the database and ensures the schema exists
func NewDB(databaseURL string) (*DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ping database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &DB{DB: db}, nil
}
