package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStore is a Store backed by SQLite via the pure-Go modernc driver.
// Suitable for single-process deployments and the CLI.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore opens (creating if needed) a SQLite database at path and
// ensures the schema exists. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One connection keeps writers serialized and makes ":memory:" behave as
	// a single database rather than one per pooled connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteStore{sqlStore{
		db: db,
		upsertStepRun: `
			INSERT INTO step_runs (run_id, step_id, step_type, status, attempt, input, output, error, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(run_id, step_id, attempt) DO UPDATE SET
				step_type = excluded.step_type,
				status = excluded.status,
				input = excluded.input,
				output = excluded.output,
				error = excluded.error,
				started_at = excluded.started_at,
				completed_at = excluded.completed_at`,
	}}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			version      INTEGER NOT NULL DEFAULT 1,
			status       TEXT NOT NULL,
			definition   TEXT,
			input_schema TEXT,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id              TEXT PRIMARY KEY,
			workflow_id     TEXT NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
			status          TEXT NOT NULL,
			trigger_type    TEXT NOT NULL,
			input           TEXT,
			context         TEXT,
			error           TEXT,
			idempotency_key TEXT,
			started_at      TEXT,
			completed_at    TEXT,
			created_at      TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_runs_idempotency
			ON runs(workflow_id, idempotency_key) WHERE idempotency_key != ''`,
		`CREATE TABLE IF NOT EXISTS step_runs (
			seq          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			step_id      TEXT NOT NULL,
			step_type    TEXT NOT NULL,
			status       TEXT NOT NULL,
			attempt      INTEGER NOT NULL,
			input        TEXT,
			output       TEXT,
			error        TEXT,
			started_at   TEXT,
			completed_at TEXT,
			UNIQUE(run_id, step_id, attempt)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_step_runs_run ON step_runs(run_id)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			id         TEXT PRIMARY KEY,
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			step_id    TEXT,
			event_type TEXT NOT NULL,
			payload    TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}
