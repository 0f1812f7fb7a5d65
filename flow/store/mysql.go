package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
)

// MySQLStore is a Store backed by MySQL for multi-process deployments.
type MySQLStore struct {
	sqlStore
}

// NewMySQLStore connects with a go-sql-driver DSN
// (user:pass@tcp(host:port)/dbname) and ensures the schema exists.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	// Matched rows, not changed rows: partial updates that write identical
	// values must still count as found.
	cfg.ClientFoundRows = true

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open mysql database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{sqlStore{
		db: db,
		upsertStepRun: `
			INSERT INTO step_runs (run_id, step_id, step_type, status, attempt, input, output, error, started_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				step_type = VALUES(step_type),
				status = VALUES(status),
				input = VALUES(input),
				output = VALUES(output),
				error = VALUES(error),
				started_at = VALUES(started_at),
				completed_at = VALUES(completed_at)`,
	}}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflows (
			id           VARCHAR(64) PRIMARY KEY,
			name         VARCHAR(255) NOT NULL,
			version      INT NOT NULL DEFAULT 1,
			status       VARCHAR(16) NOT NULL,
			definition   JSON,
			input_schema JSON,
			created_at   VARCHAR(40) NOT NULL,
			updated_at   VARCHAR(40) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id              VARCHAR(64) PRIMARY KEY,
			workflow_id     VARCHAR(64) NOT NULL,
			status          VARCHAR(16) NOT NULL,
			trigger_type    VARCHAR(16) NOT NULL,
			input           JSON,
			context         JSON,
			error           TEXT,
			idempotency_key VARCHAR(255),
			started_at      VARCHAR(40),
			completed_at    VARCHAR(40),
			created_at      VARCHAR(40) NOT NULL,
			INDEX idx_runs_workflow (workflow_id),
			CONSTRAINT fk_runs_workflow FOREIGN KEY (workflow_id)
				REFERENCES workflows(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS step_runs (
			seq          BIGINT AUTO_INCREMENT PRIMARY KEY,
			run_id       VARCHAR(64) NOT NULL,
			step_id      VARCHAR(128) NOT NULL,
			step_type    VARCHAR(64) NOT NULL,
			status       VARCHAR(16) NOT NULL,
			attempt      INT NOT NULL,
			input        JSON,
			output       JSON,
			error        TEXT,
			started_at   VARCHAR(40),
			completed_at VARCHAR(40),
			UNIQUE KEY uq_step_attempt (run_id, step_id, attempt),
			CONSTRAINT fk_step_runs_run FOREIGN KEY (run_id)
				REFERENCES runs(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS run_events (
			id         VARCHAR(32) PRIMARY KEY,
			run_id     VARCHAR(64) NOT NULL,
			step_id    VARCHAR(128),
			event_type VARCHAR(32) NOT NULL,
			payload    JSON,
			created_at VARCHAR(40) NOT NULL,
			INDEX idx_run_events_run (run_id),
			CONSTRAINT fk_run_events_run FOREIGN KEY (run_id)
				REFERENCES runs(id) ON DELETE CASCADE
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}
