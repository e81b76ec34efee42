// Package store owns the transactional SQLite database backing the job
// queue, the cost ledger, campaign state, and idempotency keys. All engine
// state that must survive a crash lives in this one file (queue.db); every
// mutation goes through a transaction.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"scout/internal/logging"
)

// Store wraps the SQLite database handle.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes the SQLite database at the given path, creating the
// schema and applying any pending migrations. Pass ":memory:" for tests.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer keeps modernc's driver free of SQLITE_BUSY under
	// concurrent pollers; transactions serialize here instead.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("store opened at %s (schema v%d)", path, CurrentSchemaVersion)
	return s, nil
}

// DB exposes the raw handle for package-internal queries.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a transaction, committing on nil and rolling back
// on error.
func (s *Store) WithTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Get(logging.CategoryStore).Error("rollback failed: %v (after %v)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// initialize creates the required tables for a fresh database.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		prompt TEXT NOT NULL,
		mode TEXT NOT NULL,
		provider_choice TEXT NOT NULL DEFAULT 'auto',
		chosen_provider TEXT,
		chosen_model TEXT,
		external_id TEXT,
		status TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 3,
		created_at TEXT NOT NULL,
		submitted_at TEXT,
		completed_at TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		lease_owner TEXT,
		lease_expires_at TEXT,
		cost_estimate TEXT NOT NULL DEFAULT '0',
		cost_actual TEXT,
		tools TEXT NOT NULL DEFAULT '[]',
		context_refs TEXT NOT NULL DEFAULT '[]',
		parent_campaign TEXT,
		failure_reason TEXT,
		cancel_note TEXT,
		metadata TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, priority, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_campaign ON jobs(parent_campaign);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);

	CREATE TABLE IF NOT EXISTS job_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		event TEXT NOT NULL,
		detail TEXT,
		occurred_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_job_events_job ON job_events(job_id, id);

	CREATE TABLE IF NOT EXISTS cost_entries (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		tokens_in INTEGER NOT NULL DEFAULT 0,
		tokens_out INTEGER NOT NULL DEFAULT 0,
		occurred_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cost_entries_time ON cost_entries(kind, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_cost_entries_job ON cost_entries(job_id);

	CREATE TABLE IF NOT EXISTS campaigns (
		id TEXT PRIMARY KEY,
		scenario TEXT NOT NULL,
		status TEXT NOT NULL,
		current_phase_index INTEGER NOT NULL DEFAULT 0,
		paused_reason TEXT,
		failed_phase INTEGER NOT NULL DEFAULT -1,
		pause_requested INTEGER NOT NULL DEFAULT 0,
		phases TEXT NOT NULL DEFAULT '[]',
		results TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS idempotency_keys (
		token TEXT PRIMARY KEY,
		job_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	// Stamp fresh databases with the current version.
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if count == 0 {
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion); err != nil {
			return fmt.Errorf("failed to stamp schema version: %w", err)
		}
	}
	return nil
}
