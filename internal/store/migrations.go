// Versioned schema migrations for queue.db. Each step is idempotent: it
// checks for the table and column before altering, so re-running a
// migration on an already-upgraded database is a no-op.
package store

import (
	"database/sql"
	"fmt"

	"scout/internal/logging"
)

// Schema versions:
// v1: jobs, job_events, cost_entries, campaigns, idempotency_keys
// v2: cost_entries gained a model column (earlier releases priced by
//     provider only, which broke per-model spend reports)
// v3: jobs gained cancel_note; campaigns gained failed_phase
const CurrentSchemaVersion = 3

// Migration defines one additive column migration.
type Migration struct {
	Table  string
	Column string
	Def    string
}

// pendingMigrations lists all schema migrations to apply. These handle
// databases created before the column existed; fresh databases already
// have every column from the CREATE TABLE statements.
var pendingMigrations = []Migration{
	{"cost_entries", "model", "TEXT NOT NULL DEFAULT ''"},
	{"jobs", "cancel_note", "TEXT"},
	{"campaigns", "failed_phase", "INTEGER NOT NULL DEFAULT -1"},
}

// RunMigrations applies schema migrations for existing databases and
// advances the recorded schema version.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	from, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if from >= CurrentSchemaVersion {
		logging.StoreDebug("schema already at v%d, nothing to migrate", from)
		return nil
	}

	logging.Store("migrating schema v%d -> v%d (%d candidate steps)", from, CurrentSchemaVersion, len(pendingMigrations))

	applied := 0
	for _, m := range pendingMigrations {
		if !tableExists(db, m.Table) {
			logging.StoreDebug("table missing, skipping migration: %s.%s", m.Table, m.Column)
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			logging.StoreDebug("column already exists, skipping: %s.%s", m.Table, m.Column)
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("migration %s.%s failed: %w", m.Table, m.Column, err)
		}
		logging.Store("migration applied: added %s.%s", m.Table, m.Column)
		applied++
	}

	if _, err := db.Exec(`UPDATE schema_version SET version = ?`, CurrentSchemaVersion); err != nil {
		return fmt.Errorf("failed to advance schema version: %w", err)
	}

	logging.Store("migrations complete: %d applied, now at v%d", applied, CurrentSchemaVersion)
	return nil
}

// schemaVersion reads the recorded version; a missing row reads as 0.
func schemaVersion(db *sql.DB) (int, error) {
	var v int
	err := db.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return v, nil
}

func tableExists(db *sql.DB, table string) bool {
	var name string
	err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
	return err == nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
