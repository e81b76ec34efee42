package store

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenStampsFreshSchema(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer s.Close()

	v, err := schemaVersion(s.DB())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)

	for _, table := range []string{"jobs", "job_events", "cost_entries", "campaigns", "idempotency_keys"} {
		assert.True(t, tableExists(s.DB(), table), "missing table %s", table)
	}
}

func TestOpenCreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "queue.db")
	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()
}

func TestMigrationsUpgradeOldDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")

	// Hand-build a v1-era database: cost_entries without a model column,
	// jobs without cancel_note, campaigns without failed_phase.
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	_, err = db.Exec(`
		CREATE TABLE schema_version (version INTEGER NOT NULL);
		INSERT INTO schema_version (version) VALUES (1);
		CREATE TABLE jobs (id TEXT PRIMARY KEY, prompt TEXT NOT NULL, mode TEXT NOT NULL,
			provider_choice TEXT NOT NULL DEFAULT 'auto', chosen_provider TEXT, chosen_model TEXT,
			external_id TEXT, status TEXT NOT NULL, priority INTEGER NOT NULL DEFAULT 3,
			created_at TEXT NOT NULL, submitted_at TEXT, completed_at TEXT,
			attempts INTEGER NOT NULL DEFAULT 0, lease_owner TEXT, lease_expires_at TEXT,
			cost_estimate TEXT NOT NULL DEFAULT '0', cost_actual TEXT,
			tools TEXT NOT NULL DEFAULT '[]', context_refs TEXT NOT NULL DEFAULT '[]',
			parent_campaign TEXT, failure_reason TEXT, metadata TEXT NOT NULL DEFAULT '{}');
		CREATE TABLE cost_entries (id INTEGER PRIMARY KEY AUTOINCREMENT, job_id TEXT NOT NULL,
			provider TEXT NOT NULL, kind TEXT NOT NULL, amount TEXT NOT NULL,
			tokens_in INTEGER NOT NULL DEFAULT 0, tokens_out INTEGER NOT NULL DEFAULT 0,
			occurred_at TEXT NOT NULL);
		CREATE TABLE campaigns (id TEXT PRIMARY KEY, scenario TEXT NOT NULL, status TEXT NOT NULL,
			current_phase_index INTEGER NOT NULL DEFAULT 0, paused_reason TEXT,
			pause_requested INTEGER NOT NULL DEFAULT 0,
			phases TEXT NOT NULL DEFAULT '[]', results TEXT NOT NULL DEFAULT '[]',
			created_at TEXT NOT NULL, updated_at TEXT NOT NULL);
		INSERT INTO cost_entries (job_id, provider, kind, amount, occurred_at)
			VALUES ('j1', 'openai', 'realized', '1.25', '2025-01-01T00:00:00Z');
	`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	v, err := schemaVersion(s.DB())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, v)

	assert.True(t, columnExists(s.DB(), "cost_entries", "model"))
	assert.True(t, columnExists(s.DB(), "jobs", "cancel_note"))
	assert.True(t, columnExists(s.DB(), "campaigns", "failed_phase"))

	// Pre-migration rows survive with the column default.
	var model string
	require.NoError(t, s.DB().QueryRow(`SELECT model FROM cost_entries WHERE job_id = 'j1'`).Scan(&model))
	assert.Equal(t, "", model)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, RunMigrations(s.DB()))
	require.NoError(t, RunMigrations(s.DB()))
}

func TestWithTxCommitsAndRollsBack(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO job_events (job_id, event, occurred_at) VALUES ('j1', 'created', '2025-01-01T00:00:00Z')`)
		return err
	}))

	boom := errors.New("boom")
	err = s.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO job_events (job_id, event, occurred_at) VALUES ('j2', 'created', '2025-01-01T00:00:00Z')`); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, s.DB().QueryRow(`SELECT COUNT(*) FROM job_events`).Scan(&count))
	assert.Equal(t, 1, count, "rolled-back insert must not persist")
}
