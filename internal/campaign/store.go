// Package campaign implements multi-phase research campaigns: planning,
// phase-by-phase execution with context chaining, pause and review gates,
// and a final synthesis report.
package campaign

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"scout/internal/store"
	"scout/internal/types"
)

// Store persists campaign plans in the campaigns table. Phases and
// results are JSON columns; campaign state must survive restarts so a
// resumed campaign reuses completed-phase artifacts instead of respending.
type Store struct {
	store *store.Store
}

// NewStore creates a campaign store over the shared database.
func NewStore(st *store.Store) *Store {
	return &Store{store: st}
}

// Save inserts or replaces a campaign plan.
func (s *Store) Save(plan *types.CampaignPlan) error {
	phases, err := json.Marshal(plan.Phases)
	if err != nil {
		return err
	}
	results, err := json.Marshal(plan.Results)
	if err != nil {
		return err
	}
	plan.UpdatedAt = time.Now().UTC()

	return s.store.WithTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO campaigns
			(id, scenario, status, current_phase_index, paused_reason, failed_phase, phases, results, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				current_phase_index = excluded.current_phase_index,
				paused_reason = excluded.paused_reason,
				failed_phase = excluded.failed_phase,
				phases = excluded.phases,
				results = excluded.results,
				updated_at = excluded.updated_at`,
			plan.ID, plan.Scenario, string(plan.Status), plan.CurrentPhaseIndex,
			plan.PausedReason, plan.FailedPhase, string(phases), string(results),
			plan.CreatedAt.UTC().Format(time.RFC3339Nano), plan.UpdatedAt.Format(time.RFC3339Nano))
		return err
	})
}

// Load reads one campaign by id.
func (s *Store) Load(id string) (*types.CampaignPlan, error) {
	row := s.store.DB().QueryRow(`SELECT id, scenario, status, current_phase_index,
		COALESCE(paused_reason, ''), failed_phase, phases, results, created_at, updated_at
		FROM campaigns WHERE id = ?`, id)
	plan, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, types.Errorf(types.ErrInvalidRequest, "no campaign with id %s", id)
	}
	return plan, err
}

// List returns all campaigns, newest first.
func (s *Store) List() ([]*types.CampaignPlan, error) {
	rows, err := s.store.DB().Query(`SELECT id, scenario, status, current_phase_index,
		COALESCE(paused_reason, ''), failed_phase, phases, results, created_at, updated_at
		FROM campaigns ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.CampaignPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, plan)
	}
	return out, rows.Err()
}

// RequestPause sets the pause flag; the orchestrator honors it at the
// next phase boundary, never mid-phase.
func (s *Store) RequestPause(id string) error {
	res, err := s.store.DB().Exec(`UPDATE campaigns SET pause_requested = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return types.Errorf(types.ErrInvalidRequest, "no campaign with id %s", id)
	}
	return nil
}

// ClearPause resets the pause flag, done when the orchestrator honors it
// or the campaign resumes.
func (s *Store) ClearPause(id string) error {
	_, err := s.store.DB().Exec(`UPDATE campaigns SET pause_requested = 0 WHERE id = ?`, id)
	return err
}

// PauseRequested reads the pause flag.
func (s *Store) PauseRequested(id string) (bool, error) {
	var v int
	err := s.store.DB().QueryRow(`SELECT pause_requested FROM campaigns WHERE id = ?`, id).Scan(&v)
	if err == sql.ErrNoRows {
		return false, types.Errorf(types.ErrInvalidRequest, "no campaign with id %s", id)
	}
	return v == 1, err
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row scannable) (*types.CampaignPlan, error) {
	var (
		plan                 types.CampaignPlan
		status               string
		phases, results      string
		createdAt, updatedAt string
	)
	err := row.Scan(&plan.ID, &plan.Scenario, &status, &plan.CurrentPhaseIndex,
		&plan.PausedReason, &plan.FailedPhase, &phases, &results, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	plan.Status = types.CampaignStatus(status)
	if err := json.Unmarshal([]byte(phases), &plan.Phases); err != nil {
		return nil, fmt.Errorf("corrupt phases for campaign %s: %w", plan.ID, err)
	}
	if err := json.Unmarshal([]byte(results), &plan.Results); err != nil {
		return nil, fmt.Errorf("corrupt results for campaign %s: %w", plan.ID, err)
	}
	if plan.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, err
	}
	if plan.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, err
	}
	return &plan, nil
}
