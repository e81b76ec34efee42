// Package queue implements the durable job queue and state machine over
// the SQLite store. All job mutations happen here through atomic
// compare-and-set transitions; every transition appends to the per-job
// audit log and publishes its lifecycle event inside the same transaction.
package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"scout/internal/events"
	"scout/internal/logging"
	"scout/internal/store"
	"scout/internal/types"
)

// Queue is the single writer for job rows.
type Queue struct {
	store *store.Store
	bus   *events.Bus
}

// New creates a queue over the store, publishing lifecycle events to bus.
func New(st *store.Store, bus *events.Bus) *Queue {
	return &Queue{store: st, bus: bus}
}

const jobColumns = `id, prompt, mode, provider_choice, chosen_provider, chosen_model,
	external_id, status, priority, created_at, submitted_at, completed_at, attempts,
	lease_owner, lease_expires_at, cost_estimate, cost_actual, tools, context_refs,
	parent_campaign, failure_reason, cancel_note, metadata`

// NewJob builds a PENDING job with defaults applied.
func NewJob(prompt string, mode types.Mode, providerChoice string, priority int) *types.Job {
	if priority < 1 || priority > 5 {
		priority = 3
	}
	if providerChoice == "" {
		providerChoice = types.ProviderAuto
	}
	return &types.Job{
		ID:             uuid.NewString(),
		Prompt:         prompt,
		Mode:           mode,
		ProviderChoice: providerChoice,
		Status:         types.StatusPending,
		Priority:       priority,
		CreatedAt:      time.Now().UTC(),
	}
}

// Enqueue persists a new PENDING job and publishes job_created. When token
// is non-empty and was seen within the idempotency window, the previously
// created job is returned instead of inserting a duplicate.
func (q *Queue) Enqueue(job *types.Job, token string) (*types.Job, error) {
	if token != "" {
		if existing, err := q.lookupIdempotency(token); err == nil && existing != nil {
			logging.Queue("enqueue token replay, returning job %s", existing.ShortID())
			return existing, nil
		}
	}

	err := q.store.WithTx(func(tx *sql.Tx) error {
		tools, _ := json.Marshal(job.Tools)
		refs, _ := json.Marshal(job.ContextRefs)
		meta, _ := json.Marshal(job.Metadata)

		_, err := tx.Exec(`INSERT INTO jobs (id, prompt, mode, provider_choice, status, priority,
			created_at, attempts, cost_estimate, tools, context_refs, parent_campaign, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?, ?)`,
			job.ID, job.Prompt, string(job.Mode), job.ProviderChoice, string(types.StatusPending),
			job.Priority, formatTime(job.CreatedAt), job.CostEstimate.String(),
			string(tools), string(refs), nullable(job.ParentCampaign), string(meta))
		if err != nil {
			return fmt.Errorf("failed to insert job: %w", err)
		}

		if token != "" {
			if _, err := tx.Exec(`INSERT OR REPLACE INTO idempotency_keys (token, job_id, created_at)
				VALUES (?, ?, ?)`, token, job.ID, formatTime(time.Now().UTC())); err != nil {
				return fmt.Errorf("failed to record idempotency token: %w", err)
			}
		}

		if err := appendEvent(tx, job.ID, "created", ""); err != nil {
			return err
		}

		q.bus.Publish(events.Event{
			Type:       events.JobCreated,
			JobID:      job.ID,
			CampaignID: job.ParentCampaign,
			To:         types.StatusPending,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Queue("enqueued job %s mode=%s priority=%d", job.ShortID(), job.Mode, job.Priority)
	return job, nil
}

// idempotencyWindow matches the adapter-side submit window.
const idempotencyWindow = 5 * time.Minute

func (q *Queue) lookupIdempotency(token string) (*types.Job, error) {
	var jobID, createdAt string
	err := q.store.DB().QueryRow(`SELECT job_id, created_at FROM idempotency_keys WHERE token = ?`, token).
		Scan(&jobID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	at, err := parseTime(createdAt)
	if err != nil || time.Since(at) > idempotencyWindow {
		return nil, nil
	}
	return q.Get(jobID)
}

// Get returns a read-only snapshot of one job.
func (q *Queue) Get(id string) (*types.Job, error) {
	row := q.store.DB().QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, types.Errorf(types.ErrInvalidRequest, "no job with id %s", id)
	}
	return job, err
}

// Resolve looks a job up by id prefix. A prefix matching more than one
// job returns an explicit ambiguity error rather than picking the first.
func (q *Queue) Resolve(prefix string) (*types.Job, error) {
	if prefix == "" {
		return nil, types.Errorf(types.ErrInvalidRequest, "empty job id")
	}

	rows, err := q.store.DB().Query(`SELECT `+jobColumns+` FROM jobs WHERE id LIKE ? LIMIT 3`, prefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		// Also try matching on the short id suffix used in report names.
		return q.resolveBySuffix(prefix)
	case 1:
		return matches[0], nil
	default:
		return nil, types.Errorf(types.ErrInvalidRequest, "ambiguous job id prefix %q matches %d jobs", prefix, len(matches))
	}
}

func (q *Queue) resolveBySuffix(suffix string) (*types.Job, error) {
	rows, err := q.store.DB().Query(`SELECT `+jobColumns+` FROM jobs WHERE replace(id,'-','') LIKE ? LIMIT 3`, "%"+suffix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, job)
	}
	switch len(matches) {
	case 0:
		return nil, types.Errorf(types.ErrInvalidRequest, "no job matches %q", suffix)
	case 1:
		return matches[0], nil
	default:
		return nil, types.Errorf(types.ErrInvalidRequest, "ambiguous job id %q matches %d jobs", suffix, len(matches))
	}
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Status   types.JobStatus
	Campaign string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// List returns jobs matching the filter, newest first.
func (q *Queue) List(filter ListFilter) ([]*types.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []interface{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Campaign != "" {
		query += ` AND parent_campaign = ?`
		args = append(args, filter.Campaign)
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, formatTime(filter.Since))
	}
	if !filter.Until.IsZero() {
		query += ` AND created_at <= ?`
		args = append(args, formatTime(filter.Until))
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := q.store.DB().Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// CountByStatus returns how many jobs currently hold the given status.
func (q *Queue) CountByStatus(status types.JobStatus) (int, error) {
	var n int
	err := q.store.DB().QueryRow(`SELECT COUNT(*) FROM jobs WHERE status = ?`, string(status)).Scan(&n)
	return n, err
}

// --- row scanning -----------------------------------------------------------

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scannable) (*types.Job, error) {
	var (
		job                                            types.Job
		mode, status                                   string
		chosenProvider, chosenModel, externalID        sql.NullString
		createdAt                                      string
		submittedAt, completedAt, leaseExpires         sql.NullString
		leaseOwner, parentCampaign, failReason, cancel sql.NullString
		costEstimate                                   string
		costActual                                     sql.NullString
		toolsJSON, refsJSON, metaJSON                  string
	)

	err := row.Scan(&job.ID, &job.Prompt, &mode, &job.ProviderChoice, &chosenProvider, &chosenModel,
		&externalID, &status, &job.Priority, &createdAt, &submittedAt, &completedAt, &job.Attempts,
		&leaseOwner, &leaseExpires, &costEstimate, &costActual, &toolsJSON, &refsJSON,
		&parentCampaign, &failReason, &cancel, &metaJSON)
	if err != nil {
		return nil, err
	}

	job.Mode = types.Mode(mode)
	job.Status = types.JobStatus(status)
	job.ChosenProvider = chosenProvider.String
	job.ChosenModel = chosenModel.String
	job.ExternalID = externalID.String
	job.LeaseOwner = leaseOwner.String
	job.ParentCampaign = parentCampaign.String
	job.FailureReason = failReason.String
	job.CancelNote = cancel.String

	if job.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("bad created_at for job %s: %w", job.ID, err)
	}
	if t, ok := parseNullTime(submittedAt); ok {
		job.SubmittedAt = &t
	}
	if t, ok := parseNullTime(completedAt); ok {
		job.CompletedAt = &t
	}
	if t, ok := parseNullTime(leaseExpires); ok {
		job.LeaseExpiresAt = &t
	}

	if job.CostEstimate, err = decimal.NewFromString(costEstimate); err != nil {
		return nil, fmt.Errorf("bad cost_estimate for job %s: %w", job.ID, err)
	}
	if costActual.Valid {
		d, err := decimal.NewFromString(costActual.String)
		if err != nil {
			return nil, fmt.Errorf("bad cost_actual for job %s: %w", job.ID, err)
		}
		job.CostActual = &d
	}

	if err := json.Unmarshal([]byte(toolsJSON), &job.Tools); err != nil {
		return nil, fmt.Errorf("bad tools for job %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(refsJSON), &job.ContextRefs); err != nil {
		return nil, fmt.Errorf("bad context_refs for job %s: %w", job.ID, err)
	}
	if err := json.Unmarshal([]byte(metaJSON), &job.Metadata); err != nil {
		return nil, fmt.Errorf("bad metadata for job %s: %w", job.ID, err)
	}

	return &job, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func parseNullTime(ns sql.NullString) (time.Time, bool) {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return time.Time{}, false
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
