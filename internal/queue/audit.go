package queue

import (
	"database/sql"
	"encoding/json"
	"time"

	"scout/internal/types"
)

// JobEvent is one row of the per-job audit log. Unlike bus events, these
// are durable and replayable after restart.
type JobEvent struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	Event      string    `json:"event"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func appendEvent(tx *sql.Tx, jobID, event, detail string) error {
	_, err := tx.Exec(`INSERT INTO job_events (job_id, event, detail, occurred_at) VALUES (?, ?, ?, ?)`,
		jobID, event, detail, formatTime(time.Now().UTC()))
	return err
}

// RecordAttempt appends a provider submission attempt to the audit log.
// Every attempt across fallbacks is retained, not just the last.
func (q *Queue) RecordAttempt(jobID string, rec types.AttemptRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	detail, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return q.store.WithTx(func(tx *sql.Tx) error {
		return appendEvent(tx, jobID, "attempt", string(detail))
	})
}

// Events returns the full audit log for a job, oldest first.
func (q *Queue) Events(jobID string) ([]JobEvent, error) {
	rows, err := q.store.DB().Query(`SELECT id, job_id, event, detail, occurred_at
		FROM job_events WHERE job_id = ? ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobEvent
	for rows.Next() {
		var (
			ev     JobEvent
			detail sql.NullString
			at     string
		)
		if err := rows.Scan(&ev.ID, &ev.JobID, &ev.Event, &detail, &at); err != nil {
			return nil, err
		}
		ev.Detail = detail.String
		if ev.OccurredAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Attempts reconstructs the submission attempt history from the audit log.
func (q *Queue) Attempts(jobID string) ([]types.AttemptRecord, error) {
	evs, err := q.Events(jobID)
	if err != nil {
		return nil, err
	}
	var out []types.AttemptRecord
	for _, ev := range evs {
		if ev.Event != "attempt" {
			continue
		}
		var rec types.AttemptRecord
		if err := json.Unmarshal([]byte(ev.Detail), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// PruneIdempotencyKeys removes expired tokens. Called opportunistically
// from the poller loop.
func (q *Queue) PruneIdempotencyKeys() error {
	cutoff := time.Now().UTC().Add(-idempotencyWindow)
	_, err := q.store.DB().Exec(`DELETE FROM idempotency_keys WHERE created_at < ?`, formatTime(cutoff))
	return err
}
