package queue

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"scout/internal/events"
	"scout/internal/logging"
	"scout/internal/types"
)

// Transitions are compare-and-set: the UPDATE names the expected current
// status in its WHERE clause, and zero rows affected means another worker
// won the race. Callers treat ErrConflict as "someone else did it".

// ErrConflict is returned when a CAS transition found the job in a
// different state than expected.
var ErrConflict = types.NewError(types.ErrQueueConflict, "job state changed concurrently", nil)

// MarkProcessing transitions PENDING -> PROCESSING after a successful
// provider submit, recording the routing decision and incrementing the
// attempt counter.
func (q *Queue) MarkProcessing(jobID, provider, model, externalID string, estimate decimal.Decimal) error {
	now := time.Now().UTC()
	return q.transition(jobID, types.StatusPending, types.StatusProcessing, func(tx *sql.Tx) (int64, error) {
		res, err := tx.Exec(`UPDATE jobs SET status = ?, chosen_provider = ?, chosen_model = ?,
			external_id = ?, submitted_at = ?, attempts = attempts + 1, cost_estimate = ?
			WHERE id = ? AND status = ?`,
			string(types.StatusProcessing), provider, model, externalID, formatTime(now),
			estimate.String(), jobID, string(types.StatusPending))
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			if err := appendEvent(tx, jobID, "submitted", fmt.Sprintf("%s/%s external_id=%s", provider, model, externalID)); err != nil {
				return 0, err
			}
		}
		return n, nil
	}, events.Event{Type: events.JobStatusChanged, JobID: jobID, From: types.StatusPending, To: types.StatusProcessing, Provider: provider})
}

// Requeue transitions PROCESSING -> PENDING for a fallback retry. The
// routing decision is cleared so the router picks fresh; attempts are
// retained so the retry cap holds across providers.
func (q *Queue) Requeue(jobID, reason string) error {
	return q.transition(jobID, types.StatusProcessing, types.StatusPending, func(tx *sql.Tx) (int64, error) {
		res, err := tx.Exec(`UPDATE jobs SET status = ?, chosen_provider = NULL, chosen_model = NULL,
			external_id = NULL, submitted_at = NULL, lease_owner = NULL, lease_expires_at = NULL
			WHERE id = ? AND status = ?`,
			string(types.StatusPending), jobID, string(types.StatusProcessing))
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			if err := appendEvent(tx, jobID, "requeued", reason); err != nil {
				return 0, err
			}
		}
		return n, nil
	}, events.Event{Type: events.JobStatusChanged, JobID: jobID, From: types.StatusProcessing, To: types.StatusPending, Reason: reason})
}

// Complete transitions PROCESSING -> COMPLETED, recording the realized
// cost. The extra hook runs inside the same transaction so the ledger
// entry and the status flip commit or roll back together.
func (q *Queue) Complete(jobID string, costActual decimal.Decimal, extra func(tx *sql.Tx) error) error {
	now := time.Now().UTC()
	return q.transition(jobID, types.StatusProcessing, types.StatusCompleted, func(tx *sql.Tx) (int64, error) {
		res, err := tx.Exec(`UPDATE jobs SET status = ?, completed_at = ?, cost_actual = ?,
			lease_owner = NULL, lease_expires_at = NULL
			WHERE id = ? AND status = ?`,
			string(types.StatusCompleted), formatTime(now), costActual.String(),
			jobID, string(types.StatusProcessing))
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return 0, nil
		}
		if err := appendEvent(tx, jobID, "completed", "cost="+costActual.String()); err != nil {
			return 0, err
		}
		if extra != nil {
			if err := extra(tx); err != nil {
				return 0, err
			}
		}
		return n, nil
	}, events.Event{Type: events.JobCompleted, JobID: jobID, From: types.StatusProcessing, To: types.StatusCompleted})
}

// Fail marks a job FAILED with a reason. Both PENDING jobs (fallback
// chain exhausted before any submit stuck) and PROCESSING jobs (terminal
// provider failure or timeout) can fail.
func (q *Queue) Fail(jobID, reason string) error {
	now := time.Now().UTC()
	job, err := q.Get(jobID)
	if err != nil {
		return err
	}
	from := job.Status

	return q.transition(jobID, from, types.StatusFailed, func(tx *sql.Tx) (int64, error) {
		res, err := tx.Exec(`UPDATE jobs SET status = ?, completed_at = ?, failure_reason = ?,
			lease_owner = NULL, lease_expires_at = NULL
			WHERE id = ? AND status = ? AND status IN (?, ?)`,
			string(types.StatusFailed), formatTime(now), reason, jobID, string(from),
			string(types.StatusPending), string(types.StatusProcessing))
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			if err := appendEvent(tx, jobID, "failed", reason); err != nil {
				return 0, err
			}
		}
		return n, nil
	}, events.Event{Type: events.JobFailed, JobID: jobID, CampaignID: job.ParentCampaign, From: from, To: types.StatusFailed, Reason: reason})
}

// Cancel marks any non-terminal job CANCELED. The note records whether the
// provider-side cancellation succeeded, failed, or raced a completion.
func (q *Queue) Cancel(jobID, note string) error {
	now := time.Now().UTC()
	job, err := q.Get(jobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return types.Errorf(types.ErrQueueConflict, "job %s already %s", job.ShortID(), job.Status)
	}
	from := job.Status

	return q.transition(jobID, from, types.StatusCanceled, func(tx *sql.Tx) (int64, error) {
		res, err := tx.Exec(`UPDATE jobs SET status = ?, completed_at = ?, cancel_note = ?,
			lease_owner = NULL, lease_expires_at = NULL
			WHERE id = ? AND status = ?`,
			string(types.StatusCanceled), formatTime(now), note, jobID, string(from))
		if err != nil {
			return 0, err
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			if err := appendEvent(tx, jobID, "canceled", note); err != nil {
				return 0, err
			}
		}
		return n, nil
	}, events.Event{Type: events.JobCanceled, JobID: jobID, CampaignID: job.ParentCampaign, From: from, To: types.StatusCanceled, Reason: note})
}

// SetCancelNote updates the cancel note on an already-canceled job, used
// when the provider-side cancel resolves after the local transition.
func (q *Queue) SetCancelNote(jobID, note string) error {
	_, err := q.store.DB().Exec(`UPDATE jobs SET cancel_note = ? WHERE id = ? AND status = ?`,
		note, jobID, string(types.StatusCanceled))
	return err
}

// RecordActualCost stores the realized cost on a terminal job without
// changing its status. Used when a canceled job turns out to have finished
// on the provider side and still incurred spend.
func (q *Queue) RecordActualCost(jobID string, cost decimal.Decimal) error {
	return q.store.WithTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE jobs SET cost_actual = ? WHERE id = ?`, cost.String(), jobID); err != nil {
			return err
		}
		return appendEvent(tx, jobID, "cost_recorded", cost.String())
	})
}

// transition runs the CAS update plus audit append in one transaction and
// publishes the event only when the CAS won.
func (q *Queue) transition(jobID string, from, to types.JobStatus, fn func(tx *sql.Tx) (int64, error), event events.Event) error {
	var affected int64
	err := q.store.WithTx(func(tx *sql.Tx) error {
		n, err := fn(tx)
		if err != nil {
			return err
		}
		affected = n
		if n > 0 {
			q.bus.Publish(event)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if affected == 0 {
		logging.QueueDebug("transition %s -> %s lost race for job %s", from, to, jobID)
		return ErrConflict
	}
	logging.Queue("job %s: %s -> %s", shortID(jobID), from, to)
	return nil
}

func shortID(id string) string {
	j := types.Job{ID: id}
	return j.ShortID()
}
