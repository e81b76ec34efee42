package queue

import (
	"time"

	"scout/internal/logging"
	"scout/internal/types"
)

// Leases partition PROCESSING jobs across poll workers and make crash
// recovery automatic: a worker that dies simply stops heartbeating, and
// its jobs become claimable once the lease expires.

// NextPending atomically claims the oldest highest-priority PENDING job
// for the given owner. Returns nil when no job is claimable. The select
// and the lease UPDATE are separate statements, so a lost race simply
// yields nil and the caller tries again on its next tick.
func (q *Queue) NextPending(owner string, leaseFor time.Duration) (*types.Job, error) {
	now := time.Now().UTC()
	row := q.store.DB().QueryRow(`SELECT id FROM jobs
		WHERE status = ? AND (lease_expires_at IS NULL OR lease_expires_at < ?)
		ORDER BY priority ASC, created_at ASC LIMIT 1`,
		string(types.StatusPending), formatTime(now))

	var id string
	if err := row.Scan(&id); err != nil {
		return nil, nil
	}

	ok, err := q.AcquireLease(id, owner, leaseFor)
	if err != nil || !ok {
		return nil, err
	}
	return q.Get(id)
}

// AcquireLease claims a job for owner when no live lease exists. Returns
// false when another worker holds a valid lease.
func (q *Queue) AcquireLease(jobID, owner string, dur time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := q.store.DB().Exec(`UPDATE jobs SET lease_owner = ?, lease_expires_at = ?
		WHERE id = ? AND status IN (?, ?)
		AND (lease_owner IS NULL OR lease_owner = ? OR lease_expires_at < ?)`,
		owner, formatTime(now.Add(dur)), jobID,
		string(types.StatusPending), string(types.StatusProcessing),
		owner, formatTime(now))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.QueueDebug("lease acquired: job=%s owner=%s for=%s", shortID(jobID), owner, dur)
	}
	return n > 0, nil
}

// Heartbeat extends a held lease. Returns false when the lease was lost,
// which tells the worker to stop touching this job.
func (q *Queue) Heartbeat(jobID, owner string, dur time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := q.store.DB().Exec(`UPDATE jobs SET lease_expires_at = ?
		WHERE id = ? AND lease_owner = ?`,
		formatTime(now.Add(dur)), jobID, owner)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ReleaseLease drops the lease without changing job status.
func (q *Queue) ReleaseLease(jobID, owner string) error {
	_, err := q.store.DB().Exec(`UPDATE jobs SET lease_owner = NULL, lease_expires_at = NULL
		WHERE id = ? AND lease_owner = ?`, jobID, owner)
	return err
}

// ClaimProcessing claims up to limit PROCESSING jobs whose leases are
// absent or expired. On restart this is how orphaned in-flight jobs are
// adopted; external ids persisted at submit time make polling resumable.
func (q *Queue) ClaimProcessing(owner string, leaseFor time.Duration, limit int) ([]*types.Job, error) {
	now := time.Now().UTC()

	rows, err := q.store.DB().Query(`SELECT id FROM jobs
		WHERE status = ? AND (lease_owner IS NULL OR lease_expires_at < ?)
		ORDER BY priority ASC, created_at ASC LIMIT ?`,
		string(types.StatusProcessing), formatTime(now), limit)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var claimed []*types.Job
	for _, id := range ids {
		ok, err := q.AcquireLease(id, owner, leaseFor)
		if err != nil {
			return claimed, err
		}
		if !ok {
			continue
		}
		job, err := q.Get(id)
		if err != nil {
			return claimed, err
		}
		claimed = append(claimed, job)
	}
	if len(claimed) > 0 {
		logging.Queue("claimed %d processing jobs for owner=%s", len(claimed), owner)
	}
	return claimed, nil
}
