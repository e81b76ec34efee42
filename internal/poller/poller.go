// Package poller drives PROCESSING jobs to a terminal state. Workers
// claim leased jobs, poll provider status on an adaptive schedule, fetch
// artifacts on success, and hand failures back to the queue for fallback.
// Leases make the loop crash safe: a dead worker's jobs are reclaimed as
// soon as the lease lapses.
package poller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"scout/internal/artifact"
	"scout/internal/config"
	"scout/internal/ledger"
	"scout/internal/logging"
	"scout/internal/provider"
	"scout/internal/queue"
	"scout/internal/registry"
	"scout/internal/router"
	"scout/internal/types"
)

// tick is how often a worker scans for claimable jobs.
const tick = time.Second

// Poller runs the status-polling workers.
type Poller struct {
	queue     *queue.Queue
	router    *router.Router
	artifacts *artifact.Store
	governor  *ledger.Governor
	cfg       config.PollConfig

	ownerBase string

	mu         sync.Mutex
	lastPolled map[string]time.Time
}

// New builds a poller. The owner id namespaces leases per process.
func New(q *queue.Queue, r *router.Router, arts *artifact.Store, gov *ledger.Governor, cfg config.PollConfig) *Poller {
	host, _ := os.Hostname()
	return &Poller{
		queue:      q,
		router:     r,
		artifacts:  arts,
		governor:   gov,
		cfg:        cfg,
		ownerBase:  fmt.Sprintf("%s-%d", host, os.Getpid()),
		lastPolled: make(map[string]time.Time),
	}
}

// Run starts the worker partitions and blocks until ctx ends. Each worker
// owns the jobs whose id hashes into its partition, so two workers never
// poll the same job even before leases are checked.
func (p *Poller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return p.runWorker(ctx, worker)
		})
	}
	g.Go(func() error {
		return p.runJanitor(ctx)
	})
	return g.Wait()
}

func (p *Poller) runWorker(ctx context.Context, worker int) error {
	owner := fmt.Sprintf("%s-w%d", p.ownerBase, worker)
	logging.Poller("worker %s started", owner)

	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.Poller("worker %s stopping: %v", owner, ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			p.pollPass(ctx, owner, worker)
		}
	}
}

func (p *Poller) pollPass(ctx context.Context, owner string, worker int) {
	jobs, err := p.queue.ClaimProcessing(owner, p.cfg.Lease(), p.cfg.MaxConcurrentProcessing)
	if err != nil {
		logging.Get(logging.CategoryPoller).Error("claim failed: %v", err)
		return
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		if p.partition(job.ID) != worker {
			// Not ours; release so the owning worker can claim it.
			p.queue.ReleaseLease(job.ID, owner)
			continue
		}
		if !p.due(job) {
			continue
		}
		p.pollOne(ctx, owner, job)
	}
}

func (p *Poller) partition(jobID string) int {
	h := fnv.New32a()
	h.Write([]byte(jobID))
	return int(h.Sum32()) % p.cfg.Workers
}

// due applies the adaptive schedule: young jobs poll fast, old jobs slow.
func (p *Poller) due(job *types.Job) bool {
	submitted := job.CreatedAt
	if job.SubmittedAt != nil {
		submitted = *job.SubmittedAt
	}
	interval := p.cfg.Interval(time.Since(submitted))

	p.mu.Lock()
	defer p.mu.Unlock()
	last, ok := p.lastPolled[job.ID]
	if ok && time.Since(last) < interval {
		return false
	}
	p.lastPolled[job.ID] = time.Now()
	return true
}

func (p *Poller) forget(jobID string) {
	p.mu.Lock()
	delete(p.lastPolled, jobID)
	p.mu.Unlock()
}

func (p *Poller) pollOne(ctx context.Context, owner string, job *types.Job) {
	if job.ExternalID == "" || job.ChosenProvider == "" {
		logging.Get(logging.CategoryPoller).Error("job %s is PROCESSING without routing state", job.ShortID())
		p.fail(job, "internal state corruption: processing without external id")
		return
	}

	adapter, ok := p.router.Adapter(job.ChosenProvider)
	if !ok {
		p.fail(job, "provider "+job.ChosenProvider+" no longer configured")
		return
	}
	model, err := registry.Lookup(job.ChosenProvider, job.ChosenModel)
	if err != nil {
		p.fail(job, "unknown model "+job.ChosenProvider+"/"+job.ChosenModel)
		return
	}

	if p.timedOut(job) {
		// One last status check: a job that finished just before the
		// deadline keeps its result.
		sctx, scancel := context.WithTimeout(ctx, model.CallTimeout)
		status, serr := adapter.Status(sctx, job.ExternalID)
		scancel()
		if serr == nil && status.State == provider.StateSucceeded {
			logging.Poller("job %s finished at the deadline, reaping result", job.ShortID())
			p.finalize(ctx, job, adapter, model)
			return
		}

		logging.Poller("job %s exceeded max runtime, canceling on provider", job.ShortID())
		cctx, cancel := context.WithTimeout(ctx, model.CallTimeout)
		adapter.Cancel(cctx, job.ExternalID)
		cancel()
		p.fail(job, fmt.Sprintf("timeout after %s on %s", p.cfg.MaxRuntime(), job.ChosenProvider))
		return
	}

	sctx, cancel := context.WithTimeout(ctx, model.CallTimeout)
	status, err := adapter.Status(sctx, job.ExternalID)
	cancel()
	if err != nil {
		kind := adapter.ClassifyError(err)
		logging.Get(logging.CategoryPoller).Error("status poll failed for job %s (%s): %v", job.ShortID(), kind, err)
		if kind.Fatal() {
			p.fail(job, "status poll failed: "+err.Error())
		}
		// Transient poll errors cost nothing; the next tick retries and
		// the max-runtime clock bounds how long that can go on.
		return
	}

	if _, err := p.queue.Heartbeat(job.ID, owner, p.cfg.Lease()); err != nil {
		return
	}

	switch status.State {
	case provider.StateQueued, provider.StateRunning:
		logging.PollerDebug("job %s still %s (%s)", job.ShortID(), status.State, status.Substate)
	case provider.StateSucceeded:
		p.finalize(ctx, job, adapter, model)
	case provider.StateFailed:
		p.handleProviderFailure(job, adapter, status.Reason)
	case provider.StateCanceled:
		p.forget(job.ID)
		if err := p.queue.Cancel(job.ID, "canceled on provider side"); err != nil && err != queue.ErrConflict {
			logging.Get(logging.CategoryPoller).Error("cancel reconciliation failed for job %s: %v", job.ShortID(), err)
		}
	}
}

func (p *Poller) timedOut(job *types.Job) bool {
	if job.SubmittedAt == nil {
		return false
	}
	return time.Since(*job.SubmittedAt) > p.cfg.MaxRuntime()
}

// finalize fetches the artifact, persists it, and commits the realized
// cost with the COMPLETED transition in one database transaction. If the
// transition loses a race, the report directory is removed again.
func (p *Poller) finalize(ctx context.Context, job *types.Job, adapter provider.Adapter, model *registry.Model) {
	timer := logging.StartTimer(logging.CategoryPoller, "finalize")
	defer timer.Stop()

	fctx, cancel := context.WithTimeout(ctx, model.CallTimeout)
	art, err := adapter.Fetch(fctx, job.ExternalID)
	cancel()
	if err != nil {
		kind := adapter.ClassifyError(err)
		logging.Get(logging.CategoryPoller).Error("fetch failed for job %s (%s): %v", job.ShortID(), kind, err)
		if kind.Fatal() {
			p.fail(job, "artifact fetch failed: "+err.Error())
		}
		return
	}
	art.JobID = job.ID

	cost := model.Cost(art.TokenUsage)
	dir, err := p.artifacts.Save(job, art, cost)
	if err != nil {
		logging.Get(logging.CategoryPoller).Error("artifact save failed for job %s: %v", job.ShortID(), err)
		return
	}

	entry := types.CostEntry{
		JobID:     job.ID,
		Provider:  job.ChosenProvider,
		Model:     job.ChosenModel,
		Kind:      types.CostRealized,
		Amount:    cost,
		TokensIn:  art.TokenUsage.Input,
		TokensOut: art.TokenUsage.Output + art.TokenUsage.Reasoning,
	}
	err = p.queue.Complete(job.ID, cost, func(tx *sql.Tx) error {
		return ledger.AppendTx(tx, entry)
	})
	if err != nil {
		os.RemoveAll(dir)
		if err != queue.ErrConflict {
			logging.Get(logging.CategoryPoller).Error("complete failed for job %s: %v", job.ShortID(), err)
		}
		return
	}

	p.forget(job.ID)
	p.governor.NoteSpend()
	p.governor.RecordProviderSuccess()
	if job.SubmittedAt != nil {
		p.router.Health().RecordSuccess(job.ChosenProvider, job.Mode, time.Since(*job.SubmittedAt))
	}
	logging.Poller("job %s completed on %s/%s cost=$%s", job.ShortID(), job.ChosenProvider, job.ChosenModel, cost)
}

// handleProviderFailure classifies the provider's reason, fails
// immediately on fatal kinds, requeues for fallback while attempts
// remain, and otherwise fails the job with the provider's reason.
func (p *Poller) handleProviderFailure(job *types.Job, adapter provider.Adapter, reason string) {
	if reason == "" {
		reason = "provider reported failure"
	}
	kind := adapter.ClassifyError(errors.New(reason))

	p.router.Health().RecordFailure(job.ChosenProvider, job.Mode)
	p.governor.RecordProviderFailure(reason)
	p.queue.RecordAttempt(job.ID, types.AttemptRecord{
		Provider:  job.ChosenProvider,
		Model:     job.ChosenModel,
		ErrorKind: string(kind),
		Error:     reason,
	})

	if kind.Fatal() {
		p.fail(job, fmt.Sprintf("%s on %s: %s", kind, job.ChosenProvider, reason))
		return
	}

	if job.Attempts < p.maxAttempts() {
		logging.Poller("job %s failed on %s (attempt %d), requeueing: %s", job.ShortID(), job.ChosenProvider, job.Attempts, reason)
		p.forget(job.ID)
		if err := p.queue.Requeue(job.ID, reason); err != nil && err != queue.ErrConflict {
			logging.Get(logging.CategoryPoller).Error("requeue failed for job %s: %v", job.ShortID(), err)
		}
		return
	}
	p.fail(job, fmt.Sprintf("failed after %d attempts, last on %s: %s", job.Attempts, job.ChosenProvider, reason))
}

func (p *Poller) maxAttempts() int { return 3 }

func (p *Poller) fail(job *types.Job, reason string) {
	p.forget(job.ID)
	if err := p.queue.Fail(job.ID, reason); err != nil && err != queue.ErrConflict {
		logging.Get(logging.CategoryPoller).Error("fail transition error for job %s: %v", job.ShortID(), err)
	}
}

// runJanitor prunes expired idempotency tokens on a slow cadence.
func (p *Poller) runJanitor(ctx context.Context) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.queue.PruneIdempotencyKeys(); err != nil {
				logging.Get(logging.CategoryPoller).Error("idempotency prune failed: %v", err)
			}
		}
	}
}
