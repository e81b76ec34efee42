package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/avast/retry-go"

	"scout/internal/ledger"
	"scout/internal/logging"
	"scout/internal/provider"
	"scout/internal/queue"
	"scout/internal/registry"
	"scout/internal/router"
	"scout/internal/types"
)

// submitTick is how often the worker checks for PENDING work.
const submitTick = 500 * time.Millisecond

// runSubmitWorker drains PENDING jobs: route, governor-check, and submit
// down the fallback chain until one provider accepts or the chain is
// exhausted.
func (e *Engine) runSubmitWorker(ctx context.Context) error {
	logging.Engine("submit worker %s started", e.owner)
	ticker := time.NewTicker(submitTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			for {
				if err := e.waitForCapacity(ctx); err != nil {
					return err
				}
				job, err := e.queue.NextPending(e.owner, e.cfg.Poll.Lease())
				if err != nil {
					logging.Get(logging.CategoryEngine).Error("pending scan failed: %v", err)
					break
				}
				if job == nil {
					break
				}
				e.submitJob(ctx, job)
			}
		}
	}
}

// waitForCapacity blocks while PROCESSING is at the configured cap. The
// condition variable is signaled by terminal job events, so this does not
// spin.
func (e *Engine) waitForCapacity(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		n, err := e.queue.CountByStatus(types.StatusProcessing)
		if err != nil {
			return err
		}
		if n < e.cfg.Poll.MaxConcurrentProcessing {
			return nil
		}
		logging.EngineDebug("backpressure: %d jobs processing, waiting", n)

		done := make(chan struct{})
		go func() {
			e.procMu.Lock()
			e.procCond.Wait()
			e.procMu.Unlock()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			e.procCond.Broadcast()
			<-done
			return ctx.Err()
		}
	}
}

// submitJob walks the fallback chain for one job. Transient errors retry
// the same provider with short backoff; rate limits and outages skip to
// the next candidate; fatal errors stop immediately.
func (e *Engine) submitJob(ctx context.Context, job *types.Job) {
	defer e.queue.ReleaseLease(job.ID, e.owner)

	chain, err := e.router.Plan(job)
	if err != nil {
		e.queue.Fail(job.ID, err.Error())
		return
	}

	verdict := e.governor.CheckSubmit(chain[0].Model.EstimateCost(job.Prompt, job.Mode))
	if verdict.Decision == ledger.Deny {
		e.queue.Fail(job.ID, "budget denied: "+verdict.Reason)
		return
	}

	var lastErr error
	for i, candidate := range chain {
		if ctx.Err() != nil {
			return
		}
		model := candidate.Model
		adapter, ok := e.router.Adapter(model.Provider)
		if !ok {
			continue
		}

		req := provider.Request{
			JobID:            job.ID,
			Prompt:           job.Prompt,
			SystemPrompt:     systemPromptFor(job.Mode),
			Model:            model,
			Tools:            job.Tools,
			IdempotencyToken: job.ID + ":" + model.Provider,
		}

		started := time.Now()
		result, err := e.trySubmit(ctx, adapter, model.CallTimeout, req)
		if err == nil {
			estimate := model.EstimateCost(job.Prompt, job.Mode)
			if terr := e.queue.MarkProcessing(job.ID, model.Provider, model.ID, result.ExternalID, estimate); terr != nil {
				if terr != queue.ErrConflict {
					logging.Get(logging.CategoryEngine).Error("mark processing failed for job %s: %v", job.ShortID(), terr)
				}
				return
			}
			if result.Synchronous != nil && result.InitialStatus == provider.StateSucceeded {
				e.completeSynchronous(job.ID, model, result.Synchronous, started)
				return
			}
			logging.Engine("job %s submitted to %s (external_id=%s, chain position %d)",
				job.ShortID(), model.Key(), result.ExternalID, i+1)
			return
		}

		kind := adapter.ClassifyError(err)
		lastErr = err
		e.queue.RecordAttempt(job.ID, types.AttemptRecord{
			Provider:  model.Provider,
			Model:     model.ID,
			ErrorKind: string(kind),
			Error:     err.Error(),
		})
		e.router.Health().RecordFailure(model.Provider, job.Mode)
		e.governor.RecordProviderFailure(err.Error())

		if router.OnError(kind) == router.FailJob {
			e.queue.Fail(job.ID, fmt.Sprintf("%s error on %s: %v", kind, model.Provider, err))
			return
		}
		logging.Engine("job %s submit to %s failed (%s), trying next candidate", job.ShortID(), model.Key(), kind)
	}

	e.queue.Fail(job.ID, fmt.Sprintf("all %d providers failed, last error: %v", len(chain), lastErr))
}

// completeSynchronous commits a result returned inline by a synchronous
// provider: artifact write plus realized cost plus the COMPLETED
// transition in one transaction, with no poller involvement. The poller's
// finalize does the same for async jobs.
func (e *Engine) completeSynchronous(jobID string, model *registry.Model, art *types.Artifact, started time.Time) {
	job, err := e.queue.Get(jobID)
	if err != nil {
		logging.Get(logging.CategoryEngine).Error("synchronous completion lookup failed for job %s: %v", jobID, err)
		return
	}

	art.JobID = job.ID
	cost := model.Cost(art.TokenUsage)
	dir, err := e.artifacts.Save(job, art, cost)
	if err != nil {
		logging.Get(logging.CategoryEngine).Error("artifact save failed for job %s: %v", job.ShortID(), err)
		return
	}

	entry := types.CostEntry{
		JobID:     job.ID,
		Provider:  model.Provider,
		Model:     model.ID,
		Kind:      types.CostRealized,
		Amount:    cost,
		TokensIn:  art.TokenUsage.Input,
		TokensOut: art.TokenUsage.Output + art.TokenUsage.Reasoning,
	}
	err = e.queue.Complete(job.ID, cost, func(tx *sql.Tx) error {
		return ledger.AppendTx(tx, entry)
	})
	if err != nil {
		os.RemoveAll(dir)
		if err != queue.ErrConflict {
			logging.Get(logging.CategoryEngine).Error("synchronous complete failed for job %s: %v", job.ShortID(), err)
		}
		return
	}

	e.governor.NoteSpend()
	e.governor.RecordProviderSuccess()
	e.router.Health().RecordSuccess(model.Provider, job.Mode, time.Since(started))
	logging.Engine("job %s completed synchronously on %s cost=$%s", job.ShortID(), model.Key(), cost)
}

// trySubmit performs one submit with a single same-provider retry for
// transient errors (1s then 2s backoff). Anything else surfaces at once.
func (e *Engine) trySubmit(ctx context.Context, adapter provider.Adapter, timeout time.Duration, req provider.Request) (*provider.SubmitResult, error) {
	var result *provider.SubmitResult
	err := retry.Do(
		func() error {
			sctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			r, err := adapter.Submit(sctx, req)
			if err != nil {
				return err
			}
			result = r
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return adapter.ClassifyError(err) == provider.KindTransient && ctx.Err() == nil
		}),
	)
	return result, err
}

// systemPromptFor sets the research register per mode.
func systemPromptFor(mode types.Mode) string {
	switch mode {
	case types.ModeDocs:
		return "You are a technical researcher producing thorough, well-structured documentation. Cite every external claim."
	case types.ModeProjectPhase:
		return "You are executing one phase of a multi-phase research project. Build on provided context and cite sources."
	case types.ModeTeamPerspective:
		return "You are a panel of domain experts. Present each perspective distinctly, then reconcile them. Cite sources."
	default:
		return "You are a meticulous researcher. Answer the question directly with citations for every factual claim."
	}
}
