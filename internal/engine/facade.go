package engine

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"scout/internal/artifact"
	"scout/internal/events"
	"scout/internal/ledger"
	"scout/internal/logging"
	"scout/internal/provider"
	"scout/internal/queue"
	"scout/internal/registry"
	"scout/internal/router"
	"scout/internal/types"
)

// SubmitRequest is the surface-level job submission.
type SubmitRequest struct {
	Prompt   string
	Mode     types.Mode
	Provider string // "auto", "provider", or "provider/model"
	Priority int
	Tools    []types.Tool

	// IdempotencyToken deduplicates repeated submissions within a window.
	IdempotencyToken string

	// Confirmed approves an estimate that would consume most of the
	// remaining daily budget.
	Confirmed bool

	campaignID  string
	contextRefs []string
}

// Submit validates, budget-checks, and enqueues a research job. The job
// returns in PENDING; the submit worker routes and dispatches it.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*types.Job, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, types.Errorf(types.ErrInvalidRequest, "empty prompt")
	}
	if req.Mode == "" {
		req.Mode = types.ModeFocus
	}
	if !validMode(req.Mode) {
		return nil, types.Errorf(types.ErrInvalidRequest, "unknown mode %q", req.Mode)
	}

	job := queue.NewJob(req.Prompt, req.Mode, req.Provider, req.Priority)
	job.Tools = req.Tools
	job.ParentCampaign = req.campaignID
	job.ContextRefs = req.contextRefs

	chain, err := e.router.Plan(job)
	if err != nil {
		return nil, err
	}
	estimate := chain[0].Model.EstimateCost(job.Prompt, job.Mode)
	job.CostEstimate = estimate

	verdict := e.governor.CheckSubmit(estimate)
	switch verdict.Decision {
	case ledger.Deny:
		return nil, types.BudgetDeniedError(verdict.Reason, verdict.Remaining)
	case ledger.RequireConfirm:
		if !req.Confirmed {
			return nil, types.BudgetDeniedError("confirmation required: "+verdict.Reason, verdict.Remaining)
		}
	}

	if err := e.ledger.Append(types.CostEntry{
		JobID:    job.ID,
		Provider: chain[0].Model.Provider,
		Model:    chain[0].Model.ID,
		Kind:     types.CostEstimate,
		Amount:   estimate,
	}); err != nil {
		return nil, err
	}

	return e.queue.Enqueue(job, req.IdempotencyToken)
}

func validMode(m types.Mode) bool {
	for _, v := range types.ValidModes {
		if v == m {
			return true
		}
	}
	return false
}

// Get resolves a job by full id or unambiguous prefix.
func (e *Engine) Get(idOrPrefix string) (*types.Job, error) {
	return e.queue.Resolve(idOrPrefix)
}

// List returns jobs matching the filter.
func (e *Engine) List(filter queue.ListFilter) ([]*types.Job, error) {
	return e.queue.List(filter)
}

// JobEvents returns the durable audit log for a job.
func (e *Engine) JobEvents(jobID string) ([]queue.JobEvent, error) {
	return e.queue.Events(jobID)
}

// Report loads the report body and metadata for a completed job.
func (e *Engine) Report(idOrPrefix string) (string, *artifact.Metadata, error) {
	job, err := e.queue.Resolve(idOrPrefix)
	if err != nil {
		return "", nil, err
	}
	return e.artifacts.Load(job.ID)
}

// Cancel stops a job. PENDING jobs cancel locally; PROCESSING jobs also
// get a best-effort provider-side cancel. When the provider finished
// before the cancel landed, the realized spend is still recorded and the
// note says so.
func (e *Engine) Cancel(ctx context.Context, idOrPrefix string) (*types.Job, error) {
	job, err := e.queue.Resolve(idOrPrefix)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return nil, types.Errorf(types.ErrQueueConflict, "job %s already %s", job.ShortID(), job.Status)
	}

	note := "canceled before submission"
	if job.Status == types.StatusProcessing && job.ExternalID != "" {
		note = e.cancelOnProvider(ctx, job)
	}

	if err := e.queue.Cancel(job.ID, note); err != nil {
		return nil, err
	}
	return e.queue.Get(job.ID)
}

func (e *Engine) cancelOnProvider(ctx context.Context, job *types.Job) string {
	adapter, ok := e.router.Adapter(job.ChosenProvider)
	if !ok {
		return "provider no longer configured, canceled locally only"
	}
	model, err := registry.Lookup(job.ChosenProvider, job.ChosenModel)
	timeout := 2 * time.Minute
	if err == nil {
		timeout = model.CallTimeout
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ok, cerr := adapter.Cancel(cctx, job.ExternalID)
	if cerr != nil {
		logging.Engine("provider cancel errored for job %s: %v", job.ShortID(), cerr)
		return "provider cancel failed: " + cerr.Error()
	}
	if ok {
		return "canceled on provider"
	}

	// The provider refused; most often the job already finished. If so,
	// the spend happened and must land in the ledger even though the
	// result is discarded.
	status, serr := adapter.Status(cctx, job.ExternalID)
	if serr == nil && status.State == provider.StateSucceeded {
		if art, ferr := adapter.Fetch(cctx, job.ExternalID); ferr == nil && model != nil {
			cost := model.Cost(art.TokenUsage)
			e.ledger.Append(types.CostEntry{
				JobID:     job.ID,
				Provider:  job.ChosenProvider,
				Model:     job.ChosenModel,
				Kind:      types.CostRealized,
				Amount:    cost,
				TokensIn:  art.TokenUsage.Input,
				TokensOut: art.TokenUsage.Output + art.TokenUsage.Reasoning,
			})
			e.queue.RecordActualCost(job.ID, cost)
			e.governor.NoteSpend()
			return "provider completed before cancel; result discarded, spend $" + cost.String() + " recorded"
		}
	}
	return "provider declined cancel"
}

// Subscribe registers a filtered event subscription.
func (e *Engine) Subscribe(filter events.Filter) (<-chan events.Event, func()) {
	return e.bus.Subscribe(filter)
}

// Health reports the router's provider health snapshot.
func (e *Engine) Health() []router.ProviderHealth {
	return e.router.Health().Snapshot()
}

// BudgetStatus reports spend against the configured budgets.
type BudgetStatus struct {
	DaySpend       decimal.Decimal
	DayBudget      decimal.Decimal
	MonthSpend     decimal.Decimal
	MonthBudget    decimal.Decimal
	DayBreakdown   []ledger.Breakdown
	MonthBreakdown []ledger.Breakdown
}

// Budget returns current spend and per-model breakdowns.
func (e *Engine) Budget() (*BudgetStatus, error) {
	day, err := e.ledger.Sum(ledger.PeriodDay)
	if err != nil {
		return nil, err
	}
	month, err := e.ledger.Sum(ledger.PeriodMonth)
	if err != nil {
		return nil, err
	}
	dayBreak, err := e.ledger.Report(ledger.PeriodDay)
	if err != nil {
		return nil, err
	}
	monthBreak, err := e.ledger.Report(ledger.PeriodMonth)
	if err != nil {
		return nil, err
	}
	return &BudgetStatus{
		DaySpend:       day,
		DayBudget:      e.cfg.Budget.PerDay,
		MonthSpend:     month,
		MonthBudget:    e.cfg.Budget.PerMonth,
		DayBreakdown:   dayBreak,
		MonthBreakdown: monthBreak,
	}, nil
}

// --- campaign.Submitter --------------------------------------------------

// SubmitPhase enqueues a campaign phase job. The user approved spend when
// they launched the campaign, so confirm-level estimates proceed; hard
// caps and budget exhaustion still deny.
func (e *Engine) SubmitPhase(ctx context.Context, prompt, campaignID string, contextRefs []string) (*types.Job, error) {
	return e.Submit(ctx, SubmitRequest{
		Prompt:      prompt,
		Mode:        types.ModeProjectPhase,
		Provider:    types.ProviderAuto,
		Priority:    2,
		Tools:       []types.Tool{types.ToolWebSearch},
		Confirmed:   true,
		campaignID:  campaignID,
		contextRefs: contextRefs,
	})
}

// ReportBody loads a completed job's report markdown.
func (e *Engine) ReportBody(jobID string) (string, error) {
	body, _, err := e.artifacts.Load(jobID)
	return body, err
}
