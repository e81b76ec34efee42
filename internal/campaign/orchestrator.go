package campaign

import (
	"context"
	"fmt"
	"time"

	"scout/internal/artifact"
	"scout/internal/events"
	"scout/internal/logging"
	"scout/internal/types"
)

// Submitter is how the orchestrator runs phase jobs without importing the
// engine. The engine facade implements it.
type Submitter interface {
	// SubmitPhase enqueues a phase job tied to a campaign. ContextRefs are
	// job ids of prior phase artifacts, oldest first.
	SubmitPhase(ctx context.Context, prompt, campaignID string, contextRefs []string) (*types.Job, error)
	// ReportBody loads the markdown body of a completed job's report.
	ReportBody(jobID string) (string, error)
}

// Orchestrator executes campaign plans phase by phase.
type Orchestrator struct {
	store     *Store
	artifacts *artifact.Store
	bus       *events.Bus
	submitter Submitter
}

// NewOrchestrator wires the campaign executor.
func NewOrchestrator(st *Store, arts *artifact.Store, bus *events.Bus, submitter Submitter) *Orchestrator {
	return &Orchestrator{store: st, artifacts: arts, bus: bus, submitter: submitter}
}

// Run executes a campaign from its current phase until it completes,
// pauses, hits a review gate, or fails. Pause requests are honored only
// at phase boundaries; an in-flight phase always finishes.
func (o *Orchestrator) Run(ctx context.Context, campaignID string) error {
	plan, err := o.store.Load(campaignID)
	if err != nil {
		return err
	}
	if plan.Status.IsTerminal() {
		return types.Errorf(types.ErrInvalidRequest, "campaign %s already %s", campaignID, plan.Status)
	}

	plan.Status = types.CampaignRunning
	plan.PausedReason = ""
	if err := o.store.Save(plan); err != nil {
		return err
	}
	if err := o.store.ClearPause(plan.ID); err != nil {
		return err
	}
	logging.Campaign("campaign %s running from phase %d/%d", plan.ID, plan.CurrentPhaseIndex+1, len(plan.Phases))

	for i := plan.CurrentPhaseIndex; i < len(plan.Phases); i++ {
		if paused, err := o.checkPause(plan); err != nil || paused {
			return err
		}
		if err := o.runPhase(ctx, plan, i); err != nil {
			return err
		}
		if plan.Status == types.CampaignAwaitingReview {
			return nil
		}
	}

	return o.synthesize(ctx, plan)
}

func (o *Orchestrator) checkPause(plan *types.CampaignPlan) (bool, error) {
	requested, err := o.store.PauseRequested(plan.ID)
	if err != nil || !requested {
		return false, err
	}
	plan.Status = types.CampaignPaused
	plan.PausedReason = "pause requested"
	if err := o.store.Save(plan); err != nil {
		return true, err
	}
	o.store.ClearPause(plan.ID)
	o.bus.Publish(events.Event{Type: events.CampaignPaused, CampaignID: plan.ID, Reason: plan.PausedReason})
	logging.Campaign("campaign %s paused at phase boundary %d", plan.ID, plan.CurrentPhaseIndex+1)
	return true, nil
}

func (o *Orchestrator) runPhase(ctx context.Context, plan *types.CampaignPlan, index int) error {
	phase := plan.Phases[index]
	logging.Campaign("campaign %s phase %d/%d: %s", plan.ID, index+1, len(plan.Phases), phase.Title)

	bodies, refs := o.priorArtifacts(plan)

	prompt := phase.PromptTemplate
	if phase.NeedsContext && len(bodies) > 0 {
		if block := buildContext(bodies); block != "" {
			prompt = block + "\n" + prompt
		}
	}

	o.bus.Publish(events.Event{Type: events.CampaignPhaseStarted, CampaignID: plan.ID, PhaseIndex: index})

	terminal, job, err := o.submitAndWait(ctx, plan, prompt, refs)
	if err != nil {
		return o.failCampaign(plan, index, err.Error())
	}

	switch terminal.Type {
	case events.JobCompleted:
		plan.Results = append(plan.Results, types.PhaseResult{
			JobID:      job.ID,
			ArtifactID: job.ID,
			FinishedAt: time.Now().UTC(),
		})
		plan.CurrentPhaseIndex = index + 1
		if body, rerr := o.submitter.ReportBody(job.ID); rerr == nil {
			if err := o.artifacts.SavePhaseReport(plan, index, body); err != nil {
				logging.Campaign("failed to mirror phase report: %v", err)
			}
		}
		if phase.ReviewRequired {
			plan.Status = types.CampaignAwaitingReview
			plan.PausedReason = fmt.Sprintf("phase %d (%s) requires review", index+1, phase.Title)
		}
		if err := o.store.Save(plan); err != nil {
			return err
		}
		o.bus.Publish(events.Event{Type: events.CampaignPhaseDone, CampaignID: plan.ID, PhaseIndex: index, JobID: job.ID})
		if phase.ReviewRequired {
			o.bus.Publish(events.Event{Type: events.CampaignPaused, CampaignID: plan.ID, Reason: plan.PausedReason})
			logging.Campaign("campaign %s awaiting review after phase %d", plan.ID, index+1)
		}
		return nil
	case events.JobCanceled:
		return o.failCampaign(plan, index, "phase job canceled")
	default:
		return o.failCampaign(plan, index, "phase job failed: "+terminal.Reason)
	}
}

// submitAndWait subscribes before submitting so the terminal event cannot
// slip between the two.
func (o *Orchestrator) submitAndWait(ctx context.Context, plan *types.CampaignPlan, prompt string, refs []string) (events.Event, *types.Job, error) {
	ch, cancel := o.bus.Subscribe(events.Filter{
		CampaignID: plan.ID,
		Types:      []events.Type{events.JobCompleted, events.JobFailed, events.JobCanceled},
	})
	defer cancel()

	job, err := o.submitter.SubmitPhase(ctx, prompt, plan.ID, refs)
	if err != nil {
		return events.Event{}, nil, err
	}

	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return events.Event{}, job, context.Canceled
			}
			if e.JobID == job.ID {
				return e, job, nil
			}
		case <-ctx.Done():
			return events.Event{}, job, ctx.Err()
		}
	}
}

func (o *Orchestrator) priorArtifacts(plan *types.CampaignPlan) (bodies []string, refs []string) {
	for _, result := range plan.Results {
		refs = append(refs, result.ArtifactID)
		body, err := o.submitter.ReportBody(result.ArtifactID)
		if err != nil {
			logging.Campaign("prior artifact %s unavailable: %v", result.ArtifactID, err)
			continue
		}
		bodies = append(bodies, body)
	}
	return bodies, refs
}

func (o *Orchestrator) failCampaign(plan *types.CampaignPlan, phaseIndex int, reason string) error {
	plan.Status = types.CampaignFailed
	plan.FailedPhase = phaseIndex
	plan.PausedReason = reason
	if err := o.store.Save(plan); err != nil {
		return err
	}
	logging.Campaign("campaign %s failed at phase %d: %s", plan.ID, phaseIndex+1, reason)
	if err := o.artifacts.SaveCampaignSummary(plan, ""); err != nil {
		logging.Campaign("failed campaign summary write: %v", err)
	}
	return types.Errorf(types.ErrProviderFatal, "campaign failed at phase %d: %s", phaseIndex+1, reason)
}

// synthesize runs the final cross-phase synthesis job and closes out the
// campaign.
func (o *Orchestrator) synthesize(ctx context.Context, plan *types.CampaignPlan) error {
	bodies, refs := o.priorArtifacts(plan)
	prompt := buildContext(bodies) +
		"\nSynthesize the research above into a single cohesive report answering the original scenario:\n\n" + plan.Scenario

	terminal, job, err := o.submitAndWait(ctx, plan, prompt, refs)
	synthesis := ""
	if err == nil && terminal.Type == events.JobCompleted {
		if body, rerr := o.submitter.ReportBody(job.ID); rerr == nil {
			synthesis = body
		}
	} else {
		logging.Campaign("campaign %s synthesis did not complete, finishing without it", plan.ID)
	}

	plan.Status = types.CampaignCompleted
	if err := o.store.Save(plan); err != nil {
		return err
	}
	if err := o.artifacts.SaveCampaignSummary(plan, synthesis); err != nil {
		return err
	}
	logging.Campaign("campaign %s completed: %d phases", plan.ID, len(plan.Phases))
	return nil
}

// Pause asks a running campaign to stop at its next phase boundary.
func (o *Orchestrator) Pause(campaignID string) error {
	plan, err := o.store.Load(campaignID)
	if err != nil {
		return err
	}
	if plan.Status.IsTerminal() {
		return types.Errorf(types.ErrInvalidRequest, "campaign %s already %s", campaignID, plan.Status)
	}
	logging.Campaign("pause requested for campaign %s", campaignID)
	return o.store.RequestPause(campaignID)
}

// Resume continues a paused or review-gated campaign. Completed phases
// keep their artifacts; execution picks up at the current phase index.
func (o *Orchestrator) Resume(ctx context.Context, campaignID string) error {
	plan, err := o.store.Load(campaignID)
	if err != nil {
		return err
	}
	switch plan.Status {
	case types.CampaignPaused, types.CampaignAwaitingReview, types.CampaignPlanned:
		return o.Run(ctx, campaignID)
	default:
		return types.Errorf(types.ErrInvalidRequest, "campaign %s is %s, not resumable", campaignID, plan.Status)
	}
}
