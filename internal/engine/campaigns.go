package engine

import (
	"context"

	"scout/internal/types"
)

// PlanCampaign creates and persists a campaign plan for a scenario.
func (e *Engine) PlanCampaign(ctx context.Context, scenario string) (*types.CampaignPlan, error) {
	plan, err := e.planner.Plan(ctx, scenario)
	if err != nil {
		return nil, err
	}
	if err := e.campaigns.Save(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// RunCampaign executes a campaign until it completes, pauses, or fails.
// Blocks for the duration; run it alongside Engine.Run.
func (e *Engine) RunCampaign(ctx context.Context, campaignID string) error {
	return e.orchestrator.Run(ctx, campaignID)
}

// PauseCampaign requests a pause at the next phase boundary.
func (e *Engine) PauseCampaign(campaignID string) error {
	return e.orchestrator.Pause(campaignID)
}

// ResumeCampaign continues a paused or review-gated campaign.
func (e *Engine) ResumeCampaign(ctx context.Context, campaignID string) error {
	return e.orchestrator.Resume(ctx, campaignID)
}

// GetCampaign loads a campaign plan.
func (e *Engine) GetCampaign(campaignID string) (*types.CampaignPlan, error) {
	return e.campaigns.Load(campaignID)
}

// ListCampaigns returns all campaigns, newest first.
func (e *Engine) ListCampaigns() ([]*types.CampaignPlan, error) {
	return e.campaigns.List()
}
