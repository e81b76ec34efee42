package types

import "time"

// CampaignStatus represents the current status of a campaign.
type CampaignStatus string

const (
	CampaignPlanned        CampaignStatus = "planned"
	CampaignRunning        CampaignStatus = "running"
	CampaignPaused         CampaignStatus = "paused"
	CampaignAwaitingReview CampaignStatus = "awaiting_review"
	CampaignCompleted      CampaignStatus = "completed"
	CampaignFailed         CampaignStatus = "failed"
)

// IsTerminal reports whether the campaign never transitions again.
func (s CampaignStatus) IsTerminal() bool {
	return s == CampaignCompleted || s == CampaignFailed
}

// PhaseSpec describes one planned phase of a campaign.
type PhaseSpec struct {
	Title          string `json:"title"`
	PromptTemplate string `json:"prompt_template"`
	NeedsContext   bool   `json:"depends_on_context_from_prior_phases"`
	ReviewRequired bool   `json:"review_required"`
}

// PhaseResult records the outcome of an executed phase.
type PhaseResult struct {
	JobID      string    `json:"job_id"`
	ArtifactID string    `json:"artifact_id"` // job id owning the artifact
	FinishedAt time.Time `json:"finished_at"`
}

// CampaignPlan is a multi-phase research plan with context chaining.
type CampaignPlan struct {
	ID                string         `json:"id"`
	Scenario          string         `json:"scenario"`
	Phases            []PhaseSpec    `json:"phases"`
	Status            CampaignStatus `json:"status"`
	CurrentPhaseIndex int            `json:"current_phase_index"`
	PausedReason      string         `json:"paused_reason,omitempty"`
	FailedPhase       int            `json:"failed_phase,omitempty"`
	Results           []PhaseResult  `json:"results,omitempty"` // one per completed phase, in order
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
