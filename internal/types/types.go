// Package types provides shared type definitions used across scout packages.
// This package exists to break import cycles between the queue, router, poller,
// and campaign packages. Types here are foundational data structures with no
// dependencies on other internal packages.
package types

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus is the lifecycle state of a research job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"    // Queued, not yet submitted to a provider
	StatusProcessing JobStatus = "processing" // Submitted, awaiting terminal provider status
	StatusCompleted  JobStatus = "completed"  // Terminal: artifact written
	StatusFailed     JobStatus = "failed"     // Terminal: unrecoverable failure
	StatusCanceled   JobStatus = "canceled"   // Terminal: caller or reconciler canceled
)

// IsTerminal reports whether a job in this status never transitions again.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// Mode is the research task family a job belongs to.
type Mode string

const (
	ModeFocus           Mode = "focus"            // Single focused question
	ModeDocs            Mode = "docs"             // Documentation-style report
	ModeProjectPhase    Mode = "project_phase"    // One phase of a campaign
	ModeTeamPerspective Mode = "team_perspective" // Multi-viewpoint analysis
)

// ValidModes lists every accepted research mode.
var ValidModes = []Mode{ModeFocus, ModeDocs, ModeProjectPhase, ModeTeamPerspective}

// Tool identifies a provider-side capability a job may request.
type Tool string

const (
	ToolWebSearch       Tool = "web_search"
	ToolCodeInterpreter Tool = "code_interpreter"
	ToolFileSearch      Tool = "file_search"
)

// ProviderAuto asks the router to pick the provider and model.
const ProviderAuto = "auto"

// Job is the fundamental unit of work tracked by the queue.
type Job struct {
	ID             string            `json:"id"`
	Prompt         string            `json:"prompt"`
	Mode           Mode              `json:"mode"`
	ProviderChoice string            `json:"provider_choice"` // explicit "provider/model" or "auto"
	ChosenProvider string            `json:"chosen_provider,omitempty"`
	ChosenModel    string            `json:"chosen_model,omitempty"`
	ExternalID     string            `json:"external_id,omitempty"`
	Status         JobStatus         `json:"status"`
	Priority       int               `json:"priority"` // 1..5, 1 = highest
	CreatedAt      time.Time         `json:"created_at"`
	SubmittedAt    *time.Time        `json:"submitted_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	Attempts       int               `json:"attempts"`
	LeaseOwner     string            `json:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time        `json:"lease_expires_at,omitempty"`
	CostEstimate   decimal.Decimal   `json:"cost_estimate"`
	CostActual     *decimal.Decimal  `json:"cost_actual,omitempty"`
	Tools          []Tool            `json:"tools,omitempty"`
	ContextRefs    []string          `json:"context_refs,omitempty"` // ordered artifact job ids fed as context
	ParentCampaign string            `json:"parent_campaign,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	CancelNote     string            `json:"cancel_note,omitempty"` // records whether provider-side cancel succeeded
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ShortID returns the last 8 characters of the job id, used in report
// directory names and log lines.
func (j *Job) ShortID() string {
	id := strings.ReplaceAll(j.ID, "-", "")
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

// HasTool reports whether the job requested the given tool.
func (j *Job) HasTool(t Tool) bool {
	for _, have := range j.Tools {
		if have == t {
			return true
		}
	}
	return false
}

// AttemptRecord captures one provider submission attempt for the audit log.
// Every attempt is retained, not just the last.
type AttemptRecord struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Citation is one source reference preserved from a provider response.
type Citation struct {
	URL     string `json:"url"`
	Title   string `json:"title,omitempty"`
	Snippet string `json:"snippet,omitempty"`
}

// TokenUsage is the token accounting reported by a provider.
type TokenUsage struct {
	Input     int64 `json:"input"`
	Output    int64 `json:"output"`
	Reasoning int64 `json:"reasoning"`
}

// Total returns the combined token count across all classes.
func (u TokenUsage) Total() int64 {
	return u.Input + u.Output + u.Reasoning
}

// Artifact is the immutable cited result of a completed job.
type Artifact struct {
	JobID        string     `json:"job_id"`
	MarkdownBody string     `json:"markdown_body"`
	Citations    []Citation `json:"citations,omitempty"`
	TokenUsage   TokenUsage `json:"token_usage"`
	ProviderRaw  string     `json:"provider_raw,omitempty"` // verbatim provider response, audit only
	CreatedAt    time.Time  `json:"created_at"`
}

// CostKind distinguishes pre-flight estimates from realized spend.
type CostKind string

const (
	CostEstimate CostKind = "estimate"
	CostRealized CostKind = "realized"
)

// CostEntry is one append-only ledger row. Entries are never mutated.
type CostEntry struct {
	JobID      string          `json:"job_id"`
	Provider   string          `json:"provider"`
	Model      string          `json:"model"`
	Kind       CostKind        `json:"kind"`
	Amount     decimal.Decimal `json:"amount"`
	TokensIn   int64           `json:"tokens_in"`
	TokensOut  int64           `json:"tokens_out"`
	OccurredAt time.Time       `json:"occurred_at"`
}
