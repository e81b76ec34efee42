// Package provider implements the normalized adapter contract over every
// external research provider. Adapters are values behind one interface:
// submit, status, fetch, cancel, estimate, and error classification. Retry
// policy lives with the router and queue; adapters never retry internally.
package provider

import (
	"context"

	"github.com/shopspring/decimal"
	"scout/internal/registry"
	"scout/internal/types"
)

// JobState is the normalized provider-side lifecycle of an external job.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
	StateCanceled  JobState = "canceled"
)

// IsTerminal reports whether the external job has finished.
func (s JobState) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCanceled
}

// ErrorKind classifies a provider failure for the router's retry policy.
type ErrorKind string

const (
	KindTransient      ErrorKind = "transient"
	KindRateLimit      ErrorKind = "rate_limit"
	KindAuth           ErrorKind = "auth"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindProviderDown   ErrorKind = "provider_down"
)

// Fatal reports whether the kind permits no fallback.
func (k ErrorKind) Fatal() bool {
	return k == KindAuth || k == KindInvalidRequest
}

// Request is an engine-normalized submission.
type Request struct {
	JobID        string
	Prompt       string
	SystemPrompt string
	Model        *registry.Model
	Tools        []types.Tool

	// IdempotencyToken makes repeated submits within a window return the
	// same external id instead of spawning a duplicate provider job.
	IdempotencyToken string
}

// SubmitResult is what an adapter returns from Submit. Synchronous
// providers populate Synchronous and report StateSucceeded; asynchronous
// providers return only the external id to poll.
type SubmitResult struct {
	ExternalID    string
	InitialStatus JobState
	Synchronous   *types.Artifact
}

// StatusResult reports the provider-side state of an external job.
// Substate carries provider-specific detail opaque to the engine.
type StatusResult struct {
	State    JobState
	Substate string
	Reason   string
}

// Adapter is the per-provider implementation of the engine contract.
//
// Behavioral requirements:
//   - Submit is idempotent per Request.IdempotencyToken within a window.
//   - Fetch is deterministic: re-fetching a succeeded job returns an
//     identical artifact.
//   - Cancel is best effort; the engine tolerates false.
//   - No internal retries.
type Adapter interface {
	Name() string
	Submit(ctx context.Context, req Request) (*SubmitResult, error)
	Status(ctx context.Context, externalID string) (*StatusResult, error)
	Fetch(ctx context.Context, externalID string) (*types.Artifact, error)
	Cancel(ctx context.Context, externalID string) (bool, error)
	Estimate(req Request) decimal.Decimal
	ClassifyError(err error) ErrorKind
}
