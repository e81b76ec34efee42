package provider

import (
	"fmt"

	"github.com/google/uuid"
	"scout/internal/types"
)

// Synchronous providers finish inside Submit and mint a local external id
// for the result cache. The id carries a provider prefix so reconciliation
// logs stay readable.
func localExternalID(provider string) string {
	return provider + "-" + uuid.NewString()
}

// syncStatus resolves Status for a synchronous provider: a cached result
// means success; an unknown id means the result did not survive a restart
// and the job must be resubmitted rather than silently re-fetched.
func (b *base) syncStatus(externalID string) (*StatusResult, error) {
	if _, ok := b.loadResult(externalID); ok {
		return &StatusResult{State: StateSucceeded, Substate: "cached"}, nil
	}
	return &StatusResult{
		State:    StateFailed,
		Substate: "unknown_external_id",
		Reason:   "synchronous result not retained across restart",
	}, nil
}

// syncFetch returns the cached artifact. Fetch after success is
// deterministic because the cache holds the parsed value.
func (b *base) syncFetch(externalID string) (*types.Artifact, error) {
	if a, ok := b.loadResult(externalID); ok {
		return a, nil
	}
	return nil, fmt.Errorf("no retained result for external id %s", externalID)
}
