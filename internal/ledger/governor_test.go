package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGovernorProviderBreakerPausesSubmissions(t *testing.T) {
	g, _, _ := newTestGovernor(t, testBudget())

	g.RecordProviderFailure("connection refused")
	g.RecordProviderFailure("connection refused")
	assert.Equal(t, Allow, g.CheckSubmit(usd("0.50")).Decision,
		"two consecutive failures do not trip the breaker")

	g.RecordProviderFailure("connection refused")

	v := g.CheckSubmit(usd("0.50"))
	assert.Equal(t, Deny, v.Decision)
	assert.Contains(t, v.Reason, "paused after repeated provider failures")
}

func TestGovernorProviderBreakerSuccessResetsStreak(t *testing.T) {
	g, _, _ := newTestGovernor(t, testBudget())

	g.RecordProviderFailure("timeout")
	g.RecordProviderFailure("timeout")
	g.RecordProviderSuccess()
	g.RecordProviderFailure("timeout")
	g.RecordProviderFailure("timeout")

	assert.Equal(t, Allow, g.CheckSubmit(usd("0.50")).Decision,
		"a success between failures breaks the consecutive streak")
}
