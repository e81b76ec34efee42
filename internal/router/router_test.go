package router

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scout/internal/config"
	"scout/internal/events"
	"scout/internal/provider"
	"scout/internal/registry"
	"scout/internal/types"
)

func newTestRouter(t *testing.T, providers ...string) *Router {
	t.Helper()
	adapters := make(map[string]provider.Adapter)
	for _, name := range providers {
		adapters[name] = provider.NewMockAdapter(name)
	}
	cfg := config.DefaultRouterConfig()
	cfg.Explore = 0 // deterministic selection in tests
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	return New(cfg, adapters, bus)
}

func autoJob(prompt string, mode types.Mode, tools ...types.Tool) *types.Job {
	return &types.Job{ID: "test-job-1", Prompt: prompt, Mode: mode, ProviderChoice: types.ProviderAuto, Tools: tools}
}

func TestPlanFiltersUnconfiguredProviders(t *testing.T) {
	r := newTestRouter(t, "gemini")

	chain, err := r.Plan(autoJob("what is raft consensus", types.ModeFocus))
	require.NoError(t, err)
	require.NotEmpty(t, chain)
	for _, c := range chain {
		assert.Equal(t, "gemini", c.Model.Provider)
	}
}

func TestPlanFiltersByTool(t *testing.T) {
	r := newTestRouter(t, "openai", "grok")

	// file_search is an openai-only capability in the registry.
	chain, err := r.Plan(autoJob("search my files", types.ModeFocus, types.ToolFileSearch))
	require.NoError(t, err)
	require.NotEmpty(t, chain)
	for _, c := range chain {
		assert.Equal(t, "openai", c.Model.Provider)
	}
}

func TestPlanNoProviderAvailable(t *testing.T) {
	r := newTestRouter(t, "grok")

	_, err := r.Plan(autoJob("needs file search", types.ModeFocus, types.ToolFileSearch))
	require.Error(t, err)
	assert.True(t, types.IsKind(err, types.ErrNoProviderAvailable))
}

func TestPlanFallbackChainCapped(t *testing.T) {
	r := newTestRouter(t, "openai", "azure", "gemini", "grok", "anthropic")

	chain, err := r.Plan(autoJob("broad question", types.ModeDocs, types.ToolWebSearch))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(chain), 3)
	assert.GreaterOrEqual(t, len(chain), 2)

	// Chain entries are distinct models, best score first.
	seen := map[string]bool{}
	for _, c := range chain {
		assert.False(t, seen[c.Model.Key()], "duplicate candidate %s", c.Model.Key())
		seen[c.Model.Key()] = true
	}
	for i := 1; i < len(chain); i++ {
		assert.GreaterOrEqual(t, chain[i-1].Score, chain[i].Score)
	}
}

func TestPlanExplicitProviderAndModel(t *testing.T) {
	r := newTestRouter(t, "gemini", "openai")

	chain, err := r.Plan(&types.Job{ID: "j", Prompt: "p", Mode: types.ModeFocus, ProviderChoice: "gemini/gemini-2.5-flash"})
	require.NoError(t, err)
	require.Len(t, chain, 1, "explicit choice has no fallback chain")
	assert.Equal(t, "gemini/gemini-2.5-flash", chain[0].Model.Key())
}

func TestPlanExplicitProviderDefaultModel(t *testing.T) {
	r := newTestRouter(t, "anthropic")

	chain, err := r.Plan(&types.Job{ID: "j", Prompt: "p", Mode: types.ModeFocus, ProviderChoice: "anthropic"})
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "claude-sonnet-4-5", chain[0].Model.ID)
}

func TestPlanExplicitUnconfigured(t *testing.T) {
	r := newTestRouter(t, "gemini")

	_, err := r.Plan(&types.Job{ID: "j", Prompt: "p", Mode: types.ModeFocus, ProviderChoice: "openai"})
	assert.True(t, types.IsKind(err, types.ErrNoProviderAvailable))
}

func TestDisabledProviderExcludedFromAuto(t *testing.T) {
	r := newTestRouter(t, "grok", "gemini")

	for i := 0; i < disableAfter; i++ {
		r.Health().RecordFailure("grok", types.ModeFocus)
	}
	require.True(t, r.Health().Disabled("grok"))

	chain, err := r.Plan(autoJob("question", types.ModeFocus, types.ToolWebSearch))
	require.NoError(t, err)
	for _, c := range chain {
		assert.NotEqual(t, "grok", c.Model.Provider)
	}
}

func TestHealthAutoDisableEmitsEvent(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	ch, cancel := bus.Subscribe(events.Filter{Types: []events.Type{events.ProviderAutoDisabled}})
	defer cancel()

	tracker := NewTracker(bus)
	for i := 0; i < disableAfter-1; i++ {
		tracker.RecordFailure("openai", types.ModeFocus)
	}
	assert.False(t, tracker.Disabled("openai"), "four failures are not enough")

	tracker.RecordFailure("openai", types.ModeFocus)
	assert.True(t, tracker.Disabled("openai"))

	select {
	case e := <-ch:
		assert.Equal(t, "openai", e.Provider)
		assert.WithinDuration(t, time.Now().Add(disableFor), e.Until, time.Minute)
	case <-time.After(time.Second):
		t.Fatal("no provider_auto_disabled event")
	}
}

func TestHealthSuccessClearsDisable(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	tracker := NewTracker(bus)

	for i := 0; i < disableAfter; i++ {
		tracker.RecordFailure("grok", types.ModeFocus)
	}
	require.True(t, tracker.Disabled("grok"))

	tracker.RecordSuccess("grok", types.ModeFocus, 30*time.Second)
	assert.False(t, tracker.Disabled("grok"))
}

func TestHealthSuccessRateByMode(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	tracker := NewTracker(bus)

	assert.InDelta(t, successPrior, tracker.SuccessRate("gemini", types.ModeFocus), 0.001)

	tracker.RecordSuccess("gemini", types.ModeFocus, time.Second)
	tracker.RecordSuccess("gemini", types.ModeFocus, time.Second)
	tracker.RecordFailure("gemini", types.ModeDocs)

	assert.InDelta(t, 1.0, tracker.SuccessRate("gemini", types.ModeFocus), 0.001)
	assert.InDelta(t, 0.0, tracker.SuccessRate("gemini", types.ModeDocs), 0.001)
	// Unseen mode falls back to the all-mode rate.
	assert.InDelta(t, 2.0/3.0, tracker.SuccessRate("gemini", types.ModeTeamPerspective), 0.001)
}

func TestHealthWindowBounded(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	tracker := NewTracker(bus)

	for i := 0; i < healthWindow+50; i++ {
		tracker.RecordSuccess("openai", types.ModeFocus, time.Duration(i)*time.Millisecond)
	}
	snap := tracker.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, healthWindow, snap[0].WindowSize)
	assert.LessOrEqual(t, snap[0].P50Ms, snap[0].P95Ms)
	assert.LessOrEqual(t, snap[0].P95Ms, snap[0].P99Ms)
}

func TestScoreUsesTailLatency(t *testing.T) {
	r := newTestRouter(t, "steady", "spiky")

	for i := 0; i < 21; i++ {
		r.Health().RecordSuccess("steady", types.ModeFocus, 200*time.Millisecond)
	}
	// Spiky's median beats steady's, but its tail is two orders worse.
	for i := 0; i < 19; i++ {
		r.Health().RecordSuccess("spiky", types.ModeFocus, 100*time.Millisecond)
	}
	r.Health().RecordSuccess("spiky", types.ModeFocus, time.Minute)
	r.Health().RecordSuccess("spiky", types.ModeFocus, time.Minute)

	job := autoJob("question", types.ModeFocus)
	candidates := []Candidate{
		{Model: &registry.Model{Provider: "steady", ID: "m", Tier: 2}},
		{Model: &registry.Model{Provider: "spiky", ID: "m", Tier: 2}},
	}
	r.score(job, candidates)
	sortCandidates(candidates)

	assert.Equal(t, "steady", candidates[0].Model.Provider,
		"ranking follows tail latency, not the median")
}

func TestComplexityTiers(t *testing.T) {
	tests := []struct {
		name string
		job  *types.Job
		tier int
	}{
		{"short focus", autoJob("what is mTLS", types.ModeFocus), 1},
		{"docs report", autoJob("write an architecture overview of kafka", types.ModeDocs), 2},
		{"team perspective", autoJob("evaluate build-vs-buy for our auth stack", types.ModeTeamPerspective), 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.tier, tierFor(Complexity(tt.job)))
		})
	}
}

func TestOnErrorPolicy(t *testing.T) {
	assert.Equal(t, RetrySame, OnError(provider.KindTransient))
	assert.Equal(t, FallbackNext, OnError(provider.KindRateLimit))
	assert.Equal(t, FallbackNext, OnError(provider.KindProviderDown))
	assert.Equal(t, FailJob, OnError(provider.KindAuth))
	assert.Equal(t, FailJob, OnError(provider.KindInvalidRequest))
}
