package campaign

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scout/internal/artifact"
	"scout/internal/config"
	"scout/internal/events"
	"scout/internal/provider"
	"scout/internal/router"
	"scout/internal/store"
	"scout/internal/types"
)

func TestFirstWords(t *testing.T) {
	assert.Equal(t, "a b c", firstWords("a b c", 10))
	assert.Equal(t, "a b", firstWords("a b c d", 2))
	assert.Equal(t, "", firstWords("   ", 5))
}

func TestBuildContextEmpty(t *testing.T) {
	assert.Equal(t, "", buildContext(nil))
}

func TestBuildContextIncludesAllPhasesInOrder(t *testing.T) {
	block := buildContext([]string{"alpha findings", "bravo findings"})
	assert.True(t, strings.HasPrefix(block, contextHeader))
	assert.Less(t, strings.Index(block, "alpha"), strings.Index(block, "bravo"), "oldest phase first")
}

func TestBuildContextDropsOldestOverBudget(t *testing.T) {
	// Two sections of ~1500 long words each, together past the token budget.
	huge := func(word string) string {
		return strings.TrimSpace(strings.Repeat(word+strings.Repeat("x", 500)+" ", contextWordsPerPhase))
	}
	block := buildContext([]string{huge("alpha"), huge("bravo")})

	assert.NotContains(t, block, "alpha", "oldest section dropped first")
	assert.Contains(t, block, "bravo", "at least the newest section survives")
}

func TestParsePhases(t *testing.T) {
	phases, err := parsePhases("Here is the plan:\n```json\n[" +
		`{"title":"Survey","prompt_template":"survey it","depends_on_context_from_prior_phases":false,"review_required":false},` +
		`{"title":"Dive","prompt_template":"dive in","depends_on_context_from_prior_phases":true,"review_required":true}` +
		"]\n```")
	require.NoError(t, err)
	require.Len(t, phases, 2)
	assert.Equal(t, "Survey", phases[0].Title)
	assert.True(t, phases[1].NeedsContext)
	assert.True(t, phases[1].ReviewRequired)

	_, err = parsePhases(`[{"title":"","prompt_template":"x"}]`)
	assert.Error(t, err, "phases need a title")

	_, err = parsePhases(`[]`)
	assert.Error(t, err, "empty plan is not a plan")

	_, err = parsePhases("the model rambled instead of emitting JSON")
	assert.Error(t, err)
}

func newPlannerRouter(t *testing.T, adapters map[string]provider.Adapter) *router.Router {
	t.Helper()
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	cfg := config.DefaultRouterConfig()
	cfg.Explore = 0
	return router.New(cfg, adapters, bus)
}

func TestPlannerEmptyScenario(t *testing.T) {
	p := NewPlanner(newPlannerRouter(t, nil))
	_, err := p.Plan(context.Background(), "   ")
	assert.True(t, types.IsKind(err, types.ErrInvalidRequest))
}

func TestPlannerFallsBackToTemplate(t *testing.T) {
	// No synchronous provider configured: the template plan must still work.
	p := NewPlanner(newPlannerRouter(t, nil))

	plan, err := p.Plan(context.Background(), "evaluate vector databases")
	require.NoError(t, err)
	assert.Equal(t, types.CampaignPlanned, plan.Status)
	assert.Equal(t, -1, plan.FailedPhase)
	require.Len(t, plan.Phases, 4)
	assert.False(t, plan.Phases[0].NeedsContext, "survey phase starts cold")
	assert.True(t, plan.Phases[3].ReviewRequired, "final recommendations are review gated")
	for _, phase := range plan.Phases {
		assert.Contains(t, phase.PromptTemplate, "evaluate vector databases")
	}
}

func TestPlannerUsesModelPlan(t *testing.T) {
	mock := provider.NewMockAdapter("gemini")
	mock.SubmitFunc = func(ctx context.Context, req provider.Request) (*provider.SubmitResult, error) {
		return &provider.SubmitResult{
			ExternalID:    "plan-1",
			InitialStatus: provider.StateSucceeded,
			Synchronous: &types.Artifact{
				MarkdownBody: `[{"title":"Market scan","prompt_template":"scan the market","review_required":false}]`,
			},
		}, nil
	}
	p := NewPlanner(newPlannerRouter(t, map[string]provider.Adapter{"gemini": mock}))

	plan, err := p.Plan(context.Background(), "pick a message broker")
	require.NoError(t, err)
	require.Len(t, plan.Phases, 1)
	assert.Equal(t, "Market scan", plan.Phases[0].Title)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return NewStore(st)
}

func testPlan(phases ...types.PhaseSpec) *types.CampaignPlan {
	return &types.CampaignPlan{
		ID:          "11111111-2222-3333-4444-555566667777",
		Scenario:    "evaluate feature stores",
		Phases:      phases,
		Status:      types.CampaignPlanned,
		FailedPhase: -1,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	cs := newTestStore(t)
	plan := testPlan(
		types.PhaseSpec{Title: "Survey", PromptTemplate: "survey"},
		types.PhaseSpec{Title: "Dive", PromptTemplate: "dive", NeedsContext: true, ReviewRequired: true},
	)
	plan.Results = []types.PhaseResult{{JobID: "j1", ArtifactID: "j1", FinishedAt: time.Now().UTC()}}
	require.NoError(t, cs.Save(plan))

	got, err := cs.Load(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, plan.Scenario, got.Scenario)
	require.Len(t, got.Phases, 2)
	assert.True(t, got.Phases[1].ReviewRequired)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "j1", got.Results[0].JobID)

	_, err = cs.Load("missing")
	assert.True(t, types.IsKind(err, types.ErrInvalidRequest))
}

func TestStorePauseFlag(t *testing.T) {
	cs := newTestStore(t)
	plan := testPlan(types.PhaseSpec{Title: "Survey", PromptTemplate: "survey"})
	require.NoError(t, cs.Save(plan))

	requested, err := cs.PauseRequested(plan.ID)
	require.NoError(t, err)
	assert.False(t, requested)

	require.NoError(t, cs.RequestPause(plan.ID))
	requested, err = cs.PauseRequested(plan.ID)
	require.NoError(t, err)
	assert.True(t, requested)

	require.NoError(t, cs.ClearPause(plan.ID))
	requested, err = cs.PauseRequested(plan.ID)
	require.NoError(t, err)
	assert.False(t, requested)

	assert.Error(t, cs.RequestPause("missing"))
}

// fakeSubmitter resolves phase jobs immediately by publishing the scripted
// terminal event for each submission.
type fakeSubmitter struct {
	bus      *events.Bus
	onSubmit func(n int) // runs before the terminal event publishes

	mu       sync.Mutex
	prompts  []string
	refs     [][]string
	bodies   map[string]string
	outcomes []events.Type // consumed per submit; exhausted -> completed
	n        int
}

func newFakeSubmitter(bus *events.Bus) *fakeSubmitter {
	return &fakeSubmitter{bus: bus, bodies: make(map[string]string)}
}

func (f *fakeSubmitter) SubmitPhase(ctx context.Context, prompt, campaignID string, contextRefs []string) (*types.Job, error) {
	f.mu.Lock()
	f.n++
	id := fmt.Sprintf("phase-job-%d", f.n)
	f.prompts = append(f.prompts, prompt)
	f.refs = append(f.refs, contextRefs)
	outcome := events.JobCompleted
	if len(f.outcomes) > 0 {
		outcome = f.outcomes[0]
		f.outcomes = f.outcomes[1:]
	}
	f.bodies[id] = fmt.Sprintf("# Report %d\n\nfindings-%d", f.n, f.n)
	n := f.n
	f.mu.Unlock()

	if f.onSubmit != nil {
		f.onSubmit(n)
	}
	f.bus.Publish(events.Event{Type: outcome, JobID: id, CampaignID: campaignID, Reason: "scripted"})
	return &types.Job{ID: id, ParentCampaign: campaignID, Status: types.StatusProcessing}, nil
}

func (f *fakeSubmitter) ReportBody(jobID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.bodies[jobID]
	if !ok {
		return "", fmt.Errorf("no report for %s", jobID)
	}
	return body, nil
}

type orchEnv struct {
	store     *Store
	artifacts *artifact.Store
	bus       *events.Bus
	submitter *fakeSubmitter
	orch      *Orchestrator
}

func newOrchEnv(t *testing.T) *orchEnv {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	arts, err := artifact.NewStore(filepath.Join(dir, "reports"))
	require.NoError(t, err)

	bus := events.NewBus()
	t.Cleanup(bus.Close)

	cs := NewStore(st)
	sub := newFakeSubmitter(bus)
	return &orchEnv{
		store:     cs,
		artifacts: arts,
		bus:       bus,
		submitter: sub,
		orch:      NewOrchestrator(cs, arts, bus, sub),
	}
}

func TestOrchestratorRunsAllPhasesAndSynthesizes(t *testing.T) {
	env := newOrchEnv(t)
	plan := testPlan(
		types.PhaseSpec{Title: "Survey", PromptTemplate: "survey the field"},
		types.PhaseSpec{Title: "Dive", PromptTemplate: "go deeper", NeedsContext: true},
	)
	require.NoError(t, env.store.Save(plan))

	require.NoError(t, env.orch.Run(context.Background(), plan.ID))

	got, err := env.store.Load(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CampaignCompleted, got.Status)
	assert.Equal(t, 2, got.CurrentPhaseIndex)
	require.Len(t, got.Results, 2)

	// Two phases plus the synthesis job.
	require.Len(t, env.submitter.prompts, 3)
	assert.Equal(t, "survey the field", env.submitter.prompts[0])
	assert.Contains(t, env.submitter.prompts[2], "Synthesize the research above")

	dir, err := env.artifacts.CampaignDir(got)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "campaign_summary.md"))
	assert.FileExists(t, filepath.Join(dir, "phase-1_survey", "report.md"))
}

func TestOrchestratorChainsContextIntoLaterPhases(t *testing.T) {
	env := newOrchEnv(t)
	plan := testPlan(
		types.PhaseSpec{Title: "Survey", PromptTemplate: "survey the field"},
		types.PhaseSpec{Title: "Dive", PromptTemplate: "go deeper", NeedsContext: true},
	)
	require.NoError(t, env.store.Save(plan))
	require.NoError(t, env.orch.Run(context.Background(), plan.ID))

	second := env.submitter.prompts[1]
	assert.Contains(t, second, contextHeader)
	assert.Contains(t, second, "findings-1", "phase 1 report feeds phase 2")
	assert.True(t, strings.HasSuffix(second, "go deeper"), "phase prompt follows the context block")
	assert.Equal(t, []string{"phase-job-1"}, env.submitter.refs[1])
}

func TestOrchestratorReviewGateThenResume(t *testing.T) {
	env := newOrchEnv(t)
	plan := testPlan(
		types.PhaseSpec{Title: "Survey", PromptTemplate: "survey", ReviewRequired: true},
		types.PhaseSpec{Title: "Dive", PromptTemplate: "dive"},
	)
	require.NoError(t, env.store.Save(plan))

	require.NoError(t, env.orch.Run(context.Background(), plan.ID))

	gated, err := env.store.Load(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CampaignAwaitingReview, gated.Status)
	assert.Equal(t, 1, gated.CurrentPhaseIndex, "the gated phase itself completed")
	assert.Contains(t, gated.PausedReason, "requires review")
	require.Len(t, env.submitter.prompts, 1, "no further phase runs before review")

	require.NoError(t, env.orch.Resume(context.Background(), plan.ID))

	done, err := env.store.Load(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CampaignCompleted, done.Status)
	require.Len(t, done.Results, 2, "completed phases are not re-run on resume")
}

func TestOrchestratorPausesAtPhaseBoundary(t *testing.T) {
	env := newOrchEnv(t)
	plan := testPlan(
		types.PhaseSpec{Title: "Survey", PromptTemplate: "survey"},
		types.PhaseSpec{Title: "Dive", PromptTemplate: "dive"},
	)
	require.NoError(t, env.store.Save(plan))

	// Pause lands while phase 1 is in flight; that phase still finishes.
	env.submitter.onSubmit = func(n int) {
		if n == 1 {
			require.NoError(t, env.store.RequestPause(plan.ID))
		}
	}

	require.NoError(t, env.orch.Run(context.Background(), plan.ID))

	got, err := env.store.Load(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CampaignPaused, got.Status)
	assert.Equal(t, 1, got.CurrentPhaseIndex, "in-flight phase completed before the pause")
	require.Len(t, env.submitter.prompts, 1, "phase 2 never started")

	// The flag is consumed; resuming runs to completion.
	env.submitter.onSubmit = nil
	require.NoError(t, env.orch.Resume(context.Background(), plan.ID))
	got, err = env.store.Load(plan.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CampaignCompleted, got.Status)
}

func TestOrchestratorPhaseFailureFailsCampaign(t *testing.T) {
	env := newOrchEnv(t)
	plan := testPlan(
		types.PhaseSpec{Title: "Survey", PromptTemplate: "survey"},
		types.PhaseSpec{Title: "Dive", PromptTemplate: "dive"},
	)
	require.NoError(t, env.store.Save(plan))
	env.submitter.outcomes = []events.Type{events.JobCompleted, events.JobFailed}

	err := env.orch.Run(context.Background(), plan.ID)
	require.Error(t, err)

	got, lerr := env.store.Load(plan.ID)
	require.NoError(t, lerr)
	assert.Equal(t, types.CampaignFailed, got.Status)
	assert.Equal(t, 1, got.FailedPhase)
	require.Len(t, got.Results, 1, "completed phase results survive the failure")
}

func TestOrchestratorRejectsTerminalCampaigns(t *testing.T) {
	env := newOrchEnv(t)
	plan := testPlan(types.PhaseSpec{Title: "Survey", PromptTemplate: "survey"})
	plan.Status = types.CampaignCompleted
	require.NoError(t, env.store.Save(plan))

	err := env.orch.Run(context.Background(), plan.ID)
	assert.True(t, types.IsKind(err, types.ErrInvalidRequest))

	err = env.orch.Resume(context.Background(), plan.ID)
	assert.True(t, types.IsKind(err, types.ErrInvalidRequest))
}
