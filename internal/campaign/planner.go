package campaign

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"scout/internal/logging"
	"scout/internal/provider"
	"scout/internal/registry"
	"scout/internal/router"
	"scout/internal/types"
)

// Planner turns a scenario description into an ordered phase list by
// asking a cheap synchronous model. When no synchronous provider is
// configured, or the model's answer does not parse, it falls back to a
// generic four-phase template so a campaign can always start.
type Planner struct {
	router *router.Router
}

// NewPlanner builds a planner over the configured adapters.
func NewPlanner(r *router.Router) *Planner {
	return &Planner{router: r}
}

const planningSystemPrompt = `You are a research planner. Given a scenario,
produce a JSON array of research phases. Each element must have the keys
"title", "prompt_template", "depends_on_context_from_prior_phases" (bool),
and "review_required" (bool). Use 3 to 6 phases. Respond with the JSON
array only, no prose.`

// Plan creates a persisted campaign plan for a scenario.
func (p *Planner) Plan(ctx context.Context, scenario string) (*types.CampaignPlan, error) {
	if strings.TrimSpace(scenario) == "" {
		return nil, types.Errorf(types.ErrInvalidRequest, "empty campaign scenario")
	}

	phases := p.planWithModel(ctx, scenario)
	if len(phases) == 0 {
		logging.Campaign("planner falling back to template phases for %q", firstWords(scenario, 8))
		phases = templatePhases(scenario)
	}

	now := time.Now().UTC()
	return &types.CampaignPlan{
		ID:          uuid.NewString(),
		Scenario:    scenario,
		Phases:      phases,
		Status:      types.CampaignPlanned,
		FailedPhase: -1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// planWithModel asks the cheapest synchronous configured model. Planning
// is not worth deep-research money.
func (p *Planner) planWithModel(ctx context.Context, scenario string) []types.PhaseSpec {
	model := p.cheapestSyncModel()
	if model == nil {
		return nil
	}
	adapter, ok := p.router.Adapter(model.Provider)
	if !ok {
		return nil
	}

	sctx, cancel := context.WithTimeout(ctx, model.CallTimeout)
	defer cancel()

	result, err := adapter.Submit(sctx, provider.Request{
		JobID:        "plan-" + uuid.NewString(),
		Prompt:       fmt.Sprintf("Plan a research campaign for this scenario:\n\n%s", scenario),
		SystemPrompt: planningSystemPrompt,
		Model:        model,
	})
	if err != nil || result.Synchronous == nil {
		logging.Campaign("planner model call failed: %v", err)
		return nil
	}

	phases, err := parsePhases(result.Synchronous.MarkdownBody)
	if err != nil {
		logging.Campaign("planner output did not parse: %v", err)
		return nil
	}
	logging.Campaign("planner produced %d phases via %s", len(phases), model.Key())
	return phases
}

func (p *Planner) cheapestSyncModel() *registry.Model {
	var best *registry.Model
	for _, m := range registry.All() {
		if m.Family != registry.Synchronous {
			continue
		}
		if _, ok := p.router.Adapter(m.Provider); !ok {
			continue
		}
		model := m
		if best == nil || model.OutputPerMTok.LessThan(best.OutputPerMTok) {
			best = &model
		}
	}
	return best
}

// parsePhases extracts the JSON phase array, tolerating a markdown code
// fence around it.
func parsePhases(body string) ([]types.PhaseSpec, error) {
	text := strings.TrimSpace(body)
	if start := strings.Index(text, "["); start >= 0 {
		if end := strings.LastIndex(text, "]"); end > start {
			text = text[start : end+1]
		}
	}

	var phases []types.PhaseSpec
	if err := json.Unmarshal([]byte(text), &phases); err != nil {
		return nil, err
	}
	if len(phases) == 0 {
		return nil, fmt.Errorf("empty phase list")
	}
	for i, phase := range phases {
		if strings.TrimSpace(phase.Title) == "" || strings.TrimSpace(phase.PromptTemplate) == "" {
			return nil, fmt.Errorf("phase %d missing title or prompt", i+1)
		}
	}
	return phases, nil
}

// templatePhases is the deterministic fallback plan.
func templatePhases(scenario string) []types.PhaseSpec {
	return []types.PhaseSpec{
		{
			Title:          "Landscape survey",
			PromptTemplate: "Survey the current landscape relevant to: " + scenario + ". Identify the key players, approaches, and open problems.",
		},
		{
			Title:          "Deep dive",
			PromptTemplate: "Building on the survey, analyze the most promising approaches for: " + scenario + ". Compare trade-offs with citations.",
			NeedsContext:   true,
		},
		{
			Title:          "Risk analysis",
			PromptTemplate: "Identify risks, failure modes, and counter-arguments for the approaches analyzed so far regarding: " + scenario + ".",
			NeedsContext:   true,
		},
		{
			Title:          "Recommendations",
			PromptTemplate: "Synthesize the prior research into concrete, prioritized recommendations for: " + scenario + ".",
			NeedsContext:   true,
			ReviewRequired: true,
		},
	}
}
