// Package router selects the provider and model for each job and owns the
// failure policy applied when a submission or poll goes wrong. Selection
// is weighted scoring with epsilon-greedy exploration over the provider
// health window.
package router

import (
	"math/rand"
	"strings"
	"sync"
	"time"

	"scout/internal/config"
	"scout/internal/events"
	"scout/internal/logging"
	"scout/internal/provider"
	"scout/internal/registry"
	"scout/internal/types"
)

// Candidate is one ranked routing option.
type Candidate struct {
	Model *registry.Model
	Score float64
}

// Router ranks providers for jobs.
type Router struct {
	cfg      config.RouterConfig
	adapters map[string]provider.Adapter
	health   *Tracker

	mu  sync.Mutex
	rng *rand.Rand
}

// New builds a router over the available adapters. Only providers with an
// adapter present are routable.
func New(cfg config.RouterConfig, adapters map[string]provider.Adapter, bus *events.Bus) *Router {
	return &Router{
		cfg:      cfg,
		adapters: adapters,
		health:   NewTracker(bus),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Health exposes the tracker for completion reporting and snapshots.
func (r *Router) Health() *Tracker { return r.health }

// Adapter returns the adapter for a provider name.
func (r *Router) Adapter(name string) (provider.Adapter, bool) {
	a, ok := r.adapters[name]
	return a, ok
}

// Plan returns the fallback chain for a job: up to MaxFallback candidates,
// best first. An explicit provider choice yields a single-entry chain and
// bypasses health-based selection; the caller accepted that risk by naming
// the provider.
func (r *Router) Plan(job *types.Job) ([]Candidate, error) {
	if job.ProviderChoice != types.ProviderAuto {
		return r.planExplicit(job)
	}
	return r.planAuto(job)
}

func (r *Router) planExplicit(job *types.Job) ([]Candidate, error) {
	providerName, modelID, hasModel := strings.Cut(job.ProviderChoice, "/")

	if _, ok := r.adapters[providerName]; !ok {
		return nil, types.Errorf(types.ErrNoProviderAvailable, "provider %q is not configured", providerName)
	}

	var model *registry.Model
	var err error
	if hasModel {
		model, err = registry.Lookup(providerName, modelID)
	} else {
		model, err = registry.DefaultFor(providerName)
	}
	if err != nil {
		return nil, types.NewError(types.ErrInvalidRequest, "unknown provider choice "+job.ProviderChoice, err)
	}

	if !model.SupportsTools(job.Tools) {
		return nil, types.Errorf(types.ErrInvalidRequest, "model %s does not support the requested tools", model.Key())
	}
	if r.health.Disabled(providerName) {
		logging.Router("explicit choice %s overrides active disable", model.Key())
	}
	return []Candidate{{Model: model, Score: 0}}, nil
}

func (r *Router) planAuto(job *types.Job) ([]Candidate, error) {
	minTier := tierFor(Complexity(job))
	candidates := r.candidates(job, minTier)
	if len(candidates) == 0 && minTier > 1 {
		// Relax the tier floor rather than refusing; a weaker model beats
		// no answer.
		logging.Router("no tier>=%d candidates for job %s, relaxing", minTier, job.ShortID())
		candidates = r.candidates(job, 1)
	}
	if len(candidates) == 0 {
		return nil, types.Errorf(types.ErrNoProviderAvailable,
			"no configured provider supports the requested tools and context size")
	}

	r.score(job, candidates)
	sortCandidates(candidates)
	r.explore(candidates)

	if len(candidates) > r.cfg.MaxFallback {
		candidates = candidates[:r.cfg.MaxFallback]
	}

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.Model.Key()
	}
	logging.Router("job %s chain: %s", job.ShortID(), strings.Join(keys, " -> "))
	return candidates, nil
}

// candidates filters the registry to models that can actually run the job.
func (r *Router) candidates(job *types.Job, minTier int) []Candidate {
	promptTokens := int(int64(len(job.Prompt)) / 4)
	var out []Candidate

	for _, m := range registry.All() {
		if _, ok := r.adapters[m.Provider]; !ok {
			continue
		}
		if m.Tier < minTier {
			continue
		}
		if !m.SupportsTools(job.Tools) {
			continue
		}
		if promptTokens >= m.ContextWindow {
			continue
		}
		if r.health.Disabled(m.Provider) {
			continue
		}
		model := m
		out = append(out, Candidate{Model: &model})
	}
	return out
}

// score fills Candidate.Score with the weighted utility:
// quality and health success push a candidate up, cost and observed p95
// latency push it down. The tail percentile punishes providers whose
// median looks fine but whose slow completions stall the poller.
func (r *Router) score(job *types.Job, candidates []Candidate) {
	for i := range candidates {
		m := candidates[i].Model

		quality := float64(m.Tier) / 3.0
		success := r.health.SuccessRate(m.Provider, job.Mode)
		cost, _ := m.EstimateCost(job.Prompt, job.Mode).Float64()

		latency := float64(r.health.latencyMs(m.Provider, 0.95))
		if latency == 0 {
			latency = float64(m.TypicalLatencyMs)
		}

		candidates[i].Score = r.cfg.WeightQuality*quality +
			r.cfg.WeightSuccess*success -
			r.cfg.WeightCost*cost -
			r.cfg.WeightLatency*latency
	}
}

func sortCandidates(c []Candidate) {
	for i := 0; i < len(c); i++ {
		for j := i + 1; j < len(c); j++ {
			if c[j].Score > c[i].Score {
				c[i], c[j] = c[j], c[i]
			}
		}
	}
}

// explore promotes a random non-argmax candidate to the front with
// probability Explore, so recovered or newly configured providers see
// traffic again.
func (r *Router) explore(candidates []Candidate) {
	if len(candidates) < 2 {
		return
	}
	r.mu.Lock()
	roll := r.rng.Float64()
	pick := 1 + r.rng.Intn(len(candidates)-1)
	r.mu.Unlock()

	if roll < r.cfg.Explore {
		logging.RouterDebug("exploration: promoting %s over %s", candidates[pick].Model.Key(), candidates[0].Model.Key())
		candidates[0], candidates[pick] = candidates[pick], candidates[0]
	}
}

// FailureAction is what the submit/poll loop does after a classified
// provider error.
type FailureAction int

const (
	// RetrySame retries the same provider once with short backoff before
	// falling back.
	RetrySame FailureAction = iota
	// FallbackNext skips straight to the next candidate in the chain.
	FallbackNext
	// FailJob marks the job failed; the error will not heal on retry.
	FailJob
)

// OnError maps a classified provider error to the action the caller takes.
func OnError(kind provider.ErrorKind) FailureAction {
	switch kind {
	case provider.KindTransient:
		return RetrySame
	case provider.KindRateLimit, provider.KindProviderDown:
		return FallbackNext
	default:
		// Auth and invalid-request errors repeat identically on retry.
		return FailJob
	}
}
