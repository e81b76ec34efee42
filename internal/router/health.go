package router

import (
	"sort"
	"sync"
	"time"

	"scout/internal/events"
	"scout/internal/logging"
	"scout/internal/types"
)

const (
	// healthWindow is how many recent completions feed the stats.
	healthWindow = 100
	// disableAfter consecutive failures takes a provider out of rotation.
	disableAfter = 5
	// disableFor is how long an auto-disabled provider stays out.
	disableFor = time.Hour
)

type outcome struct {
	ok        bool
	latencyMs int64
	mode      types.Mode
}

type providerHealth struct {
	window        []outcome // ring, newest last, bounded at healthWindow
	consecutive   int       // consecutive failures
	disabledUntil time.Time
}

// Tracker keeps per-provider rolling health used by routing decisions.
// State is in-memory; a restart begins with a clean slate, which is fine
// because the stats converge within a window of completions.
type Tracker struct {
	mu         sync.Mutex
	byProvider map[string]*providerHealth
	bus        *events.Bus
	now        func() time.Time
}

// NewTracker builds an empty tracker publishing disable events to bus.
func NewTracker(bus *events.Bus) *Tracker {
	return &Tracker{
		byProvider: make(map[string]*providerHealth),
		bus:        bus,
		now:        time.Now,
	}
}

func (t *Tracker) get(provider string) *providerHealth {
	h, ok := t.byProvider[provider]
	if !ok {
		h = &providerHealth{}
		t.byProvider[provider] = h
	}
	return h
}

func (h *providerHealth) push(o outcome) {
	h.window = append(h.window, o)
	if len(h.window) > healthWindow {
		h.window = h.window[len(h.window)-healthWindow:]
	}
}

// RecordSuccess notes a completed job. Success clears the consecutive
// failure count and lifts any active disable early.
func (t *Tracker) RecordSuccess(provider string, mode types.Mode, latency time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.get(provider)
	h.push(outcome{ok: true, latencyMs: latency.Milliseconds(), mode: mode})
	h.consecutive = 0
	if !h.disabledUntil.IsZero() {
		logging.Router("provider %s recovered, clearing disable", provider)
		h.disabledUntil = time.Time{}
	}
}

// RecordFailure notes a failed job. The fifth consecutive failure takes
// the provider out of rotation for an hour and emits provider_auto_disabled.
func (t *Tracker) RecordFailure(provider string, mode types.Mode) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.get(provider)
	h.push(outcome{ok: false, mode: mode})
	h.consecutive++

	if h.consecutive >= disableAfter && t.now().After(h.disabledUntil) {
		h.disabledUntil = t.now().Add(disableFor)
		h.consecutive = 0
		logging.Router("provider %s auto-disabled until %s after %d consecutive failures",
			provider, h.disabledUntil.Format(time.RFC3339), disableAfter)
		t.bus.Publish(events.Event{
			Type:     events.ProviderAutoDisabled,
			Provider: provider,
			Until:    h.disabledUntil,
			Reason:   "consecutive failures",
		})
	}
}

// Disabled reports whether the provider is currently out of rotation.
func (t *Tracker) Disabled(provider string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byProvider[provider]
	return ok && t.now().Before(h.disabledUntil)
}

// successPrior is assumed before any completions exist, optimistic enough
// that new providers get traffic.
const successPrior = 0.9

// SuccessRate returns the provider's success fraction for a mode over the
// window. With no samples for the mode it falls back to the all-mode rate,
// then to the prior.
func (t *Tracker) SuccessRate(provider string, mode types.Mode) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	h, ok := t.byProvider[provider]
	if !ok || len(h.window) == 0 {
		return successPrior
	}

	var modeOK, modeN, allOK int
	for _, o := range h.window {
		if o.ok {
			allOK++
		}
		if o.mode == mode {
			modeN++
			if o.ok {
				modeOK++
			}
		}
	}
	if modeN > 0 {
		return float64(modeOK) / float64(modeN)
	}
	return float64(allOK) / float64(len(h.window))
}

// latencyMs returns observed successful-completion latency at the given
// percentile, or 0 with no samples.
func (t *Tracker) latencyMs(provider string, pct float64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.byProvider[provider]
	if !ok {
		return 0
	}
	return percentile(h.window, pct)
}

func percentile(window []outcome, pct float64) int64 {
	var samples []int64
	for _, o := range window {
		if o.ok && o.latencyMs > 0 {
			samples = append(samples, o.latencyMs)
		}
	}
	if len(samples) == 0 {
		return 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	idx := int(pct * float64(len(samples)-1))
	return samples[idx]
}

// ProviderHealth is the health snapshot for one provider.
type ProviderHealth struct {
	Provider            string    `json:"provider"`
	WindowSize          int       `json:"window_size"`
	SuccessRate         float64   `json:"success_rate"`
	P50Ms               int64     `json:"p50_ms"`
	P95Ms               int64     `json:"p95_ms"`
	P99Ms               int64     `json:"p99_ms"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	DisabledUntil       time.Time `json:"disabled_until,omitempty"`
}

// Snapshot reports current health for every tracked provider, sorted by
// provider name.
func (t *Tracker) Snapshot() []ProviderHealth {
	t.mu.Lock()
	names := make([]string, 0, len(t.byProvider))
	for name := range t.byProvider {
		names = append(names, name)
	}
	t.mu.Unlock()
	sort.Strings(names)

	out := make([]ProviderHealth, 0, len(names))
	for _, name := range names {
		t.mu.Lock()
		h := t.byProvider[name]
		var ok int
		for _, o := range h.window {
			if o.ok {
				ok++
			}
		}
		ph := ProviderHealth{
			Provider:            name,
			WindowSize:          len(h.window),
			ConsecutiveFailures: h.consecutive,
			DisabledUntil:       h.disabledUntil,
			P50Ms:               percentile(h.window, 0.50),
			P95Ms:               percentile(h.window, 0.95),
			P99Ms:               percentile(h.window, 0.99),
		}
		if len(h.window) > 0 {
			ph.SuccessRate = float64(ok) / float64(len(h.window))
		} else {
			ph.SuccessRate = successPrior
		}
		t.mu.Unlock()
		out = append(out, ph)
	}
	return out
}
