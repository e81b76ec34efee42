package config

import "fmt"

// RouterConfig controls autonomous provider selection.
type RouterConfig struct {
	// Explore is the probability of picking a random non-argmax candidate,
	// so recovered providers get rediscovered.
	Explore float64 `json:"explore" yaml:"explore"`

	// MaxFallback caps provider submission attempts per job.
	MaxFallback int `json:"max_fallback,omitempty" yaml:"max_fallback"`

	// Scoring weights. Fixed configuration, not tuned at runtime.
	WeightQuality float64 `json:"weight_quality,omitempty" yaml:"weight_quality"`
	WeightCost    float64 `json:"weight_cost,omitempty" yaml:"weight_cost"`
	WeightLatency float64 `json:"weight_latency,omitempty" yaml:"weight_latency"`
	WeightSuccess float64 `json:"weight_success,omitempty" yaml:"weight_success"`
}

// DefaultRouterConfig returns the standard selection parameters.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Explore:       0.10,
		MaxFallback:   3,
		WeightQuality: 1.0,
		WeightCost:    0.5,
		WeightLatency: 0.0001, // latencies are milliseconds; keep them comparable
		WeightSuccess: 1.0,
	}
}

// Validate checks ranges.
func (r *RouterConfig) Validate() error {
	if r.Explore < 0 || r.Explore > 1 {
		return fmt.Errorf("router.explore must be within 0..1, got %v", r.Explore)
	}
	if r.MaxFallback <= 0 {
		r.MaxFallback = 3
	}
	if r.WeightQuality == 0 && r.WeightCost == 0 && r.WeightLatency == 0 && r.WeightSuccess == 0 {
		d := DefaultRouterConfig()
		r.WeightQuality, r.WeightCost, r.WeightLatency, r.WeightSuccess =
			d.WeightQuality, d.WeightCost, d.WeightLatency, d.WeightSuccess
	}
	return nil
}
