package config

import (
	"fmt"
	"time"
)

// PollConfig controls the adaptive poll schedule and poller limits.
type PollConfig struct {
	// Adaptive intervals by job age since submission.
	InitialSeconds int `json:"initial_s" yaml:"initial_s"` // first 60s
	MidSeconds     int `json:"mid_s" yaml:"mid_s"`         // until 5 min
	LateSeconds    int `json:"late_s" yaml:"late_s"`       // thereafter, capped at 60s

	// LeaseSeconds is how long a poller holds exclusivity on a job.
	LeaseSeconds int `json:"lease_s,omitempty" yaml:"lease_s"`

	// Workers is the number of poller partitions (by job-id hash).
	Workers int `json:"workers,omitempty" yaml:"workers"`

	// MaxConcurrentProcessing caps PROCESSING jobs before submissions block.
	MaxConcurrentProcessing int `json:"max_concurrent_processing,omitempty" yaml:"max_concurrent_processing"`

	// MaxRuntimeMinutes marks PROCESSING jobs failed after this long.
	MaxRuntimeMinutes int `json:"max_runtime_min,omitempty" yaml:"max_runtime_min"`
}

// DefaultPollConfig returns the standard adaptive schedule.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialSeconds:          5,
		MidSeconds:              10,
		LateSeconds:             20,
		LeaseSeconds:            60,
		Workers:                 2,
		MaxConcurrentProcessing: 10,
		MaxRuntimeMinutes:       120,
	}
}

// Validate checks the poll schedule is positive and ordered.
func (p *PollConfig) Validate() error {
	if p.InitialSeconds <= 0 || p.MidSeconds <= 0 || p.LateSeconds <= 0 {
		return fmt.Errorf("poll intervals must be positive integers")
	}
	if p.LeaseSeconds <= 0 {
		p.LeaseSeconds = 60
	}
	if p.Workers <= 0 {
		p.Workers = 1
	}
	if p.MaxConcurrentProcessing <= 0 {
		p.MaxConcurrentProcessing = 10
	}
	if p.MaxRuntimeMinutes <= 0 {
		p.MaxRuntimeMinutes = 120
	}
	return nil
}

// Lease returns the lease duration.
func (p *PollConfig) Lease() time.Duration {
	return time.Duration(p.LeaseSeconds) * time.Second
}

// MaxRuntime returns the max provider runtime before timeout failure.
func (p *PollConfig) MaxRuntime() time.Duration {
	return time.Duration(p.MaxRuntimeMinutes) * time.Minute
}

// Interval returns the poll interval for a job submitted `age` ago,
// capped at 60 seconds.
func (p *PollConfig) Interval(age time.Duration) time.Duration {
	var secs int
	switch {
	case age < time.Minute:
		secs = p.InitialSeconds
	case age < 5*time.Minute:
		secs = p.MidSeconds
	default:
		secs = p.LateSeconds
	}
	if secs > 60 {
		secs = 60
	}
	return time.Duration(secs) * time.Second
}
