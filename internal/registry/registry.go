// Package registry holds the static capabilities table for every provider
// and model the engine can route to. Pricing, context windows, supported
// tools, and latency hints live here so a provider API change is a one-file
// edit.
package registry

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"scout/internal/types"
)

// ModeFamily distinguishes providers that finish within one HTTP call from
// those that return a job id to poll.
type ModeFamily string

const (
	Synchronous     ModeFamily = "synchronous"
	AsynchronousJob ModeFamily = "asynchronous_job"
)

// Model describes one routable provider+model pair.
type Model struct {
	Provider string
	ID       string

	// Pricing per million tokens, USD.
	InputPerMTok     decimal.Decimal
	OutputPerMTok    decimal.Decimal
	ReasoningPerMTok decimal.Decimal

	ContextWindow int // tokens
	Tools         []types.Tool
	Family        ModeFamily

	// TypicalLatencyMs seeds health scoring before real completions exist.
	TypicalLatencyMs int

	// CallTimeout bounds a single adapter HTTP call.
	CallTimeout time.Duration

	// Tier ranks model capability 1 (cheap/fast) to 3 (frontier).
	Tier int

	// Default marks the model chosen when a provider is named without a model.
	Default bool
}

// Key returns the canonical "provider/model" identifier.
func (m *Model) Key() string {
	return m.Provider + "/" + m.ID
}

// SupportsTool reports whether the model can run the given tool.
func (m *Model) SupportsTool(t types.Tool) bool {
	for _, have := range m.Tools {
		if have == t {
			return true
		}
	}
	return false
}

// SupportsTools reports whether every requested tool is available.
func (m *Model) SupportsTools(tools []types.Tool) bool {
	for _, t := range tools {
		if !m.SupportsTool(t) {
			return false
		}
	}
	return true
}

func usd(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// models is the one table to edit when provider pricing or capability changes.
var models = []Model{
	// OpenAI deep research runs as background jobs on the responses API.
	{
		Provider:         "openai",
		ID:               "o3-deep-research",
		InputPerMTok:     usd("10"),
		OutputPerMTok:    usd("40"),
		ReasoningPerMTok: usd("40"),
		ContextWindow:    200000,
		Tools:            []types.Tool{types.ToolWebSearch, types.ToolCodeInterpreter, types.ToolFileSearch},
		Family:           AsynchronousJob,
		TypicalLatencyMs: 600000,
		CallTimeout:      2 * time.Minute,
		Tier:             3,
	},
	{
		Provider:         "openai",
		ID:               "o4-mini-deep-research",
		InputPerMTok:     usd("2"),
		OutputPerMTok:    usd("8"),
		ReasoningPerMTok: usd("8"),
		ContextWindow:    200000,
		Tools:            []types.Tool{types.ToolWebSearch, types.ToolCodeInterpreter, types.ToolFileSearch},
		Family:           AsynchronousJob,
		TypicalLatencyMs: 240000,
		CallTimeout:      2 * time.Minute,
		Tier:             2,
		Default:          true,
	},

	// Azure mirrors the OpenAI deep research deployments.
	{
		Provider:         "azure",
		ID:               "o3-deep-research",
		InputPerMTok:     usd("10"),
		OutputPerMTok:    usd("40"),
		ReasoningPerMTok: usd("40"),
		ContextWindow:    200000,
		Tools:            []types.Tool{types.ToolWebSearch, types.ToolCodeInterpreter},
		Family:           AsynchronousJob,
		TypicalLatencyMs: 600000,
		CallTimeout:      2 * time.Minute,
		Tier:             3,
		Default:          true,
	},

	// Gemini answers synchronously with search grounding.
	{
		Provider:         "gemini",
		ID:               "gemini-2.5-pro",
		InputPerMTok:     usd("1.25"),
		OutputPerMTok:    usd("10"),
		ReasoningPerMTok: usd("10"),
		ContextWindow:    1048576,
		Tools:            []types.Tool{types.ToolWebSearch, types.ToolCodeInterpreter},
		Family:           Synchronous,
		TypicalLatencyMs: 45000,
		CallTimeout:      10 * time.Minute,
		Tier:             3,
		Default:          true,
	},
	{
		Provider:         "gemini",
		ID:               "gemini-2.5-flash",
		InputPerMTok:     usd("0.30"),
		OutputPerMTok:    usd("2.50"),
		ReasoningPerMTok: usd("2.50"),
		ContextWindow:    1048576,
		Tools:            []types.Tool{types.ToolWebSearch},
		Family:           Synchronous,
		TypicalLatencyMs: 15000,
		CallTimeout:      5 * time.Minute,
		Tier:             1,
	},

	// xAI Grok with live search.
	{
		Provider:         "grok",
		ID:               "grok-4",
		InputPerMTok:     usd("3"),
		OutputPerMTok:    usd("15"),
		ReasoningPerMTok: usd("15"),
		ContextWindow:    256000,
		Tools:            []types.Tool{types.ToolWebSearch},
		Family:           Synchronous,
		TypicalLatencyMs: 60000,
		CallTimeout:      10 * time.Minute,
		Tier:             3,
		Default:          true,
	},
	{
		Provider:         "grok",
		ID:               "grok-3-mini",
		InputPerMTok:     usd("0.30"),
		OutputPerMTok:    usd("0.50"),
		ReasoningPerMTok: usd("0.50"),
		ContextWindow:    131072,
		Tools:            []types.Tool{types.ToolWebSearch},
		Family:           Synchronous,
		TypicalLatencyMs: 20000,
		CallTimeout:      5 * time.Minute,
		Tier:             1,
	},

	// Anthropic messages API with the web_search tool.
	{
		Provider:         "anthropic",
		ID:               "claude-opus-4-1",
		InputPerMTok:     usd("15"),
		OutputPerMTok:    usd("75"),
		ReasoningPerMTok: usd("75"),
		ContextWindow:    200000,
		Tools:            []types.Tool{types.ToolWebSearch, types.ToolCodeInterpreter},
		Family:           Synchronous,
		TypicalLatencyMs: 90000,
		CallTimeout:      10 * time.Minute,
		Tier:             3,
	},
	{
		Provider:         "anthropic",
		ID:               "claude-sonnet-4-5",
		InputPerMTok:     usd("3"),
		OutputPerMTok:    usd("15"),
		ReasoningPerMTok: usd("15"),
		ContextWindow:    200000,
		Tools:            []types.Tool{types.ToolWebSearch, types.ToolCodeInterpreter},
		Family:           Synchronous,
		TypicalLatencyMs: 45000,
		CallTimeout:      10 * time.Minute,
		Tier:             2,
		Default:          true,
	},
}

// All returns a copy of the full model table.
func All() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// Lookup finds a model by provider and id.
func Lookup(provider, id string) (*Model, error) {
	for i := range models {
		if models[i].Provider == provider && models[i].ID == id {
			m := models[i]
			return &m, nil
		}
	}
	return nil, fmt.Errorf("unknown model %s/%s", provider, id)
}

// ModelsFor returns every model registered for a provider.
func ModelsFor(provider string) []Model {
	var out []Model
	for _, m := range models {
		if m.Provider == provider {
			out = append(out, m)
		}
	}
	return out
}

// DefaultFor returns the provider's default model.
func DefaultFor(provider string) (*Model, error) {
	for i := range models {
		if models[i].Provider == provider && models[i].Default {
			m := models[i]
			return &m, nil
		}
	}
	return nil, fmt.Errorf("provider %q has no default model", provider)
}

// Providers lists every provider present in the table, in table order.
func Providers() []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range models {
		if !seen[m.Provider] {
			seen[m.Provider] = true
			out = append(out, m.Provider)
		}
	}
	return out
}
