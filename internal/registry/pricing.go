package registry

import (
	"github.com/shopspring/decimal"
	"scout/internal/types"
)

// Monetary values are fixed-point with six decimal places.
const MoneyPrecision = 6

var million = decimal.NewFromInt(1_000_000)

// Cost computes the realized cost of a token usage against this model's
// pricing, rounded to six decimal places.
func (m *Model) Cost(usage types.TokenUsage) decimal.Decimal {
	in := m.InputPerMTok.Mul(decimal.NewFromInt(usage.Input))
	out := m.OutputPerMTok.Mul(decimal.NewFromInt(usage.Output))
	reason := m.ReasoningPerMTok.Mul(decimal.NewFromInt(usage.Reasoning))
	return in.Add(out).Add(reason).Div(million).Round(MoneyPrecision)
}

// expectedOutputTokens is the pre-flight heuristic for how many output
// tokens each research mode tends to produce.
var expectedOutputTokens = map[types.Mode]int64{
	types.ModeFocus:           2_000,
	types.ModeDocs:            8_000,
	types.ModeProjectPhase:    6_000,
	types.ModeTeamPerspective: 10_000,
}

// heuristicTokens approximates a token count from text length. Four bytes
// per token tracks close enough for budget pre-flight.
func heuristicTokens(text string) int64 {
	n := int64(len(text)) / 4
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateCost produces the pre-flight cost estimate for a prompt in a
// given mode. Estimates feed the governor check only; they never count
// against spend caps.
func (m *Model) EstimateCost(prompt string, mode types.Mode) decimal.Decimal {
	outTokens, ok := expectedOutputTokens[mode]
	if !ok {
		outTokens = expectedOutputTokens[types.ModeFocus]
	}
	usage := types.TokenUsage{
		Input:  heuristicTokens(prompt),
		Output: outTokens,
	}
	if m.Family == AsynchronousJob {
		// Deep-research jobs burn reasoning tokens roughly proportional
		// to their output budget.
		usage.Reasoning = outTokens * 2
	}
	return m.Cost(usage)
}
