package campaign

import (
	"strings"

	"scout/internal/logging"
)

const (
	// contextWordsPerPhase caps how much of each prior artifact feeds the
	// next phase prompt.
	contextWordsPerPhase = 1500

	// contextTokenBudget bounds the assembled context block at 80% of a
	// conservative 200k-token window, leaving room for the phase prompt
	// and the model's own output.
	contextTokenBudget = 160000

	contextHeader = "Context from previous phases:\n"
)

// firstWords returns up to n whitespace-separated words of text.
func firstWords(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) <= n {
		return strings.TrimSpace(text)
	}
	return strings.Join(fields[:n], " ")
}

// estimateTokens mirrors the four-bytes-per-token heuristic used for cost
// pre-flight.
func estimateTokens(text string) int {
	return len(text) / 4
}

// buildContext assembles the chained-context block from prior phase
// artifacts, oldest first. Each artifact contributes its first 1,500
// words; when the block would blow the token budget, the oldest sections
// are dropped first because recent phases matter more.
func buildContext(priorBodies []string) string {
	if len(priorBodies) == 0 {
		return ""
	}

	sections := make([]string, len(priorBodies))
	for i, body := range priorBodies {
		sections[i] = firstWords(body, contextWordsPerPhase)
	}

	total := estimateTokens(contextHeader)
	for _, s := range sections {
		total += estimateTokens(s)
	}
	dropped := 0
	for total > contextTokenBudget && dropped < len(sections)-1 {
		total -= estimateTokens(sections[dropped])
		dropped++
	}
	if dropped > 0 {
		logging.Campaign("context budget: dropped %d oldest phase sections", dropped)
	}

	var b strings.Builder
	b.WriteString(contextHeader)
	for i := dropped; i < len(sections); i++ {
		b.WriteByte('\n')
		b.WriteString(sections[i])
		b.WriteByte('\n')
	}
	return b.String()
}
