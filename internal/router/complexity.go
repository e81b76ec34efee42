package router

import "scout/internal/types"

// Complexity scores a job 0..1 from its mode, prompt length, and tool
// requests. The score sets the minimum model tier worth paying for; a
// short focused question never needs a frontier model.
func Complexity(job *types.Job) float64 {
	score := 0.0

	switch job.Mode {
	case types.ModeFocus:
		score = 0.25
	case types.ModeDocs:
		score = 0.55
	case types.ModeProjectPhase:
		score = 0.50
	case types.ModeTeamPerspective:
		score = 0.70
	default:
		score = 0.40
	}

	// Long prompts usually mean more source material to reason over.
	switch n := len(job.Prompt); {
	case n > 8000:
		score += 0.20
	case n > 2000:
		score += 0.10
	}

	if job.HasTool(types.ToolCodeInterpreter) {
		score += 0.10
	}
	if len(job.ContextRefs) > 2 {
		score += 0.05
	}

	if score > 1 {
		score = 1
	}
	return score
}

// tierFor maps a complexity score to the minimum capability tier.
func tierFor(score float64) int {
	switch {
	case score >= 0.65:
		return 3
	case score >= 0.35:
		return 2
	default:
		return 1
	}
}
