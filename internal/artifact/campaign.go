package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scout/internal/logging"
	"scout/internal/types"
)

// campaignsDir groups campaign output under the reports root.
const campaignsDir = "campaigns"

// CampaignDir returns (and creates) the directory for a campaign, named
// like report directories: <root>/campaigns/YYYY-MM-DD_HHMM_<slug>_<shortid>.
// The plan's creation time keeps the name deterministic across calls.
func (s *Store) CampaignDir(plan *types.CampaignPlan) (string, error) {
	short := (&types.Job{ID: plan.ID}).ShortID()
	name := fmt.Sprintf("%s_%s_%s",
		plan.CreatedAt.UTC().Format("2006-01-02_1504"), Slugify(plan.Scenario), short)
	dir := filepath.Join(s.root, campaignsDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create campaign directory: %w", err)
	}
	return dir, nil
}

// SavePhaseReport copies a completed phase artifact into the campaign tree
// as phase-N_<slug>/report.md so the whole campaign reads in order.
func (s *Store) SavePhaseReport(plan *types.CampaignPlan, phaseIndex int, body string) error {
	root, err := s.CampaignDir(plan)
	if err != nil {
		return err
	}
	title := "phase"
	if phaseIndex < len(plan.Phases) {
		title = plan.Phases[phaseIndex].Title
	}
	dir := filepath.Join(root, fmt.Sprintf("phase-%d_%s", phaseIndex+1, Slugify(title)))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, reportFile), []byte(body), 0644)
}

// SaveCampaignSummary writes campaign_summary.md and campaign_results.json
// after the campaign reaches a terminal state.
func (s *Store) SaveCampaignSummary(plan *types.CampaignPlan, synthesis string) error {
	dir, err := s.CampaignDir(plan)
	if err != nil {
		return err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Campaign: %s\n\n", plan.Scenario)
	fmt.Fprintf(&b, "Status: %s  \nPhases: %d  \nFinished: %s\n\n", plan.Status, len(plan.Phases),
		time.Now().UTC().Format(time.RFC3339))
	b.WriteString("## Phases\n\n")
	for i, phase := range plan.Phases {
		marker := " "
		if i < len(plan.Results) {
			marker = "x"
		}
		fmt.Fprintf(&b, "- [%s] %d. %s\n", marker, i+1, phase.Title)
	}
	if synthesis != "" {
		b.WriteString("\n## Synthesis\n\n")
		b.WriteString(synthesis)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(filepath.Join(dir, "campaign_summary.md"), []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write campaign summary: %w", err)
	}

	results, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "campaign_results.json"), results, 0644); err != nil {
		return fmt.Errorf("failed to write campaign results: %w", err)
	}

	logging.Artifact("campaign %s summary written to %s", plan.ID, dir)
	return nil
}
