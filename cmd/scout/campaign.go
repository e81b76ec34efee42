package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var campaignCmd = &cobra.Command{
	Use:   "campaign",
	Short: "Plan and run multi-phase research campaigns",
}

var campaignPlanCmd = &cobra.Command{
	Use:   "plan <scenario>",
	Short: "Plan a campaign from a scenario description",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		plan, err := eng.PlanCampaign(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}

		fmt.Printf("Campaign %s planned with %d phases:\n", plan.ID, len(plan.Phases))
		for i, phase := range plan.Phases {
			marks := ""
			if phase.NeedsContext {
				marks += " [chained]"
			}
			if phase.ReviewRequired {
				marks += " [review]"
			}
			fmt.Printf("  %d. %s%s\n", i+1, phase.Title, marks)
		}
		fmt.Println("\nRun it with: scout campaign run", plan.ID)
		return nil
	},
}

var campaignRunCmd = &cobra.Command{
	Use:   "run <campaign-id>",
	Short: "Execute a campaign (runs the engine inline)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		go eng.Run(ctx)
		if err := eng.RunCampaign(ctx, args[0]); err != nil {
			return err
		}

		plan, err := eng.GetCampaign(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Campaign %s is %s (%d/%d phases done)\n",
			plan.ID, plan.Status, len(plan.Results), len(plan.Phases))
		if plan.PausedReason != "" {
			fmt.Println(plan.PausedReason)
		}
		return nil
	},
}

var campaignPauseCmd = &cobra.Command{
	Use:   "pause <campaign-id>",
	Short: "Pause a campaign at its next phase boundary",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := eng.PauseCampaign(args[0]); err != nil {
			return err
		}
		fmt.Println("Pause requested; the current phase will finish first.")
		return nil
	},
}

var campaignResumeCmd = &cobra.Command{
	Use:   "resume <campaign-id>",
	Short: "Resume a paused or review-gated campaign",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		go eng.Run(ctx)
		return eng.ResumeCampaign(ctx, args[0])
	},
}

var campaignListCmd = &cobra.Command{
	Use:   "list",
	Short: "List campaigns",
	RunE: func(cmd *cobra.Command, args []string) error {
		plans, err := eng.ListCampaigns()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tPHASES\tSCENARIO")
		for _, plan := range plans {
			scenario := plan.Scenario
			if len(scenario) > 48 {
				scenario = scenario[:45] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\n",
				plan.ID, plan.Status, len(plan.Results), len(plan.Phases), scenario)
		}
		return w.Flush()
	},
}

func init() {
	campaignCmd.AddCommand(campaignPlanCmd, campaignRunCmd, campaignPauseCmd, campaignResumeCmd, campaignListCmd)
	rootCmd.AddCommand(campaignCmd)
}
