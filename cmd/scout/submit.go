package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"scout/internal/engine"
	"scout/internal/events"
	"scout/internal/types"
)

var (
	submitMode     string
	submitProvider string
	submitPriority int
	submitTools    []string
	submitToken    string
	submitYes      bool
	submitWatch    bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <prompt>",
	Short: "Submit a research job",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		tools, err := parseTools(submitTools)
		if err != nil {
			return err
		}

		job, err := eng.Submit(ctx, engine.SubmitRequest{
			Prompt:           strings.Join(args, " "),
			Mode:             types.Mode(submitMode),
			Provider:         submitProvider,
			Priority:         submitPriority,
			Tools:            tools,
			IdempotencyToken: submitToken,
			Confirmed:        submitYes,
		})
		if err != nil {
			if types.IsKind(err, types.ErrBudgetDenied) && !submitYes {
				return fmt.Errorf("%w\n(re-run with --yes to approve the spend)", err)
			}
			return err
		}

		fmt.Printf("Job %s queued (mode=%s, est. $%s)\n", job.ShortID(), job.Mode, job.CostEstimate.StringFixed(4))

		if !submitWatch {
			fmt.Println("Run `scout serve` to process the queue, or `scout get", job.ShortID()+"` to check status.")
			return nil
		}

		// Watch mode runs the engine inline until this job lands.
		go eng.Run(ctx)

		terminal, err := events.WaitForTerminal(ctx, eng.Bus(), job.ID)
		if err != nil {
			return err
		}
		switch terminal.Type {
		case events.JobCompleted:
			body, _, rerr := eng.Report(job.ID)
			if rerr == nil {
				fmt.Println(body)
			} else {
				fmt.Println("Job completed.")
			}
			return nil
		default:
			return fmt.Errorf("job %s ended %s: %s", job.ShortID(), terminal.To, terminal.Reason)
		}
	},
}

func parseTools(names []string) ([]types.Tool, error) {
	var tools []types.Tool
	for _, name := range names {
		switch types.Tool(name) {
		case types.ToolWebSearch, types.ToolCodeInterpreter, types.ToolFileSearch:
			tools = append(tools, types.Tool(name))
		default:
			return nil, fmt.Errorf("unknown tool %q (valid: web_search, code_interpreter, file_search)", name)
		}
	}
	return tools, nil
}

func init() {
	submitCmd.Flags().StringVarP(&submitMode, "mode", "m", "focus", "research mode: focus, docs, project_phase, team_perspective")
	submitCmd.Flags().StringVarP(&submitProvider, "provider", "p", "auto", `provider, "provider/model", or "auto"`)
	submitCmd.Flags().IntVar(&submitPriority, "priority", 3, "priority 1 (highest) to 5")
	submitCmd.Flags().StringSliceVarP(&submitTools, "tool", "t", []string{"web_search"}, "provider tools to request")
	submitCmd.Flags().StringVar(&submitToken, "idempotency-token", "", "dedupe token for repeated submissions")
	submitCmd.Flags().BoolVarP(&submitYes, "yes", "y", false, "approve large spend without confirmation")
	submitCmd.Flags().BoolVarP(&submitWatch, "watch", "w", false, "process inline and wait for the result")
	rootCmd.AddCommand(submitCmd)
}
