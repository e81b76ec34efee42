package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"scout/internal/events"
	"scout/internal/queue"
	"scout/internal/types"
)

var getCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job's status and audit trail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := eng.Get(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Job:      %s\n", job.ID)
		fmt.Printf("Status:   %s\n", job.Status)
		fmt.Printf("Mode:     %s\n", job.Mode)
		fmt.Printf("Priority: %d\n", job.Priority)
		if job.ChosenProvider != "" {
			fmt.Printf("Provider: %s/%s\n", job.ChosenProvider, job.ChosenModel)
		}
		fmt.Printf("Estimate: $%s\n", job.CostEstimate.StringFixed(4))
		if job.CostActual != nil {
			fmt.Printf("Cost:     $%s\n", job.CostActual.StringFixed(4))
		}
		if job.FailureReason != "" {
			fmt.Printf("Failure:  %s\n", job.FailureReason)
		}
		if job.CancelNote != "" {
			fmt.Printf("Cancel:   %s\n", job.CancelNote)
		}

		evs, err := eng.JobEvents(job.ID)
		if err != nil {
			return err
		}
		fmt.Println("\nHistory:")
		for _, ev := range evs {
			line := ev.Event
			if ev.Detail != "" {
				line += ": " + ev.Detail
			}
			fmt.Printf("  %s  %s\n", ev.OccurredAt.Local().Format("15:04:05"), line)
		}
		return nil
	},
}

var (
	listStatus   string
	listCampaign string
	listLimit    int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		jobs, err := eng.List(queue.ListFilter{
			Status:   types.JobStatus(listStatus),
			Campaign: listCampaign,
			Limit:    listLimit,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATUS\tMODE\tPROVIDER\tAGE\tCOST\tPROMPT")
		for _, job := range jobs {
			provider := "-"
			if job.ChosenProvider != "" {
				provider = job.ChosenProvider
			}
			cost := "$" + job.CostEstimate.StringFixed(2) + " est"
			if job.CostActual != nil {
				cost = "$" + job.CostActual.StringFixed(2)
			}
			prompt := job.Prompt
			if len(prompt) > 48 {
				prompt = prompt[:45] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				job.ShortID(), job.Status, job.Mode, provider,
				age(job.CreatedAt), cost, prompt)
		}
		return w.Flush()
	},
}

func age(t time.Time) string {
	d := time.Since(t).Round(time.Minute)
	if d < time.Minute {
		return "<1m"
	}
	return d.String()
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		job, err := eng.Cancel(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Job %s canceled (%s)\n", job.ShortID(), job.CancelNote)
		return nil
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <job-id>",
	Short: "Print a completed job's report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body, _, err := eng.Report(args[0])
		if err != nil {
			return err
		}
		fmt.Println(body)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream engine events as JSON lines",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		ch, unsub := eng.Subscribe(events.Filter{})
		defer unsub()

		enc := json.NewEncoder(os.Stdout)
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-ch:
				if !ok {
					return nil
				}
				enc.Encode(e)
			}
		}
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listCampaign, "campaign", "", "filter by campaign id")
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "max rows")

	rootCmd.AddCommand(getCmd, listCmd, cancelCmd, reportCmd, watchCmd)
}
