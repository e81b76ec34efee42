package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine: submit worker and pollers",
	Long: `serve processes the durable queue until interrupted: PENDING jobs are
routed and submitted, PROCESSING jobs are polled to completion, and
reports land under the data root. Jobs left in flight by a previous
process are picked up automatically.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		fmt.Println("scout engine running (ctrl-c to stop)")
		return eng.Run(ctx)
	},
}

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Show configured providers and their health",
	RunE: func(cmd *cobra.Command, args []string) error {
		configured := cfg.Providers.Configured()
		if len(configured) == 0 {
			fmt.Println("No providers configured.")
			return nil
		}

		health := make(map[string]string)
		for _, h := range eng.Health() {
			status := fmt.Sprintf("success %.0f%% over %d jobs, p50 %dms",
				h.SuccessRate*100, h.WindowSize, h.P50Ms)
			if !h.DisabledUntil.IsZero() {
				status = "disabled until " + h.DisabledUntil.Local().Format("15:04:05")
			}
			health[h.Provider] = status
		}

		for _, name := range configured {
			status, ok := health[name]
			if !ok {
				status = "no completions yet"
			}
			fmt.Printf("  %-10s %s\n", name, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, providersCmd)
}
