package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Show spend against the configured budgets",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := eng.Budget()
		if err != nil {
			return err
		}

		fmt.Printf("Today:      $%s of $%s\n", status.DaySpend.StringFixed(2), status.DayBudget.StringFixed(2))
		fmt.Printf("This month: $%s of $%s\n", status.MonthSpend.StringFixed(2), status.MonthBudget.StringFixed(2))

		if len(status.MonthBreakdown) == 0 {
			return nil
		}
		fmt.Println("\nThis month by model:")
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tMODEL\tJOBS\tTOKENS\tSPEND")
		for _, b := range status.MonthBreakdown {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t$%s\n",
				b.Provider, b.Model, b.Jobs, b.TokensIn+b.TokensOut, b.Amount.StringFixed(4))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(budgetCmd)
}
