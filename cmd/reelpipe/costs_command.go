package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reelpipe/internal/ledger"
)

func newCostsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	costsCmd := &cobra.Command{
		Use:   "costs",
		Short: "Show accumulated spend against the configured limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLedger(func(costLedger *ledger.Ledger) error {
				summary, err := costLedger.Summarize(cmd.Context())
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd, summary)
				}

				out := cmd.OutOrStdout()
				rows := [][]string{
					{
						"Today (" + summary.Date + ")",
						formatUSD(summary.TodayUSD),
						formatUSD(summary.Limits.DailySoftUSD),
						formatUSD(summary.Limits.DailyHardUSD),
						formatUSD(summary.DailyRemainingUSD()),
					},
					{
						"This month",
						formatUSD(summary.MonthUSD),
						formatUSD(summary.Limits.MonthlySoftUSD),
						formatUSD(summary.Limits.MonthlyHardUSD),
						formatUSD(summary.MonthlyRemainingUSD()),
					},
				}
				table := renderTable(
					[]string{"Window", "Spent", "Soft limit", "Hard limit", "Remaining"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
				)
				fmt.Fprintln(out, table)

				printTotals(cmd, "Top skills", summary.TopSkills)
				printTotals(cmd, "Top workflows", summary.TopWorkflows)
				return nil
			})
		},
	}

	costsCmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the cost summary as JSON")
	costsCmd.AddCommand(newCostsPruneCommand(ctx))
	return costsCmd
}

func printTotals(cmd *cobra.Command, title string, totals []ledger.Total) {
	if len(totals) == 0 {
		return
	}
	rows := make([][]string, 0, len(totals))
	for _, total := range totals {
		rows = append(rows, []string{total.Key, formatUSD(total.USD)})
	}
	fmt.Fprintln(cmd.OutOrStdout(), title)
	fmt.Fprintln(cmd.OutOrStdout(), renderTable(
		[]string{"Key", "Spent"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	))
}

func newCostsPruneCommand(ctx *commandContext) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Trim the append-only cost log, keeping the newest entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep < 0 {
				return fmt.Errorf("--keep must not be negative, got %d", keep)
			}
			return ctx.withLedger(func(costLedger *ledger.Ledger) error {
				removed, err := costLedger.Prune(cmd.Context(), keep)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d cost entries (kept the newest %d); totals are unchanged\n", removed, keep)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 10_000, "Number of newest entries to retain")
	return cmd
}
