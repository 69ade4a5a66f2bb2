package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reelpipe/internal/state"
)

func newStateCommand(ctx *commandContext) *cobra.Command {
	stateCmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect and manage workflow progress",
	}

	stateCmd.AddCommand(newStateShowCommand(ctx))
	stateCmd.AddCommand(newStateResetCommand(ctx))
	return stateCmd
}

func newStateShowCommand(ctx *commandContext) *cobra.Command {
	var history int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <workflow>",
		Short: "Show processed-item count and recent runs for a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowID := args[0]
			return ctx.withState(func(store *state.Store) error {
				count, err := store.ProcessedCount(cmd.Context(), workflowID)
				if err != nil {
					return err
				}
				last, ok, err := store.LastRun(cmd.Context(), workflowID)
				if err != nil {
					return err
				}

				if jsonOut {
					payload := map[string]any{
						"workflow_id":     workflowID,
						"processed_items": count,
					}
					if ok {
						payload["last_run"] = last
					}
					if history > 0 {
						runs, err := store.RunHistory(cmd.Context(), workflowID, history)
						if err != nil {
							return err
						}
						payload["history"] = runs
					}
					return writeJSON(cmd, payload)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Workflow %s: %d processed item(s)\n", workflowID, count)
				if !ok {
					fmt.Fprintln(out, "No runs recorded")
					return nil
				}
				fmt.Fprintln(out)
				printRunSummary(cmd, last)

				if history > 0 {
					runs, err := store.RunHistory(cmd.Context(), workflowID, history)
					if err != nil {
						return err
					}
					rows := make([][]string, 0, len(runs))
					for _, run := range runs {
						mode := "live"
						if run.DryRun {
							mode = "dry run"
						}
						outcome := "ok"
						if run.Aborted {
							outcome = "aborted"
						}
						rows = append(rows, []string{
							run.FinishedAt.Format("2006-01-02 15:04:05"),
							mode,
							outcome,
							fmt.Sprintf("%d/%d/%d", run.Succeeded, run.Skipped, run.Failed),
							formatUSD(run.TotalCostUSD),
						})
					}
					fmt.Fprintln(out, "Recent runs (succeeded/skipped/failed):")
					fmt.Fprintln(out, renderTable(
						[]string{"Finished", "Mode", "Outcome", "Items", "Cost"},
						rows,
						[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
					))
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&history, "history", 0, "Also list up to N past runs")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the state as JSON")
	return cmd
}

func newStateResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <workflow>",
		Short: "Forget processed items and pending approvals so a workflow reprocesses everything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowID := args[0]
			return ctx.withState(func(store *state.Store) error {
				removed, err := store.ClearProcessed(cmd.Context(), workflowID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d processed item(s) and pending approvals for %s\n", removed, workflowID)
				return nil
			})
		},
	}
}
