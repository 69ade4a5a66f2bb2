package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"reelpipe/internal/engine"
)

var usdPrinter = message.NewPrinter(language.English)

// formatUSD renders a dollar amount with thousands separators.
func formatUSD(amount float64) string {
	return usdPrinter.Sprintf("$%.2f", amount)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRunSummary(cmd *cobra.Command, summary *engine.RunSummary) {
	out := cmd.OutOrStdout()

	title := fmt.Sprintf("Run %s (%s)", summary.RunID, summary.WorkflowID)
	if summary.DryRun {
		title += " [dry run]"
	}
	fmt.Fprintln(out, title)

	rows := [][]string{
		{"Attempted", strconv.Itoa(summary.Processed)},
		{"Succeeded", strconv.Itoa(summary.Succeeded)},
		{"Skipped", strconv.Itoa(summary.Skipped)},
		{"Failed", strconv.Itoa(summary.Failed)},
		{"Awaiting approval", strconv.Itoa(summary.Awaiting)},
		{"Cost", formatUSD(summary.TotalCostUSD)},
		{"Duration", summary.Duration().Round(10 * time.Millisecond).String()},
	}
	fmt.Fprintln(out, renderTable([]string{"Result", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	for _, failure := range summary.Failures {
		if failure.Step != "" {
			fmt.Fprintf(out, "failed: %s at %s: %s\n", failure.ItemID, failure.Step, failure.Reason)
		} else {
			fmt.Fprintf(out, "failed: %s: %s\n", failure.ItemID, failure.Reason)
		}
	}
	if summary.Awaiting > 0 {
		fmt.Fprintf(out, "%d item(s) await approval; decide with `reelpipe approve %s <item>` and re-run.\n",
			summary.Awaiting, summary.WorkflowID)
	}
	if summary.Aborted {
		fmt.Fprintf(out, "Run aborted: %s\n", summary.AbortReason)
	}
}
