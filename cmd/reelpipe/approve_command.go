package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reelpipe/internal/engine"
	"reelpipe/internal/state"
)

func newApproveCommand(ctx *commandContext) *cobra.Command {
	var reject bool
	var note string

	cmd := &cobra.Command{
		Use:   "approve <workflow> <item>",
		Short: "Record a decision for an item waiting at a review gate",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			workflowID, itemID := args[0], args[1]
			decision := engine.DecisionApproved
			if reject {
				decision = engine.DecisionRejected
			}
			return ctx.withState(func(store *state.Store) error {
				if err := store.SubmitApproval(cmd.Context(), workflowID, itemID, decision, note); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s for %s/%s\n", decision, workflowID, itemID)
				fmt.Fprintf(cmd.OutOrStdout(), "Re-run `reelpipe run %s` to resume the item.\n", workflowID)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&reject, "reject", false, "Record a rejection instead of an approval")
	cmd.Flags().StringVar(&note, "note", "", "Optional note stored with the decision")
	return cmd
}
