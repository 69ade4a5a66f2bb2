package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"reelpipe/internal/engine"
	"reelpipe/internal/ledger"
	"reelpipe/internal/workflows"
)

func newWorkflowsCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "workflows",
		Short: "List registered workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			databases, err := ctx.loadDatabases()
			if err != nil {
				return err
			}

			return ctx.withLedger(func(costLedger *ledger.Ledger) error {
				registry := engine.NewRegistry()
				deps := workflows.NewDeps(cfg, databases, costLedger, nil)
				if err := workflows.Register(registry, deps); err != nil {
					return err
				}

				defs := registry.Definitions()
				if jsonOut {
					type listing struct {
						ID          string   `json:"id"`
						Description string   `json:"description"`
						Steps       []string `json:"steps"`
						Produces    []string `json:"produces,omitempty"`
					}
					listings := make([]listing, 0, len(defs))
					for _, def := range defs {
						steps := make([]string, 0, len(def.Steps))
						for _, step := range def.Steps {
							steps = append(steps, step.Name)
						}
						listings = append(listings, listing{
							ID:          def.ID,
							Description: def.Description,
							Steps:       steps,
							Produces:    def.Produces,
						})
					}
					return writeJSON(cmd, listings)
				}

				rows := make([][]string, 0, len(defs))
				for _, def := range defs {
					rows = append(rows, []string{
						def.ID,
						strconv.Itoa(len(def.Steps)),
						def.Description,
						strings.Join(def.Produces, "; "),
					})
				}
				table := renderTable(
					[]string{"Workflow", "Steps", "Description", "Produces"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the workflow listing as JSON")
	return cmd
}
