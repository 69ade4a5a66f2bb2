package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"reelpipe/internal/engine"
	"reelpipe/internal/ledger"
	"reelpipe/internal/state"
	"reelpipe/internal/workflows"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var dryRun bool
	var maxItems int
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run one workflow batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger()
			if err != nil {
				return err
			}

			lock, err := state.AcquireRunLock(cfg)
			if err != nil {
				return err
			}
			defer lock.Release()

			databases, err := ctx.loadDatabases()
			if err != nil {
				return err
			}

			costLedger, err := ledger.Open(cfg)
			if err != nil {
				return err
			}
			defer costLedger.Close()

			store, err := state.Open(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			registry := engine.NewRegistry()
			deps := workflows.NewDeps(cfg, databases, costLedger, logger)
			if err := workflows.Register(registry, deps); err != nil {
				return err
			}

			runner := engine.NewRunner(registry, costLedger, store,
				engine.WithApprovals(store),
				engine.WithLogger(logger),
				engine.WithRunnerRetryPolicy(engine.RetryPolicy{
					MaxRetries: cfg.Engine.MaxRetries,
					BaseDelay:  time.Duration(cfg.Engine.RetryBaseDelayMS) * time.Millisecond,
					MaxDelay:   time.Duration(cfg.Engine.RetryMaxDelayMS) * time.Millisecond,
				}),
				engine.WithRunnerStepTimeout(time.Duration(cfg.Engine.StepTimeoutSeconds)*time.Second),
			)

			summary, err := runner.Run(cmd.Context(), args[0], engine.RunOptions{
				DryRun:   dryRun,
				MaxItems: maxItems,
			})
			if err != nil {
				return err
			}

			if jsonOut {
				if err := writeJSON(cmd, summary); err != nil {
					return err
				}
			} else {
				printRunSummary(cmd, summary)
			}
			if summary.Aborted {
				return fmt.Errorf("run aborted: %s", summary.AbortReason)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Walk the pipeline without external writes or progress marks")
	cmd.Flags().IntVar(&maxItems, "max-items", 0, "Cap the number of items attempted (0 = no cap)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the run summary as JSON")
	return cmd
}
