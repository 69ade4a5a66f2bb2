package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"reelpipe/internal/logging"
	"reelpipe/internal/services"
)

// Progress is the durable-state surface the runner needs: the processed set
// and run summaries.
type Progress interface {
	IsProcessed(ctx context.Context, workflowID, itemID string) (bool, error)
	MarkProcessed(ctx context.Context, workflowID, itemID string) error
	SaveRunSummary(ctx context.Context, summary *RunSummary) error
}

// RunOptions tune one batch execution.
type RunOptions struct {
	// DryRun walks the full pipeline but suppresses external mutations and
	// never marks items processed. Costs are still recorded.
	DryRun bool
	// MaxItems caps how many fetched items are attempted. Zero means no cap.
	MaxItems int
}

// Runner drives whole batches: fetch candidates, filter already-processed
// items, push each survivor through the pipeline, aggregate a run summary.
type Runner struct {
	registry    *Registry
	costs       CostTracker
	progress    Progress
	approvals   ApprovalReader
	logger      *slog.Logger
	retry       RetryPolicy
	stepTimeout time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// RunnerOption customizes runner behavior.
type RunnerOption func(*Runner)

// WithLogger sets the runner logger; the pipeline inherits it.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithApprovals wires stored approval decisions into step contexts.
func WithApprovals(approvals ApprovalReader) RunnerOption {
	return func(r *Runner) { r.approvals = approvals }
}

// WithRunnerRetryPolicy overrides the retry defaults for all pipelines.
func WithRunnerRetryPolicy(policy RetryPolicy) RunnerOption {
	return func(r *Runner) { r.retry = policy }
}

// WithRunnerStepTimeout overrides the default per-step timeout.
func WithRunnerStepTimeout(timeout time.Duration) RunnerOption {
	return func(r *Runner) {
		if timeout > 0 {
			r.stepTimeout = timeout
		}
	}
}

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRunnerSleeper overrides backoff sleeps in all pipelines (used in
// tests).
func WithRunnerSleeper(sleep func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewRunner builds a batch runner over a registry, a cost tracker, and a
// progress store.
func NewRunner(registry *Registry, costs CostTracker, progress Progress, opts ...RunnerOption) *Runner {
	r := &Runner{
		registry:    registry,
		costs:       costs,
		progress:    progress,
		logger:      logging.NewNop(),
		retry:       DefaultRetryPolicy(),
		stepTimeout: defaultStepTimeout,
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one batch of the named workflow. Items already in the
// processed set are counted as skipped without touching the pipeline; each
// remaining item runs in full isolation, so one failure never poisons the
// next. The summary is persisted before return, for clean, partially failed,
// and aborted runs alike. Only configuration and store failures surface as
// errors; anything item-level lands in the summary instead.
func (r *Runner) Run(ctx context.Context, workflowID string, opts RunOptions) (*RunSummary, error) {
	def, err := r.registry.Resolve(workflowID)
	if err != nil {
		return nil, err
	}

	summary := &RunSummary{
		RunID:      uuid.NewString(),
		WorkflowID: workflowID,
		DryRun:     opts.DryRun,
		StartedAt:  r.now().UTC(),
	}
	logger := r.logger.With(logging.Args(
		logging.String(logging.FieldWorkflow, workflowID),
		logging.String(logging.FieldRunID, summary.RunID),
	)...)
	logger.Info("run started",
		logging.Args(
			logging.Bool("dry_run", opts.DryRun),
			logging.Int("max_items", opts.MaxItems),
		)...,
	)

	items, err := def.Source.Fetch(ctx)
	if err != nil {
		if services.IsFatal(err) {
			return nil, err
		}
		summary.Aborted = true
		summary.AbortReason = fmt.Sprintf("fetch items: %v", err)
		logger.Error("item fetch failed", logging.Args(logging.Error(err))...)
		return r.finalize(ctx, logger, summary)
	}
	if opts.MaxItems > 0 && len(items) > opts.MaxItems {
		items = items[:opts.MaxItems]
	}

	pipeline := NewPipeline(workflowID, def.Steps, r.costs,
		WithRetryPolicy(r.retry),
		WithStepTimeout(r.stepTimeout),
		WithSleeper(r.sleep),
		WithPipelineLogger(logger),
	)

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			summary.Aborted = true
			summary.AbortReason = fmt.Sprintf("run canceled: %v", err)
			break
		}

		// A hard ceiling reached by a previous item stops the batch before
		// the next item is even started.
		status, err := r.costs.CheckLimits(ctx)
		if err != nil {
			return nil, services.Wrap(services.ErrStoreUnavailable, "engine", "check limits", "", err)
		}
		if status.Exceeded() {
			summary.Aborted = true
			summary.AbortReason = status.String()
			logger.Warn("hard cost limit reached, stopping batch",
				logging.Args(
					logging.String(logging.FieldDimension, status.Dimension),
					logging.Float64("current_usd", status.CurrentUSD),
					logging.Float64("limit_usd", status.LimitUSD),
					logging.String(logging.FieldEventType, "cost_hard_limit"),
				)...,
			)
			break
		}

		done, err := r.progress.IsProcessed(ctx, workflowID, item.ID)
		if err != nil {
			return nil, services.Wrap(services.ErrStoreUnavailable, "engine", "check processed", fmt.Sprintf("item %s", item.ID), err)
		}
		if done {
			summary.Skipped++
			logger.Debug("item already processed", logging.Args(logging.String(logging.FieldItemID, item.ID))...)
			continue
		}

		itemLogger := logger.With(logging.Args(logging.String(logging.FieldItemID, item.ID))...)
		sc := NewContext(workflowID, summary.RunID, item.ID, opts.DryRun, r.approvals)
		outcome := pipeline.Run(ctx, item, sc)

		summary.Processed++
		summary.TotalCostUSD += outcome.TotalCostUSD

		switch outcome.Status {
		case StatusCompleted:
			summary.Succeeded++
			if !opts.DryRun {
				if err := r.progress.MarkProcessed(ctx, workflowID, item.ID); err != nil {
					return nil, services.Wrap(services.ErrStoreUnavailable, "engine", "mark processed", fmt.Sprintf("item %s", item.ID), err)
				}
			}
			itemLogger.Info("item completed", logging.Args(logging.Float64(logging.FieldCostUSD, outcome.TotalCostUSD))...)
		case StatusSkipped:
			summary.Failed++
			summary.Failures = append(summary.Failures, ItemFailure{ItemID: item.ID, Step: outcome.FailedStep, Reason: outcome.Reason})
		case StatusAwaiting:
			summary.Awaiting++
			itemLogger.Info("item suspended for approval",
				logging.Args(logging.String(logging.FieldStep, outcome.FailedStep))...,
			)
		case StatusAborted:
			summary.Failed++
			summary.Failures = append(summary.Failures, ItemFailure{ItemID: item.ID, Step: outcome.FailedStep, Reason: outcome.Reason})
			summary.Aborted = true
			summary.AbortReason = outcome.Reason
			itemLogger.Error("batch aborted",
				logging.Args(
					logging.String(logging.FieldStep, outcome.FailedStep),
					logging.String("reason", outcome.Reason),
				)...,
			)
		}
		if summary.Aborted {
			break
		}
	}

	return r.finalize(ctx, logger, summary)
}

// finalize stamps the end time and persists the summary. Persistence runs
// even for aborted and dry runs so every execution leaves a record.
func (r *Runner) finalize(ctx context.Context, logger *slog.Logger, summary *RunSummary) (*RunSummary, error) {
	summary.FinishedAt = r.now().UTC()
	// The summary must land even when the run context was canceled.
	if err := r.progress.SaveRunSummary(context.WithoutCancel(ctx), summary); err != nil {
		return summary, services.Wrap(services.ErrStoreUnavailable, "engine", "save run summary", "", err)
	}
	logger.Info("run finished",
		logging.Args(
			logging.Int("processed", summary.Processed),
			logging.Int("succeeded", summary.Succeeded),
			logging.Int("skipped", summary.Skipped),
			logging.Int("failed", summary.Failed),
			logging.Int("awaiting", summary.Awaiting),
			logging.Float64(logging.FieldCostUSD, summary.TotalCostUSD),
			logging.Bool("aborted", summary.Aborted),
		)...,
	)
	return summary, nil
}
