package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"reelpipe/internal/ledger"
	"reelpipe/internal/logging"
)

// CostTracker is the ledger surface the engine needs: record spend and check
// ceilings before authorizing more.
type CostTracker interface {
	RecordCost(ctx context.Context, amountUSD float64, skill, workflow string) error
	CheckLimits(ctx context.Context) (ledger.LimitStatus, error)
}

// RetryPolicy controls the retry loop for retryable step failures.
type RetryPolicy struct {
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int
	// BaseDelay is the wait before the first retry; it doubles per retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
}

// DefaultRetryPolicy mirrors the engine configuration defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 2, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

func (p RetryPolicy) delay(retry int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < retry; i++ {
		if p.MaxDelay > 0 && delay > p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		return p.MaxDelay
	}
	return delay
}

const defaultStepTimeout = 2 * time.Minute

// Pipeline executes an ordered list of steps against one work item at a
// time, translating failures into terminal item statuses.
type Pipeline struct {
	workflowID  string
	steps       []Step
	costs       CostTracker
	retry       RetryPolicy
	stepTimeout time.Duration
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// PipelineOption customizes pipeline behavior.
type PipelineOption func(*Pipeline)

// WithRetryPolicy overrides the retry defaults.
func WithRetryPolicy(policy RetryPolicy) PipelineOption {
	return func(p *Pipeline) { p.retry = policy }
}

// WithStepTimeout overrides the default per-step timeout.
func WithStepTimeout(timeout time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if timeout > 0 {
			p.stepTimeout = timeout
		}
	}
}

// WithPipelineLogger sets the pipeline logger.
func WithPipelineLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithSleeper overrides how backoff sleeps are performed (used in tests).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) PipelineOption {
	return func(p *Pipeline) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

// NewPipeline builds a pipeline for one workflow's steps.
func NewPipeline(workflowID string, steps []Step, costs CostTracker, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		workflowID:  workflowID,
		steps:       steps,
		costs:       costs,
		retry:       DefaultRetryPolicy(),
		stepTimeout: defaultStepTimeout,
		logger:      logging.NewNop(),
		sleep:       sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run walks one item through every step in order. The returned outcome is
// terminal: completed when all steps succeeded, skipped or aborted on
// failure, awaiting_approval when a step suspended the item. An item with no
// steps trivially completes at zero cost.
func (p *Pipeline) Run(ctx context.Context, item WorkItem, sc *Context) *ItemOutcome {
	outcome := &ItemOutcome{ItemID: item.ID, Status: StatusCompleted}

	for _, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return p.abortOutcome(outcome, step.Name, fmt.Sprintf("run canceled: %v", err))
		}

		// Spend is authorized per step: a breach caused by the previous
		// step's cost halts here, never mid-step.
		status, err := p.costs.CheckLimits(ctx)
		if err != nil {
			return p.abortOutcome(outcome, step.Name, fmt.Sprintf("cost ledger unavailable: %v", err))
		}
		switch status.Level {
		case ledger.LevelHard:
			p.logger.Warn("hard cost limit reached, aborting batch",
				logging.Args(
					logging.String(logging.FieldStep, step.Name),
					logging.String(logging.FieldDimension, status.Dimension),
					logging.Float64("current_usd", status.CurrentUSD),
					logging.Float64("limit_usd", status.LimitUSD),
					logging.String(logging.FieldEventType, "cost_hard_limit"),
				)...,
			)
			return p.abortOutcome(outcome, step.Name, status.String())
		case ledger.LevelSoft:
			p.logger.Warn("soft cost limit exceeded, continuing",
				logging.Args(
					logging.String(logging.FieldDimension, status.Dimension),
					logging.Float64("current_usd", status.CurrentUSD),
					logging.Float64("limit_usd", status.LimitUSD),
					logging.String(logging.FieldEventType, "cost_soft_limit"),
				)...,
			)
		}

		result, attempts := p.executeWithRetry(ctx, step, item, sc)
		record := StepRecord{
			Step:     step.Name,
			Skill:    step.Skill,
			Kind:     result.Kind,
			Result:   result.Kind.String(),
			Attempts: attempts,
			CostUSD:  result.CostUSD,
			Reason:   result.Reason,
		}
		outcome.Steps = append(outcome.Steps, record)

		switch result.Kind {
		case KindSuccess:
			if result.CostUSD > 0 {
				if err := p.costs.RecordCost(ctx, result.CostUSD, step.Skill, p.workflowID); err != nil {
					return p.abortOutcome(outcome, step.Name, fmt.Sprintf("record cost: %v", err))
				}
				outcome.TotalCostUSD += result.CostUSD
			}
			sc.merge(result.Output)
			p.logger.Debug("step completed",
				logging.Args(
					logging.String(logging.FieldStep, step.Name),
					logging.Int(logging.FieldAttempt, attempts),
					logging.Float64(logging.FieldCostUSD, result.CostUSD),
				)...,
			)
		case KindSkip:
			outcome.Status = StatusSkipped
			outcome.FailedStep = step.Name
			outcome.Reason = result.Reason
			p.logger.Warn("item skipped",
				logging.Args(
					logging.String(logging.FieldStep, step.Name),
					logging.String("reason", result.Reason),
					logging.String(logging.FieldEventType, "item_skipped"),
				)...,
			)
			return outcome
		case KindAbort:
			return p.abortOutcome(outcome, step.Name, result.Reason)
		case KindAwaitApproval:
			outcome.Status = StatusAwaiting
			outcome.FailedStep = step.Name
			outcome.Suggestions = result.Suggestions
			outcome.Reason = "awaiting approval"
			p.logger.Info("item awaiting approval",
				logging.Args(
					logging.String(logging.FieldStep, step.Name),
					logging.Int("suggestions", len(result.Suggestions)),
				)...,
			)
			return outcome
		default:
			return p.abortOutcome(outcome, step.Name, fmt.Sprintf("unexpected step result %v", result.Kind))
		}
	}

	return outcome
}

// executeWithRetry runs one step, retrying retryable failures with
// exponential backoff. Exhausted retries degrade into a skip that preserves
// the original error.
func (p *Pipeline) executeWithRetry(ctx context.Context, step Step, item WorkItem, sc *Context) (StepResult, int) {
	attempts := 1 + p.retry.MaxRetries
	var last StepResult

	for attempt := 1; attempt <= attempts; attempt++ {
		result := p.executeOnce(ctx, step, item, sc)
		if result.Kind != KindRetry {
			return result, attempt
		}
		last = result

		if ctx.Err() != nil {
			return Abort(fmt.Sprintf("run canceled: %v", ctx.Err())), attempt
		}
		if attempt == attempts {
			break
		}

		delay := p.retry.delay(attempt)
		p.logger.Warn("step failed, retrying",
			logging.Args(
				logging.String(logging.FieldStep, step.Name),
				logging.Int(logging.FieldAttempt, attempt),
				logging.Duration("backoff", delay),
				logging.Error(result.Err),
				logging.String(logging.FieldEventType, "step_retry"),
			)...,
		)
		if err := p.sleep(ctx, delay); err != nil {
			return Abort(fmt.Sprintf("run canceled: %v", err)), attempt
		}
	}

	reason := "retries exhausted"
	if last.Err != nil {
		reason = fmt.Sprintf("retries exhausted: %v", last.Err)
	}
	return Skip(reason), attempts
}

func (p *Pipeline) executeOnce(ctx context.Context, step Step, item WorkItem, sc *Context) StepResult {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = p.stepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := step.Run(stepCtx, item, sc)

	// A step that ran into its own deadline reports per configuration:
	// retryable by default, permanent skip when declared.
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil && result.Kind != KindSuccess {
		if step.SkipOnTimeout {
			return Skip(fmt.Sprintf("step %s timed out after %s", step.Name, timeout))
		}
		return Retry(fmt.Errorf("step %s timed out after %s", step.Name, timeout))
	}
	return result
}

func (p *Pipeline) abortOutcome(outcome *ItemOutcome, step, reason string) *ItemOutcome {
	outcome.Status = StatusAborted
	outcome.FailedStep = step
	outcome.Reason = reason
	return outcome
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
