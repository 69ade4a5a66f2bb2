package engine

import (
	"errors"
	"fmt"

	"reelpipe/internal/services"
)

// ResultKind discriminates the step-result variants. Exactly one variant's
// payload is meaningful per result.
type ResultKind int

const (
	// KindSuccess carries the step's output and the cost it incurred.
	KindSuccess ResultKind = iota
	// KindRetry marks a transient failure the pipeline should retry.
	KindRetry
	// KindSkip permanently fails the current item; later items still run.
	KindSkip
	// KindAbort stops the whole batch after the current item.
	KindAbort
	// KindAwaitApproval suspends the item until a human decision lands.
	KindAwaitApproval
)

func (k ResultKind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRetry:
		return "retryable"
	case KindSkip:
		return "skip_item"
	case KindAbort:
		return "abort_batch"
	case KindAwaitApproval:
		return "awaiting_approval"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// StepResult is the tagged outcome of one step execution.
type StepResult struct {
	Kind        ResultKind
	Output      map[string]any
	CostUSD     float64
	Err         error
	Reason      string
	Suggestions []string
}

// Success builds a successful result. Cost must be non-negative; it is
// attributed to the step's skill when the pipeline records it.
func Success(output map[string]any, costUSD float64) StepResult {
	if costUSD < 0 {
		costUSD = 0
	}
	return StepResult{Kind: KindSuccess, Output: output, CostUSD: costUSD}
}

// Retry marks a transient failure.
func Retry(err error) StepResult {
	return StepResult{Kind: KindRetry, Err: err}
}

// Skip permanently fails the current item with a reason.
func Skip(reason string) StepResult {
	return StepResult{Kind: KindSkip, Reason: reason}
}

// Abort stops the batch with a reason.
func Abort(reason string) StepResult {
	return StepResult{Kind: KindAbort, Reason: reason}
}

// AwaitApproval suspends the item pending a human decision, surfacing
// suggestions for the reviewer.
func AwaitApproval(suggestions []string) StepResult {
	return StepResult{Kind: KindAwaitApproval, Suggestions: suggestions}
}

// Classify translates a tagged service error into the step-result taxonomy.
// Unrecognized errors are treated as transient so a flaky collaborator gets
// the benefit of the retry loop before the item is given up on.
func Classify(err error) StepResult {
	switch {
	case err == nil:
		return Success(nil, 0)
	case errors.Is(err, services.ErrCostLimit), errors.Is(err, services.ErrStoreUnavailable), errors.Is(err, services.ErrConfiguration):
		return Abort(err.Error())
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrNotFound):
		return Skip(err.Error())
	case errors.Is(err, services.ErrTransient), errors.Is(err, services.ErrTimeout), errors.Is(err, services.ErrExternalTool):
		return Retry(err)
	default:
		return Retry(err)
	}
}
