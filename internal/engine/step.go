package engine

import (
	"context"
	"time"
)

// Step is one named, fallible, possibly cost-incurring operation applied to a
// work item. Steps run in pipeline order, never concurrently for the same
// item; later steps read earlier outputs through the Context.
type Step struct {
	// Name identifies the step in logs and run summaries.
	Name string
	// Skill is the cost-attribution identifier fed to the ledger.
	Skill string
	// Timeout bounds one execution attempt. Zero means the engine default.
	Timeout time.Duration
	// SkipOnTimeout turns a timeout into a permanent item skip instead of
	// the default retryable failure.
	SkipOnTimeout bool
	// Run executes the step. It must honor ctx cancellation for network and
	// subprocess work.
	Run func(ctx context.Context, item WorkItem, sc *Context) StepResult
}

// Approval is a recorded human decision for one item.
type Approval struct {
	Decision string
	Note     string
}

// Approval decisions recognized by approval-gated steps.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// ApprovalReader exposes stored approval decisions to steps.
type ApprovalReader interface {
	ApprovalFor(ctx context.Context, workflowID, itemID string) (Approval, bool, error)
}

// Context carries state accumulated across the steps of one item's run.
// It is created fresh per item and never shared across items.
type Context struct {
	WorkflowID string
	RunID      string
	ItemID     string
	DryRun     bool
	Approvals  ApprovalReader

	values map[string]any
}

// NewContext builds an item-scoped context.
func NewContext(workflowID, runID, itemID string, dryRun bool, approvals ApprovalReader) *Context {
	return &Context{
		WorkflowID: workflowID,
		RunID:      runID,
		ItemID:     itemID,
		DryRun:     dryRun,
		Approvals:  approvals,
		values:     make(map[string]any),
	}
}

// Set stores a value for later steps.
func (c *Context) Set(key string, value any) {
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = value
}

// Value returns an accumulated value and whether it exists.
func (c *Context) Value(key string) (any, bool) {
	value, ok := c.values[key]
	return value, ok
}

// String returns an accumulated string value, empty when absent or not a
// string.
func (c *Context) String(key string) string {
	if value, ok := c.values[key]; ok {
		if s, ok := value.(string); ok {
			return s
		}
	}
	return ""
}

// merge folds a step's output into the accumulated context.
func (c *Context) merge(output map[string]any) {
	for key, value := range output {
		c.Set(key, value)
	}
}
