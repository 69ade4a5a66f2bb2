package engine

import "time"

// ItemStatus is the terminal status of one item within a run.
type ItemStatus string

const (
	StatusCompleted ItemStatus = "completed"
	StatusSkipped   ItemStatus = "skipped"
	StatusAborted   ItemStatus = "aborted"
	StatusAwaiting  ItemStatus = "awaiting_approval"
)

// StepRecord captures one step's final disposition for an item, including
// how many attempts the retry loop used.
type StepRecord struct {
	Step     string     `json:"step"`
	Skill    string     `json:"skill,omitempty"`
	Kind     ResultKind `json:"-"`
	Result   string     `json:"result"`
	Attempts int        `json:"attempts"`
	CostUSD  float64    `json:"cost_usd,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// ItemOutcome is the immutable record of one item's trip through the
// pipeline.
type ItemOutcome struct {
	ItemID       string       `json:"item_id"`
	Status       ItemStatus   `json:"status"`
	Steps        []StepRecord `json:"steps"`
	TotalCostUSD float64      `json:"total_cost_usd"`
	FailedStep   string       `json:"failed_step,omitempty"`
	Reason       string       `json:"reason,omitempty"`
	Suggestions  []string     `json:"suggestions,omitempty"`
}

// ItemFailure identifies a failed item in the run summary.
type ItemFailure struct {
	ItemID string `json:"item_id"`
	Step   string `json:"step,omitempty"`
	Reason string `json:"reason"`
}

// RunSummary aggregates one batch execution. It is the final artifact of
// every run, clean, partially failed, or aborted.
type RunSummary struct {
	RunID        string        `json:"run_id"`
	WorkflowID   string        `json:"workflow_id"`
	DryRun       bool          `json:"dry_run"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Processed    int           `json:"processed"`
	Succeeded    int           `json:"succeeded"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	Awaiting     int           `json:"awaiting"`
	TotalCostUSD float64       `json:"total_cost_usd"`
	Failures     []ItemFailure `json:"failures,omitempty"`
	Aborted      bool          `json:"aborted"`
	AbortReason  string        `json:"abort_reason,omitempty"`
}

// Duration returns the wall-clock span of the run.
func (s *RunSummary) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
