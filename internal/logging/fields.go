package logging

// Standardized attribute keys. Every log line that concerns a workflow run
// should carry FieldWorkflow and, when known, FieldItemID so runs can be
// reconstructed from the log alone.
const (
	FieldComponent = "component"
	FieldWorkflow  = "workflow"
	FieldRunID     = "run_id"
	FieldItemID    = "item_id"
	FieldStep      = "step"
	FieldSkill     = "skill"
	FieldAttempt   = "attempt"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	FieldCostUSD   = "cost_usd"
	FieldDimension = "dimension"
)
