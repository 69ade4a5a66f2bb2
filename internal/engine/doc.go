// Package engine implements the workflow execution core: an ordered step
// pipeline applied to each work item of a batch, with idempotency tracking,
// cost-ceiling enforcement, retry with backoff, and per-run summaries.
//
// Execution is strictly sequential: one item at a time, one step at a time.
// Cancellation is cooperative and happens only at step and item boundaries,
// so an external call that has started always runs to completion or its own
// timeout.
package engine
