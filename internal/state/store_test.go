package state_test

import (
	"context"
	"testing"
	"time"

	"reelpipe/internal/engine"
	"reelpipe/internal/state"
	"reelpipe/internal/testsupport"
)

func TestMarkProcessedIsIdempotent(t *testing.T) {
	store := testsupport.MustOpenState(t, testsupport.NewConfig(t))
	ctx := context.Background()

	done, err := store.IsProcessed(ctx, "research-ingest", "item-1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if done {
		t.Fatal("fresh store reports item as processed")
	}

	for n := 0; n < 3; n++ {
		if err := store.MarkProcessed(ctx, "research-ingest", "item-1"); err != nil {
			t.Fatalf("MarkProcessed: %v", err)
		}
	}

	done, err = store.IsProcessed(ctx, "research-ingest", "item-1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !done {
		t.Fatal("item not reported as processed after marking")
	}

	count, err := store.ProcessedCount(ctx, "research-ingest")
	if err != nil {
		t.Fatalf("ProcessedCount: %v", err)
	}
	if count != 1 {
		t.Fatalf("ProcessedCount = %d, want 1", count)
	}
}

func TestProcessedSetIsScopedPerWorkflow(t *testing.T) {
	store := testsupport.MustOpenState(t, testsupport.NewConfig(t))
	ctx := context.Background()

	if err := store.MarkProcessed(ctx, "research-ingest", "item-1"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	done, err := store.IsProcessed(ctx, "insight-link", "item-1")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if done {
		t.Fatal("item leaked into another workflow's processed set")
	}
}

func TestClearProcessedResetsEligibility(t *testing.T) {
	store := testsupport.MustOpenState(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.MarkProcessed(ctx, "research-ingest", id); err != nil {
			t.Fatalf("MarkProcessed: %v", err)
		}
	}
	if err := store.MarkProcessed(ctx, "insight-link", "a"); err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}

	removed, err := store.ClearProcessed(ctx, "research-ingest")
	if err != nil {
		t.Fatalf("ClearProcessed: %v", err)
	}
	if removed != 3 {
		t.Fatalf("ClearProcessed removed %d entries, want 3", removed)
	}

	done, err := store.IsProcessed(ctx, "research-ingest", "a")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if done {
		t.Fatal("cleared item still reported as processed")
	}

	done, err = store.IsProcessed(ctx, "insight-link", "a")
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !done {
		t.Fatal("clearing one workflow touched another workflow's set")
	}
}

func TestSaveRunSummaryRoundTrip(t *testing.T) {
	store := testsupport.MustOpenState(t, testsupport.NewConfig(t))
	ctx := context.Background()

	started := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	summary := &engine.RunSummary{
		RunID:        "run-1",
		WorkflowID:   "research-ingest",
		StartedAt:    started,
		FinishedAt:   started.Add(90 * time.Second),
		Processed:    4,
		Succeeded:    3,
		Failed:       1,
		TotalCostUSD: 0.04,
		Failures:     []engine.ItemFailure{{ItemID: "item-3", Step: "summarize", Reason: "retries exhausted"}},
	}
	if err := store.SaveRunSummary(ctx, summary); err != nil {
		t.Fatalf("SaveRunSummary: %v", err)
	}

	got, ok, err := store.LastRun(ctx, "research-ingest")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if !ok {
		t.Fatal("LastRun found nothing after save")
	}
	if got.RunID != "run-1" || got.Processed != 4 || got.Succeeded != 3 || got.Failed != 1 {
		t.Fatalf("LastRun returned %+v", got)
	}
	if len(got.Failures) != 1 || got.Failures[0].Step != "summarize" {
		t.Fatalf("failures not preserved: %+v", got.Failures)
	}
	if got.Duration() != 90*time.Second {
		t.Fatalf("Duration = %s, want 90s", got.Duration())
	}

	_, ok, err = store.LastRun(ctx, "insight-link")
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if ok {
		t.Fatal("LastRun found a summary for a workflow that never ran")
	}
}

func TestRunHistoryKeepsEveryRunNewestFirst(t *testing.T) {
	store := testsupport.MustOpenState(t, testsupport.NewConfig(t))
	ctx := context.Background()

	for i, id := range []string{"run-1", "run-2", "run-3"} {
		summary := &engine.RunSummary{RunID: id, WorkflowID: "research-ingest", Processed: i}
		if err := store.SaveRunSummary(ctx, summary); err != nil {
			t.Fatalf("SaveRunSummary %s: %v", id, err)
		}
	}

	history, err := store.RunHistory(ctx, "research-ingest", 2)
	if err != nil {
		t.Fatalf("RunHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("RunHistory returned %d entries, want 2", len(history))
	}
	if history[0].RunID != "run-3" || history[1].RunID != "run-2" {
		t.Fatalf("RunHistory order wrong: %s, %s", history[0].RunID, history[1].RunID)
	}

	latest, ok, err := store.LastRun(ctx, "research-ingest")
	if err != nil || !ok {
		t.Fatalf("LastRun: ok=%v err=%v", ok, err)
	}
	if latest.RunID != "run-3" {
		t.Fatalf("LastRun = %s, want run-3", latest.RunID)
	}
}

func TestApprovalLifecycle(t *testing.T) {
	store := testsupport.MustOpenState(t, testsupport.NewConfig(t))
	ctx := context.Background()

	_, ok, err := store.ApprovalFor(ctx, "script-gen", "item-1")
	if err != nil {
		t.Fatalf("ApprovalFor: %v", err)
	}
	if ok {
		t.Fatal("found an approval before any was submitted")
	}

	if err := store.SubmitApproval(ctx, "script-gen", "item-1", engine.DecisionRejected, "tone is off"); err != nil {
		t.Fatalf("SubmitApproval: %v", err)
	}
	if err := store.SubmitApproval(ctx, "script-gen", "item-1", engine.DecisionApproved, "second draft ok"); err != nil {
		t.Fatalf("SubmitApproval (resubmit): %v", err)
	}

	approval, ok, err := store.ApprovalFor(ctx, "script-gen", "item-1")
	if err != nil {
		t.Fatalf("ApprovalFor: %v", err)
	}
	if !ok {
		t.Fatal("approval missing after submit")
	}
	if approval.Decision != engine.DecisionApproved || approval.Note != "second draft ok" {
		t.Fatalf("approval = %+v", approval)
	}

	if err := store.SubmitApproval(ctx, "script-gen", "item-1", "maybe", ""); err == nil {
		t.Fatal("SubmitApproval accepted an unknown decision")
	}
}

func TestRunLockIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	lock, err := state.AcquireRunLock(cfg)
	if err != nil {
		t.Fatalf("AcquireRunLock: %v", err)
	}

	if _, err := state.AcquireRunLock(cfg); err == nil {
		t.Fatal("second lock acquisition succeeded while the first is held")
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}

	again, err := state.AcquireRunLock(cfg)
	if err != nil {
		t.Fatalf("AcquireRunLock after release: %v", err)
	}
	if err := again.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
}
