package engine_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"reelpipe/internal/engine"
	"reelpipe/internal/ledger"
	"reelpipe/internal/services"
	"reelpipe/internal/testsupport"
)

func noSleep(context.Context, time.Duration) error { return nil }

// closeTo absorbs float64 accumulation error when summing per-step costs.
func closeTo(got, want float64) bool {
	diff := got - want
	return diff < 1e-9 && diff > -1e-9
}

func successStep(name string, costUSD float64) engine.Step {
	return engine.Step{
		Name:  name,
		Skill: name,
		Run: func(context.Context, engine.WorkItem, *engine.Context) engine.StepResult {
			return engine.Success(nil, costUSD)
		},
	}
}

func testContext() *engine.Context {
	return engine.NewContext("research-ingest", "run-1", "item-1", false, nil)
}

func TestPipelineEmptyStepsCompletes(t *testing.T) {
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))

	p := engine.NewPipeline("research-ingest", nil, l, engine.WithSleeper(noSleep))
	outcome := p.Run(context.Background(), engine.WorkItem{ID: "item-1"}, testContext())

	if outcome.Status != engine.StatusCompleted {
		t.Fatalf("status = %s, want completed", outcome.Status)
	}
	if outcome.TotalCostUSD != 0 {
		t.Fatalf("cost = %v, want 0", outcome.TotalCostUSD)
	}
	if len(outcome.Steps) != 0 {
		t.Fatalf("recorded %d steps for an empty pipeline", len(outcome.Steps))
	}
}

func TestPipelineRecordsCostPerStep(t *testing.T) {
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))
	ctx := context.Background()

	steps := []engine.Step{successStep("transcribe", 0.01), successStep("summarize", 0.02)}
	p := engine.NewPipeline("research-ingest", steps, l, engine.WithSleeper(noSleep))
	outcome := p.Run(ctx, engine.WorkItem{ID: "item-1"}, testContext())

	if outcome.Status != engine.StatusCompleted {
		t.Fatalf("status = %s, want completed (reason %q)", outcome.Status, outcome.Reason)
	}
	if !closeTo(outcome.TotalCostUSD, 0.03) {
		t.Fatalf("outcome cost = %v, want 0.03", outcome.TotalCostUSD)
	}

	total, err := l.TotalFor(ctx, ledger.DimensionWorkflow, "research-ingest")
	if err != nil {
		t.Fatalf("TotalFor: %v", err)
	}
	if !closeTo(total, 0.03) {
		t.Fatalf("ledger workflow total = %v, want 0.03", total)
	}
	skillTotal, err := l.TotalFor(ctx, ledger.DimensionSkill, "summarize")
	if err != nil {
		t.Fatalf("TotalFor: %v", err)
	}
	if skillTotal != 0.02 {
		t.Fatalf("ledger skill total = %v, want 0.02", skillTotal)
	}
}

func TestPipelineRetriesThenSucceeds(t *testing.T) {
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))

	var delays []time.Duration
	sleeper := func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	calls := 0
	step := engine.Step{
		Name:  "fetch",
		Skill: "fetch",
		Run: func(context.Context, engine.WorkItem, *engine.Context) engine.StepResult {
			calls++
			if calls < 3 {
				return engine.Retry(errors.New("connection reset"))
			}
			return engine.Success(nil, 0)
		},
	}

	p := engine.NewPipeline("research-ingest", []engine.Step{step}, l,
		engine.WithRetryPolicy(engine.RetryPolicy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second}),
		engine.WithSleeper(sleeper),
	)
	outcome := p.Run(context.Background(), engine.WorkItem{ID: "item-1"}, testContext())

	if outcome.Status != engine.StatusCompleted {
		t.Fatalf("status = %s, want completed", outcome.Status)
	}
	if calls != 3 {
		t.Fatalf("step ran %d times, want 3", calls)
	}
	if len(outcome.Steps) != 1 || outcome.Steps[0].Attempts != 3 {
		t.Fatalf("step record = %+v", outcome.Steps)
	}
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("slept %d times, want %d", len(delays), len(want))
	}
	for i, d := range want {
		if delays[i] != d {
			t.Fatalf("backoff %d = %s, want %s", i, delays[i], d)
		}
	}
}

func TestPipelineExhaustedRetriesSkipItem(t *testing.T) {
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))

	calls := 0
	step := engine.Step{
		Name:  "fetch",
		Skill: "fetch",
		Run: func(context.Context, engine.WorkItem, *engine.Context) engine.StepResult {
			calls++
			return engine.Retry(errors.New("connection reset"))
		},
	}

	p := engine.NewPipeline("research-ingest", []engine.Step{step, successStep("summarize", 0.01)}, l,
		engine.WithRetryPolicy(engine.RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Second}),
		engine.WithSleeper(noSleep),
	)
	outcome := p.Run(context.Background(), engine.WorkItem{ID: "item-1"}, testContext())

	if outcome.Status != engine.StatusSkipped {
		t.Fatalf("status = %s, want skipped", outcome.Status)
	}
	if calls != 3 {
		t.Fatalf("step ran %d times, want 3", calls)
	}
	if outcome.FailedStep != "fetch" {
		t.Fatalf("failed step = %q, want fetch", outcome.FailedStep)
	}
	if !strings.Contains(outcome.Reason, "connection reset") {
		t.Fatalf("reason %q does not preserve the original error", outcome.Reason)
	}
	// The later step never ran.
	if len(outcome.Steps) != 1 {
		t.Fatalf("recorded %d steps, want 1", len(outcome.Steps))
	}
	if outcome.TotalCostUSD != 0 {
		t.Fatalf("cost = %v, want 0", outcome.TotalCostUSD)
	}
}

func TestPipelineTimeoutRetriesByDefault(t *testing.T) {
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))

	calls := 0
	step := engine.Step{
		Name:    "transcribe",
		Skill:   "transcribe",
		Timeout: 5 * time.Millisecond,
		Run: func(ctx context.Context, _ engine.WorkItem, _ *engine.Context) engine.StepResult {
			calls++
			<-ctx.Done()
			return engine.Classify(services.Wrap(services.ErrTimeout, "media", "transcribe", "", ctx.Err()))
		},
	}

	p := engine.NewPipeline("research-ingest", []engine.Step{step}, l,
		engine.WithRetryPolicy(engine.RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Second}),
		engine.WithSleeper(noSleep),
	)
	outcome := p.Run(context.Background(), engine.WorkItem{ID: "item-1"}, testContext())

	if outcome.Status != engine.StatusSkipped {
		t.Fatalf("status = %s, want skipped after exhausted retries", outcome.Status)
	}
	if calls != 2 {
		t.Fatalf("step ran %d times, want 2 (timeout retried once)", calls)
	}
	if !strings.Contains(outcome.Reason, "timed out") {
		t.Fatalf("reason = %q, want a timeout mention", outcome.Reason)
	}
}

func TestPipelineTimeoutSkipsWhenDeclared(t *testing.T) {
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))

	calls := 0
	step := engine.Step{
		Name:          "transcribe",
		Skill:         "transcribe",
		Timeout:       5 * time.Millisecond,
		SkipOnTimeout: true,
		Run: func(ctx context.Context, _ engine.WorkItem, _ *engine.Context) engine.StepResult {
			calls++
			<-ctx.Done()
			return engine.Retry(ctx.Err())
		},
	}

	p := engine.NewPipeline("research-ingest", []engine.Step{step}, l, engine.WithSleeper(noSleep))
	outcome := p.Run(context.Background(), engine.WorkItem{ID: "item-1"}, testContext())

	if outcome.Status != engine.StatusSkipped {
		t.Fatalf("status = %s, want skipped", outcome.Status)
	}
	if calls != 1 {
		t.Fatalf("step ran %d times, want 1 (no retry when timeout skips)", calls)
	}
}

func TestPipelineHardLimitAbortsBeforeStep(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCostLimits(0.01, 0.05, 100, 500))
	l := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	if err := l.RecordCost(ctx, 0.05, "seed", ""); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}

	ran := false
	step := engine.Step{
		Name:  "summarize",
		Skill: "summarize",
		Run: func(context.Context, engine.WorkItem, *engine.Context) engine.StepResult {
			ran = true
			return engine.Success(nil, 0.01)
		},
	}

	p := engine.NewPipeline("research-ingest", []engine.Step{step}, l, engine.WithSleeper(noSleep))
	outcome := p.Run(ctx, engine.WorkItem{ID: "item-1"}, testContext())

	if outcome.Status != engine.StatusAborted {
		t.Fatalf("status = %s, want aborted", outcome.Status)
	}
	if ran {
		t.Fatal("step executed past a breached hard limit")
	}
	if !strings.Contains(outcome.Reason, "hard limit") {
		t.Fatalf("reason = %q, want a hard limit mention", outcome.Reason)
	}
}

func TestPipelineSoftLimitOnlyWarns(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCostLimits(0.01, 100, 100, 500))
	l := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	if err := l.RecordCost(ctx, 0.02, "seed", ""); err != nil {
		t.Fatalf("RecordCost: %v", err)
	}

	p := engine.NewPipeline("research-ingest", []engine.Step{successStep("summarize", 0.01)}, l, engine.WithSleeper(noSleep))
	outcome := p.Run(ctx, engine.WorkItem{ID: "item-1"}, testContext())

	if outcome.Status != engine.StatusCompleted {
		t.Fatalf("status = %s, want completed past a soft limit", outcome.Status)
	}
}

func TestPipelineStepOutputsFlowThroughContext(t *testing.T) {
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))

	produce := engine.Step{
		Name:  "transcribe",
		Skill: "transcribe",
		Run: func(context.Context, engine.WorkItem, *engine.Context) engine.StepResult {
			return engine.Success(map[string]any{"transcript": "hello world"}, 0)
		},
	}
	var seen string
	consume := engine.Step{
		Name:  "summarize",
		Skill: "summarize",
		Run: func(_ context.Context, _ engine.WorkItem, sc *engine.Context) engine.StepResult {
			seen = sc.String("transcript")
			return engine.Success(nil, 0)
		},
	}

	p := engine.NewPipeline("research-ingest", []engine.Step{produce, consume}, l, engine.WithSleeper(noSleep))
	outcome := p.Run(context.Background(), engine.WorkItem{ID: "item-1"}, testContext())

	if outcome.Status != engine.StatusCompleted {
		t.Fatalf("status = %s, want completed", outcome.Status)
	}
	if seen != "hello world" {
		t.Fatalf("downstream step saw %q, want the upstream output", seen)
	}
}

func TestPipelineAbortStopsRemainingSteps(t *testing.T) {
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))

	abort := engine.Step{
		Name:  "publish",
		Skill: "publish",
		Run: func(context.Context, engine.WorkItem, *engine.Context) engine.StepResult {
			return engine.Abort("record store rejected credentials")
		},
	}
	ran := false
	after := engine.Step{
		Name:  "cleanup",
		Skill: "cleanup",
		Run: func(context.Context, engine.WorkItem, *engine.Context) engine.StepResult {
			ran = true
			return engine.Success(nil, 0)
		},
	}

	p := engine.NewPipeline("research-ingest", []engine.Step{abort, after}, l, engine.WithSleeper(noSleep))
	outcome := p.Run(context.Background(), engine.WorkItem{ID: "item-1"}, testContext())

	if outcome.Status != engine.StatusAborted {
		t.Fatalf("status = %s, want aborted", outcome.Status)
	}
	if outcome.Reason != "record store rejected credentials" {
		t.Fatalf("reason = %q", outcome.Reason)
	}
	if ran {
		t.Fatal("step after an abort still executed")
	}
}

func TestPipelineAwaitApprovalSuspendsItem(t *testing.T) {
	l := testsupport.MustOpenLedger(t, testsupport.NewConfig(t))

	step := engine.Step{
		Name:  "draft-review",
		Skill: "script",
		Run: func(context.Context, engine.WorkItem, *engine.Context) engine.StepResult {
			return engine.AwaitApproval([]string{"tighten the intro", "shorter outro"})
		},
	}

	p := engine.NewPipeline("script-gen", []engine.Step{step}, l, engine.WithSleeper(noSleep))
	outcome := p.Run(context.Background(), engine.WorkItem{ID: "item-1"}, testContext())

	if outcome.Status != engine.StatusAwaiting {
		t.Fatalf("status = %s, want awaiting_approval", outcome.Status)
	}
	if len(outcome.Suggestions) != 2 {
		t.Fatalf("suggestions = %v", outcome.Suggestions)
	}
}
