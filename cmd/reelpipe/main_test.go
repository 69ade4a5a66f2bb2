package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reelpipe/internal/config"
	"reelpipe/internal/state"
)

func writeTestSetup(t *testing.T) string {
	t.Helper()
	base := t.TempDir()

	databasesPath := filepath.Join(base, "databases.yaml")
	databases := `databases:
  research:
    id: db-research
    status_field: Status
    fields:
      url: URL
      summary: Summary
  production:
    id: db-production
    status_field: Status
    fields:
      concept: Concept
  published:
    id: db-published
    status_field: Status
  reports:
    id: db-reports
    status_field: Status
`
	if err := os.WriteFile(databasesPath, []byte(databases), 0o644); err != nil {
		t.Fatalf("write databases file: %v", err)
	}

	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
state_dir = %q
media_dir = %q
log_dir = %q

[records]
api_key = "cli-test-key"
databases_file = %q

[inference]
api_key = "cli-test-key"
`,
		filepath.Join(base, "state"),
		filepath.Join(base, "media"),
		filepath.Join(base, "logs"),
		databasesPath,
	)
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return configPath
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestWorkflowsCommandListsRegistry(t *testing.T) {
	configPath := writeTestSetup(t)

	out, err := runCLI(t, "--config", configPath, "workflows")
	if err != nil {
		t.Fatalf("workflows: %v", err)
	}
	for _, id := range []string{"research-ingest", "insight-link", "script-gen", "scene-breakdown", "weekly-report"} {
		if !strings.Contains(out, id) {
			t.Fatalf("listing missing %q:\n%s", id, out)
		}
	}
}

func TestRunRejectsUnknownWorkflow(t *testing.T) {
	configPath := writeTestSetup(t)

	_, err := runCLI(t, "--config", configPath, "run", "no-such-workflow")
	if err == nil {
		t.Fatal("run accepted an unknown workflow")
	}
	if !strings.Contains(err.Error(), "not registered") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCostsCommandOnEmptyLedger(t *testing.T) {
	configPath := writeTestSetup(t)

	out, err := runCLI(t, "--config", configPath, "costs")
	if err != nil {
		t.Fatalf("costs: %v", err)
	}
	if !strings.Contains(out, "Today") || !strings.Contains(out, "This month") {
		t.Fatalf("summary windows missing:\n%s", out)
	}
	if !strings.Contains(out, "$0.00") {
		t.Fatalf("empty ledger should report zero spend:\n%s", out)
	}
}

func TestCostsPruneReportsCount(t *testing.T) {
	configPath := writeTestSetup(t)

	out, err := runCLI(t, "--config", configPath, "costs", "prune", "--keep", "5")
	if err != nil {
		t.Fatalf("costs prune: %v", err)
	}
	if !strings.Contains(out, "Pruned 0 cost entries") {
		t.Fatalf("unexpected prune output:\n%s", out)
	}
}

func TestApproveStoresDecision(t *testing.T) {
	configPath := writeTestSetup(t)
	ctx := context.Background()

	out, err := runCLI(t, "--config", configPath, "approve", "script-gen", "prod-1", "--note", "good angles")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !strings.Contains(out, "Recorded approved for script-gen/prod-1") {
		t.Fatalf("unexpected approve output:\n%s", out)
	}

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	store, err := state.Open(cfg)
	if err != nil {
		t.Fatalf("state.Open: %v", err)
	}
	defer store.Close()

	approval, ok, err := store.ApprovalFor(ctx, "script-gen", "prod-1")
	if err != nil {
		t.Fatalf("ApprovalFor: %v", err)
	}
	if !ok || approval.Decision != "approved" || approval.Note != "good angles" {
		t.Fatalf("stored approval = %+v ok=%v", approval, ok)
	}
}

func TestRejectStoresDecision(t *testing.T) {
	configPath := writeTestSetup(t)

	out, err := runCLI(t, "--config", configPath, "approve", "script-gen", "prod-2", "--reject")
	if err != nil {
		t.Fatalf("approve --reject: %v", err)
	}
	if !strings.Contains(out, "Recorded rejected for script-gen/prod-2") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestStateShowWithoutRuns(t *testing.T) {
	configPath := writeTestSetup(t)

	out, err := runCLI(t, "--config", configPath, "state", "show", "research-ingest")
	if err != nil {
		t.Fatalf("state show: %v", err)
	}
	if !strings.Contains(out, "0 processed item(s)") || !strings.Contains(out, "No runs recorded") {
		t.Fatalf("unexpected state output:\n%s", out)
	}
}

func TestStateResetReportsCount(t *testing.T) {
	configPath := writeTestSetup(t)

	out, err := runCLI(t, "--config", configPath, "state", "reset", "research-ingest")
	if err != nil {
		t.Fatalf("state reset: %v", err)
	}
	if !strings.Contains(out, "Cleared 0 processed item(s)") {
		t.Fatalf("unexpected reset output:\n%s", out)
	}
}

func TestConfigInitRefusesToClobber(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "config.toml")

	out, err := runCLI(t, "config", "init", "--path", target)
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	if !strings.Contains(out, "Wrote sample configuration") {
		t.Fatalf("unexpected init output:\n%s", out)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config missing: %v", err)
	}

	if _, err := runCLI(t, "config", "init", "--path", target); err == nil {
		t.Fatal("second init overwrote the config without --overwrite")
	}
	if _, err := runCLI(t, "config", "init", "--path", target, "--overwrite"); err != nil {
		t.Fatalf("init --overwrite: %v", err)
	}
}

func TestConfigShowMasksSecrets(t *testing.T) {
	configPath := writeTestSetup(t)

	out, err := runCLI(t, "--config", configPath, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if strings.Contains(out, "cli-test-key") {
		t.Fatalf("config show leaked an api key:\n%s", out)
	}
	if !strings.Contains(out, "(set)") {
		t.Fatalf("config show should mark keys as set:\n%s", out)
	}
}
