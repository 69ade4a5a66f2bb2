package engine_test

import (
	"errors"
	"testing"

	"reelpipe/internal/engine"
	"reelpipe/internal/services"
)

func definition(id string) engine.Definition {
	return engine.Definition{
		ID:     id,
		Source: engine.StaticSource(),
		Steps:  []engine.Step{successStep("noop", 0)},
	}
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	registry := engine.NewRegistry()
	for _, id := range []string{"weekly-report", "research-ingest", "insight-link"} {
		if err := registry.Register(definition(id)); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}

	def, err := registry.Resolve("research-ingest")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if def.ID != "research-ingest" {
		t.Fatalf("Resolve returned %q", def.ID)
	}

	ids := registry.IDs()
	want := []string{"insight-link", "research-ingest", "weekly-report"}
	if len(ids) != len(want) {
		t.Fatalf("IDs = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("IDs = %v, want sorted %v", ids, want)
		}
	}
}

func TestRegistryRejectsBadDefinitions(t *testing.T) {
	registry := engine.NewRegistry()

	if err := registry.Register(engine.Definition{Source: engine.StaticSource()}); err == nil {
		t.Fatal("Register accepted an empty id")
	}
	if err := registry.Register(engine.Definition{ID: "no-source"}); err == nil {
		t.Fatal("Register accepted a nil source")
	}

	if err := registry.Register(definition("research-ingest")); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register(definition("research-ingest")); err == nil {
		t.Fatal("Register accepted a duplicate id")
	}
}

func TestRegistryResolveUnknown(t *testing.T) {
	registry := engine.NewRegistry()

	_, err := registry.Resolve("missing")
	if err == nil {
		t.Fatal("Resolve found an unregistered workflow")
	}
	if !errors.Is(err, engine.ErrUnknownWorkflow) {
		t.Fatalf("error %v does not wrap ErrUnknownWorkflow", err)
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("error %v is not tagged as a configuration error", err)
	}
}
