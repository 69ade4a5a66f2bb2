package engine

import (
	"errors"
	"fmt"
	"sort"

	"reelpipe/internal/services"
)

// ErrUnknownWorkflow marks a lookup for a workflow that was never registered.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// Definition binds a workflow id to its item source and step pipeline.
type Definition struct {
	// ID is the stable identifier used on the command line and in the
	// progress store.
	ID string
	// Description is the one-line summary shown by the workflows listing.
	Description string
	// Source supplies the candidate items for a run.
	Source ItemSource
	// Steps run in order against each item.
	Steps []Step
	// Produces names the artifacts a clean run leaves behind, for listings.
	Produces []string
}

// Registry holds the known workflow definitions. Registration happens once
// at startup; lookups are read-only afterwards.
type Registry struct {
	defs map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a definition. Empty ids, missing sources, and duplicate ids
// are configuration mistakes and rejected.
func (r *Registry) Register(def Definition) error {
	if def.ID == "" {
		return services.Wrap(services.ErrConfiguration, "engine", "register", "workflow id is empty", nil)
	}
	if def.Source == nil {
		return services.Wrap(services.ErrConfiguration, "engine", "register", fmt.Sprintf("workflow %s has no item source", def.ID), nil)
	}
	if _, exists := r.defs[def.ID]; exists {
		return services.Wrap(services.ErrConfiguration, "engine", "register", fmt.Sprintf("workflow %s registered twice", def.ID), nil)
	}
	r.defs[def.ID] = def
	return nil
}

// Resolve returns the definition for an id.
func (r *Registry) Resolve(id string) (Definition, error) {
	def, ok := r.defs[id]
	if !ok {
		return Definition{}, services.Wrap(services.ErrConfiguration, "engine", "resolve", fmt.Sprintf("%q is not registered (known: %v)", id, r.IDs()), ErrUnknownWorkflow)
	}
	return def, nil
}

// IDs returns the registered workflow ids in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.defs))
	for id := range r.defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Definitions returns all registered definitions sorted by id.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.defs))
	for _, id := range r.IDs() {
		defs = append(defs, r.defs[id])
	}
	return defs
}
