package engine

import "context"

// WorkItem is one external record to process. The identity is immutable;
// fields are read-only snapshots of the record at fetch time. The engine
// never mutates the external record itself, only steps do (through the
// record-store client, as the final step of a pipeline).
type WorkItem struct {
	ID     string
	Fields map[string]string
}

// Field returns a named field, empty when absent.
func (w WorkItem) Field(name string) string {
	return w.Fields[name]
}

// ItemSource supplies the candidate work items for one run, already filtered
// to "needs processing" by the external store. Order is preserved by the
// runner; no re-sorting is imposed.
type ItemSource interface {
	Fetch(ctx context.Context) ([]WorkItem, error)
}

// SourceFunc adapts a function to the ItemSource interface.
type SourceFunc func(ctx context.Context) ([]WorkItem, error)

func (f SourceFunc) Fetch(ctx context.Context) ([]WorkItem, error) { return f(ctx) }

// StaticSource returns the same fixed item list on every fetch.
func StaticSource(items ...WorkItem) ItemSource {
	return SourceFunc(func(context.Context) ([]WorkItem, error) {
		out := make([]WorkItem, len(items))
		copy(out, items)
		return out, nil
	})
}
