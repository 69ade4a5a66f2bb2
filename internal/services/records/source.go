package records

import (
	"context"

	"reelpipe/internal/engine"
)

// Source adapts a record-store query into an engine item source. The filter
// expresses the "needs processing" condition so the store itself narrows the
// candidate set; the engine's processed-set handles the rest.
type Source struct {
	client     *Client
	databaseID string
	filter     map[string]any
	sorts      []Sort
}

// NewSource builds an item source over one database query.
func NewSource(client *Client, databaseID string, filter map[string]any, sorts ...Sort) *Source {
	return &Source{client: client, databaseID: databaseID, filter: filter, sorts: sorts}
}

// Fetch queries the candidate records, preserving the store's ordering.
func (s *Source) Fetch(ctx context.Context) ([]engine.WorkItem, error) {
	pages, err := s.client.Query(ctx, QueryRequest{
		DatabaseID: s.databaseID,
		Filter:     s.filter,
		Sorts:      s.sorts,
	})
	if err != nil {
		return nil, err
	}
	items := make([]engine.WorkItem, 0, len(pages))
	for _, page := range pages {
		fields := page.Fields
		if fields == nil {
			fields = map[string]string{}
		}
		if page.URL != "" {
			fields["_url"] = page.URL
		}
		items = append(items, engine.WorkItem{ID: page.ID, Fields: fields})
	}
	return items, nil
}
