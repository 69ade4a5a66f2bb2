package records

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"reelpipe/internal/services"
)

func noSleep(context.Context, time.Duration) error { return nil }

func testClient(t *testing.T, handler http.Handler, opts ...Option) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	base := []Option{
		WithSleeper(noSleep),
		WithRetryBackoff(time.Millisecond, 10*time.Millisecond),
	}
	return NewClient(Config{APIKey: "secret", BaseURL: server.URL}, append(base, opts...)...)
}

func TestQueryFollowsPagination(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/databases/db-1/query" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("authorization header = %q", got)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}

		switch calls.Add(1) {
		case 1:
			if _, hasCursor := body["start_cursor"]; hasCursor {
				t.Error("first page carried a start_cursor")
			}
			writeJSON(w, map[string]any{
				"results": []map[string]any{{
					"id": "page-1",
					"properties": map[string]any{
						"Name": map[string]any{"type": "title", "title": []any{map[string]any{"plain_text": "First"}}},
					},
				}},
				"has_more":    true,
				"next_cursor": "cursor-2",
			})
		default:
			if body["start_cursor"] != "cursor-2" {
				t.Errorf("start_cursor = %v", body["start_cursor"])
			}
			writeJSON(w, map[string]any{
				"results": []map[string]any{{
					"id": "page-2",
					"properties": map[string]any{
						"Status": map[string]any{"type": "status", "status": map[string]any{"name": "New"}},
						"Views":  map[string]any{"type": "number", "number": float64(1200)},
					},
				}},
				"has_more": false,
			})
		}
	})

	client := testClient(t, handler)
	pages, err := client.Query(context.Background(), QueryRequest{DatabaseID: "db-1"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("got %d pages, want 2", len(pages))
	}
	if pages[0].Fields["Name"] != "First" {
		t.Fatalf("page 1 fields = %v", pages[0].Fields)
	}
	if pages[1].Fields["Status"] != "New" || pages[1].Fields["Views"] != "1200" {
		t.Fatalf("page 2 fields = %v", pages[1].Fields)
	}
}

func TestQueryRetriesRateLimitedRequests(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, map[string]any{"results": []map[string]any{}, "has_more": false})
	})

	var delays []time.Duration
	sleeper := func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	client := testClient(t, handler, WithSleeper(sleeper), WithRetryBackoff(time.Millisecond, 20*time.Second))

	if _, err := client.Query(context.Background(), QueryRequest{DatabaseID: "db-1"}); err != nil {
		t.Fatalf("Query: %v", err)
	}
	if calls.Load() != 2 {
		t.Fatalf("server saw %d calls, want 2", calls.Load())
	}
	found := false
	for _, d := range delays {
		if d == 7*time.Second {
			found = true
		}
	}
	if !found {
		t.Fatalf("Retry-After not honored; delays = %v", delays)
	}
}

func TestQueryMapsClientErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		marker error
	}{
		{"missing database", http.StatusNotFound, services.ErrNotFound},
		{"bad filter", http.StatusBadRequest, services.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				w.WriteHeader(tt.status)
			})
			client := testClient(t, handler)

			_, err := client.Query(context.Background(), QueryRequest{DatabaseID: "db-1"})
			if !errors.Is(err, tt.marker) {
				t.Fatalf("error %v is not tagged with %v", err, tt.marker)
			}
			if calls.Load() != 1 {
				t.Fatalf("client error retried %d times", calls.Load())
			}
		})
	}
}

func TestQueryGivesUpAfterServerErrors(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	client := testClient(t, handler, WithRetryMaxAttempts(3))

	_, err := client.Query(context.Background(), QueryRequest{DatabaseID: "db-1"})
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("error %v is not tagged transient", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("server saw %d calls, want 3", calls.Load())
	}
}

func TestMutateSendsFieldsThenBlocks(t *testing.T) {
	var paths []string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.Path)
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		switch r.URL.Path {
		case "/pages/page-1":
			if _, ok := body["properties"]; !ok {
				t.Error("field update missing properties")
			}
		case "/blocks/page-1/children":
			children, ok := body["children"].([]any)
			if !ok || len(children) != 1 {
				t.Errorf("children = %v", body["children"])
			}
		}
		writeJSON(w, map[string]any{})
	})

	client := testClient(t, handler)
	err := client.Mutate(context.Background(), MutateRequest{
		PageID: "page-1",
		Fields: map[string]any{"Status": map[string]any{"status": map[string]any{"name": "Analyzed"}}},
		Blocks: []Block{{Text: "Summary of insights"}},
	})
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	want := []string{"PATCH /pages/page-1", "PATCH /blocks/page-1/children"}
	if len(paths) != len(want) || paths[0] != want[0] || paths[1] != want[1] {
		t.Fatalf("request order = %v, want %v", paths, want)
	}
}

func TestRateLimiterSpacesRequests(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	limiter := newRateLimiter(2.5)
	limiter.now = func() time.Time { return now }

	var delays []time.Duration
	sleeper := func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	for n := 0; n < 3; n++ {
		if err := limiter.wait(context.Background(), sleeper); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}

	// At 2.5 req/s the second and third immediate requests must wait 400ms
	// and 800ms respectively.
	want := []time.Duration{400 * time.Millisecond, 800 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("slept %d times, want %d (delays %v)", len(delays), len(want), delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Fatalf("delay %d = %s, want %s", i, delays[i], want[i])
		}
	}
}

func TestSourceAdaptsPagesToWorkItems(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if _, ok := body["filter"]; !ok {
			t.Error("source query missing filter")
		}
		writeJSON(w, map[string]any{
			"results": []map[string]any{{
				"id":  "page-1",
				"url": "https://records.example/page-1",
				"properties": map[string]any{
					"Name": map[string]any{"type": "title", "title": []any{map[string]any{"plain_text": "Clip"}}},
				},
			}},
			"has_more": false,
		})
	})

	client := testClient(t, handler)
	source := NewSource(client, "db-1", map[string]any{"property": "Status", "status": map[string]any{"equals": "New"}})

	items, err := source.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].ID != "page-1" || items[0].Field("Name") != "Clip" {
		t.Fatalf("item = %+v", items[0])
	}
	if items[0].Field("_url") != "https://records.example/page-1" {
		t.Fatalf("url not carried: %v", items[0].Fields)
	}
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
