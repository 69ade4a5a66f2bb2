// Package state persists run progress: the processed-item set, run
// summaries, and pending approval decisions. Everything lives in one SQLite
// database in the state directory.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"reelpipe/internal/config"
	"reelpipe/internal/engine"
)

// Store is the durable progress store.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Option customizes the store.
type Option func(*Store)

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open initializes or connects to the progress database in the state
// directory.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "state.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout = 5000"} {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if err := applySchema(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}

	store := &Store{db: db, path: dbPath, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var (
	_ engine.Progress       = (*Store)(nil)
	_ engine.ApprovalReader = (*Store)(nil)
)

// IsProcessed reports whether an item has already completed for a workflow.
func (s *Store) IsProcessed(ctx context.Context, workflowID, itemID string) (bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT 1 FROM processed WHERE workflow = ? AND item_id = ?`,
		workflowID, itemID,
	)
	var one int
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check processed %s/%s: %w", workflowID, itemID, err)
	}
	return true, nil
}

// MarkProcessed records an item as completed. Marking the same item twice is
// a no-op, so completion stays idempotent.
func (s *Store) MarkProcessed(ctx context.Context, workflowID, itemID string) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO processed (workflow, item_id, processed_at) VALUES (?, ?, ?)`,
		workflowID, itemID, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("mark processed %s/%s: %w", workflowID, itemID, err)
	}
	return nil
}

// ProcessedCount returns how many items are recorded for a workflow.
func (s *Store) ProcessedCount(ctx context.Context, workflowID string) (int, error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed WHERE workflow = ?`, workflowID)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count processed %s: %w", workflowID, err)
	}
	return count, nil
}

// ClearProcessed forgets the processed set for one workflow so its items
// become eligible again. Pending approvals for the workflow are dropped too.
// Returns the number of processed entries removed.
func (s *Store) ClearProcessed(ctx context.Context, workflowID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("clear processed %s: begin tx: %w", workflowID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM processed WHERE workflow = ?`, workflowID)
	if err != nil {
		return 0, fmt.Errorf("clear processed %s: %w", workflowID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM approvals WHERE workflow = ?`, workflowID); err != nil {
		return 0, fmt.Errorf("clear approvals %s: %w", workflowID, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("clear processed %s: commit: %w", workflowID, err)
	}
	return res.RowsAffected()
}

// SaveRunSummary upserts the latest summary for the workflow and appends it
// to the run history in one transaction.
func (s *Store) SaveRunSummary(ctx context.Context, summary *engine.RunSummary) error {
	if summary == nil {
		return errors.New("save run summary: nil summary")
	}
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("save run summary: marshal: %w", err)
	}
	now := s.now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run summary: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO run_summaries (workflow, payload, updated_at) VALUES (?, ?, ?)
         ON CONFLICT (workflow) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		summary.WorkflowID, string(payload), now,
	); err != nil {
		return fmt.Errorf("save run summary: upsert: %w", err)
	}
	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO run_history (run_id, workflow, payload, created_at) VALUES (?, ?, ?, ?)`,
		summary.RunID, summary.WorkflowID, string(payload), now,
	); err != nil {
		return fmt.Errorf("save run summary: append history: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save run summary: commit: %w", err)
	}
	return nil
}

// LastRun returns the most recent summary for a workflow, with ok=false when
// the workflow has never run.
func (s *Store) LastRun(ctx context.Context, workflowID string) (*engine.RunSummary, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT payload FROM run_summaries WHERE workflow = ?`, workflowID)
	var payload string
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("last run %s: %w", workflowID, err)
	}
	var summary engine.RunSummary
	if err := json.Unmarshal([]byte(payload), &summary); err != nil {
		return nil, false, fmt.Errorf("last run %s: unmarshal: %w", workflowID, err)
	}
	return &summary, true, nil
}

// RunHistory returns up to limit recent summaries for a workflow, newest
// first. A zero or negative limit returns everything.
func (s *Store) RunHistory(ctx context.Context, workflowID string, limit int) ([]*engine.RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT payload FROM run_history WHERE workflow = ? ORDER BY id DESC LIMIT ?`,
		workflowID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("run history %s: %w", workflowID, err)
	}
	defer rows.Close()

	var summaries []*engine.RunSummary
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("run history %s: scan: %w", workflowID, err)
		}
		var summary engine.RunSummary
		if err := json.Unmarshal([]byte(payload), &summary); err != nil {
			return nil, fmt.Errorf("run history %s: unmarshal: %w", workflowID, err)
		}
		summaries = append(summaries, &summary)
	}
	return summaries, rows.Err()
}

// SubmitApproval records a human decision for a suspended item, replacing
// any earlier decision for the same item.
func (s *Store) SubmitApproval(ctx context.Context, workflowID, itemID, decision, note string) error {
	if decision != engine.DecisionApproved && decision != engine.DecisionRejected {
		return fmt.Errorf("submit approval: decision must be %q or %q, got %q",
			engine.DecisionApproved, engine.DecisionRejected, decision)
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO approvals (workflow, item_id, decision, note, created_at) VALUES (?, ?, ?, ?, ?)
         ON CONFLICT (workflow, item_id) DO UPDATE SET decision = excluded.decision, note = excluded.note, created_at = excluded.created_at`,
		workflowID, itemID, decision, note, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("submit approval %s/%s: %w", workflowID, itemID, err)
	}
	return nil
}

// ApprovalFor returns the stored decision for an item, with ok=false when no
// decision has been submitted yet.
func (s *Store) ApprovalFor(ctx context.Context, workflowID, itemID string) (engine.Approval, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT decision, note FROM approvals WHERE workflow = ? AND item_id = ?`,
		workflowID, itemID,
	)
	var approval engine.Approval
	if err := row.Scan(&approval.Decision, &approval.Note); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return engine.Approval{}, false, nil
		}
		return engine.Approval{}, false, fmt.Errorf("approval for %s/%s: %w", workflowID, itemID, err)
	}
	return approval, true, nil
}
