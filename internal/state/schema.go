package state

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS processed (
    workflow     TEXT NOT NULL,
    item_id      TEXT NOT NULL,
    processed_at TEXT NOT NULL,
    PRIMARY KEY (workflow, item_id)
);

CREATE TABLE IF NOT EXISTS run_summaries (
    workflow   TEXT PRIMARY KEY,
    payload    TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS run_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id     TEXT NOT NULL,
    workflow   TEXT NOT NULL,
    payload    TEXT NOT NULL,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_run_history_workflow ON run_history (workflow, id DESC);

CREATE TABLE IF NOT EXISTS approvals (
    workflow   TEXT NOT NULL,
    item_id    TEXT NOT NULL,
    decision   TEXT NOT NULL,
    note       TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL,
    PRIMARY KEY (workflow, item_id)
);
`

func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply state schema: %w", err)
	}
	return nil
}
