package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS cost_entries (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    amount_usd REAL NOT NULL CHECK (amount_usd >= 0),
    skill      TEXT NOT NULL,
    workflow   TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cost_totals (
    dimension TEXT NOT NULL,
    key       TEXT NOT NULL,
    total_usd REAL NOT NULL DEFAULT 0,
    PRIMARY KEY (dimension, key)
);

CREATE INDEX IF NOT EXISTS idx_cost_entries_created ON cost_entries(created_at);
`

func applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply ledger schema: %w", err)
	}
	return nil
}
