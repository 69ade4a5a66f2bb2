package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"reelpipe/internal/config"
)

// Aggregation dimensions persisted in cost_totals. Day and month keys are
// ISO dates ("2026-08-30", "2026-08"); skill and workflow keys are the
// attribution identifiers.
const (
	DimensionDay      = "day"
	DimensionMonth    = "month"
	DimensionSkill    = "skill"
	DimensionWorkflow = "workflow"
)

// Limits holds the configured spend ceilings.
type Limits struct {
	DailySoftUSD   float64
	DailyHardUSD   float64
	MonthlySoftUSD float64
	MonthlyHardUSD float64
}

// Level classifies the result of a limit check.
type Level int

const (
	LevelOK Level = iota
	LevelSoft
	LevelHard
)

// LimitStatus reports where spend stands relative to the configured ceilings.
// Dimension is "daily" or "monthly" for non-OK statuses.
type LimitStatus struct {
	Level      Level
	Dimension  string
	CurrentUSD float64
	LimitUSD   float64
}

// Exceeded reports whether the hard ceiling is breached and execution must
// halt at the next step or item boundary.
func (s LimitStatus) Exceeded() bool { return s.Level == LevelHard }

func (s LimitStatus) String() string {
	switch s.Level {
	case LevelHard:
		return fmt.Sprintf("%s hard limit exceeded: $%.2f / $%.2f", s.Dimension, s.CurrentUSD, s.LimitUSD)
	case LevelSoft:
		return fmt.Sprintf("%s soft limit exceeded: $%.2f / $%.2f", s.Dimension, s.CurrentUSD, s.LimitUSD)
	default:
		return "within limits"
	}
}

// Ledger manages cost persistence backed by SQLite.
type Ledger struct {
	db     *sql.DB
	path   string
	limits Limits
	now    func() time.Time
}

// Option customizes the ledger.
type Option func(*Ledger)

// WithClock overrides the time source (used in tests to pin the day/month).
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		if now != nil {
			l.now = now
		}
	}
}

// Open initializes or connects to the cost database in the state directory.
func Open(cfg *config.Config, opts ...Option) (*Ledger, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.StateDir, "costs.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cost db: %w", err)
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

	ledger := &Ledger{
		db:   db,
		path: dbPath,
		limits: Limits{
			DailySoftUSD:   cfg.Costs.DailySoftUSD,
			DailyHardUSD:   cfg.Costs.DailyHardUSD,
			MonthlySoftUSD: cfg.Costs.MonthlySoftUSD,
			MonthlyHardUSD: cfg.Costs.MonthlyHardUSD,
		},
		now: time.Now,
	}
	for _, opt := range opts {
		opt(ledger)
	}
	return ledger, nil
}

// Close closes the underlying database connection.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Limits returns the configured ceilings.
func (l *Ledger) Limits() Limits { return l.limits }

// RecordCost appends a cost entry and updates the running aggregates in one
// transaction. Zero-cost events are dropped; negative amounts are rejected.
func (l *Ledger) RecordCost(ctx context.Context, amountUSD float64, skill, workflow string) error {
	if amountUSD < 0 {
		return fmt.Errorf("record cost: negative amount %v", amountUSD)
	}
	if amountUSD == 0 {
		return nil
	}
	if skill == "" {
		return errors.New("record cost: skill attribution required")
	}

	now := l.now().UTC()
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record cost: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO cost_entries (amount_usd, skill, workflow, created_at) VALUES (?, ?, ?, ?)`,
		amountUSD, skill, workflow, now.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("record cost: insert entry: %w", err)
	}

	totals := [][2]string{
		{DimensionDay, day},
		{DimensionMonth, month},
		{DimensionSkill, skill},
	}
	if workflow != "" {
		totals = append(totals, [2]string{DimensionWorkflow, workflow})
	}
	for _, dim := range totals {
		if _, err := tx.ExecContext(
			ctx,
			`INSERT INTO cost_totals (dimension, key, total_usd) VALUES (?, ?, ?)
             ON CONFLICT (dimension, key) DO UPDATE SET total_usd = total_usd + excluded.total_usd`,
			dim[0], dim[1], amountUSD,
		); err != nil {
			return fmt.Errorf("record cost: update %s total: %w", dim[0], err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record cost: commit: %w", err)
	}
	return nil
}

// CheckLimits reports where current spend stands. A hard breach in either the
// daily or the monthly window is sufficient for HardExceeded; hard checks win
// over soft ones.
func (l *Ledger) CheckLimits(ctx context.Context) (LimitStatus, error) {
	now := l.now().UTC()
	daily, err := l.TotalFor(ctx, DimensionDay, now.Format("2006-01-02"))
	if err != nil {
		return LimitStatus{}, err
	}
	monthly, err := l.TotalFor(ctx, DimensionMonth, now.Format("2006-01"))
	if err != nil {
		return LimitStatus{}, err
	}

	switch {
	case daily >= l.limits.DailyHardUSD:
		return LimitStatus{Level: LevelHard, Dimension: "daily", CurrentUSD: daily, LimitUSD: l.limits.DailyHardUSD}, nil
	case monthly >= l.limits.MonthlyHardUSD:
		return LimitStatus{Level: LevelHard, Dimension: "monthly", CurrentUSD: monthly, LimitUSD: l.limits.MonthlyHardUSD}, nil
	case l.limits.DailySoftUSD > 0 && daily >= l.limits.DailySoftUSD:
		return LimitStatus{Level: LevelSoft, Dimension: "daily", CurrentUSD: daily, LimitUSD: l.limits.DailySoftUSD}, nil
	case l.limits.MonthlySoftUSD > 0 && monthly >= l.limits.MonthlySoftUSD:
		return LimitStatus{Level: LevelSoft, Dimension: "monthly", CurrentUSD: monthly, LimitUSD: l.limits.MonthlySoftUSD}, nil
	default:
		return LimitStatus{Level: LevelOK}, nil
	}
}

// TotalFor returns the aggregated total for one dimension key, zero when the
// key has never been charged.
func (l *Ledger) TotalFor(ctx context.Context, dimension, key string) (float64, error) {
	row := l.db.QueryRowContext(
		ctx,
		`SELECT total_usd FROM cost_totals WHERE dimension = ? AND key = ?`,
		dimension, key,
	)
	var total float64
	if err := row.Scan(&total); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("total for %s/%s: %w", dimension, key, err)
	}
	return total, nil
}

// EntrySum sums the append-only entry log. It should always equal the day
// totals combined; exposed so callers (and tests) can audit the ledger.
func (l *Ledger) EntrySum(ctx context.Context) (float64, error) {
	row := l.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount_usd), 0) FROM cost_entries`)
	var sum float64
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum entries: %w", err)
	}
	return sum, nil
}

// Prune deletes all but the newest keep entries from the append-only log.
// Aggregated totals are untouched. This implements the external retention
// policy; the engine itself never deletes entries.
func (l *Ledger) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := l.db.ExecContext(
		ctx,
		`DELETE FROM cost_entries WHERE id NOT IN (SELECT id FROM cost_entries ORDER BY id DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune entries: %w", err)
	}
	return res.RowsAffected()
}
