package ledger

import (
	"context"
	"fmt"
	"time"
)

// Total pairs an attribution key with its accumulated spend.
type Total struct {
	Key string
	USD float64
}

// Summary is the roll-up shown by the costs command and embedded in the
// weekly report.
type Summary struct {
	Date         string
	TodayUSD     float64
	MonthUSD     float64
	Limits       Limits
	TopSkills    []Total
	TopWorkflows []Total
}

// DailyRemainingUSD returns headroom before the daily hard limit.
func (s Summary) DailyRemainingUSD() float64 { return s.Limits.DailyHardUSD - s.TodayUSD }

// MonthlyRemainingUSD returns headroom before the monthly hard limit.
func (s Summary) MonthlyRemainingUSD() float64 { return s.Limits.MonthlyHardUSD - s.MonthUSD }

// Summarize builds the current cost roll-up with the top five skills and
// workflows by spend.
func (l *Ledger) Summarize(ctx context.Context) (Summary, error) {
	now := l.now().UTC()
	summary := Summary{Date: now.Format("2006-01-02"), Limits: l.limits}

	var err error
	if summary.TodayUSD, err = l.TotalFor(ctx, DimensionDay, now.Format("2006-01-02")); err != nil {
		return Summary{}, err
	}
	if summary.MonthUSD, err = l.TotalFor(ctx, DimensionMonth, now.Format("2006-01")); err != nil {
		return Summary{}, err
	}
	if summary.TopSkills, err = l.topTotals(ctx, DimensionSkill, 5); err != nil {
		return Summary{}, err
	}
	if summary.TopWorkflows, err = l.topTotals(ctx, DimensionWorkflow, 5); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// SpendBetween sums entries recorded in [from, to), for report windows.
func (l *Ledger) SpendBetween(ctx context.Context, from, to time.Time) (float64, error) {
	row := l.db.QueryRowContext(
		ctx,
		`SELECT COALESCE(SUM(amount_usd), 0) FROM cost_entries WHERE created_at >= ? AND created_at < ?`,
		from.UTC().Format(time.RFC3339Nano),
		to.UTC().Format(time.RFC3339Nano),
	)
	var sum float64
	if err := row.Scan(&sum); err != nil {
		return 0, fmt.Errorf("spend between: %w", err)
	}
	return sum, nil
}

func (l *Ledger) topTotals(ctx context.Context, dimension string, limit int) ([]Total, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`SELECT key, total_usd FROM cost_totals WHERE dimension = ? ORDER BY total_usd DESC, key LIMIT ?`,
		dimension, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("top %s totals: %w", dimension, err)
	}
	defer rows.Close()

	var totals []Total
	for rows.Next() {
		var t Total
		if err := rows.Scan(&t.Key, &t.USD); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	return totals, rows.Err()
}
