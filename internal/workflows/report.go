package workflows

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"reelpipe/internal/engine"
	"reelpipe/internal/services/records"
)

// weeklyReport rolls up published-video performance and the week's spend
// into one report record. The item id is the ISO week, so the processed set
// guarantees at most one report per week; the record creation is the final
// step.
func weeklyReport(deps Deps) (engine.Definition, error) {
	publishedDB, err := deps.database(dbPublished)
	if err != nil {
		return engine.Definition{}, err
	}
	reportsDB, err := deps.database(dbReports)
	if err != nil {
		return engine.Definition{}, err
	}
	nameField := fieldName(publishedDB, "name")
	viewsField := fieldName(publishedDB, "views")
	likesField := fieldName(publishedDB, "likes")
	titleField := fieldName(reportsDB, "name")

	source := engine.SourceFunc(func(ctx context.Context) ([]engine.WorkItem, error) {
		year, week := time.Now().UTC().ISOWeek()
		return []engine.WorkItem{{ID: fmt.Sprintf("week-%d-%02d", year, week)}}, nil
	})

	collect := engine.Step{
		Name:  "collect-performance",
		Skill: "report-aggregation",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			pages, err := deps.Records.Query(ctx, records.QueryRequest{
				DatabaseID: publishedDB.ID,
				Filter:     statusFilter(publishedDB, "Published"),
			})
			if err != nil {
				return engine.Classify(err)
			}

			var totalViews, totalLikes float64
			var lines []string
			for _, page := range pages {
				views := parseNumber(page.Fields[viewsField])
				likes := parseNumber(page.Fields[likesField])
				totalViews += views
				totalLikes += likes
				lines = append(lines, fmt.Sprintf("%s: %.0f views, %.0f likes", page.Fields[nameField], views, likes))
			}

			var text strings.Builder
			fmt.Fprintf(&text, "Published videos: %d\n", len(pages))
			fmt.Fprintf(&text, "Total views: %.0f\n", totalViews)
			fmt.Fprintf(&text, "Total likes: %.0f\n", totalLikes)
			if len(lines) > 0 {
				text.WriteString("\nPer video:\n" + strings.Join(lines, "\n"))
			}
			return engine.Success(map[string]any{"performance_text": text.String()}, 0)
		},
	}

	costs := engine.Step{
		Name:  "summarize-costs",
		Skill: "report-aggregation",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			summary, err := deps.Ledger.Summarize(ctx)
			if err != nil {
				return engine.Classify(err)
			}
			now := time.Now().UTC()
			weekStart := now.AddDate(0, 0, -7)
			weekSpend, err := deps.Ledger.SpendBetween(ctx, weekStart, now)
			if err != nil {
				return engine.Classify(err)
			}

			var text strings.Builder
			fmt.Fprintf(&text, "Spend this week: $%.2f\n", weekSpend)
			fmt.Fprintf(&text, "Spend this month: $%.2f of $%.2f\n", summary.MonthUSD, summary.Limits.MonthlyHardUSD)
			if len(summary.TopWorkflows) > 0 {
				text.WriteString("Top workflows:\n")
				for _, total := range summary.TopWorkflows {
					fmt.Fprintf(&text, "  %s: $%.2f\n", total.Key, total.USD)
				}
			}
			return engine.Success(map[string]any{"cost_text": strings.TrimRight(text.String(), "\n")}, 0)
		},
	}

	publish := engine.Step{
		Name:  "publish-report",
		Skill: "records-write",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			if sc.DryRun {
				return engine.Success(nil, 0)
			}
			body := sc.String("performance_text") + "\n\n" + sc.String("cost_text")
			_, err := deps.Records.Create(ctx, records.CreateRequest{
				DatabaseID: reportsDB.ID,
				Fields: map[string]any{
					titleField: map[string]any{
						"title": []map[string]any{{
							"text": map[string]any{"content": "Weekly report " + item.ID},
						}},
					},
				},
				Blocks: chunkText(body, 0),
			})
			if err != nil {
				return engine.Classify(err)
			}
			return engine.Success(nil, 0)
		},
	}

	return engine.Definition{
		ID:          "weekly-report",
		Description: "Roll up published-video performance and spend into a weekly report record",
		Source:      source,
		Steps:       []engine.Step{collect, costs, publish},
		Produces:    []string{"one report record per ISO week"},
	}, nil
}

func parseNumber(value string) float64 {
	parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return parsed
}
