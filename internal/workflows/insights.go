package workflows

import (
	"context"
	"fmt"
	"strings"

	"reelpipe/internal/config"
	"reelpipe/internal/engine"
	"reelpipe/internal/services"
	"reelpipe/internal/services/inference"
	"reelpipe/internal/services/records"
)

const matchSystemPrompt = `You match analyzed viral-research insights to in-progress
production concepts. Given one research summary and a numbered list of
production concepts, pick the best match. Respond with JSON only:
{"match_index": int, "confidence": number, "reason": string}
Use match_index -1 when nothing fits.`

type matchResult struct {
	MatchIndex int     `json:"match_index"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// insightLink connects analyzed research records to matching production
// records. The relation write is the final step.
func insightLink(deps Deps) (engine.Definition, error) {
	researchDB, err := deps.database(dbResearch)
	if err != nil {
		return engine.Definition{}, err
	}
	productionDB, err := deps.database(dbProduction)
	if err != nil {
		return engine.Definition{}, err
	}
	nameField := fieldName(productionDB, "name")
	conceptField := fieldName(productionDB, "concept")
	relationField := fieldName(researchDB, "linked_production")
	summaryField := fieldName(researchDB, "summary")

	match := engine.Step{
		Name:  "match",
		Skill: "insight-matching",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			candidates, err := deps.Records.Query(ctx, records.QueryRequest{
				DatabaseID: productionDB.ID,
				Filter:     statusFilter(productionDB, "Concept"),
			})
			if err != nil {
				return engine.Classify(err)
			}
			if len(candidates) == 0 {
				return engine.Skip("no production concepts to match against")
			}

			var list strings.Builder
			for i, candidate := range candidates {
				fmt.Fprintf(&list, "%d. %s — %s\n", i, candidate.Fields[nameField], candidate.Fields[conceptField])
			}
			summary := item.Field(summaryField)
			if summary == "" {
				return engine.Skip("research record has no analysis summary")
			}

			resp, err := deps.Inference.Complete(ctx, inference.Request{
				System: matchSystemPrompt,
				Prompt: fmt.Sprintf("Research summary:\n%s\n\nProduction concepts:\n%s", summary, list.String()),
				Tier:   config.TierFast,
			})
			if err != nil {
				return engine.Classify(err)
			}
			var result matchResult
			if err := inference.DecodeJSON(resp.Text, &result); err != nil {
				return engine.Retry(services.Wrap(services.ErrTransient, "workflows", "match", "decode match", err))
			}
			if result.MatchIndex < 0 || result.MatchIndex >= len(candidates) {
				return engine.Skip("no confident production match")
			}
			return engine.Success(map[string]any{
				"matched_id":    candidates[result.MatchIndex].ID,
				"match_reason":  result.Reason,
				"match_quality": fmt.Sprintf("%.2f", result.Confidence),
			}, resp.CostUSD)
		},
	}

	link := engine.Step{
		Name:  "link",
		Skill: "records-write",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			if sc.DryRun {
				return engine.Success(nil, 0)
			}
			fields := statusChange(researchDB, "Linked")
			fields[relationField] = map[string]any{
				"relation": []map[string]any{{"id": sc.String("matched_id")}},
			}
			err := deps.Records.Mutate(ctx, records.MutateRequest{
				PageID: item.ID,
				Fields: fields,
				Blocks: []records.Block{{Text: "Linked: " + sc.String("match_reason")}},
			})
			if err != nil {
				return engine.Classify(err)
			}
			return engine.Success(nil, 0)
		},
	}

	return engine.Definition{
		ID:          "insight-link",
		Description: "Link analyzed research insights to matching production records",
		Source:      deps.source(researchDB, "Analyzed"),
		Steps:       []engine.Step{match, link},
		Produces:    []string{"relation to the matched production record", "status Linked"},
	}, nil
}
