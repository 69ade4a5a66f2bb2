package workflows

import (
	"context"
	"strings"

	"reelpipe/internal/config"
	"reelpipe/internal/engine"
	"reelpipe/internal/services"
	"reelpipe/internal/services/inference"
	"reelpipe/internal/services/records"
)

const angleSystemPrompt = `You plan short-form video scripts. Given a production
concept and linked research insights, propose the strongest angles for the
script. Respond with JSON only:
{"angles": [string]}
Each angle is one sentence a human reviewer can approve or reject.`

const scriptSystemPrompt = `You write short-form video scripts. Given a production
concept and research insights, draft a complete script with a strong hook in
the first two seconds. Respond with JSON only:
{"script": string}`

type angleProposal struct {
	Angles []string `json:"angles"`
}

type scriptDraft struct {
	Script string `json:"script"`
}

// scriptGen drafts scripts for production records behind a human approval
// gate: a cheap pass proposes angles, the gate suspends the item until a
// decision lands, and only an approved item pays for the full draft. The
// script write is the final step.
func scriptGen(deps Deps) (engine.Definition, error) {
	db, err := deps.database(dbProduction)
	if err != nil {
		return engine.Definition{}, err
	}
	conceptField := fieldName(db, "concept")
	insightsField := fieldName(db, "insights")

	buildPrompt := func(item engine.WorkItem) (string, bool) {
		concept := strings.TrimSpace(item.Field(conceptField))
		if concept == "" {
			return "", false
		}
		prompt := "Concept:\n" + concept
		if insights := strings.TrimSpace(item.Field(insightsField)); insights != "" {
			prompt += "\n\nResearch insights:\n" + insights
		}
		return prompt, true
	}

	propose := engine.Step{
		Name:  "propose-angles",
		Skill: "script-planning",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			prompt, ok := buildPrompt(item)
			if !ok {
				return engine.Skip("production record has no concept")
			}
			resp, err := deps.Inference.Complete(ctx, inference.Request{
				System: angleSystemPrompt,
				Prompt: prompt,
				Tier:   config.TierFast,
			})
			if err != nil {
				return engine.Classify(err)
			}
			var proposal angleProposal
			if err := inference.DecodeJSON(resp.Text, &proposal); err != nil {
				return engine.Retry(services.Wrap(services.ErrTransient, "workflows", "propose", "decode angles", err))
			}
			return engine.Success(map[string]any{
				"angles": strings.Join(nonEmpty(proposal.Angles), "\n"),
			}, resp.CostUSD)
		},
	}

	gate := engine.Step{
		Name:  "review-gate",
		Skill: "script-review",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			if sc.Approvals == nil {
				return engine.Abort("no approval store wired for the review gate")
			}
			approval, ok, err := sc.Approvals.ApprovalFor(ctx, sc.WorkflowID, item.ID)
			if err != nil {
				return engine.Classify(err)
			}
			if !ok {
				return engine.AwaitApproval(nonEmpty(strings.Split(sc.String("angles"), "\n")))
			}
			if approval.Decision == engine.DecisionRejected {
				reason := "script rejected"
				if approval.Note != "" {
					reason += ": " + approval.Note
				}
				return engine.Skip(reason)
			}
			return engine.Success(nil, 0)
		},
	}

	draft := engine.Step{
		Name:  "draft",
		Skill: "script-writing",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			prompt, ok := buildPrompt(item)
			if !ok {
				return engine.Skip("production record has no concept")
			}
			if angles := sc.String("angles"); angles != "" {
				prompt += "\n\nApproved angles:\n" + angles
			}
			resp, err := deps.Inference.Complete(ctx, inference.Request{
				System: scriptSystemPrompt,
				Prompt: prompt,
				Tier:   config.TierPremium,
			})
			if err != nil {
				return engine.Classify(err)
			}
			var parsed scriptDraft
			if err := inference.DecodeJSON(resp.Text, &parsed); err != nil {
				return engine.Retry(services.Wrap(services.ErrTransient, "workflows", "draft", "decode script", err))
			}
			if strings.TrimSpace(parsed.Script) == "" {
				return engine.Retry(services.Wrap(services.ErrTransient, "workflows", "draft", "model returned empty script", nil))
			}
			return engine.Success(map[string]any{"script": parsed.Script}, resp.CostUSD)
		},
	}

	publish := engine.Step{
		Name:  "publish-script",
		Skill: "records-write",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			if sc.DryRun {
				return engine.Success(nil, 0)
			}
			err := deps.Records.Mutate(ctx, records.MutateRequest{
				PageID: item.ID,
				Fields: statusChange(db, "Script Ready"),
				Blocks: chunkText(sc.String("script"), 0),
			})
			if err != nil {
				return engine.Classify(err)
			}
			return engine.Success(nil, 0)
		},
	}

	return engine.Definition{
		ID:          "script-gen",
		Description: "Draft scripts for approved production concepts behind a review gate",
		Source:      deps.source(db, "Approved"),
		Steps:       []engine.Step{propose, gate, draft, publish},
		Produces:    []string{"script blocks on the production record", "status Script Ready"},
	}, nil
}

func nonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
