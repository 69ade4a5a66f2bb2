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

const breakdownSystemPrompt = `You break short-form video scripts into shootable
scenes. Given a script, list the scenes in order. Respond with JSON only:
{"scenes": [{"title": string, "direction": string, "dialogue": string}]}`

type sceneList struct {
	Scenes []struct {
		Title     string `json:"title"`
		Direction string `json:"direction"`
		Dialogue  string `json:"dialogue"`
	} `json:"scenes"`
}

// sceneBreakdown splits ready scripts into shootable scene lists. The scene
// append is the final step.
func sceneBreakdown(deps Deps) (engine.Definition, error) {
	db, err := deps.database(dbProduction)
	if err != nil {
		return engine.Definition{}, err
	}
	scriptField := fieldName(db, "script")

	breakdown := engine.Step{
		Name:  "breakdown",
		Skill: "scene-planning",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			script := strings.TrimSpace(item.Field(scriptField))
			if script == "" {
				return engine.Skip("production record has no script")
			}
			resp, err := deps.Inference.Complete(ctx, inference.Request{
				System: breakdownSystemPrompt,
				Prompt: "Script:\n" + script,
				Tier:   config.TierStandard,
			})
			if err != nil {
				return engine.Classify(err)
			}
			var parsed sceneList
			if err := inference.DecodeJSON(resp.Text, &parsed); err != nil {
				return engine.Retry(services.Wrap(services.ErrTransient, "workflows", "breakdown", "decode scenes", err))
			}
			if len(parsed.Scenes) == 0 {
				return engine.Skip("model found no scenes in the script")
			}

			var text strings.Builder
			for i, scene := range parsed.Scenes {
				fmt.Fprintf(&text, "Scene %d: %s\n", i+1, scene.Title)
				if scene.Direction != "" {
					fmt.Fprintf(&text, "Direction: %s\n", scene.Direction)
				}
				if scene.Dialogue != "" {
					fmt.Fprintf(&text, "Dialogue: %s\n", scene.Dialogue)
				}
				text.WriteString("\n")
			}
			return engine.Success(map[string]any{
				"scene_text":  strings.TrimSpace(text.String()),
				"scene_count": fmt.Sprintf("%d", len(parsed.Scenes)),
			}, resp.CostUSD)
		},
	}

	publish := engine.Step{
		Name:  "publish-scenes",
		Skill: "records-write",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			if sc.DryRun {
				return engine.Success(nil, 0)
			}
			err := deps.Records.Mutate(ctx, records.MutateRequest{
				PageID: item.ID,
				Fields: statusChange(db, "Scenes Ready"),
				Blocks: chunkText(sc.String("scene_text"), 0),
			})
			if err != nil {
				return engine.Classify(err)
			}
			return engine.Success(nil, 0)
		},
	}

	return engine.Definition{
		ID:          "scene-breakdown",
		Description: "Split ready scripts into shootable scene lists",
		Source:      deps.source(db, "Script Ready"),
		Steps:       []engine.Step{breakdown, publish},
		Produces:    []string{"scene blocks on the production record", "status Scenes Ready"},
	}, nil
}
