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

const analysisSystemPrompt = `You are a short-form video analyst. Given a transcript,
identify why the clip performed: the hook, the structure, the emotional
triggers, and the retention devices. Respond with JSON only:
{"hook": string, "structure": string, "triggers": [string], "retention_devices": [string], "summary": string}`

// viralAnalysis is the decoded analysis payload written back to the record.
type viralAnalysis struct {
	Hook             string   `json:"hook"`
	Structure        string   `json:"structure"`
	Triggers         []string `json:"triggers"`
	RetentionDevices []string `json:"retention_devices"`
	Summary          string   `json:"summary"`
}

// researchIngest processes new viral-research records: download the media,
// transcribe it, run the analysis model, and write insights back. The record
// mutation is the final step.
func researchIngest(deps Deps) (engine.Definition, error) {
	db, err := deps.database(dbResearch)
	if err != nil {
		return engine.Definition{}, err
	}
	urlField := fieldName(db, "url")
	methodField := fieldName(db, "transcription_method")

	download := engine.Step{
		Name:  "download",
		Skill: "media-download",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			url := strings.TrimSpace(item.Field(urlField))
			if url == "" {
				return engine.Skip("record has no source url")
			}
			path, err := deps.Downloader.Download(ctx, url, deps.Config.Paths.MediaDir)
			if err != nil {
				return engine.Classify(err)
			}
			return engine.Success(map[string]any{"media_path": path}, 0)
		},
	}

	transcribe := engine.Step{
		Name:          "transcribe",
		Skill:         "transcription",
		SkipOnTimeout: true,
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			method := strings.TrimSpace(item.Field(methodField))
			text, err := deps.Transcriber.Transcribe(ctx, sc.String("media_path"), method)
			if err != nil {
				return engine.Classify(err)
			}
			return engine.Success(map[string]any{"transcript": text}, 0)
		},
	}

	analyze := engine.Step{
		Name:  "analyze",
		Skill: "viral-analysis",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			transcript := sc.String("transcript")
			resp, err := deps.Inference.Complete(ctx, inference.Request{
				System: analysisSystemPrompt,
				Prompt: "Transcript:\n" + transcript,
				Tier:   config.TierStandard,
			})
			if err != nil {
				return engine.Classify(err)
			}
			var analysis viralAnalysis
			if err := inference.DecodeJSON(resp.Text, &analysis); err != nil {
				// Malformed model output is worth another attempt.
				return engine.Retry(services.Wrap(services.ErrTransient, "workflows", "analyze", "decode analysis", err))
			}
			return engine.Success(map[string]any{
				"analysis_summary": analysis.Summary,
				"analysis_text":    formatAnalysis(analysis),
			}, resp.CostUSD)
		},
	}

	publish := engine.Step{
		Name:  "publish-insights",
		Skill: "records-write",
		Run: func(ctx context.Context, item engine.WorkItem, sc *engine.Context) engine.StepResult {
			if sc.DryRun {
				return engine.Success(nil, 0)
			}
			err := deps.Records.Mutate(ctx, records.MutateRequest{
				PageID: item.ID,
				Fields: statusChange(db, "Analyzed"),
				Blocks: chunkText(sc.String("analysis_text"), 0),
			})
			if err != nil {
				return engine.Classify(err)
			}
			return engine.Success(nil, 0)
		},
	}

	return engine.Definition{
		ID:          "research-ingest",
		Description: "Download, transcribe, and analyze new viral-research records",
		Source:      deps.source(db, "New"),
		Steps:       []engine.Step{download, transcribe, analyze, publish},
		Produces:    []string{"analysis blocks on the research record", "status Analyzed"},
	}, nil
}

func formatAnalysis(a viralAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hook: %s\n", a.Hook)
	fmt.Fprintf(&b, "Structure: %s\n", a.Structure)
	if len(a.Triggers) > 0 {
		fmt.Fprintf(&b, "Emotional triggers: %s\n", strings.Join(a.Triggers, "; "))
	}
	if len(a.RetentionDevices) > 0 {
		fmt.Fprintf(&b, "Retention devices: %s\n", strings.Join(a.RetentionDevices, "; "))
	}
	fmt.Fprintf(&b, "Summary: %s", a.Summary)
	return b.String()
}
