// Package workflows registers the concrete content-pipeline workflows on
// the engine. Every workflow keeps its external record mutation as the final
// step so a mid-run failure never leaves a half-written record marked done.
package workflows

import (
	"context"
	"log/slog"

	"reelpipe/internal/config"
	"reelpipe/internal/engine"
	"reelpipe/internal/ledger"
	"reelpipe/internal/logging"
	"reelpipe/internal/services"
	"reelpipe/internal/services/inference"
	"reelpipe/internal/services/media"
	"reelpipe/internal/services/records"
)

// Database mapping keys every deployment must provide in databases.yaml.
const (
	dbResearch   = "research"
	dbProduction = "production"
	dbPublished  = "published"
	dbReports    = "reports"
)

// recordsAPI is the slice of the record-store client the workflows use.
type recordsAPI interface {
	Query(ctx context.Context, req records.QueryRequest) ([]records.Page, error)
	Mutate(ctx context.Context, req records.MutateRequest) error
	Create(ctx context.Context, req records.CreateRequest) (string, error)
}

// inferenceAPI is the slice of the completion client the workflows use.
type inferenceAPI interface {
	Complete(ctx context.Context, req inference.Request) (inference.Response, error)
}

// downloaderAPI fetches remote media.
type downloaderAPI interface {
	Download(ctx context.Context, url, destDir string) (string, error)
}

// transcriberAPI converts media into text.
type transcriberAPI interface {
	Transcribe(ctx context.Context, mediaPath, method string) (string, error)
}

// Deps carries everything the registered workflows need at run time.
type Deps struct {
	Config      *config.Config
	Databases   map[string]config.Database
	Records     recordsAPI
	Inference   inferenceAPI
	Downloader  downloaderAPI
	Transcriber transcriberAPI
	Ledger      *ledger.Ledger
	Logger      *slog.Logger
}

// NewDeps wires the production service clients from configuration.
func NewDeps(cfg *config.Config, databases map[string]config.Database, costLedger *ledger.Ledger, logger *slog.Logger) Deps {
	if logger == nil {
		logger = logging.NewNop()
	}
	return Deps{
		Config:    cfg,
		Databases: databases,
		Records: records.NewClient(records.Config{
			APIKey:          cfg.Records.APIKey,
			BaseURL:         cfg.Records.BaseURL,
			Version:         cfg.Records.Version,
			RateLimitPerSec: cfg.Records.RateLimitPerSec,
			TimeoutSeconds:  cfg.Records.TimeoutSeconds,
		}),
		Inference:   inference.NewClient(cfg.Inference),
		Downloader:  media.NewDownloader(cfg.Media),
		Transcriber: media.NewTranscriber(cfg.Media),
		Ledger:      costLedger,
		Logger:      logging.NewComponentLogger(logger, "workflows"),
	}
}

// Register adds every workflow to the registry. Each needs its database
// mapping entry; a missing entry fails registration up front.
func Register(registry *engine.Registry, deps Deps) error {
	builders := []func(Deps) (engine.Definition, error){
		researchIngest,
		insightLink,
		scriptGen,
		sceneBreakdown,
		weeklyReport,
	}
	for _, build := range builders {
		def, err := build(deps)
		if err != nil {
			return err
		}
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (d Deps) database(key string) (config.Database, error) {
	db, ok := d.Databases[key]
	if !ok {
		return config.Database{}, services.Wrap(services.ErrConfiguration, "workflows", "register",
			"databases file has no "+key+" entry", nil)
	}
	return db, nil
}

// fieldName resolves a logical field to its record-store name, falling back
// to the logical name when the mapping is silent.
func fieldName(db config.Database, logical string) string {
	if name, ok := db.Fields[logical]; ok && name != "" {
		return name
	}
	return logical
}

func statusField(db config.Database) string {
	if db.StatusField != "" {
		return db.StatusField
	}
	return "Status"
}

// statusFilter selects records sitting in one status.
func statusFilter(db config.Database, status string) map[string]any {
	return map[string]any{
		"property": statusField(db),
		"status":   map[string]any{"equals": status},
	}
}

// statusChange builds the field mutation that moves a record to a status.
func statusChange(db config.Database, status string) map[string]any {
	return map[string]any{
		statusField(db): map[string]any{"status": map[string]any{"name": status}},
	}
}

// source builds the standard status-driven item source for a workflow.
func (d Deps) source(db config.Database, status string) engine.ItemSource {
	return engine.SourceFunc(func(ctx context.Context) ([]engine.WorkItem, error) {
		pages, err := d.Records.Query(ctx, records.QueryRequest{
			DatabaseID: db.ID,
			Filter:     statusFilter(db, status),
		})
		if err != nil {
			return nil, err
		}
		items := make([]engine.WorkItem, 0, len(pages))
		for _, page := range pages {
			items = append(items, engine.WorkItem{ID: page.ID, Fields: page.Fields})
		}
		return items, nil
	})
}

// chunkText splits long text into record-store content blocks, which cap
// rich-text length per block.
func chunkText(text string, size int) []records.Block {
	if size <= 0 {
		size = 1800
	}
	runes := []rune(text)
	blocks := make([]records.Block, 0, len(runes)/size+1)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		blocks = append(blocks, records.Block{Text: string(runes[start:end])})
	}
	return blocks
}
