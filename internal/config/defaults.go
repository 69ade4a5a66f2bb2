package config

// Tier names accepted in step definitions and the [inference.models] table.
const (
	TierFast     = "fast"
	TierStandard = "standard"
	TierPremium  = "premium"
)

// Default returns the baseline configuration before any file overrides.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: "~/.local/share/reelpipe/state",
			MediaDir: "~/.cache/reelpipe/media",
			LogDir:   "~/.local/share/reelpipe/logs",
		},
		Records: Records{
			BaseURL:         "https://api.notion.com/v1",
			Version:         "2022-06-28",
			DatabasesFile:   "~/.config/reelpipe/databases.yaml",
			RateLimitPerSec: 2.5,
			TimeoutSeconds:  30,
		},
		Inference: Inference{
			BaseURL:        "https://api.anthropic.com/v1/messages",
			TimeoutSeconds: 60,
			Models: map[string]string{
				TierFast:     "claude-3-5-haiku-20241022",
				TierStandard: "claude-3-5-sonnet-20241022",
				TierPremium:  "claude-opus-4-20250514",
			},
			Pricing: map[string]ModelRate{
				"claude-3-5-haiku-20241022":  {InputPerMTok: 0.25, OutputPerMTok: 1.25},
				"claude-3-5-sonnet-20241022": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
				"claude-opus-4-20250514":     {InputPerMTok: 15.00, OutputPerMTok: 75.00},
			},
		},
		Costs: Costs{
			DailySoftUSD:   5.00,
			DailyHardUSD:   20.00,
			MonthlySoftUSD: 100.00,
			MonthlyHardUSD: 500.00,
		},
		Engine: Engine{
			MaxRetries:         2,
			RetryBaseDelayMS:   500,
			RetryMaxDelayMS:    10_000,
			StepTimeoutSeconds: 120,
		},
		Media: Media{
			DownloaderBin:            "yt-dlp",
			TranscriberBin:           "whisper",
			DownloadTimeoutSeconds:   300,
			TranscribeTimeoutSeconds: 600,
		},
		Logging: Logging{
			Format: "console",
			Level:  "info",
		},
	}
}
