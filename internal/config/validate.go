package config

import (
	"fmt"
	"strings"
)

func (c *Config) normalize() error {
	var err error
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return err
	}
	if c.Paths.MediaDir, err = expandPath(c.Paths.MediaDir); err != nil {
		return err
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return err
	}
	if c.Records.DatabasesFile, err = expandPath(c.Records.DatabasesFile); err != nil {
		return err
	}

	c.Records.APIKey = strings.TrimSpace(c.Records.APIKey)
	c.Records.BaseURL = strings.TrimSpace(strings.TrimSuffix(c.Records.BaseURL, "/"))
	c.Inference.APIKey = strings.TrimSpace(c.Inference.APIKey)
	c.Inference.BaseURL = strings.TrimSpace(c.Inference.BaseURL)
	c.Media.DownloaderBin = strings.TrimSpace(c.Media.DownloaderBin)
	c.Media.TranscriberBin = strings.TrimSpace(c.Media.TranscriberBin)
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	return nil
}

// Validate checks invariants that would otherwise surface mid-run.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return fmt.Errorf("config: paths.state_dir is required")
	}
	if c.Records.RateLimitPerSec <= 0 {
		return fmt.Errorf("config: records.rate_limit_per_sec must be positive, got %v", c.Records.RateLimitPerSec)
	}
	if c.Costs.DailyHardUSD <= 0 || c.Costs.MonthlyHardUSD <= 0 {
		return fmt.Errorf("config: hard cost limits must be positive")
	}
	if c.Costs.DailySoftUSD > c.Costs.DailyHardUSD {
		return fmt.Errorf("config: costs.daily_soft_usd %.2f exceeds daily_hard_usd %.2f", c.Costs.DailySoftUSD, c.Costs.DailyHardUSD)
	}
	if c.Costs.MonthlySoftUSD > c.Costs.MonthlyHardUSD {
		return fmt.Errorf("config: costs.monthly_soft_usd %.2f exceeds monthly_hard_usd %.2f", c.Costs.MonthlySoftUSD, c.Costs.MonthlyHardUSD)
	}
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("config: engine.max_retries must not be negative")
	}
	if c.Engine.StepTimeoutSeconds <= 0 {
		return fmt.Errorf("config: engine.step_timeout_seconds must be positive")
	}
	for tier, model := range c.Inference.Models {
		switch tier {
		case TierFast, TierStandard, TierPremium:
		default:
			return fmt.Errorf("config: inference.models has unknown tier %q", tier)
		}
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("config: inference.models.%s is empty", tier)
		}
	}
	return nil
}
