package testsupport

import (
	"path/filepath"
	"testing"

	"reelpipe/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.MediaDir = filepath.Join(base, "media")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Records.APIKey = "test"
	cfg.Inference.APIKey = "test"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithCostLimits overrides the spend ceilings on the test config.
func WithCostLimits(dailySoft, dailyHard, monthlySoft, monthlyHard float64) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Costs.DailySoftUSD = dailySoft
		cfg.Costs.DailyHardUSD = dailyHard
		cfg.Costs.MonthlySoftUSD = monthlySoft
		cfg.Costs.MonthlyHardUSD = monthlyHard
	}
}
