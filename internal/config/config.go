package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	StateDir string `toml:"state_dir"`
	MediaDir string `toml:"media_dir"`
	LogDir   string `toml:"log_dir"`
}

// Records contains configuration for the external document-database API.
type Records struct {
	APIKey          string  `toml:"api_key"`
	BaseURL         string  `toml:"base_url"`
	Version         string  `toml:"version"`
	DatabasesFile   string  `toml:"databases_file"`
	RateLimitPerSec float64 `toml:"rate_limit_per_sec"`
	TimeoutSeconds  int     `toml:"timeout_seconds"`
}

// ModelRate is the USD price per million tokens for one model.
type ModelRate struct {
	InputPerMTok  float64 `toml:"input_per_mtok"`
	OutputPerMTok float64 `toml:"output_per_mtok"`
}

// Inference contains configuration for the AI inference API.
type Inference struct {
	APIKey         string               `toml:"api_key"`
	BaseURL        string               `toml:"base_url"`
	TimeoutSeconds int                  `toml:"timeout_seconds"`
	Models         map[string]string    `toml:"models"`
	Pricing        map[string]ModelRate `toml:"pricing"`
}

// Costs contains the spend ceilings enforced by the cost ledger.
// Soft limits warn; hard limits halt a batch at the next step or item
// boundary.
type Costs struct {
	DailySoftUSD   float64 `toml:"daily_soft_usd"`
	DailyHardUSD   float64 `toml:"daily_hard_usd"`
	MonthlySoftUSD float64 `toml:"monthly_soft_usd"`
	MonthlyHardUSD float64 `toml:"monthly_hard_usd"`
}

// Engine contains retry and timeout settings for step execution.
type Engine struct {
	MaxRetries         int `toml:"max_retries"`
	RetryBaseDelayMS   int `toml:"retry_base_delay_ms"`
	RetryMaxDelayMS    int `toml:"retry_max_delay_ms"`
	StepTimeoutSeconds int `toml:"step_timeout_seconds"`
}

// Media contains configuration for the download and transcription tools.
type Media struct {
	DownloaderBin            string `toml:"downloader_bin"`
	TranscriberBin           string `toml:"transcriber_bin"`
	DownloadTimeoutSeconds   int    `toml:"download_timeout_seconds"`
	TranscribeTimeoutSeconds int    `toml:"transcribe_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reelpipe.
type Config struct {
	Paths     Paths     `toml:"paths"`
	Records   Records   `toml:"records"`
	Inference Inference `toml:"inference"`
	Costs     Costs     `toml:"costs"`
	Engine    Engine    `toml:"engine"`
	Media     Media     `toml:"media"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration
// file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/reelpipe/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reelpipe.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the directories engine state and media downloads
// live in.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.MediaDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
