package media

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"reelpipe/internal/config"
	"reelpipe/internal/services"
)

const defaultDownloadTimeout = 5 * time.Minute

// Downloader fetches remote media with a yt-dlp style CLI.
type Downloader struct {
	bin      string
	timeout  time.Duration
	run      commandRunner
	lookPath func(string) (string, error)
}

// NewDownloader builds a downloader from the media configuration section.
func NewDownloader(cfg config.Media) *Downloader {
	bin := strings.TrimSpace(cfg.DownloaderBin)
	if bin == "" {
		bin = "yt-dlp"
	}
	return &Downloader{
		bin:      bin,
		timeout:  timeoutOrDefault(cfg.DownloadTimeoutSeconds, defaultDownloadTimeout),
		run:      runCommand,
		lookPath: exec.LookPath,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (d *Downloader) WithCommandRunner(run commandRunner) {
	if run != nil {
		d.run = run
	}
}

// WithLookPath sets a custom binary resolver (for testing).
func (d *Downloader) WithLookPath(lookPath func(string) (string, error)) {
	if lookPath != nil {
		d.lookPath = lookPath
	}
}

// Download fetches one URL into destDir and returns the downloaded file
// path, which the tool prints as its final output line.
func (d *Downloader) Download(ctx context.Context, url, destDir string) (string, error) {
	if strings.TrimSpace(url) == "" {
		return "", services.Wrap(services.ErrValidation, "media", "download", "url required", nil)
	}
	if _, err := d.lookPath(d.bin); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "media", "download", "downloader binary not found", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := []string{
		"--no-playlist",
		"--no-progress",
		"--no-simulate",
		"--print", "after_move:filepath",
		"-o", filepath.Join(destDir, "%(id)s.%(ext)s"),
		url,
	}
	output, err := d.run(runCtx, d.bin, args...)
	if err != nil {
		return "", classifyExecErr(runCtx, "media", "download", err, output)
	}

	path := lastNonEmptyLine(string(output))
	if path == "" {
		return "", services.Wrap(services.ErrExternalTool, "media", "download", "tool reported no output file", nil)
	}
	return path, nil
}

func lastNonEmptyLine(output string) string {
	lines := strings.Split(output, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}
