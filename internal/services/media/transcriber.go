package media

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"reelpipe/internal/config"
	"reelpipe/internal/services"
)

const defaultTranscribeTimeout = 10 * time.Minute

// Transcription method hints. Audio is the default; caption OCR covers
// burned-in subtitle extraction for clips with no usable audio track.
const (
	MethodAudio      = "audio"
	MethodCaptionOCR = "caption-ocr"
)

// Transcriber turns downloaded media into text with a whisper-style CLI.
type Transcriber struct {
	bin      string
	timeout  time.Duration
	run      commandRunner
	lookPath func(string) (string, error)
	tempDir  func(dir, pattern string) (string, error)
}

// NewTranscriber builds a transcriber from the media configuration section.
func NewTranscriber(cfg config.Media) *Transcriber {
	bin := strings.TrimSpace(cfg.TranscriberBin)
	if bin == "" {
		bin = "whisper"
	}
	return &Transcriber{
		bin:      bin,
		timeout:  timeoutOrDefault(cfg.TranscribeTimeoutSeconds, defaultTranscribeTimeout),
		run:      runCommand,
		lookPath: exec.LookPath,
		tempDir:  os.MkdirTemp,
	}
}

// WithCommandRunner sets a custom command runner (for testing).
func (t *Transcriber) WithCommandRunner(run commandRunner) {
	if run != nil {
		t.run = run
	}
}

// WithLookPath sets a custom binary resolver (for testing).
func (t *Transcriber) WithLookPath(lookPath func(string) (string, error)) {
	if lookPath != nil {
		t.lookPath = lookPath
	}
}

// Transcribe converts one media file into plain text. The method hint
// defaults to audio transcription; the tool writes its transcript next to a
// scratch directory this call owns and cleans up.
func (t *Transcriber) Transcribe(ctx context.Context, mediaPath, method string) (string, error) {
	if strings.TrimSpace(mediaPath) == "" {
		return "", services.Wrap(services.ErrValidation, "media", "transcribe", "media path required", nil)
	}
	if method == "" {
		method = MethodAudio
	}
	if method != MethodAudio && method != MethodCaptionOCR {
		return "", services.Wrap(services.ErrValidation, "media", "transcribe",
			"unknown method "+method, nil)
	}
	if _, err := t.lookPath(t.bin); err != nil {
		return "", services.Wrap(services.ErrConfiguration, "media", "transcribe", "transcriber binary not found", err)
	}

	outDir, err := t.tempDir("", "reelpipe-transcribe-")
	if err != nil {
		return "", services.Wrap(services.ErrTransient, "media", "transcribe", "create scratch dir", err)
	}
	defer os.RemoveAll(outDir)

	runCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	args := []string{
		mediaPath,
		"--mode", method,
		"--output_format", "txt",
		"--output_dir", outDir,
	}
	output, err := t.run(runCtx, t.bin, args...)
	if err != nil {
		return "", classifyExecErr(runCtx, "media", "transcribe", err, output)
	}

	base := strings.TrimSuffix(filepath.Base(mediaPath), filepath.Ext(mediaPath))
	transcriptPath := filepath.Join(outDir, base+".txt")
	transcript, err := os.ReadFile(transcriptPath)
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "media", "transcribe",
			"tool produced no transcript at "+transcriptPath, err)
	}

	text := strings.TrimSpace(string(transcript))
	if text == "" {
		return "", services.Wrap(services.ErrValidation, "media", "transcribe", "empty transcript", nil)
	}
	return text, nil
}
