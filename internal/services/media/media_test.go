package media

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"reelpipe/internal/config"
	"reelpipe/internal/services"
)

func foundBin(name string) (string, error) { return "/usr/bin/" + name, nil }

func TestDownloadReturnsPrintedPath(t *testing.T) {
	d := NewDownloader(config.Default().Media)
	d.WithLookPath(foundBin)

	var gotArgs []string
	d.WithCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		if name != "yt-dlp" {
			t.Errorf("binary = %q", name)
		}
		gotArgs = args
		return []byte("[download] fetching\n/media/abc123.mp4\n"), nil
	})

	path, err := d.Download(context.Background(), "https://video.example/v/abc123", "/media")
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if path != "/media/abc123.mp4" {
		t.Fatalf("path = %q", path)
	}
	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "--no-playlist") || !strings.Contains(joined, "https://video.example/v/abc123") {
		t.Fatalf("args = %v", gotArgs)
	}
}

func TestDownloadMapsToolFailures(t *testing.T) {
	d := NewDownloader(config.Default().Media)
	d.WithLookPath(foundBin)
	d.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		return []byte("ERROR: video unavailable"), errors.New("exit status 1")
	})

	_, err := d.Download(context.Background(), "https://video.example/v/gone", "/media")
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("error %v is not tagged as external tool", err)
	}
	if !strings.Contains(err.Error(), "video unavailable") {
		t.Fatalf("error %v lost the tool output", err)
	}
}

func TestDownloadMissingBinaryIsConfiguration(t *testing.T) {
	d := NewDownloader(config.Default().Media)
	d.WithLookPath(func(string) (string, error) { return "", exec.ErrNotFound })

	_, err := d.Download(context.Background(), "https://video.example/v/abc", "/media")
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("error %v is not tagged as configuration", err)
	}
}

func TestTranscribeReadsToolOutput(t *testing.T) {
	tr := NewTranscriber(config.Default().Media)
	tr.WithLookPath(foundBin)

	scratch := t.TempDir()
	tr.tempDir = func(string, string) (string, error) { return scratch, nil }
	tr.WithCommandRunner(func(_ context.Context, name string, args ...string) ([]byte, error) {
		if name != "whisper" {
			t.Errorf("binary = %q", name)
		}
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "--mode audio") {
			t.Errorf("args = %v", args)
		}
		transcript := filepath.Join(scratch, "clip.txt")
		if err := os.WriteFile(transcript, []byte("hello from the clip\n"), 0o644); err != nil {
			t.Fatalf("write transcript: %v", err)
		}
		return nil, nil
	})

	text, err := tr.Transcribe(context.Background(), "/media/clip.mp4", "")
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "hello from the clip" {
		t.Fatalf("text = %q", text)
	}

	// The scratch directory is cleaned up after a successful run.
	if _, err := os.Stat(filepath.Join(scratch, "clip.txt")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("scratch transcript still present: %v", err)
	}
}

func TestTranscribeRejectsUnknownMethod(t *testing.T) {
	tr := NewTranscriber(config.Default().Media)
	tr.WithLookPath(foundBin)

	_, err := tr.Transcribe(context.Background(), "/media/clip.mp4", "lipreading")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("error %v is not tagged as validation", err)
	}
}

func TestTranscribeMissingTranscriptIsToolFailure(t *testing.T) {
	tr := NewTranscriber(config.Default().Media)
	tr.WithLookPath(foundBin)
	tr.WithCommandRunner(func(context.Context, string, ...string) ([]byte, error) {
		return nil, nil // exits clean but writes nothing
	})

	_, err := tr.Transcribe(context.Background(), "/media/clip.mp4", MethodCaptionOCR)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("error %v is not tagged as external tool", err)
	}
}
