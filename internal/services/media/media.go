// Package media shells out to the external download and transcription CLIs.
// Both tools are treated as opaque: a non-zero exit is an external-tool
// failure the engine may retry, a missing binary is a configuration error.
package media

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"reelpipe/internal/services"
)

// commandRunner executes one external command and returns its combined
// output. Injectable so tests never spawn real processes.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

// classifyExecErr maps a subprocess failure onto the service error taxonomy.
func classifyExecErr(ctx context.Context, component, op string, err error, output []byte) error {
	snippet := outputSnippet(output)
	switch {
	case errors.Is(err, exec.ErrNotFound):
		return services.Wrap(services.ErrConfiguration, component, op, "binary not found", err)
	case ctx.Err() != nil:
		return services.Wrap(services.ErrTimeout, component, op, snippet, ctx.Err())
	default:
		return services.Wrap(services.ErrExternalTool, component, op, snippet, err)
	}
}

func outputSnippet(output []byte) string {
	clean := strings.Join(strings.Fields(string(output)), " ")
	const limit = 200
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}

func timeoutOrDefault(seconds int, fallback time.Duration) time.Duration {
	if seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
