package state

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"

	"reelpipe/internal/config"
	"reelpipe/internal/services"
)

// RunLock guards against two concurrent batch runs sharing one state
// directory. The engine assumes single-process execution; the lock makes
// that assumption explicit.
type RunLock struct {
	lock *flock.Flock
}

// AcquireRunLock takes the run lock or fails immediately when another
// process holds it.
func AcquireRunLock(cfg *config.Config) (*RunLock, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	lock := flock.New(filepath.Join(cfg.Paths.StateDir, "run.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire run lock: %w", err)
	}
	if !locked {
		return nil, services.Wrap(services.ErrConfiguration, "state", "acquire run lock",
			"another run is already in progress", nil)
	}
	return &RunLock{lock: lock}, nil
}

// Release frees the lock.
func (l *RunLock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}
