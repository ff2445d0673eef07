// Package filelock gives the blob store and the orchestrator's state
// snapshot a single-writer-per-path guarantee: an exclusive flock paired
// with a temp-file-then-rename write so readers never observe a partial
// file, even across process restarts.
package filelock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock wraps a flock-based exclusive lock scoped to one file path.
type Lock struct {
	flock *flock.Flock
	path  string
}

// New returns a lock for path. The lock itself is tracked in a sidecar
// ".lock" file so the target path is free to be atomically replaced.
func New(path string) *Lock {
	return &Lock{
		flock: flock.New(path + ".lock"),
		path:  path,
	}
}

// Acquire blocks until the exclusive lock is held.
func (l *Lock) Acquire() error {
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("filelock: acquire %s: %w", l.path, err)
	}
	return nil
}

// TryAcquire attempts the lock without blocking, reporting whether it
// succeeded.
func (l *Lock) TryAcquire() (bool, error) {
	ok, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("filelock: try-acquire %s: %w", l.path, err)
	}
	return ok, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("filelock: release %s: %w", l.path, err)
	}
	return nil
}

// AtomicWrite writes data to path via a temp file in the same directory
// followed by rename, so concurrent readers never see a half-written file.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("filelock: create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("filelock: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("filelock: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("filelock: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filelock: close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("filelock: chmod temp file: %w", err)
	}

	// Rename is atomic within a filesystem; readers see either the old or
	// the new content, never a mix.
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("filelock: rename to %s: %w", path, err)
	}
	tmp = nil

	return nil
}

// WithLock acquires the exclusive lock for path, performs write, and
// releases the lock regardless of outcome.
func WithLock(path string, write func() error) error {
	l := New(path)
	if err := l.Acquire(); err != nil {
		return err
	}
	defer l.Release()
	return write()
}
