// Package lockfile wraps OS advisory file locks for cross-process
// coordination. Only cooperating processes honor these locks; on network
// filesystems they are best-effort, which is acceptable for the intended
// single-host deployment.
package lockfile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock is an exclusive advisory lock bound to a file path. The lock is
// tied to the open file descriptor, so holding the Lock value open keeps
// the lock held; releasing the descriptor releases it.
type Lock struct {
	fl *flock.Flock
}

// New creates a lock for path. The parent directory is created if needed
// so first-run processes don't fail on a missing data dir.
func New(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &Lock{fl: flock.New(path)}, nil
}

// TryAcquire attempts to take the exclusive lock without blocking.
// Returns true if this process now holds the lock.
func (l *Lock) TryAcquire() (bool, error) {
	ok, err := l.fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("try lock %s: %w", l.fl.Path(), err)
	}
	return ok, nil
}

// Release drops the lock. Safe to call when not held.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// Held reports whether this Lock value currently holds the lock.
func (l *Lock) Held() bool {
	return l.fl.Locked()
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.fl.Path()
}
