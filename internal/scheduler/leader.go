// Package scheduler elects one process among the cooperating workers to
// own recurring background work, and runs the periodic fetch and daily
// cleanup loops in that process.
package scheduler

import (
	"log/slog"
	"sync"

	"github.com/mdelorme/roomsched/internal/lockfile"
)

// Leader decides, once per process lifetime, whether this process owns
// the background loops. Election is lazy — first unit of work, not
// process start — so pre-fork worker models behave correctly.
type Leader struct {
	lock   *lockfile.Lock
	logger *slog.Logger

	mu        sync.Mutex
	attempted bool
	owns      bool
}

// NewLeader creates a leader candidate on the dedicated background-owner
// lock file. This lock is never the rebuild lock.
func NewLeader(lockPath string, logger *slog.Logger) (*Leader, error) {
	lock, err := lockfile.New(lockPath)
	if err != nil {
		return nil, err
	}
	return &Leader{lock: lock, logger: logger}, nil
}

// EnsureElected attempts the election exactly once, no matter how many
// goroutines call it concurrently. On success the lock handle stays held
// for the remaining process lifetime; it is deliberately never released.
func (l *Leader) EnsureElected() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.attempted {
		return l.owns, nil
	}
	l.attempted = true

	acquired, err := l.lock.TryAcquire()
	if err != nil {
		return false, err
	}
	l.owns = acquired
	if acquired {
		l.logger.Info("elected background-task owner", "lock", l.lock.Path())
	} else {
		l.logger.Info("another process owns background tasks", "lock", l.lock.Path())
	}
	return l.owns, nil
}

// OwnsBackground reports the election result so far (false if the
// election has not happened yet).
func (l *Leader) OwnsBackground() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owns
}
