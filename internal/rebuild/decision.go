// Package rebuild decides when the derived schedule artifact must be
// regenerated, runs the external build pipeline under a cross-process
// advisory lock, and tracks the outcome of the last attempt.
package rebuild

import (
	"time"

	"github.com/mdelorme/roomsched/internal/fingerprint"
)

// Record is the process-local memory of the last rebuild attempt. It is
// best-effort and not persisted across restarts: a fresh process simply
// rebuilds once and converges.
type Record struct {
	HasBuilt        bool
	LastFingerprint fingerprint.Fingerprint
	WasEmpty        bool
	LastEmptyCheck  time.Time
}

// NeedsRebuild reports whether the artifact must be regenerated.
//
// True when inputs changed since the last build, when no artifact exists
// on disk at all, or when the last build produced zero records and at
// least emptyRetry has elapsed since we last checked — the empty-retry
// clause lets an asynchronous fetcher catch up without callers hammering
// the pipeline on every request.
func NeedsRebuild(current fingerprint.Fingerprint, rec Record, artifactExists bool, now time.Time, emptyRetry time.Duration) bool {
	if !artifactExists {
		return true
	}
	if !rec.HasBuilt {
		return true
	}
	if !current.Equal(rec.LastFingerprint) {
		return true
	}
	if rec.WasEmpty && now.Sub(rec.LastEmptyCheck) >= emptyRetry {
		return true
	}
	return false
}
