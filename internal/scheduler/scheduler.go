package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mdelorme/roomsched/internal/extract"
	"github.com/mdelorme/roomsched/internal/ingest"
	"github.com/mdelorme/roomsched/internal/metrics"
	"github.com/mdelorme/roomsched/internal/rebuild"
)

// Scheduler runs the recurring fetch and cleanup loops in the elected
// leader process. Non-leader processes never start the loops and serve
// only request-driven rebuilds.
type Scheduler struct {
	Leader      *Leader
	Ingest      *ingest.Runner
	Coordinator *rebuild.Coordinator
	State       *extract.State
	Metrics     *metrics.Collector
	Logger      *slog.Logger

	FetchInterval   time.Duration
	CleanupInterval time.Duration
	CaptureDir      string
	Retention       time.Duration

	startMu sync.Mutex
	started bool
}

// EnsureStarted performs the lazy leader election and, when this process
// wins, starts the background loops once. Safe to call from every
// request; concurrent first calls are serialized.
func (s *Scheduler) EnsureStarted(ctx context.Context) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if s.started {
		return nil
	}

	owns, err := s.Leader.EnsureElected()
	if err != nil {
		return err
	}
	s.started = true
	if !owns {
		return nil
	}

	go s.fetchLoop(ctx)
	go s.cleanupLoop(ctx)
	s.Logger.Info("background loops started",
		"fetch_interval", s.FetchInterval, "cleanup_interval", s.CleanupInterval)
	return nil
}

// RunFetchPass runs one ingestion pass followed by a rebuild. The
// extraction running flag is the run-lock: when a pass is already in
// flight (a manual trigger overlapping the loop, or vice versa) the call
// returns false and does nothing — overlap is skipped, never queued.
func (s *Scheduler) RunFetchPass(ctx context.Context) bool {
	runID := uuid.New().String()[:8]
	if !s.State.TryStart(runID) {
		s.Logger.Info("fetch pass already running, skipping")
		return false
	}
	defer s.State.Finish()

	s.State.Logf("pass %s: starting", runID)
	succeeded, err := s.Ingest.RunAll(ctx)
	if err != nil {
		s.Logger.Warn("fetch pass aborted", "run_id", runID, "error", err)
		s.State.Logf("pass %s: aborted: %v", runID, err)
		return true
	}

	if succeeded == 0 {
		s.State.Logf("pass %s: no source succeeded, skipping rebuild", runID)
		return true
	}

	s.State.SetProgress("", "rebuilding artifact")
	if _, err := s.Coordinator.EnsureArtifact(ctx); err != nil {
		s.Logger.Warn("rebuild after fetch pass failed", "run_id", runID, "error", err)
		s.State.Logf("pass %s: rebuild failed: %v", runID, err)
	} else {
		s.State.Logf("pass %s: complete", runID)
	}
	return true
}

func (s *Scheduler) fetchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.FetchInterval)
	defer ticker.Stop()

	// First pass immediately; the loop owner has just come up.
	s.RunFetchPass(ctx)

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("fetch loop stopping")
			return
		case <-ticker.C:
			s.RunFetchPass(ctx)
		}
	}
}

func (s *Scheduler) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Logger.Info("cleanup loop stopping")
			return
		case <-ticker.C:
			start := time.Now()
			removed, err := PruneCaptures(s.CaptureDir, s.Retention)
			s.Metrics.RecordTiming(metrics.OpCleanup, time.Since(start))
			if err != nil {
				s.Logger.Warn("cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				s.Metrics.Count(func(ct *metrics.Counters) { ct.CleanupRemovals += int64(removed) })
				s.Logger.Info("pruned old captures", "removed", removed)
			}
		}
	}
}
