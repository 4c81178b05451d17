package rebuild

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mdelorme/roomsched/internal/fingerprint"
	"github.com/mdelorme/roomsched/internal/lockfile"
	"github.com/mdelorme/roomsched/internal/metrics"
	"github.com/mdelorme/roomsched/internal/schedule"
)

// coldStartWait is how long a caller waits when the rebuild lock is
// contended and no artifact exists yet, before attempting the build
// anyway. The narrow race this allows (two processes briefly running the
// pipeline) is intentional: in the cold-start case availability is
// preferred over strict exclusivity.
const coldStartWait = 2 * time.Second

// Invalidator is the cache hook notified after a rebuild changes the
// artifact, so readers see new content without waiting out the TTL.
type Invalidator interface {
	Invalidate(path string)
}

// Mirror receives the flat tabular export after a successful data
// rebuild. Optional.
type Mirror interface {
	MirrorRows(ctx context.Context, rows []schedule.Row) error
}

// Coordinator owns the rebuild decision for one process: it serializes
// concurrent in-process callers, takes the cross-process advisory lock,
// runs the Executor, and maintains the rebuild Record.
type Coordinator struct {
	CaptureDir   string
	MarkerPath   string
	ArtifactPath string
	TabularPath  string
	EmptyRetry   time.Duration

	Lock     *lockfile.Lock
	Executor *Executor
	Cache    Invalidator
	Metrics  *metrics.Collector
	Exports  Mirror // may be nil
	Logger   *slog.Logger

	mu  sync.Mutex // guards rec
	rec Record

	group singleflight.Group

	// Injectable for tests.
	nowFn  func() time.Time
	waitFn func(time.Duration)
}

func (c *Coordinator) now() time.Time {
	if c.nowFn != nil {
		return c.nowFn()
	}
	return time.Now()
}

func (c *Coordinator) wait(d time.Duration) {
	if c.waitFn != nil {
		c.waitFn(d)
		return
	}
	time.Sleep(d)
}

// ArtifactExists reports whether the derived artifact is present on disk.
func (c *Coordinator) ArtifactExists() bool {
	_, err := os.Stat(c.ArtifactPath)
	return err == nil
}

// LastRecord returns a copy of the process-local rebuild record.
func (c *Coordinator) LastRecord() Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rec
}

// EnsureArtifact makes sure a current-enough artifact exists and returns
// its path. The dominant path under load takes no lock and touches only
// the fingerprint scan. Callers requesting any date range share the same
// artifact; the pipeline always builds the full fixed window.
//
// Lock contention is never an error: when another process is already
// rebuilding and an artifact exists, the possibly stale artifact is
// served immediately. Pipeline failure is returned as an error so the
// caller can decide between stale data and an explicit empty result.
func (c *Coordinator) EnsureArtifact(ctx context.Context) (string, error) {
	// Concurrent in-process callers collapse into one rebuild check.
	_, err, _ := c.group.Do("artifact", func() (any, error) {
		return nil, c.ensure(ctx)
	})
	return c.ArtifactPath, err
}

func (c *Coordinator) ensure(ctx context.Context) error {
	current, err := fingerprint.Scan(c.CaptureDir, c.MarkerPath)
	if err != nil {
		return fmt.Errorf("scan inputs: %w", err)
	}

	exists := c.ArtifactExists()
	if !NeedsRebuild(current, c.LastRecord(), exists, c.now(), c.EmptyRetry) {
		return nil
	}

	acquired, err := c.Lock.TryAcquire()
	if err != nil {
		return fmt.Errorf("rebuild lock: %w", err)
	}
	if !acquired {
		if exists {
			// Another process is rebuilding; stale beats latency.
			c.Logger.Debug("rebuild lock contended, serving existing artifact")
			c.Metrics.Count(func(ct *metrics.Counters) { ct.RebuildSkipped++ })
			return nil
		}
		// Cold start under contention: wait once, then build anyway.
		c.Logger.Info("rebuild lock contended with no artifact, waiting", "wait", coldStartWait)
		c.wait(coldStartWait)
		if c.ArtifactExists() {
			return nil
		}
		c.Logger.Warn("no artifact after wait, attempting build without lock")
	} else {
		defer func() {
			if err := c.Lock.Release(); err != nil {
				c.Logger.Error("failed to release rebuild lock", "error", err)
			}
		}()
	}

	return c.runLocked(ctx, current)
}

// runLocked runs the pipeline and applies its outcome to the record.
// Called with the rebuild lock held (or deliberately without it on the
// cold-start fallback path).
func (c *Coordinator) runLocked(ctx context.Context, current fingerprint.Fingerprint) error {
	start := c.now()
	outcome, err := c.Executor.Run(ctx)
	c.Metrics.RecordTiming(metrics.OpRebuild, time.Since(start))

	switch outcome {
	case OutcomeData:
		c.setRecord(Record{HasBuilt: true, LastFingerprint: current})
		c.Metrics.Count(func(ct *metrics.Counters) { ct.RebuildData++ })
	case OutcomeEmpty:
		c.setRecord(Record{
			HasBuilt:        true,
			LastFingerprint: current,
			WasEmpty:        true,
			LastEmptyCheck:  c.now(),
		})
		c.Metrics.Count(func(ct *metrics.Counters) { ct.RebuildEmpty++ })
	default:
		// Record left unchanged so the next request retries the decision.
		c.Metrics.Count(func(ct *metrics.Counters) { ct.RebuildFailure++ })
		return err
	}

	c.Cache.Invalidate(c.ArtifactPath)

	if outcome == OutcomeData && c.Exports != nil {
		c.mirrorTabular(ctx)
	}
	return nil
}

// mirrorTabular pushes the tabular export to the configured sink.
// Failures are logged, never propagated; the mirror is an inspection aid.
func (c *Coordinator) mirrorTabular(ctx context.Context) {
	rows, err := schedule.ReadTabular(c.TabularPath)
	if err != nil {
		c.Logger.Warn("failed to read tabular export for mirroring", "error", err)
		return
	}
	if len(rows) == 0 {
		return
	}
	if err := c.Exports.MirrorRows(ctx, rows); err != nil {
		c.Logger.Warn("failed to mirror tabular export", "error", err, "rows", len(rows))
		return
	}
	c.Logger.Info("mirrored tabular export", "rows", len(rows))
}

func (c *Coordinator) setRecord(rec Record) {
	c.mu.Lock()
	c.rec = rec
	c.mu.Unlock()
}

// Diagnostics describes coordinator state for the diagnostics surface.
type Diagnostics struct {
	Fingerprint     fingerprint.Fingerprint `json:"-"`
	MaxMtime        time.Time               `json:"input_max_mtime"`
	FileCount       int                     `json:"input_file_count"`
	HasBuilt        bool                    `json:"has_built"`
	LastWasEmpty    bool                    `json:"last_was_empty"`
	LastEmptyCheck  time.Time               `json:"last_empty_check,omitzero"`
	ArtifactExists  bool                    `json:"artifact_exists"`
	ArtifactMtime   time.Time               `json:"artifact_mtime,omitzero"`
	ArtifactBytes   int64                   `json:"artifact_bytes"`
	RebuildRequired bool                    `json:"rebuild_required"`
}

// Diagnose computes a point-in-time health snapshot without triggering
// any rebuild.
func (c *Coordinator) Diagnose() (Diagnostics, error) {
	current, err := fingerprint.Scan(c.CaptureDir, c.MarkerPath)
	if err != nil {
		return Diagnostics{}, err
	}
	rec := c.LastRecord()

	d := Diagnostics{
		Fingerprint:    current,
		MaxMtime:       current.MaxMtime,
		FileCount:      current.FileCount,
		HasBuilt:       rec.HasBuilt,
		LastWasEmpty:   rec.WasEmpty,
		LastEmptyCheck: rec.LastEmptyCheck,
	}
	if info, err := os.Stat(c.ArtifactPath); err == nil {
		d.ArtifactExists = true
		d.ArtifactMtime = info.ModTime()
		d.ArtifactBytes = info.Size()
	}
	d.RebuildRequired = NeedsRebuild(current, rec, d.ArtifactExists, c.now(), c.EmptyRetry)
	return d, nil
}
