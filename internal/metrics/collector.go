// Package metrics provides in-memory runtime statistics collection for the
// diagnostics surface.
package metrics

import (
	"math"
	"sync"
	"time"
)

// Operation names for the collector.
const (
	OpRebuild     = "rebuild"
	OpFetchSource = "fetch_source"
	OpCleanup     = "cleanup"
)

// OperationMetrics holds aggregated timings for a single operation type.
type OperationMetrics struct {
	Count     int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64   `json:"count"`
	TotalTimeMs int64   `json:"total_time_ms"`
	AvgTimeMs   float64 `json:"avg_time_ms"`
	MinTimeMs   int64   `json:"min_time_ms"`
	MaxTimeMs   int64   `json:"max_time_ms"`
}

// Counters are event counts with no timing dimension.
type Counters struct {
	RebuildData     int64 `json:"rebuild_data"`
	RebuildEmpty    int64 `json:"rebuild_empty"`
	RebuildFailure  int64 `json:"rebuild_failure"`
	RebuildSkipped  int64 `json:"rebuild_skipped"` // lock contended, served stale
	FetchErrors     int64 `json:"fetch_errors"`
	CleanupRemovals int64 `json:"cleanup_removals"`
}

// Snapshot represents the full process statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64            `json:"uptime_seconds"`
	Counters      Counters           `json:"counters"`
	Rebuild       *OperationSnapshot `json:"rebuild,omitempty"`
	FetchSource   *OperationSnapshot `json:"fetch_source,omitempty"`
	Cleanup       *OperationSnapshot `json:"cleanup,omitempty"`
}

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	counters  Counters
	ops       map[string]*OperationMetrics
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold the write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{MinTime: time.Duration(math.MaxInt64)}
		c.ops[op] = m
	}
	return m
}

// RecordTiming records timing for an operation.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// Count bumps a named counter.
func (c *Collector) Count(bump func(*Counters)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bump(&c.counters)
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}
	return &OperationSnapshot{
		Count:       m.Count,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}
}

// Snapshot returns the current statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Counters:      c.counters,
		Rebuild:       snapshotOp(c.ops[OpRebuild]),
		FetchSource:   snapshotOp(c.ops[OpFetchSource]),
		Cleanup:       snapshotOp(c.ops[OpCleanup]),
	}
}
