package rebuild

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdelorme/roomsched/internal/extract"
	"github.com/mdelorme/roomsched/internal/lockfile"
	"github.com/mdelorme/roomsched/internal/metrics"
)

// stubCache records invalidations.
type stubCache struct {
	mu    sync.Mutex
	paths []string
}

func (c *stubCache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
}

func (c *stubCache) invalidations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.paths)
}

type testEnv struct {
	dir         string
	invocations string // file the fake pipeline appends to
	coord       *Coordinator
	cache       *stubCache
	clock       *fakeClock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestEnv wires a coordinator against a fake pipeline script. The
// script body runs with INVOCATIONS and ARTIFACT in the environment via
// interpolation.
func newTestEnv(t *testing.T, scriptBody string) *testEnv {
	t.Helper()
	dir := t.TempDir()

	invocations := filepath.Join(dir, "invocations")
	artifact := filepath.Join(dir, "schedule.json")
	body := strings.ReplaceAll(scriptBody, "{{INVOCATIONS}}", invocations)
	body = strings.ReplaceAll(body, "{{ARTIFACT}}", artifact)

	env := &testEnv{
		dir:         dir,
		invocations: invocations,
		cache:       &stubCache{},
		clock:       &fakeClock{now: time.Unix(1_700_000_000, 0)},
	}
	env.coord = newCoordinator(t, dir, body, env.cache, env.clock)
	return env
}

func newCoordinator(t *testing.T, dir, scriptBody string, cache *stubCache, clock *fakeClock) *Coordinator {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	captureDir := filepath.Join(dir, "captures")
	require.NoError(t, os.MkdirAll(captureDir, 0755))

	lock, err := lockfile.New(filepath.Join(dir, "rebuild.lock"))
	require.NoError(t, err)

	scriptPath := filepath.Join(dir, fmt.Sprintf("build-%d.sh", time.Now().UnixNano()))
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\n"+scriptBody+"\n"), 0755))

	return &Coordinator{
		CaptureDir:   captureDir,
		MarkerPath:   filepath.Join(captureDir, ".fetch-complete"),
		ArtifactPath: filepath.Join(dir, "schedule.json"),
		TabularPath:  filepath.Join(dir, "schedule.csv"),
		EmptyRetry:   30 * time.Second,
		Lock:         lock,
		Executor: &Executor{
			BuildCmd:     scriptPath,
			ArtifactPath: filepath.Join(dir, "schedule.json"),
			Timeout:      10 * time.Second,
			WindowDays:   60,
			Logger:       logger,
			State:        extract.NewState(),
		},
		Cache:   cache,
		Metrics: metrics.NewCollector(),
		Logger:  logger,
		nowFn:   clock.Now,
		waitFn:  func(time.Duration) {},
	}
}

func (e *testEnv) invocationCount(t *testing.T) int {
	t.Helper()
	data, err := os.ReadFile(e.invocations)
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "\n")
}

func TestEnsureArtifact_Idempotent(t *testing.T) {
	env := newTestEnv(t, `echo run >> {{INVOCATIONS}}; echo '{}' > {{ARTIFACT}}`)

	_, err := env.coord.EnsureArtifact(context.Background())
	require.NoError(t, err)
	_, err = env.coord.EnsureArtifact(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, env.invocationCount(t), "unchanged fingerprint must not rebuild twice")
}

func TestEnsureArtifact_RebuildsOnInputChange(t *testing.T) {
	env := newTestEnv(t, `echo run >> {{INVOCATIONS}}; echo '{}' > {{ARTIFACT}}`)
	ctx := context.Background()

	_, err := env.coord.EnsureArtifact(ctx)
	require.NoError(t, err)

	// A new capture file changes the fingerprint.
	capture := filepath.Join(env.coord.CaptureDir, "room-b101.ics")
	require.NoError(t, os.WriteFile(capture, []byte("BEGIN:VCALENDAR"), 0644))
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(capture, future, future))

	_, err = env.coord.EnsureArtifact(ctx)
	require.NoError(t, err)

	assert.Equal(t, 2, env.invocationCount(t))
}

func TestEnsureArtifact_EmptyBackoff(t *testing.T) {
	env := newTestEnv(t, `echo run >> {{INVOCATIONS}}; exit 2`)
	ctx := context.Background()

	_, err := env.coord.EnsureArtifact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.invocationCount(t))

	rec := env.coord.LastRecord()
	assert.True(t, rec.WasEmpty)

	// Within the retry interval nothing happens.
	env.clock.Advance(5 * time.Second)
	_, err = env.coord.EnsureArtifact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, env.invocationCount(t), "retry before interval must be throttled")

	// Past it, the pipeline is retried even with an unchanged fingerprint.
	env.clock.Advance(26 * time.Second)
	_, err = env.coord.EnsureArtifact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, env.invocationCount(t), "retry after interval must rebuild")
}

func TestEnsureArtifact_FailureLeavesRecordUnchanged(t *testing.T) {
	env := newTestEnv(t, `echo run >> {{INVOCATIONS}}; exit 1`)
	ctx := context.Background()

	_, err := env.coord.EnsureArtifact(ctx)
	assert.Error(t, err)
	assert.False(t, env.coord.LastRecord().HasBuilt)

	// The next call retries the decision fresh.
	_, err = env.coord.EnsureArtifact(ctx)
	assert.Error(t, err)
	assert.Equal(t, 2, env.invocationCount(t))
}

func TestEnsureArtifact_InvalidatesCacheAfterRebuild(t *testing.T) {
	env := newTestEnv(t, `echo run >> {{INVOCATIONS}}; echo '{}' > {{ARTIFACT}}`)

	_, err := env.coord.EnsureArtifact(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, env.cache.invalidations())
	assert.Equal(t, env.coord.ArtifactPath, env.cache.paths[0])
}

func TestEnsureArtifact_ContendedServesStale(t *testing.T) {
	env := newTestEnv(t, `echo run >> {{INVOCATIONS}}; echo '{}' > {{ARTIFACT}}`)

	// Another "process" holds the rebuild lock.
	other, err := lockfile.New(env.coord.Lock.Path())
	require.NoError(t, err)
	held, err := other.TryAcquire()
	require.NoError(t, err)
	require.True(t, held)
	defer other.Release()

	// An artifact already exists on disk.
	require.NoError(t, os.WriteFile(env.coord.ArtifactPath, []byte("{}"), 0644))

	_, err = env.coord.EnsureArtifact(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, env.invocationCount(t), "contended caller must reuse the stale artifact")
	assert.Equal(t, int64(1), env.coord.Metrics.Snapshot().Counters.RebuildSkipped)
}

func TestEnsureArtifact_ContendedColdStartWaitsForArtifact(t *testing.T) {
	env := newTestEnv(t, `echo run >> {{INVOCATIONS}}; echo '{}' > {{ARTIFACT}}`)

	other, err := lockfile.New(env.coord.Lock.Path())
	require.NoError(t, err)
	held, err := other.TryAcquire()
	require.NoError(t, err)
	require.True(t, held)
	defer other.Release()

	// During the bounded wait the lock holder finishes its build.
	var waited time.Duration
	env.coord.waitFn = func(d time.Duration) {
		waited = d
		require.NoError(t, os.WriteFile(env.coord.ArtifactPath, []byte("{}"), 0644))
	}

	_, err = env.coord.EnsureArtifact(context.Background())
	require.NoError(t, err)

	assert.Equal(t, coldStartWait, waited)
	assert.Equal(t, 0, env.invocationCount(t))
}

func TestEnsureArtifact_ContendedColdStartBuildsAnyway(t *testing.T) {
	env := newTestEnv(t, `echo run >> {{INVOCATIONS}}; echo '{}' > {{ARTIFACT}}`)

	other, err := lockfile.New(env.coord.Lock.Path())
	require.NoError(t, err)
	held, err := other.TryAcquire()
	require.NoError(t, err)
	require.True(t, held)
	defer other.Release()

	// The wait elapses and still no artifact: serving nothing is worse
	// than the narrow double-build race, so the build proceeds lockless.
	_, err = env.coord.EnsureArtifact(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, env.invocationCount(t))
}

func TestEnsureArtifact_MutualExclusion(t *testing.T) {
	const workers = 4

	env := newTestEnv(t, `echo run >> {{INVOCATIONS}}; sleep 0.4; echo '{}' > {{ARTIFACT}}`)

	// Simulated peer processes: independent coordinators sharing the
	// lock file and artifact path. An artifact already exists, so losers
	// must serve it instead of building.
	require.NoError(t, os.WriteFile(env.coord.ArtifactPath, []byte("{}"), 0644))

	peers := make([]*Coordinator, workers-1)
	for i := range peers {
		peers[i] = newCoordinator(t, env.dir,
			fmt.Sprintf(`echo run >> %q; sleep 0.4; echo '{}' > %q`, env.invocations, env.coord.ArtifactPath),
			&stubCache{}, env.clock)
	}

	// Let the first coordinator win the lock and be mid-build before the
	// peers arrive.
	done := make(chan error, workers)
	go func() {
		_, err := env.coord.EnsureArtifact(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool {
		return env.invocationCount(t) == 1
	}, 2*time.Second, 5*time.Millisecond)

	for _, p := range peers {
		go func(c *Coordinator) {
			_, err := c.EnsureArtifact(context.Background())
			done <- err
		}(p)
	}

	for i := 0; i < workers; i++ {
		require.NoError(t, <-done)
	}

	assert.Equal(t, 1, env.invocationCount(t), "only the lock holder may run the pipeline")
}
