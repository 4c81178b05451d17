package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdelorme/roomsched/internal/extract"
	"github.com/mdelorme/roomsched/internal/metrics"
)

// newTestRunner wires a Runner against a fake fetcher script that logs
// each URL and fails for URLs containing "bad".
func newTestRunner(t *testing.T, sourcesYAML string) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()

	fetched := filepath.Join(dir, "fetched")
	script := fmt.Sprintf(`#!/bin/sh
case "$1" in
  *bad*) echo "fetch refused: $1" >&2; exit 1 ;;
esac
echo "$1" >> %q
`, fetched)
	fetchCmd := filepath.Join(dir, "fetch.sh")
	require.NoError(t, os.WriteFile(fetchCmd, []byte(script), 0755))

	sourcesFile := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(sourcesFile, []byte(sourcesYAML), 0644))

	r := &Runner{
		FetchCmd:    fetchCmd,
		SourcesFile: sourcesFile,
		MarkerPath:  filepath.Join(dir, "captures", ".fetch-complete"),
		Logger:      slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		State:       extract.NewState(),
		Metrics:     metrics.NewCollector(),
	}
	return r, fetched
}

func TestRunAll_FetchesEverySource(t *testing.T) {
	r, fetched := newTestRunner(t, `
sources:
  - name: building-b
    url: https://cal.example.edu/b.ics
  - name: building-c
    url: https://cal.example.edu/c.ics
`)

	succeeded, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, succeeded)

	data, err := os.ReadFile(fetched)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	// The completion marker was touched.
	_, err = os.Stat(r.MarkerPath)
	assert.NoError(t, err)
}

func TestRunAll_FailureIsIsolated(t *testing.T) {
	r, fetched := newTestRunner(t, `
sources:
  - name: broken
    url: https://cal.example.edu/bad.ics
  - name: working
    url: https://cal.example.edu/c.ics
`)

	succeeded, err := r.RunAll(context.Background())
	require.NoError(t, err, "one failing source must not abort the pass")
	assert.Equal(t, 1, succeeded)

	data, err := os.ReadFile(fetched)
	require.NoError(t, err)
	assert.Contains(t, string(data), "c.ics")

	// Marker still touched because at least one source succeeded.
	_, err = os.Stat(r.MarkerPath)
	assert.NoError(t, err)

	// Failure surfaced in the rolling log and counted.
	snap := r.State.Snapshot(0)
	joined := strings.Join(snap.Log, "\n")
	assert.Contains(t, joined, "failed")
	assert.Equal(t, int64(1), r.Metrics.Snapshot().Counters.FetchErrors)
}

func TestRunAll_AllFailingSkipsMarker(t *testing.T) {
	r, _ := newTestRunner(t, `
sources:
  - name: broken
    url: https://cal.example.edu/bad.ics
`)

	succeeded, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, succeeded)

	_, err = os.Stat(r.MarkerPath)
	assert.True(t, os.IsNotExist(err), "marker must not be touched when nothing succeeded")
}

func TestRunAll_NoSources(t *testing.T) {
	r, _ := newTestRunner(t, "sources: []\n")

	succeeded, err := r.RunAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, succeeded)
}
