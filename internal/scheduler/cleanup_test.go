package scheduler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeAged(t *testing.T, dir, name string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	mtime := time.Now().Add(-age)
	require.NoError(t, os.Chtimes(path, mtime, mtime))
	return path
}

func TestPruneCaptures(t *testing.T) {
	dir := t.TempDir()

	old := writeAged(t, dir, "old.ics", 20*24*time.Hour)
	fresh := writeAged(t, dir, "fresh.ics", 2*24*time.Hour)
	marker := writeAged(t, dir, ".fetch-complete", 20*24*time.Hour)

	removed, err := PruneCaptures(dir, 14*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err), "stale capture must be removed")
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh capture must survive")
	_, err = os.Stat(marker)
	assert.NoError(t, err, "the completion marker is never pruned")
}

func TestPruneCaptures_MissingDir(t *testing.T) {
	removed, err := PruneCaptures(filepath.Join(t.TempDir(), "nope"), time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
