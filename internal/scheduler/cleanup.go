package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// PruneCaptures removes raw capture files older than the retention
// window. Dotfiles (including the completion marker) and subdirectories
// are left alone. Returns how many files were removed.
func PruneCaptures(captureDir string, retention time.Duration) (int, error) {
	entries, err := os.ReadDir(captureDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read capture dir: %w", err)
	}

	cutoff := time.Now().Add(-retention)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(captureDir, e.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
