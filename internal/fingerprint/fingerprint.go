// Package fingerprint summarizes the raw capture corpus cheaply so callers
// can detect input change without opening every file.
package fingerprint

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Fingerprint is a cheap, monotonic summary of the capture directory:
// the newest modification time across all capture files plus the file
// count. Equality of both fields means no observable input change.
type Fingerprint struct {
	MaxMtime  time.Time
	FileCount int
}

// Equal reports whether two fingerprints describe the same input state.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.MaxMtime.Equal(other.MaxMtime) && f.FileCount == other.FileCount
}

func (f Fingerprint) String() string {
	return fmt.Sprintf("mtime=%s files=%d", f.MaxMtime.Format(time.RFC3339), f.FileCount)
}

// Scan walks the capture directory (one level, capture files are flat) and
// folds in the completion marker's mtime so that a finished asynchronous
// fetch run is visible even when no individual capture file changed.
// A missing directory yields the zero fingerprint, not an error.
func Scan(captureDir, markerPath string) (Fingerprint, error) {
	var fp Fingerprint

	entries, err := os.ReadDir(captureDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fp, nil
		}
		return fp, fmt.Errorf("read capture dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// File vanished between ReadDir and stat; skip it.
			continue
		}
		fp.FileCount++
		if info.ModTime().After(fp.MaxMtime) {
			fp.MaxMtime = info.ModTime()
		}
	}

	if markerPath != "" {
		if info, err := os.Stat(markerPath); err == nil {
			if info.ModTime().After(fp.MaxMtime) {
				fp.MaxMtime = info.ModTime()
			}
		}
	}

	return fp, nil
}
