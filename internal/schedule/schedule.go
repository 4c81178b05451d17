// Package schedule defines the derived schedule-by-room artifact and its
// companion tabular export.
package schedule

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// Event is one scheduled slot in a room.
type Event struct {
	Start     string `json:"start"`
	End       string `json:"end"`
	Title     string `json:"title"`
	Subject   string `json:"subject"`
	Location  string `json:"location"`
	Professor string `json:"professor"`
}

// Artifact maps room -> ISO day (YYYY-MM-DD) -> ordered events. It is
// produced by the external build pipeline and only read by this process,
// except for the synthesized empty case.
type Artifact map[string]map[string][]Event

// Parse decodes an artifact from its on-disk JSON form.
func Parse(data []byte) (Artifact, error) {
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("parse artifact: %w", err)
	}
	return a, nil
}

// Rooms returns the room names present in the artifact, sorted.
func (a Artifact) Rooms() []string {
	rooms := make([]string, 0, len(a))
	for r := range a {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return rooms
}

// EventCount returns the total number of events across all rooms and days.
func (a Artifact) EventCount() int {
	n := 0
	for _, days := range a {
		for _, events := range days {
			n += len(events)
		}
	}
	return n
}

// Filter returns a copy restricted to the given room (empty = all rooms)
// and day range (empty bounds = unbounded). Days are ISO strings, so
// lexicographic comparison is date comparison.
func (a Artifact) Filter(room, from, to string) Artifact {
	out := make(Artifact)
	for r, days := range a {
		if room != "" && r != room {
			continue
		}
		for day, events := range days {
			if from != "" && day < from {
				continue
			}
			if to != "" && day > to {
				continue
			}
			if out[r] == nil {
				out[r] = make(map[string][]Event)
			}
			out[r][day] = events
		}
	}
	return out
}

// WriteEmpty synthesizes a minimal empty artifact at path, atomically.
// Used when the pipeline reports success but wrote nothing, so readers
// get a well-formed empty result instead of a missing-file error.
func WriteEmpty(path string) error {
	return writeAtomic(path, []byte("{}\n"))
}

// writeAtomic writes to a temp file in the target directory and renames
// into place, so concurrent readers never observe a partial artifact.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create artifact dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp artifact: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename artifact into place: %w", err)
	}
	return nil
}

// Row is one record of the flat tabular export.
type Row struct {
	Room      string
	Day       string
	Start     string
	End       string
	Title     string
	Subject   string
	Location  string
	Professor string
}

// tabularHeader matches the columns the build pipeline writes.
var tabularHeader = []string{"room", "day", "start", "end", "title", "subject", "location", "professor"}

// ReadTabular loads the companion CSV export. The header row is required
// and validated against the expected columns.
func ReadTabular(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tabular export: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(tabularHeader)

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read tabular header: %w", err)
	}
	for i, col := range tabularHeader {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected tabular column %d: got %q, want %q", i, header[i], col)
		}
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read tabular row: %w", err)
		}
		rows = append(rows, Row{
			Room:      rec[0],
			Day:       rec[1],
			Start:     rec[2],
			End:       rec[3],
			Title:     rec[4],
			Subject:   rec[5],
			Location:  rec[6],
			Professor: rec[7],
		})
	}
	return rows, nil
}
