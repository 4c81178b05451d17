// Package extract tracks the state of an in-flight extraction pass:
// the running gate, advisory progress fields for UI polling, and a capped
// rolling log.
package extract

import (
	"fmt"
	"sync"
	"time"
)

// LogCapacity bounds the rolling log; oldest lines are evicted when full.
const LogCapacity = 5000

// State is shared between the active extraction routine (single writer by
// convention) and concurrent status pollers. The running flag is also the
// run-lock: TryStart is the only way to begin a pass, so two passes can
// never overlap within one process.
type State struct {
	mu sync.Mutex

	running         bool
	runID           string
	startedAt       time.Time
	currentItem     string
	progressMessage string
	itemsExtracted  int

	log *ring
}

// NewState creates an idle extraction state.
func NewState() *State {
	return &State{log: newRing(LogCapacity)}
}

// TryStart flips the running gate. Returns false when a pass is already
// in flight; the caller must skip its run entirely, never queue.
func (s *State) TryStart(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.runID = runID
	s.startedAt = time.Now()
	s.currentItem = ""
	s.progressMessage = ""
	s.itemsExtracted = 0
	return true
}

// Finish clears the running gate. Must be called on every exit path of a
// pass started with TryStart.
func (s *State) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.currentItem = ""
}

// Running reports whether a pass is in flight.
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SetProgress updates the advisory progress fields.
func (s *State) SetProgress(item, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentItem = item
	s.progressMessage = message
}

// AddExtracted bumps the extracted-items counter.
func (s *State) AddExtracted(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.itemsExtracted += n
}

// Logf appends a timestamped line to the rolling log.
func (s *State) Logf(format string, args ...any) {
	line := time.Now().Format("15:04:05") + " " + fmt.Sprintf(format, args...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log.append(line)
}

// Snapshot is a point-in-time copy of the state for the status surface.
type Snapshot struct {
	Running         bool      `json:"running"`
	RunID           string    `json:"run_id,omitempty"`
	StartedAt       time.Time `json:"started_at,omitzero"`
	CurrentItem     string    `json:"current_item,omitempty"`
	ProgressMessage string    `json:"progress_message,omitempty"`
	ItemsExtracted  int       `json:"items_extracted"`
	Log             []string  `json:"log"`
}

// Snapshot returns a copy of the state with at most lastN log lines
// (lastN <= 0 returns the whole log).
func (s *State) Snapshot(lastN int) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Running:         s.running,
		RunID:           s.runID,
		StartedAt:       s.startedAt,
		CurrentItem:     s.currentItem,
		ProgressMessage: s.progressMessage,
		ItemsExtracted:  s.itemsExtracted,
		Log:             s.log.tail(lastN),
	}
}
