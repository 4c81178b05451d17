package extract

import (
	"fmt"
	"sync"
	"testing"
)

func TestTryStart_Gate(t *testing.T) {
	s := NewState()

	if !s.TryStart("run1") {
		t.Fatal("TryStart() on idle state must succeed")
	}
	if s.TryStart("run2") {
		t.Error("TryStart() while running must fail")
	}
	if !s.Running() {
		t.Error("Running() = false during a pass")
	}

	s.Finish()
	if s.Running() {
		t.Error("Running() = true after Finish")
	}
	if !s.TryStart("run3") {
		t.Error("TryStart() after Finish must succeed")
	}
	s.Finish()
}

func TestTryStart_ConcurrentOnlyOneWins(t *testing.T) {
	s := NewState()

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if s.TryStart(fmt.Sprintf("run%d", id)) {
				wins <- struct{}{}
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("concurrent TryStart winners = %d, want exactly 1", count)
	}
}

func TestTryStart_ResetsCounters(t *testing.T) {
	s := NewState()
	s.TryStart("run1")
	s.AddExtracted(5)
	s.SetProgress("B101", "halfway")
	s.Finish()

	s.TryStart("run2")
	snap := s.Snapshot(0)
	if snap.ItemsExtracted != 0 || snap.CurrentItem != "" || snap.ProgressMessage != "" {
		t.Errorf("Snapshot after restart = %+v, want reset progress fields", snap)
	}
	if snap.RunID != "run2" {
		t.Errorf("RunID = %q, want run2", snap.RunID)
	}
}

func TestSnapshot_LogTail(t *testing.T) {
	s := NewState()
	for i := 0; i < 10; i++ {
		s.Logf("line %d", i)
	}

	snap := s.Snapshot(3)
	if len(snap.Log) != 3 {
		t.Fatalf("len(Log) = %d, want 3", len(snap.Log))
	}
	// Newest three lines, oldest first.
	for i, want := range []string{"line 7", "line 8", "line 9"} {
		if got := snap.Log[i]; len(got) < len(want) || got[len(got)-len(want):] != want {
			t.Errorf("Log[%d] = %q, want suffix %q", i, got, want)
		}
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := newRing(3)
	r.append("a")
	r.append("b")
	r.append("c")
	r.append("d") // evicts a

	got := r.tail(0)
	want := []string{"b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("tail = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tail[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRing_CapacityBound(t *testing.T) {
	r := newRing(LogCapacity)
	for i := 0; i < LogCapacity+500; i++ {
		r.append(fmt.Sprintf("line %d", i))
	}
	if r.len() != LogCapacity {
		t.Errorf("len = %d, want capacity %d", r.len(), LogCapacity)
	}
	if got := r.tail(1)[0]; got != fmt.Sprintf("line %d", LogCapacity+499) {
		t.Errorf("newest = %q", got)
	}
	if got := r.tail(0)[0]; got != "line 500" {
		t.Errorf("oldest = %q, want line 500", got)
	}
}
