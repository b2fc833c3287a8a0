package chain

import (
	"testing"
	"time"
)

func TestTrackerRecordAndConsume(t *testing.T) {
	tr := NewTracker()

	tr.RecordStart(1, "https://example.com/")
	before := time.Now()

	start := tr.ConsumeStart(1, "https://example.com/")
	if start.After(before) {
		t.Error("Expected recorded start time to precede consume time")
	}

	if tr.Len() != 0 {
		t.Errorf("Expected entry to be consumed, %d remain", tr.Len())
	}
}

func TestTrackerConsumeUnknownKeyFallsBackToNow(t *testing.T) {
	tr := NewTracker()

	before := time.Now()
	start := tr.ConsumeStart(7, "https://never-started.example.com/")
	after := time.Now()

	if start.Before(before) || start.After(after) {
		t.Errorf("Expected fallback start ~now, got %v", start)
	}
}

func TestTrackerLastStartWins(t *testing.T) {
	tr := NewTracker()

	tr.RecordStart(1, "https://example.com/")
	first := tr.ConsumeStart(1, "https://example.com/")

	tr.RecordStart(1, "https://example.com/")
	time.Sleep(5 * time.Millisecond)
	tr.RecordStart(1, "https://example.com/")
	second := tr.ConsumeStart(1, "https://example.com/")

	if !second.After(first) {
		t.Error("Expected the later RecordStart to overwrite the earlier one")
	}
}

func TestTrackerKeysAreScopedPerTabAndURL(t *testing.T) {
	tr := NewTracker()

	tr.RecordStart(1, "https://a.example.com/")
	tr.RecordStart(2, "https://a.example.com/")
	tr.RecordStart(1, "https://b.example.com/")

	if tr.Len() != 3 {
		t.Fatalf("Expected 3 distinct entries, got %d", tr.Len())
	}

	tr.ConsumeStart(1, "https://a.example.com/")
	if tr.Len() != 2 {
		t.Errorf("Expected 2 entries after one consume, got %d", tr.Len())
	}
}

func TestTrackerDropTab(t *testing.T) {
	tr := NewTracker()

	tr.RecordStart(1, "https://a.example.com/")
	tr.RecordStart(1, "https://b.example.com/")
	tr.RecordStart(2, "https://c.example.com/")

	tr.DropTab(1)

	if tr.Len() != 1 {
		t.Errorf("Expected only tab 2's entry to remain, got %d entries", tr.Len())
	}
}

func TestTrackerSweepRemovesStaleEntries(t *testing.T) {
	tr := NewTracker()

	tr.RecordStart(1, "https://stale.example.com/")
	// Age the entry past the staleness threshold.
	tr.mu.Lock()
	for key, entry := range tr.starts {
		entry.recordedAt = time.Now().Add(-2 * staleAfter)
		tr.starts[key] = entry
	}
	tr.mu.Unlock()

	tr.RecordStart(1, "https://fresh.example.com/")
	tr.sweep()

	if tr.Len() != 1 {
		t.Errorf("Expected the stale entry to be swept, %d entries remain", tr.Len())
	}
	if _, ok := tr.starts[timingKey{1, "https://fresh.example.com/"}]; !ok {
		t.Error("Expected the fresh entry to survive the sweep")
	}
}
