package chain

import (
	"context"
	"sync"
	"time"

	"github.com/hoptrail/hoptrail/internal/logger"
)

// staleAfter bounds how long a recorded start may wait for its response.
// Requests that start but never complete (aborted navigations) are swept
// after this interval; a late response then simply gets duration ~0.
const staleAfter = 60 * time.Second

type timingKey struct {
	tabID int
	url   string
}

type timingEntry struct {
	start      time.Time
	recordedAt time.Time
}

// Tracker associates request start times with (tab, URL) pairs so hop
// durations can be computed when response headers arrive.
type Tracker struct {
	mu     sync.Mutex
	starts map[timingKey]timingEntry
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewTracker creates a new timing tracker.
func NewTracker() *Tracker {
	return &Tracker{
		starts: make(map[timingKey]timingEntry),
		stopCh: make(chan struct{}),
	}
}

// Start begins the background staleness sweep.
func (t *Tracker) Start(ctx context.Context) {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(staleAfter)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stopCh:
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	}()
}

// Stop stops the background sweep.
func (t *Tracker) Stop() {
	close(t.stopCh)
	t.wg.Wait()
}

// RecordStart stores the current time for a (tab, URL) pair. A prior entry
// for the same key is overwritten: last start wins.
func (t *Tracker) RecordStart(tabID int, url string) {
	now := time.Now()
	t.mu.Lock()
	t.starts[timingKey{tabID, url}] = timingEntry{start: now, recordedAt: now}
	t.mu.Unlock()
}

// ConsumeStart returns and removes the recorded start for a (tab, URL)
// pair. If no start was recorded (or it was swept), the current time is
// returned so the hop still gets a timing record with duration ~0.
func (t *Tracker) ConsumeStart(tabID int, url string) time.Time {
	key := timingKey{tabID, url}
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.starts[key]; ok {
		delete(t.starts, key)
		return entry.start
	}
	return time.Now()
}

// DropTab removes all timing entries for a closed tab.
func (t *Tracker) DropTab(tabID int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key := range t.starts {
		if key.tabID == tabID {
			delete(t.starts, key)
		}
	}
}

// Len returns the number of pending timing entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.starts)
}

func (t *Tracker) sweep() {
	cutoff := time.Now().Add(-staleAfter)

	t.mu.Lock()
	removed := 0
	for key, entry := range t.starts {
		if entry.recordedAt.Before(cutoff) {
			delete(t.starts, key)
			removed++
		}
	}
	t.mu.Unlock()

	if removed > 0 {
		logger.Debug().
			Int("removed", removed).
			Msg("Swept stale timing entries")
	}
}
