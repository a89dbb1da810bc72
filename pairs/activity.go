package pairs

import (
	"sync"
	"time"
)

// ActivityTracker records per-symbol fill activity. Grid workers report
// fills; the selector's quality pass reads inactivity from here.
type ActivityTracker struct {
	mu      sync.RWMutex
	entries map[string]*activity
}

type activity struct {
	fills     int
	lastFill  time.Time
	trackedAt time.Time
}

// NewActivityTracker creates an empty tracker.
func NewActivityTracker() *ActivityTracker {
	return &ActivityTracker{entries: make(map[string]*activity)}
}

// Track starts observing a symbol. Idempotent; an already tracked symbol
// keeps its history.
func (t *ActivityTracker) Track(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[symbol]; !ok {
		t.entries[symbol] = &activity{trackedAt: time.Now()}
	}
}

// Untrack drops a symbol, e.g. after rotation.
func (t *ActivityTracker) Untrack(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, symbol)
}

// RecordFill notes one fill for a symbol.
func (t *ActivityTracker) RecordFill(symbol string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[symbol]
	if !ok {
		e = &activity{trackedAt: time.Now()}
		t.entries[symbol] = e
	}
	e.fills++
	e.lastFill = time.Now()
}

// FillCount returns how many fills a symbol has had since tracking began.
func (t *ActivityTracker) FillCount(symbol string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if e, ok := t.entries[symbol]; ok {
		return e.fills
	}
	return 0
}

// Inactive reports whether a tracked symbol has gone longer than timeout
// without a fill. A symbol tracked for less than the timeout is never
// inactive; it has not had a fair chance yet.
func (t *ActivityTracker) Inactive(symbol string, timeout time.Duration) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.entries[symbol]
	if !ok {
		return false
	}
	if !e.lastFill.IsZero() {
		return time.Since(e.lastFill) > timeout
	}
	return time.Since(e.trackedAt) > timeout
}
