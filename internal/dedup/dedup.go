// Package dedup suppresses repeats of the same reading arriving via mesh
// flooding or multiple region gateways. The window is shared across all
// sources; the first observation of a key wins.
package dedup

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// maxAge is how long an entry stays in the window.
	maxAge = time.Hour
	// gcInterval bounds how often the window is rebuilt.
	gcInterval = 5 * time.Minute
)

type key struct {
	nodeID      string
	readingType string
	timestamp   int64
}

// Stats is a snapshot of window counters.
type Stats struct {
	DuplicatesBlocked int64
	UniqueProcessed   int64
	Size              int
}

// Window is a bounded-lifetime set over (node, reading type, sensor
// timestamp) keys. Safe for concurrent use.
type Window struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	entries map[key]time.Time
	lastGC  time.Time

	duplicatesBlocked int64
	uniqueProcessed   int64
}

// New builds a window using the real clock.
func New() *Window {
	return NewWithClock(clockwork.NewRealClock())
}

// NewWithClock builds a window with an injected clock for tests.
func NewWithClock(clock clockwork.Clock) *Window {
	return &Window{
		clock:   clock,
		entries: make(map[key]time.Time),
		lastGC:  clock.Now(),
	}
}

// IsDuplicate reports whether the reading was seen within the window. A
// first sighting is recorded and returns false.
func (w *Window) IsDuplicate(nodeID, readingType string, sensorTimestamp int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	if now.Sub(w.lastGC) > gcInterval {
		w.gcLocked(now)
		w.lastGC = now
	}

	k := key{nodeID, readingType, sensorTimestamp}
	if _, seen := w.entries[k]; seen {
		w.duplicatesBlocked++
		return true
	}
	w.entries[k] = now
	w.uniqueProcessed++
	return false
}

// gcLocked rebuilds the map keeping entries inserted within maxAge.
func (w *Window) gcLocked(now time.Time) {
	cutoff := now.Add(-maxAge)
	kept := make(map[key]time.Time, len(w.entries))
	for k, inserted := range w.entries {
		if inserted.After(cutoff) {
			kept[k] = inserted
		}
	}
	w.entries = kept
}

// Stats returns current counters.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		DuplicatesBlocked: w.duplicatesBlocked,
		UniqueProcessed:   w.uniqueProcessed,
		Size:              len(w.entries),
	}
}
