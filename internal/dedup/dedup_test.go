package dedup

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestWindow(t *testing.T) {
	t.Run("first_observation_wins", func(t *testing.T) {
		w := New()
		if w.IsDuplicate("!00a1", "temperature", 1000) {
			t.Error("first sighting flagged as duplicate")
		}
		if !w.IsDuplicate("!00a1", "temperature", 1000) {
			t.Error("second sighting not flagged")
		}
	})

	t.Run("key_components_distinguish", func(t *testing.T) {
		w := New()
		w.IsDuplicate("!00a1", "temperature", 1000)
		if w.IsDuplicate("!00a1", "humidity", 1000) {
			t.Error("different reading type flagged as duplicate")
		}
		if w.IsDuplicate("!00a2", "temperature", 1000) {
			t.Error("different node flagged as duplicate")
		}
		if w.IsDuplicate("!00a1", "temperature", 1001) {
			t.Error("different timestamp flagged as duplicate")
		}
	})

	t.Run("entries_expire_after_an_hour", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		w := NewWithClock(clock)

		w.IsDuplicate("!00a1", "temperature", 1000)

		// Within the hour the repeat is still blocked.
		clock.Advance(59 * time.Minute)
		if !w.IsDuplicate("!00a1", "temperature", 1000) {
			t.Error("repeat within window not blocked")
		}

		// Past the hour, after a GC cycle, the key is forgotten.
		clock.Advance(62 * time.Minute)
		if w.IsDuplicate("!00a1", "temperature", 1000) {
			t.Error("expired entry still blocking")
		}
	})

	t.Run("gc_runs_at_most_every_five_minutes", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		w := NewWithClock(clock)

		w.IsDuplicate("!00a1", "temperature", 1000)
		clock.Advance(2 * time.Hour)

		// First call after the gap triggers GC; stale entry drops out.
		w.IsDuplicate("!00a2", "temperature", 2000)
		if got := w.Stats().Size; got != 1 {
			t.Errorf("size after GC = %d, want 1", got)
		}
	})

	t.Run("counters", func(t *testing.T) {
		w := New()
		w.IsDuplicate("!00a1", "temperature", 1000)
		w.IsDuplicate("!00a1", "temperature", 1000)
		w.IsDuplicate("!00a1", "pressure", 1000)

		s := w.Stats()
		if s.UniqueProcessed != 2 {
			t.Errorf("UniqueProcessed = %d, want 2", s.UniqueProcessed)
		}
		if s.DuplicatesBlocked != 1 {
			t.Errorf("DuplicatesBlocked = %d, want 1", s.DuplicatesBlocked)
		}
		if s.Size != 2 {
			t.Errorf("Size = %d, want 2", s.Size)
		}
	})
}
