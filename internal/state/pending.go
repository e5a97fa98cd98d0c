package state

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

type pendingFile struct {
	Pending map[string][]Reading `json:"pending_telemetry"`
	SavedAt int64                `json:"saved_at"`
}

// PendingStore buffers environmental readings that arrived before any
// position was known for their node, durably across restarts.
type PendingStore struct {
	mu     sync.RWMutex
	path   string
	log    zerolog.Logger
	clock  clockwork.Clock
	byNode map[string][]Reading
}

func NewPendingStore(path string, log zerolog.Logger) *PendingStore {
	return NewPendingStoreWithClock(path, log, clockwork.NewRealClock())
}

func NewPendingStoreWithClock(path string, log zerolog.Logger, clock clockwork.Clock) *PendingStore {
	return &PendingStore{
		path:   path,
		log:    log.With().Str("cache", path).Logger(),
		clock:  clock,
		byNode: make(map[string][]Reading),
	}
}

// Load reads the pending cache, dropping entries that fail the age or
// future-timestamp rules, and reports valid and expired counts.
func (s *PendingStore) Load() (valid, expired int) {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, 0
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read pending cache")
		return 0, 0
	}

	var file pendingFile
	if err := json.Unmarshal(raw, &file); err != nil {
		s.log.Warn().Err(err).Msg("pending cache unparseable, starting empty")
		return 0, 0
	}

	now := s.clock.Now()
	filtered := make(map[string][]Reading, len(file.Pending))
	for nodeID, readings := range file.Pending {
		var keep []Reading
		for _, r := range readings {
			if r.Fresh(now) {
				keep = append(keep, r)
			} else {
				expired++
			}
		}
		if len(keep) > 0 {
			filtered[nodeID] = keep
			valid += len(keep)
		}
	}

	s.mu.Lock()
	s.byNode = filtered
	s.mu.Unlock()

	if valid > 0 || expired > 0 {
		s.log.Info().
			Int("valid", valid).
			Int("expired", expired).
			Int("nodes", len(filtered)).
			Msg("pending telemetry loaded")
	}
	return valid, expired
}

// Save writes the pending cache; errors are logged and swallowed.
func (s *PendingStore) Save() {
	s.mu.RLock()
	file := pendingFile{Pending: s.byNode, SavedAt: s.clock.Now().Unix()}
	raw, err := json.MarshalIndent(file, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode pending cache")
		return
	}

	if dir := filepath.Dir(s.path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		s.log.Warn().Err(err).Msg("failed to write pending cache")
	}
}

// Append queues a reading for a node and persists the buffer.
func (s *PendingStore) Append(nodeID string, r Reading) int {
	s.mu.Lock()
	s.byNode[nodeID] = append(s.byNode[nodeID], r)
	depth := len(s.byNode[nodeID])
	s.mu.Unlock()
	s.Save()
	return depth
}

// Take removes and returns a node's queue, expiry-filtered, in insertion
// order. The buffer is persisted after removal when the node had entries.
func (s *PendingStore) Take(nodeID string) []Reading {
	s.mu.Lock()
	readings, ok := s.byNode[nodeID]
	if ok {
		delete(s.byNode, nodeID)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}
	s.Save()

	now := s.clock.Now()
	var fresh []Reading
	for _, r := range readings {
		if r.Fresh(now) {
			fresh = append(fresh, r)
		}
	}
	return fresh
}

// Depth returns the total number of buffered readings.
func (s *PendingStore) Depth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, readings := range s.byNode {
		n += len(readings)
	}
	return n
}

// NodeDepth returns how many readings are queued for one node.
func (s *PendingStore) NodeDepth(nodeID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byNode[nodeID])
}
