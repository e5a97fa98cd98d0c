package state

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// saveEvery is the LastEnvTime-update amortization factor: the node file
// is rewritten on every Nth monotonic update rather than every one.
const saveEvery = 10

type nodeFile struct {
	Nodes   map[string]*NodeRecord `json:"nodes_with_position"`
	SavedAt int64                  `json:"saved_at"`
}

// NodeStore is the per-source node record map with JSON persistence.
type NodeStore struct {
	mu          sync.RWMutex
	path        string
	log         zerolog.Logger
	nodes       map[string]*NodeRecord
	saveCounter int
}

func NewNodeStore(path string, log zerolog.Logger) *NodeStore {
	return &NodeStore{
		path:  path,
		log:   log.With().Str("cache", path).Logger(),
		nodes: make(map[string]*NodeRecord),
	}
}

// Load reads the cache file. A missing file yields an empty store; a parse
// error is logged and likewise yields an empty store.
func (s *NodeStore) Load() {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return
	}
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to read node cache")
		return
	}

	var file nodeFile
	if err := json.Unmarshal(raw, &file); err != nil {
		s.log.Warn().Err(err).Msg("node cache unparseable, starting empty")
		return
	}

	s.mu.Lock()
	if file.Nodes != nil {
		s.nodes = file.Nodes
	}
	s.mu.Unlock()

	age := time.Now().Unix() - file.SavedAt
	s.log.Info().Int("nodes", len(file.Nodes)).Int64("age_s", age).Msg("node cache loaded")
}

// Save writes the cache file. I/O errors are logged and swallowed: cache
// staleness is tolerable, ingestion is not.
func (s *NodeStore) Save() {
	s.mu.RLock()
	file := nodeFile{Nodes: s.nodes, SavedAt: time.Now().Unix()}
	raw, err := json.MarshalIndent(file, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode node cache")
		return
	}

	if dir := filepath.Dir(s.path); dir != "." {
		_ = os.MkdirAll(dir, 0o755)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		s.log.Warn().Err(err).Msg("failed to write node cache")
	}
}

// Get returns the record for a node, or nil.
func (s *NodeStore) Get(nodeID string) *NodeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes[nodeID]
}

// Put replaces the record for a node and persists the store.
func (s *NodeStore) Put(nodeID string, rec *NodeRecord) {
	s.mu.Lock()
	s.nodes[nodeID] = rec
	s.mu.Unlock()
	s.Save()
}

// UpdateEnvTime advances LastEnvTime iff ts is strictly greater than the
// stored value. Every saveEvery-th advance persists the store.
func (s *NodeStore) UpdateEnvTime(nodeID string, ts int64) (updated bool) {
	s.mu.Lock()
	rec, ok := s.nodes[nodeID]
	if !ok || ts <= rec.LastEnvTime {
		s.mu.Unlock()
		return false
	}
	rec.LastEnvTime = ts
	s.saveCounter++
	flush := s.saveCounter >= saveEvery
	if flush {
		s.saveCounter = 0
	}
	s.mu.Unlock()

	if flush {
		s.Save()
	}
	return true
}

// Len returns the number of known nodes.
func (s *NodeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// NamedCount returns how many nodes carry a human label.
func (s *NodeStore) NamedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.nodes {
		if rec.Name != "" {
			n++
		}
	}
	return n
}

// EnvSeenSince collects node ids whose last committed environmental
// reading falls within the window ending now.
func (s *NodeStore) EnvSeenSince(now time.Time, window time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, rec := range s.nodes {
		if rec.LastEnvTime == 0 {
			continue
		}
		age := now.Unix() - rec.LastEnvTime
		if age >= 0 && age <= int64(window/time.Second) {
			ids = append(ids, id)
		}
	}
	return ids
}
