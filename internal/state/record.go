// Package state holds per-source correlation state: the node store (last
// known position and metadata per node), the durable pending-telemetry
// buffer, and the in-memory pending-nodeinfo buffer.
//
// The on-disk JSON formats are a compatibility boundary with operators and
// migration scripts; field names and the saved_at envelope match the
// legacy cache files byte-for-byte in shape.
package state

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// MaxPendingAge is the oldest a buffered reading may be.
	MaxPendingAge = 7 * 24 * time.Hour
	// FutureTolerance is how far ahead of wall clock a sensor timestamp
	// may run before it is rejected.
	FutureTolerance = 30 * time.Second
)

// NodeRecord is the correlated state for one node within one source. A
// record exists only once a valid (nonzero lat and lon) position has been
// observed. LastEnvTime is the most recent sensor timestamp for which an
// environmental reading was committed; it only ever increases.
type NodeRecord struct {
	Lat         float64  `json:"lat"`
	Lon         float64  `json:"lon"`
	Alt         *float64 `json:"alt,omitempty"`
	Name        string   `json:"name,omitempty"`
	Hardware    string   `json:"hardware,omitempty"`
	LastEnvTime int64    `json:"last_env_time,omitempty"`
}

// HasValidPosition reports whether the record carries a usable fix.
func (r *NodeRecord) HasValidPosition() bool {
	return r != nil && r.Lat != 0 && r.Lon != 0
}

// SamePlace reports whether lat, lon and alt all match the record.
func (r *NodeRecord) SamePlace(lat, lon float64, alt *float64) bool {
	if r.Lat != lat || r.Lon != lon {
		return false
	}
	if (r.Alt == nil) != (alt == nil) {
		return false
	}
	return r.Alt == nil || *r.Alt == *alt
}

// Reading is one buffered environmental measurement. The legacy cache
// encodes readings as 4-element arrays, not objects.
type Reading struct {
	Type      string
	Value     float64
	Unit      string
	Timestamp int64
}

func (r Reading) MarshalJSON() ([]byte, error) {
	return json.Marshal([4]any{r.Type, r.Value, r.Unit, r.Timestamp})
}

func (r *Reading) UnmarshalJSON(data []byte) error {
	var tuple [4]json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if err := json.Unmarshal(tuple[0], &r.Type); err != nil {
		return fmt.Errorf("reading type: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &r.Value); err != nil {
		return fmt.Errorf("reading value: %w", err)
	}
	if err := json.Unmarshal(tuple[2], &r.Unit); err != nil {
		return fmt.Errorf("reading unit: %w", err)
	}
	if err := json.Unmarshal(tuple[3], &r.Timestamp); err != nil {
		return fmt.Errorf("reading timestamp: %w", err)
	}
	return nil
}

// Fresh reports whether the reading survives the age and future-timestamp
// rules at the given wall-clock time.
func (r Reading) Fresh(now time.Time) bool {
	age := now.Unix() - r.Timestamp
	if age >= int64(MaxPendingAge/time.Second) {
		return false
	}
	if -age > int64(FutureTolerance/time.Second) {
		return false
	}
	return true
}
