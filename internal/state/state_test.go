package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

var testLog = zerolog.Nop()

func TestNodeStore(t *testing.T) {
	t.Run("save_load_roundtrip", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "cache", "nodes.json")
		alt := 120.0

		s := NewNodeStore(path, testLog)
		s.Put("!000000a1", &NodeRecord{Lat: 40.0, Lon: -74.0, Alt: &alt, Name: "WS-Rooftop", Hardware: "RAK4631", LastEnvTime: 1000})
		s.Put("!000000a2", &NodeRecord{Lat: 51.5, Lon: -0.1})

		reloaded := NewNodeStore(path, testLog)
		reloaded.Load()

		if reloaded.Len() != 2 {
			t.Fatalf("Len = %d, want 2", reloaded.Len())
		}
		rec := reloaded.Get("!000000a1")
		if rec == nil {
			t.Fatal("record missing after reload")
		}
		if rec.Lat != 40.0 || rec.Lon != -74.0 || rec.LastEnvTime != 1000 {
			t.Errorf("reloaded record = %+v", rec)
		}
		if rec.Alt == nil || *rec.Alt != 120.0 {
			t.Errorf("Alt = %v, want 120", rec.Alt)
		}
		if reloaded.NamedCount() != 1 {
			t.Errorf("NamedCount = %d, want 1", reloaded.NamedCount())
		}
	})

	t.Run("legacy_file_key", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nodes.json")
		s := NewNodeStore(path, testLog)
		s.Put("!000000a1", &NodeRecord{Lat: 1, Lon: 2})

		raw, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal(raw, &envelope); err != nil {
			t.Fatal(err)
		}
		if _, ok := envelope["nodes_with_position"]; !ok {
			t.Error("file missing nodes_with_position key")
		}
		if _, ok := envelope["saved_at"]; !ok {
			t.Error("file missing saved_at key")
		}
	})

	t.Run("missing_file_loads_empty", func(t *testing.T) {
		s := NewNodeStore(filepath.Join(t.TempDir(), "absent.json"), testLog)
		s.Load()
		if s.Len() != 0 {
			t.Errorf("Len = %d, want 0", s.Len())
		}
	})

	t.Run("corrupt_file_loads_empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		os.WriteFile(path, []byte("{broken"), 0o644)
		s := NewNodeStore(path, testLog)
		s.Load()
		if s.Len() != 0 {
			t.Errorf("Len = %d, want 0", s.Len())
		}
	})

	t.Run("env_time_monotonic", func(t *testing.T) {
		s := NewNodeStore(filepath.Join(t.TempDir(), "nodes.json"), testLog)
		s.Put("!000000a1", &NodeRecord{Lat: 1, Lon: 2, LastEnvTime: 2000})

		if s.UpdateEnvTime("!000000a1", 1500) {
			t.Error("older timestamp advanced LastEnvTime")
		}
		if s.UpdateEnvTime("!000000a1", 2000) {
			t.Error("equal timestamp advanced LastEnvTime")
		}
		if !s.UpdateEnvTime("!000000a1", 2001) {
			t.Error("newer timestamp did not advance LastEnvTime")
		}
		if got := s.Get("!000000a1").LastEnvTime; got != 2001 {
			t.Errorf("LastEnvTime = %d, want 2001", got)
		}
	})

	t.Run("update_unknown_node_is_noop", func(t *testing.T) {
		s := NewNodeStore(filepath.Join(t.TempDir(), "nodes.json"), testLog)
		if s.UpdateEnvTime("!deadbeef", 100) {
			t.Error("update on unknown node reported success")
		}
	})
}

func TestPendingStore(t *testing.T) {
	t.Run("append_take_order", func(t *testing.T) {
		clock := clockwork.NewFakeClockAt(time.Unix(100000, 0))
		s := NewPendingStoreWithClock(filepath.Join(t.TempDir(), "pending.json"), testLog, clock)

		s.Append("!000000a1", Reading{Type: "temperature", Value: 18.5, Unit: "°C", Timestamp: 99990})
		s.Append("!000000a1", Reading{Type: "humidity", Value: 55, Unit: "%", Timestamp: 99991})

		if s.NodeDepth("!000000a1") != 2 {
			t.Fatalf("NodeDepth = %d, want 2", s.NodeDepth("!000000a1"))
		}

		got := s.Take("!000000a1")
		if len(got) != 2 {
			t.Fatalf("Take returned %d readings, want 2", len(got))
		}
		if got[0].Type != "temperature" || got[1].Type != "humidity" {
			t.Errorf("order = %s, %s; want temperature, humidity", got[0].Type, got[1].Type)
		}
		if s.Depth() != 0 {
			t.Errorf("Depth after Take = %d, want 0", s.Depth())
		}
		if s.Take("!000000a1") != nil {
			t.Error("second Take returned readings")
		}
	})

	t.Run("load_filters_expired", func(t *testing.T) {
		now := time.Unix(1_000_000_000, 0)
		path := filepath.Join(t.TempDir(), "pending.json")

		writer := NewPendingStoreWithClock(path, testLog, clockwork.NewFakeClockAt(now))
		weekSeconds := int64(MaxPendingAge / time.Second)
		writer.Append("!000000a1", Reading{Type: "temperature", Value: 1, Unit: "°C", Timestamp: now.Unix() - weekSeconds})     // exactly 7 days: dropped
		writer.Append("!000000a1", Reading{Type: "temperature", Value: 2, Unit: "°C", Timestamp: now.Unix() - weekSeconds + 1}) // just inside
		writer.Append("!000000a1", Reading{Type: "temperature", Value: 3, Unit: "°C", Timestamp: now.Unix() + 30})              // 30s future: kept
		writer.Append("!000000a1", Reading{Type: "temperature", Value: 4, Unit: "°C", Timestamp: now.Unix() + 31})              // 31s future: dropped

		reader := NewPendingStoreWithClock(path, testLog, clockwork.NewFakeClockAt(now))
		valid, expired := reader.Load()
		if valid != 2 {
			t.Errorf("valid = %d, want 2", valid)
		}
		if expired != 2 {
			t.Errorf("expired = %d, want 2", expired)
		}

		got := reader.Take("!000000a1")
		if len(got) != 2 {
			t.Fatalf("Take returned %d, want 2", len(got))
		}
		if got[0].Value != 2 || got[1].Value != 3 {
			t.Errorf("kept values = %v, %v; want 2, 3", got[0].Value, got[1].Value)
		}
	})

	t.Run("legacy_tuple_encoding", func(t *testing.T) {
		raw, err := json.Marshal(Reading{Type: "pressure", Value: 1013.2, Unit: "hPa", Timestamp: 1000})
		if err != nil {
			t.Fatal(err)
		}
		want := `["pressure",1013.2,"hPa",1000]`
		if string(raw) != want {
			t.Errorf("encoded = %s, want %s", raw, want)
		}

		var back Reading
		if err := json.Unmarshal(raw, &back); err != nil {
			t.Fatal(err)
		}
		if back.Type != "pressure" || back.Value != 1013.2 || back.Unit != "hPa" || back.Timestamp != 1000 {
			t.Errorf("decoded = %+v", back)
		}
	})

	t.Run("corrupt_file_loads_empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pending.json")
		os.WriteFile(path, []byte("not json"), 0o644)
		s := NewPendingStore(path, testLog)
		valid, expired := s.Load()
		if valid != 0 || expired != 0 {
			t.Errorf("valid/expired = %d/%d, want 0/0", valid, expired)
		}
	})
}

func TestNodeInfoBuffer(t *testing.T) {
	b := NewNodeInfoBuffer()

	b.Merge("!000000a1", "Sensor One", "")
	b.Merge("!000000a1", "", "TBEAM")

	info, ok := b.Take("!000000a1")
	if !ok {
		t.Fatal("Take found nothing")
	}
	if info.Name != "Sensor One" || info.Hardware != "TBEAM" {
		t.Errorf("info = %+v", info)
	}
	if _, ok := b.Take("!000000a1"); ok {
		t.Error("Take did not consume the entry")
	}
}
