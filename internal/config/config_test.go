package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setEnvs(t *testing.T, vars map[string]string) func() {
	t.Helper()
	saved := map[string]string{}
	for k, v := range vars {
		saved[k] = os.Getenv(k)
		os.Setenv(k, v)
	}
	return func() {
		for k, v := range saved {
			if v == "" {
				os.Unsetenv(k)
			} else {
				os.Setenv(k, v)
			}
		}
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{"INGESTION_NODE_ID": "test-node"})
		defer cleanup()

		cfg, err := Load("nonexistent.env")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Mode != "community" {
			t.Errorf("Mode = %q, want community", cfg.Mode)
		}
		if cfg.BatchSize != 100 {
			t.Errorf("BatchSize = %d, want 100", cfg.BatchSize)
		}
		if cfg.FlushInterval != 10*time.Second {
			t.Errorf("FlushInterval = %v, want 10s", cfg.FlushInterval)
		}
		if cfg.ChannelKey != "AQ==" {
			t.Errorf("ChannelKey = %q, want AQ==", cfg.ChannelKey)
		}
		if cfg.DataSource() != "MESHTASTIC_COMMUNITY" {
			t.Errorf("DataSource = %q, want MESHTASTIC_COMMUNITY", cfg.DataSource())
		}
	})

	t.Run("public_is_downlink_alias", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{"MESH_MODE": "public"})
		defer cleanup()

		cfg, err := Load("nonexistent.env")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if cfg.Mode != "downlink" {
			t.Errorf("Mode = %q, want downlink", cfg.Mode)
		}
		if !cfg.LegacyMode {
			t.Error("LegacyMode = false, want true")
		}
		if cfg.DataSource() != "MESHTASTIC_DOWNLINK" {
			t.Errorf("DataSource = %q, want MESHTASTIC_DOWNLINK", cfg.DataSource())
		}
	})

	t.Run("invalid_mode_rejected", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{"MESH_MODE": "bogus"})
		defer cleanup()

		if _, err := Load("nonexistent.env"); err == nil {
			t.Error("expected error for invalid mode")
		}
	})

	t.Run("node_id_defaults_to_hostname", func(t *testing.T) {
		cleanup := setEnvs(t, map[string]string{"INGESTION_NODE_ID": ""})
		defer cleanup()
		os.Unsetenv("INGESTION_NODE_ID")

		cfg, err := Load("nonexistent.env")
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		host, _ := os.Hostname()
		if cfg.IngestionNodeID != host {
			t.Errorf("IngestionNodeID = %q, want hostname %q", cfg.IngestionNodeID, host)
		}
	})
}

func TestLoadSources(t *testing.T) {
	dir := t.TempDir()

	t.Run("strips_untested_prefix_and_sorts", func(t *testing.T) {
		path := filepath.Join(dir, "sources.json")
		body := `{
			"untested_EU_868": {"broker": "mqtt.eu", "port": 1883, "topic": "msh/EU_868/2/e/#", "cache_file": "cache/eu.json", "enabled": true, "publish_to_wesense": true},
			"US": {"broker": "mqtt.us", "topic": "msh/US/2/e/#", "cache_file": "cache/us.json", "enabled": true, "publish_to_wesense": false}
		}`
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}

		sources, err := LoadSources(path)
		if err != nil {
			t.Fatalf("LoadSources: %v", err)
		}
		if len(sources) != 2 {
			t.Fatalf("got %d sources, want 2", len(sources))
		}
		if sources[0].Label != "EU_868" || sources[1].Label != "US" {
			t.Errorf("labels = %q, %q; want EU_868, US", sources[0].Label, sources[1].Label)
		}
		if sources[1].Port != 1883 {
			t.Errorf("default port = %d, want 1883", sources[1].Port)
		}
		if sources[1].PublishToWesense {
			t.Error("US PublishToWesense = true, want false")
		}
	})

	t.Run("missing_file_errors", func(t *testing.T) {
		if _, err := LoadSources(filepath.Join(dir, "absent.json")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("invalid_json_errors", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		os.WriteFile(path, []byte("{nope"), 0o644)
		if _, err := LoadSources(path); err == nil {
			t.Error("expected error for invalid JSON")
		}
	})

	t.Run("pending_file_naming", func(t *testing.T) {
		s := Source{CacheFile: "cache/us.json"}
		if got := s.PendingFile(); got != "cache/us_pending.json" {
			t.Errorf("PendingFile = %q, want cache/us_pending.json", got)
		}
	})
}
