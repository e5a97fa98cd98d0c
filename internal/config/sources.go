package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// Source describes one MQTT ingestion endpoint (a region gateway or the
// local community broker). The on-disk format is the legacy operator JSON:
// a top-level object keyed by source label, with an optional "untested_"
// prefix on keys that is stripped on load.
type Source struct {
	Label            string `json:"-"`
	Broker           string `json:"broker"`
	Port             int    `json:"port"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	Topic            string `json:"topic"`
	CacheFile        string `json:"cache_file"`
	Enabled          bool   `json:"enabled"`
	PublishToWesense bool   `json:"publish_to_wesense"`
}

// PendingFile derives the pending-telemetry cache path from the node cache
// path, matching the legacy naming scheme.
func (s Source) PendingFile() string {
	if strings.HasSuffix(s.CacheFile, ".json") {
		return strings.TrimSuffix(s.CacheFile, ".json") + "_pending.json"
	}
	return s.CacheFile + "_pending"
}

// LoadSources reads the sources registry from path. Labels are normalized
// and the result sorted by label for deterministic startup order.
func LoadSources(path string) ([]Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}

	var byLabel map[string]Source
	if err := json.Unmarshal(raw, &byLabel); err != nil {
		return nil, fmt.Errorf("parse sources file %s: %w", path, err)
	}

	sources := make([]Source, 0, len(byLabel))
	for label, src := range byLabel {
		src.Label = strings.TrimPrefix(label, "untested_")
		if src.Port == 0 {
			src.Port = 1883
		}
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Label < sources[j].Label })
	return sources, nil
}

// CommunitySources returns the single synthetic LOCAL source used in
// community mode, built from the local-broker env settings.
func (c *Config) CommunitySources() []Source {
	return []Source{{
		Label:            "LOCAL",
		Broker:           c.MQTTBroker,
		Port:             c.MQTTPort,
		Username:         c.MQTTUsername,
		Password:         c.MQTTPassword,
		Topic:            c.MQTTTopic,
		CacheFile:        "cache/meshtastic_cache_local.json",
		Enabled:          true,
		PublishToWesense: true,
	}}
}
