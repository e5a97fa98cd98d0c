package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Mode selects data-source labelling and topic routing:
	// "community" (single local source) or "downlink" (regions file).
	// "public" is a legacy alias for "downlink".
	Mode        string `env:"MESH_MODE" envDefault:"community"`
	LegacyMode  bool   `env:"-"`
	SourcesFile string `env:"SOURCES_FILE" envDefault:"config/mqtt_sources.json"`

	// Local broker used as the single source in community mode.
	MQTTBroker   string `env:"MQTT_BROKER" envDefault:"localhost"`
	MQTTPort     int    `env:"MQTT_PORT" envDefault:"1883"`
	MQTTUsername string `env:"MQTT_USERNAME"`
	MQTTPassword string `env:"MQTT_PASSWORD"`
	MQTTTopic    string `env:"MQTT_SUBSCRIBE_TOPIC" envDefault:"msh/+/2/e/#"`

	// Downstream publisher for decoded readings.
	OutputBroker   string `env:"WESENSE_OUTPUT_BROKER" envDefault:"localhost"`
	OutputPort     int    `env:"WESENSE_OUTPUT_PORT" envDefault:"1883"`
	OutputUsername string `env:"WESENSE_OUTPUT_USERNAME"`
	OutputPassword string `env:"WESENSE_OUTPUT_PASSWORD"`

	ClickHouseHost     string `env:"CLICKHOUSE_HOST" envDefault:"localhost"`
	ClickHousePort     int    `env:"CLICKHOUSE_PORT" envDefault:"9000"`
	ClickHouseDatabase string `env:"CLICKHOUSE_DATABASE" envDefault:"wesense"`
	ClickHouseTable    string `env:"CLICKHOUSE_TABLE" envDefault:"sensor_readings"`
	ClickHouseUser     string `env:"CLICKHOUSE_USER" envDefault:"default"`
	ClickHousePassword string `env:"CLICKHOUSE_PASSWORD"`

	BatchSize     int           `env:"BATCH_SIZE" envDefault:"100"`
	FlushInterval time.Duration `env:"FLUSH_INTERVAL" envDefault:"10s"`
	StatsInterval time.Duration `env:"STATS_INTERVAL" envDefault:"10s"`

	// Base64 channel PSK for encrypted packets.
	ChannelKey string `env:"CHANNEL_KEY" envDefault:"AQ=="`

	IngestionNodeID string `env:"INGESTION_NODE_ID"`
	GeocodeDataset  string `env:"GEOCODE_DATASET" envDefault:"data/places.tsv"`
	FutureTSLog     string `env:"FUTURE_TIMESTAMP_LOG" envDefault:"logs/future_timestamps.log"`

	HTTPAddr string `env:"HTTP_ADDR" envDefault:":9180"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load reads configuration from a .env file (if present) and the environment.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	switch cfg.Mode {
	case "community", "downlink":
	case "public":
		cfg.Mode = "downlink"
		cfg.LegacyMode = true
	default:
		return nil, fmt.Errorf("invalid MESH_MODE %q", cfg.Mode)
	}

	if cfg.IngestionNodeID == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "unknown"
		}
		cfg.IngestionNodeID = host
	}

	return cfg, nil
}

// DataSource returns the analytical-store provenance label for the mode.
func (c *Config) DataSource() string {
	if c.Mode == "downlink" {
		return "MESHTASTIC_DOWNLINK"
	}
	return "MESHTASTIC_COMMUNITY"
}
