package database

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/rs/zerolog"
)

// Inserter performs one columnar insert of a batch of rows.
type Inserter interface {
	Insert(ctx context.Context, rows []Row) error
}

// ClickHouse is the real analytical store connection.
type ClickHouse struct {
	conn  clickhouse.Conn
	table string
	log   zerolog.Logger
}

type ClickHouseConfig struct {
	Host     string
	Port     int
	Database string
	Table    string
	User     string
	Password string
}

func NewClickHouse(cfg ClickHouseConfig, log zerolog.Logger) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}
	return &ClickHouse{
		conn:  conn,
		table: fmt.Sprintf("%s.%s", cfg.Database, cfg.Table),
		log:   log.With().Str("component", "clickhouse").Logger(),
	}, nil
}

// Ping verifies the connection at startup.
func (c *ClickHouse) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *ClickHouse) Insert(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(`INSERT INTO %s (
			timestamp,
			device_id,
			data_source,
			network_source,
			ingestion_node_id,
			reading_type,
			value,
			unit,
			latitude,
			longitude,
			altitude,
			geo_country,
			geo_subdivision,
			board_model,
			deployment_type,
			transport_type,
			location_source,
			node_name
		)`, c.table))
	if err != nil {
		return fmt.Errorf("prepare clickhouse batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(
			r.Timestamp,
			r.DeviceID,
			r.DataSource,
			r.NetworkSource,
			r.IngestionNode,
			r.ReadingType,
			r.Value,
			r.Unit,
			r.Latitude,
			r.Longitude,
			r.Altitude,
			r.GeoCountry,
			r.GeoSubdivision,
			r.BoardModel,
			r.DeploymentType,
			r.TransportType,
			r.LocationSource,
			r.NodeName,
		); err != nil {
			_ = batch.Close()
			return fmt.Errorf("append clickhouse batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		_ = batch.Close()
		return fmt.Errorf("send clickhouse batch: %w", err)
	}
	if err := batch.Close(); err != nil {
		return fmt.Errorf("close clickhouse batch: %w", err)
	}
	c.log.Debug().Int("rows", len(rows)).Msg("batch written")
	return nil
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
