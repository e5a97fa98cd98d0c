// Package database holds the analytical-store row model, the ClickHouse
// connection, and the batched buffered writer in front of it.
package database

import "time"

// Row is one committed sensor reading, in the exact column order of the
// sensor_readings table.
type Row struct {
	Timestamp      time.Time
	DeviceID       string
	DataSource     string
	NetworkSource  string
	IngestionNode  string
	ReadingType    string
	Value          float64
	Unit           string
	Latitude       float64
	Longitude      float64
	Altitude       *float64
	GeoCountry     string
	GeoSubdivision string
	BoardModel     string
	DeploymentType string
	TransportType  string
	LocationSource string
	NodeName       *string
}
