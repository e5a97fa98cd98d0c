// Package mesh decodes the Meshtastic MQTT wire format: the ServiceEnvelope
// framing, AES-CTR channel encryption, and the three application ports the
// ingester cares about (position, nodeinfo, telemetry).
package mesh

import "fmt"

// Application port numbers recognized by the decoder. Traffic on any other
// port is ignored.
const (
	PortPosition  = 3
	PortNodeInfo  = 4
	PortTelemetry = 67
)

// Position is a decoded POSITION_APP payload. Latitude and longitude are
// degrees; a zero latitude or longitude means the fix is invalid.
type Position struct {
	Latitude  float64
	Longitude float64
	Altitude  *int32
}

// Valid reports whether the position carries a usable fix.
func (p Position) Valid() bool {
	return p.Latitude != 0 && p.Longitude != 0
}

// NodeInfo is a decoded NODEINFO_APP payload.
type NodeInfo struct {
	LongName string
	Hardware string
}

// Telemetry is a decoded TELEMETRY_APP payload. Time is the sensor
// timestamp in epoch seconds as reported by the originating node. Metric
// pointers are nil when the field was absent or zero on the wire.
type Telemetry struct {
	Time               int64
	BatteryLevel       *uint32
	Voltage            *float32
	Temperature        *float32
	RelativeHumidity   *float32
	BarometricPressure *float32
}

// HasEnvironment reports whether any environmental metric is present.
func (t Telemetry) HasEnvironment() bool {
	return t.Temperature != nil || t.RelativeHumidity != nil || t.BarometricPressure != nil
}

// HasDevice reports whether device metrics are present.
func (t Telemetry) HasDevice() bool {
	return t.BatteryLevel != nil || t.Voltage != nil
}

// Event is a tagged variant over the decoded payload types. Exactly one of
// Position, NodeInfo, Telemetry is non-nil.
type Event struct {
	NodeID string // canonical "!%08x" form of the sender id
	From   uint32
	Port   uint32

	Position  *Position
	NodeInfo  *NodeInfo
	Telemetry *Telemetry
}

// FormatNodeID renders a numeric sender id in the canonical hex form.
func FormatNodeID(from uint32) string {
	return fmt.Sprintf("!%08x", from)
}
