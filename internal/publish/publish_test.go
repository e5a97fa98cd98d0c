package publish

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

func TestTopic(t *testing.T) {
	cases := []struct {
		name                                 string
		source, country, subdivision, nodeID string
		want                                 string
	}{
		{
			name:   "community",
			source: "meshtastic-community", country: "us", subdivision: "new-jersey", nodeID: "!000000a1",
			want: "wesense/decoded/meshtastic-community/us/new-jersey/!000000a1",
		},
		{
			name:   "downlink_unknown_geo",
			source: "meshtastic-downlink", country: "unknown", subdivision: "unknown", nodeID: "!deadbeef",
			want: "wesense/decoded/meshtastic-downlink/unknown/unknown/!deadbeef",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Topic(tc.source, tc.country, tc.subdivision, tc.nodeID); got != tc.want {
				t.Errorf("Topic = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestReadingEncoding(t *testing.T) {
	alt := 120.0
	raw, err := json.Marshal(Reading{
		Timestamp:   1000,
		DeviceID:    "!000000a1",
		Name:        "WS-Rooftop",
		Latitude:    40.0,
		Longitude:   -74.0,
		Altitude:    &alt,
		Country:     "us",
		Subdivision: "new-jersey",
		DataSource:  "MESHTASTIC_DOWNLINK",
		ReadingType: "temperature",
		Value:       18.5,
		Unit:        "°C",
		BoardModel:  "RAK4631",
	})
	if err != nil {
		t.Fatal(err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{
		"timestamp", "device_id", "name", "latitude", "longitude", "altitude",
		"country", "subdivision", "data_source", "reading_type", "value", "unit", "board_model",
	} {
		if _, ok := decoded[field]; !ok {
			t.Errorf("payload missing field %s", field)
		}
	}
	if decoded["value"] != 18.5 {
		t.Errorf("value = %v, want 18.5", decoded["value"])
	}
}

// fakeToken is a canned paho token outcome.
type fakeToken struct {
	complete bool
	err      error
}

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return t.complete }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeConn stubs only Publish; the embedded interface covers the rest.
type fakeConn struct {
	mqtt.Client
	token mqtt.Token
}

func (c fakeConn) Publish(string, byte, bool, interface{}) mqtt.Token { return c.token }

func TestPublishCountsOnlyConfirmedDeliveries(t *testing.T) {
	reading := Reading{DeviceID: "!000000a1", ReadingType: "temperature", Value: 18.5, Unit: "°C"}

	t.Run("confirmed", func(t *testing.T) {
		p := &Publisher{conn: fakeConn{token: fakeToken{complete: true}}, log: zerolog.Nop()}
		p.Publish("wesense/decoded/t/u/v/!000000a1", reading)
		if p.Published() != 1 {
			t.Errorf("Published = %d, want 1", p.Published())
		}
	})

	t.Run("timeout_not_counted", func(t *testing.T) {
		p := &Publisher{conn: fakeConn{token: fakeToken{complete: false}}, log: zerolog.Nop()}
		p.Publish("wesense/decoded/t/u/v/!000000a1", reading)
		if p.Published() != 0 {
			t.Errorf("Published = %d, want 0 after timeout", p.Published())
		}
	})

	t.Run("error_not_counted", func(t *testing.T) {
		token := fakeToken{complete: true, err: errors.New("broker rejected")}
		p := &Publisher{conn: fakeConn{token: token}, log: zerolog.Nop()}
		p.Publish("wesense/decoded/t/u/v/!000000a1", reading)
		if p.Published() != 0 {
			t.Errorf("Published = %d, want 0 after error", p.Published())
		}
	})
}

func TestReadingOmitsEmptyOptionals(t *testing.T) {
	raw, err := json.Marshal(Reading{DeviceID: "!000000a1", ReadingType: "humidity", Value: 55, Unit: "%"})
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if _, ok := decoded["altitude"]; ok {
		t.Error("nil altitude was serialized")
	}
	if _, ok := decoded["name"]; ok {
		t.Error("empty name was serialized")
	}
}
