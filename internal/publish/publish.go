// Package publish delivers enriched readings to the local broker for
// downstream consumers, one fire-and-forget publish per committed row.
package publish

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Reading is the decoded-reading payload published per committed row.
type Reading struct {
	Timestamp   int64    `json:"timestamp"`
	DeviceID    string   `json:"device_id"`
	Name        string   `json:"name,omitempty"`
	Latitude    float64  `json:"latitude"`
	Longitude   float64  `json:"longitude"`
	Altitude    *float64 `json:"altitude,omitempty"`
	Country     string   `json:"country"`
	Subdivision string   `json:"subdivision"`
	DataSource  string   `json:"data_source"`
	ReadingType string   `json:"reading_type"`
	Value       float64  `json:"value"`
	Unit        string   `json:"unit"`
	BoardModel  string   `json:"board_model,omitempty"`
}

// Topic builds the deterministic downstream topic for a reading.
func Topic(mqttSource, country, subdivision, nodeID string) string {
	return fmt.Sprintf("wesense/decoded/%s/%s/%s/%s", mqttSource, country, subdivision, nodeID)
}

// Publisher owns the downstream broker connection.
type Publisher struct {
	conn      mqtt.Client
	connected atomic.Bool
	published atomic.Int64
	log       zerolog.Logger
}

type Options struct {
	Broker   string
	Port     int
	Username string
	Password string
	ClientID string
}

// Connect dials the downstream broker. Publishing while disconnected is
// tolerated: paho queues or drops per its reconnect state, and delivery
// here is best-effort by design.
func Connect(opts Options, log zerolog.Logger) (*Publisher, error) {
	p := &Publisher{
		log: log.With().Str("component", "publisher").Logger(),
	}

	clientOpts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", opts.Broker, opts.Port)).
		SetClientID(opts.ClientID).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(mqtt.Client) {
			p.connected.Store(true)
			p.log.Info().Msg("publisher connected")
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			p.connected.Store(false)
			p.log.Warn().Err(err).Msg("publisher connection lost, will auto-reconnect")
		})

	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}

	p.conn = mqtt.NewClient(clientOpts)
	token := p.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect publisher: %w", err)
	}
	return p, nil
}

// Publish sends one reading. Errors are logged, never propagated: a
// missed downstream publish must not stall ingestion.
func (p *Publisher) Publish(topic string, reading Reading) {
	payload, err := json.Marshal(reading)
	if err != nil {
		p.log.Error().Err(err).Msg("failed to encode reading")
		return
	}
	token := p.conn.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(time.Second) {
		p.log.Warn().Str("topic", topic).Msg("publish confirmation timed out")
		return
	}
	if token.Error() != nil {
		p.log.Warn().Err(token.Error()).Str("topic", topic).Msg("publish failed")
		return
	}
	p.published.Add(1)
}

// Published returns the lifetime count of publish attempts handed to the
// broker.
func (p *Publisher) Published() int64 {
	return p.published.Load()
}

func (p *Publisher) IsConnected() bool {
	return p.connected.Load()
}

func (p *Publisher) Close() {
	p.log.Info().Msg("disconnecting publisher")
	p.conn.Disconnect(1000)
}
