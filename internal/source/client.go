// Package source manages the upstream MQTT subscriptions, one client per
// configured region. Connection lifecycles are fully independent: a
// broker being down affects only its own source.
package source

import (
	"fmt"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/wesense/mesh-ingester/internal/config"
)

// MessageHandler receives raw payloads tagged with their source label.
// It must not block: hand off and return.
type MessageHandler func(source string, payload []byte)

// Client is one broker subscription carrying a source label.
type Client struct {
	label     string
	topic     string
	conn      mqtt.Client
	connected atomic.Bool
	received  atomic.Int64
	log       zerolog.Logger
	handler   MessageHandler
}

// Connect dials the source's broker and subscribes. The returned client
// auto-reconnects and re-subscribes on connection loss.
func Connect(src config.Source, clientID string, handler MessageHandler, log zerolog.Logger) (*Client, error) {
	c := &Client{
		label:   src.Label,
		topic:   src.Topic,
		handler: handler,
		log:     log.With().Str("component", "source").Str("source", src.Label).Logger(),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", src.Broker, src.Port)).
		SetClientID(fmt.Sprintf("%s-%s", clientID, src.Label)).
		SetKeepAlive(60 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetryInterval(5 * time.Second).
		// Ordered in-line dispatch: the handler is enqueue-only, and
		// per-node telemetry must arrive at the engine in broker order.
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if src.Username != "" {
		opts.SetUsername(src.Username)
	}
	if src.Password != "" {
		opts.SetPassword(src.Password)
	}

	c.conn = mqtt.NewClient(opts)
	token := c.conn.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect source %s: %w", src.Label, err)
	}
	return c, nil
}

func (c *Client) onConnect(client mqtt.Client) {
	c.connected.Store(true)
	c.log.Info().Str("topic", c.topic).Msg("source connected, subscribing")

	token := client.Subscribe(c.topic, 0, c.onMessage)
	token.Wait()
	if err := token.Error(); err != nil {
		c.log.Error().Err(err).Msg("source subscribe failed")
	}
}

func (c *Client) onConnectionLost(_ mqtt.Client, err error) {
	c.connected.Store(false)
	c.log.Warn().Err(err).Msg("source connection lost, will auto-reconnect")
}

func (c *Client) onMessage(_ mqtt.Client, msg mqtt.Message) {
	c.received.Add(1)
	c.handler(c.label, msg.Payload())
}

func (c *Client) Label() string { return c.label }

func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// Received returns the lifetime count of delivered messages.
func (c *Client) Received() int64 {
	return c.received.Load()
}

func (c *Client) Close() {
	c.log.Info().Msg("disconnecting source")
	c.conn.Disconnect(1000)
}
