// Package mqtt wraps the paho client for the control-plane publish
// path: retained config messages with a bounded wait for the broker
// acknowledgment.
package mqtt

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"agromind-sense/internal/domain"
)

// Publisher is what the control plane needs from the broker; tests
// substitute a fake.
type Publisher interface {
	PublishRetained(topic string, qos byte, payload []byte, timeout time.Duration) error
}

type Config struct {
	Broker   string
	ClientID string
	Username string
	Password string
}

type Client struct {
	client mqtt.Client
}

func NewClient(cfg Config) (*Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &Client{client: client}, nil
}

var _ Publisher = (*Client)(nil)

// PublishRetained publishes with the retain flag and waits for the
// broker ack up to timeout. A timeout is an error, never a silent
// drop: the device would otherwise keep running a stale plan while the
// server believes the new one is live.
func (c *Client) PublishRetained(topic string, qos byte, payload []byte, timeout time.Duration) error {
	token := c.client.Publish(topic, qos, true, payload)
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("%w: topic %s", domain.ErrPublishTimeout, topic)
	}
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Disconnect flushes in-flight messages and closes the connection.
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
}

// IsConnected reports the connection state.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}
