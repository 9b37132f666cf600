// Package publisher mirrors written points to an MQTT broker.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/septivank/energy-sync-worker/internal/config"
	"github.com/septivank/energy-sync-worker/internal/series"
)

const (
	publishQoS     = 1
	connectTimeout = 10 * time.Second
)

// MQTTPublisher publishes one non-retained message per point on
// <prefix>/<measurement>/<meterId>.
type MQTTPublisher struct {
	client      mqtt.Client
	topicPrefix string
}

// PointMessage is the MQTT payload of a point
type PointMessage struct {
	Measurement string             `json:"measurement"`
	Time        time.Time          `json:"time"`
	Fields      map[string]float64 `json:"fields"`
	Tags        map[string]string  `json:"tags"`
}

// NewMQTT connects to the configured broker
func NewMQTT(cfg config.MQTTConfig, clientID string) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	broker := cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = fmt.Sprintf("tcp://%s", broker)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out", broker)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	return NewMQTTWithClient(client, cfg.TopicPrefix), nil
}

// NewMQTTWithClient wraps an existing client
func NewMQTTWithClient(client mqtt.Client, topicPrefix string) *MQTTPublisher {
	if topicPrefix == "" {
		topicPrefix = "energy"
	}
	return &MQTTPublisher{
		client:      client,
		topicPrefix: strings.TrimRight(topicPrefix, "/"),
	}
}

// Topic returns the topic a point is published on
func (p *MQTTPublisher) Topic(point series.Point) string {
	return fmt.Sprintf("%s/%s/%s", p.topicPrefix, point.Measurement, point.MeterID())
}

// WriteBatch publishes every point and waits for the broker to acknowledge them
func (p *MQTTPublisher) WriteBatch(ctx context.Context, points []series.Point) error {
	tokens := make([]mqtt.Token, 0, len(points))
	for _, point := range points {
		body, err := json.Marshal(PointMessage{
			Measurement: point.Measurement,
			Time:        point.Time,
			Fields:      point.Fields,
			Tags:        point.Tags,
		})
		if err != nil {
			return fmt.Errorf("encoding point: %w", err)
		}
		tokens = append(tokens, p.client.Publish(p.Topic(point), publishQoS, false, body))
	}

	for _, token := range tokens {
		select {
		case <-token.Done():
			if err := token.Error(); err != nil {
				return fmt.Errorf("publishing to MQTT: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close disconnects from the MQTT broker
func (p *MQTTPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
