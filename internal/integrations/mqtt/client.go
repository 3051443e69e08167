// Package mqtt publishes recognition and attendance events to an MQTT broker
// so home-automation systems can react to them.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"face-gate-go/config"
	"face-gate-go/internal/session"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Client wraps the paho MQTT client as an event publisher.
type Client struct {
	cfg    config.MQTTConfig
	client mqtt.Client
}

// RecognitionMessage is the payload published on a successful recognition.
type RecognitionMessage struct {
	Name       string    `json:"name"`
	Distance   float64   `json:"distance"`
	Confidence float64   `json:"confidence"`
	MatchedAt  time.Time `json:"matched_at"`
}

// AttendanceMessage is the payload published on a successful attendance
// assertion.
type AttendanceMessage struct {
	Name        string    `json:"name"`
	CheckedInAt time.Time `json:"checked_in_at"`
}

// NewClient creates an MQTT publisher from configuration.
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{cfg: cfg}
}

// Start connects to the broker. Reconnects are automatic.
func (c *Client) Start() error {
	if !c.cfg.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.cfg.Broker, c.cfg.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.cfg.ClientID)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s", brokerURL)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Errorf("MQTT connection lost: %v", err)
	})
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// Stop disconnects from the broker.
func (c *Client) Stop() {
	if c.client != nil && c.client.IsConnected() {
		log.Info("Disconnecting MQTT client...")
		c.client.Disconnect(250)
	}
}

// IsConnected reports whether the client currently holds a connection.
func (c *Client) IsConnected() bool {
	return c.client != nil && c.client.IsConnected()
}

func (c *Client) publish(topic string, payload interface{}) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	token := c.client.Publish(topic, 1, false, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// PublishRecognition announces a successful recognition.
func (c *Client) PublishRecognition(msg RecognitionMessage) {
	if !c.cfg.Enabled {
		return
	}
	topic := fmt.Sprintf("%s/recognition", c.cfg.TopicPrefix)
	if err := c.publish(topic, msg); err != nil {
		log.WithError(err).Warn("Failed to publish recognition event")
	}
}

// PublishAttendance announces a successful attendance check-in.
func (c *Client) PublishAttendance(msg AttendanceMessage) {
	if !c.cfg.Enabled {
		return
	}
	topic := fmt.Sprintf("%s/attendance", c.cfg.TopicPrefix)
	if err := c.publish(topic, msg); err != nil {
		log.WithError(err).Warn("Failed to publish attendance event")
	}
}

// SessionEvent publishes terminal recognition results. Progress events and
// enrollment transitions stay on the SSE stream only.
func (c *Client) SessionEvent(event session.Event) {
	if event.Mode != session.ModeRecognizing || event.Phase != session.PhaseDone {
		return
	}
	c.PublishRecognition(RecognitionMessage{
		Name:       event.Label,
		Distance:   event.Distance,
		Confidence: event.Confidence,
		MatchedAt:  time.Now(),
	})
}
