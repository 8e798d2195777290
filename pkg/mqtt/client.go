package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"golang.org/x/time/rate"

	"github.com/markus-lassfolk/wifiwatch/pkg"
	"github.com/markus-lassfolk/wifiwatch/pkg/logx"
)

// Topic suffixes under the configured prefix
const (
	TopicAlerts      = "alerts"
	TopicPredictions = "predictions"
	TopicEngine      = "engine"
	TopicHealth      = "health"
)

// Config holds MQTT configuration
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	Port        int    `yaml:"port"`
	ClientID    string `yaml:"clientId"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topicPrefix"`
	QoS         int    `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
	// MaxPerSecond caps the sustained publish rate and the burst size;
	// excess messages are dropped and counted
	MaxPerSecond int `yaml:"maxPerSecond"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:      false,
		Broker:       "localhost",
		Port:         1883,
		ClientID:     "wifiwatchd",
		TopicPrefix:  "wifiwatch",
		QoS:          1,
		MaxPerSecond: 20,
	}
}

// PublishFunc sends one payload to the broker
type PublishFunc func(topic string, qos byte, retain bool, payload []byte) error

// Client publishes analytics results. All publish methods are no-ops when the
// client is disabled or not connected.
type Client struct {
	client    MQTT.Client
	publish   PublishFunc
	logger    *logx.Logger
	config    *Config
	connected atomic.Bool
	limiter   *rate.Limiter
	dropped   atomic.Uint64

	mu          sync.Mutex
	lastPublish time.Time
}

// NewClient creates a new MQTT client
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	c := &Client{
		logger:  logger,
		config:  config,
		limiter: newLimiter(config.MaxPerSecond, time.Second),
	}
	c.publish = c.publishPaho
	return c
}

// NewClientWithPublisher creates a connected client that sends through publish
func NewClientWithPublisher(config *Config, logger *logx.Logger, publish PublishFunc) *Client {
	c := NewClient(config, logger)
	c.publish = publish
	c.connected.Store(true)
	return c
}

// Connect establishes connection to MQTT broker
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	c.client = MQTT.NewClient(opts)

	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.logger.Info("MQTT client connected", map[string]interface{}{
		"broker": c.config.Broker,
		"port":   c.config.Port,
	})

	return nil
}

// Disconnect disconnects from MQTT broker
func (c *Client) Disconnect() {
	if c.client != nil && c.connected.Load() {
		c.client.Disconnect(250)
		c.connected.Store(false)
		c.logger.Info("MQTT client disconnected")
	}
}

func (c *Client) onConnect(client MQTT.Client) {
	c.connected.Store(true)
	c.logger.Info("MQTT connection established")
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.connected.Store(false)
	c.logger.Error("MQTT connection lost", map[string]interface{}{
		"error": err.Error(),
	})
}

// Topic returns the full topic for suffix
func (c *Client) Topic(suffix string) string {
	return c.config.TopicPrefix + "/" + suffix
}

// PublishAlerts publishes alerts raised for one sample. Empty lists are skipped.
func (c *Client) PublishAlerts(alerts []pkg.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	return c.publishJSON(c.Topic(TopicAlerts), map[string]interface{}{
		"timestamp": time.Now(),
		"alerts":    alerts,
	})
}

// PublishPredictions publishes the predictions of one cycle with the snapshot
// sequence they were computed from
func (c *Client) PublishPredictions(seq uint64, predictions []pkg.Prediction) error {
	return c.publishJSON(c.Topic(TopicPredictions), map[string]interface{}{
		"timestamp":   time.Now(),
		"seq":         seq,
		"predictions": predictions,
	})
}

// PublishEngineStatus publishes the active forecasting engine
func (c *Client) PublishEngineStatus(status pkg.EngineStatus) error {
	return c.publishJSON(c.Topic(TopicEngine), status)
}

// PublishHealth publishes link health information
func (c *Client) PublishHealth(health interface{}) error {
	return c.publishJSON(c.Topic(TopicHealth), health)
}

func (c *Client) publishJSON(topic string, payload interface{}) error {
	if !c.config.Enabled || !c.connected.Load() {
		return nil
	}
	if !c.limiter.Allow() {
		c.dropped.Add(1)
		c.logger.Debug("MQTT rate limit exceeded, dropping message", "topic", topic)
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if err := c.publish(topic, byte(c.config.QoS), c.config.Retain, data); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	c.mu.Lock()
	c.lastPublish = time.Now()
	c.mu.Unlock()
	c.logger.Debug("MQTT message published", map[string]interface{}{
		"topic": topic,
		"size":  len(data),
	})
	return nil
}

func (c *Client) publishPaho(topic string, qos byte, retain bool, payload []byte) error {
	if c.client == nil {
		return fmt.Errorf("not connected to MQTT broker")
	}
	token := c.client.Publish(topic, qos, retain, payload)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// IsConnected returns whether the MQTT client is connected
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// LastPublish returns the timestamp of the last successful publish
func (c *Client) LastPublish() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPublish
}

// Dropped returns the number of messages dropped by the rate limiter
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// newLimiter allows max messages per window with bursts of up to max.
// A non-positive max disables limiting.
func newLimiter(max int, window time.Duration) *rate.Limiter {
	if max <= 0 || window <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(window/time.Duration(max)), max)
}
