package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/markus-lassfolk/wifiwatch/pkg/analytics"
	"github.com/markus-lassfolk/wifiwatch/pkg/mqtt"
	"github.com/markus-lassfolk/wifiwatch/pkg/notifications"
	"github.com/markus-lassfolk/wifiwatch/pkg/predictive"
	"github.com/markus-lassfolk/wifiwatch/pkg/telem"
)

// DefaultPath is read when no path is given and WIFIWATCH_CONFIG is unset
const DefaultPath = "/etc/wifiwatch/wifiwatch.yaml"

// Config is the daemon configuration
type Config struct {
	Logging   LoggingConfig      `yaml:"logging"`
	Storage   StorageConfig      `yaml:"storage"`
	Collector CollectorConfig    `yaml:"collector"`
	Analytics *analytics.Config  `yaml:"analytics"`
	Forecast  *predictive.Config `yaml:"forecast"`
	API       APIConfig          `yaml:"api"`
	Metrics   MetricsConfig      `yaml:"metrics"`
	MQTT      *mqtt.Config       `yaml:"mqtt"`
	// Notifications deduplicates published alerts
	Notifications *notifications.Config `yaml:"notifications"`
}

// LoggingConfig controls structured logging
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// StorageConfig locates the history database and the model cache
type StorageConfig struct {
	History        *telem.SQLiteConfig `yaml:"history"`
	ModelPath      string              `yaml:"modelPath"`
	PruneInterval  time.Duration       `yaml:"pruneInterval"`
	MemoryFallback bool                `yaml:"memoryFallback"`
}

// CollectorConfig controls sampling cadence
type CollectorConfig struct {
	Device             string        `yaml:"device"`
	ScanDevices        []string      `yaml:"scanDevices"`
	MetricInterval     time.Duration `yaml:"metricInterval"`
	ScanInterval       time.Duration `yaml:"scanInterval"`
	PredictionInterval time.Duration `yaml:"predictionInterval"`
	CommandTimeout     time.Duration `yaml:"commandTimeout"`
}

// APIConfig controls the HTTP API
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	APIKey  string `yaml:"apiKey"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Load initialises Config from a YAML file and environment overrides. A
// missing file at the default path is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = os.Getenv("WIFIWATCH_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultPath
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("config file %s not found: %w", path, err)
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built in configuration
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Storage: StorageConfig{
			History:       telem.DefaultSQLiteConfig(),
			ModelPath:     "/var/lib/wifiwatch/models.db",
			PruneInterval: time.Hour,
		},
		Collector: CollectorConfig{
			Device:             "wlan0",
			ScanDevices:        []string{"wlan0"},
			MetricInterval:     30 * time.Second,
			ScanInterval:       15 * time.Minute,
			PredictionInterval: 5 * time.Minute,
			CommandTimeout:     30 * time.Second,
		},
		Analytics: analytics.DefaultConfig(),
		Forecast:  predictive.DefaultConfig(),
		API: APIConfig{
			Enabled: true,
			Address: "127.0.0.1:8765",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9109",
		},
		MQTT:          mqtt.DefaultConfig(),
		Notifications: notifications.DefaultConfig(),
	}
}

// Validate rejects settings the daemon cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Collector.Device == "" {
		errs = append(errs, errors.New("collector.device is required"))
	}
	if c.Collector.MetricInterval <= 0 {
		errs = append(errs, errors.New("collector.metricInterval must be positive"))
	}
	if c.Collector.PredictionInterval <= 0 {
		errs = append(errs, errors.New("collector.predictionInterval must be positive"))
	}
	if c.Forecast.UpgradeThreshold <= 0 {
		errs = append(errs, errors.New("forecast.upgradeThreshold must be positive"))
	}
	if c.Forecast.AROrder <= 0 {
		errs = append(errs, errors.New("forecast.arOrder must be positive"))
	}
	if c.Forecast.TrainingWindow < 2*c.Forecast.AROrder+2 {
		errs = append(errs, fmt.Errorf("forecast.trainingWindow must be at least %d", 2*c.Forecast.AROrder+2))
	}
	if c.Storage.History == nil || c.Storage.History.DatabasePath == "" {
		errs = append(errs, errors.New("storage.history.path is required"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if t := c.Notifications.SimilarityThreshold; t < 0 || t > 1 {
		errs = append(errs, errors.New("notifications.similarityThreshold must be between 0 and 1"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WIFIWATCH_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WIFIWATCH_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("WIFIWATCH_DB_PATH"); v != "" {
		cfg.Storage.History.DatabasePath = v
	}
	if v := os.Getenv("WIFIWATCH_MODEL_PATH"); v != "" {
		cfg.Storage.ModelPath = v
	}
	if v := os.Getenv("WIFIWATCH_DEVICE"); v != "" {
		cfg.Collector.Device = v
	}
	if v := os.Getenv("WIFIWATCH_SCAN_DEVICES"); v != "" {
		cfg.Collector.ScanDevices = strings.Split(v, ",")
	}
	if v := os.Getenv("WIFIWATCH_METRIC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Collector.MetricInterval = d
		}
	}
	if v := os.Getenv("WIFIWATCH_PREDICTION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Collector.PredictionInterval = d
		}
	}
	if v := os.Getenv("WIFIWATCH_UPGRADE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Forecast.UpgradeThreshold = n
		}
	}
	if v := os.Getenv("WIFIWATCH_API_ADDRESS"); v != "" {
		cfg.API.Address = v
	}
	if v := os.Getenv("WIFIWATCH_API_KEY"); v != "" {
		cfg.API.APIKey = v
	}
	if v := os.Getenv("WIFIWATCH_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
	if v := os.Getenv("WIFIWATCH_MQTT_ENABLED"); v != "" {
		cfg.MQTT.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("WIFIWATCH_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("WIFIWATCH_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Port = port
		}
	}
	if v := os.Getenv("WIFIWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("WIFIWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
}
