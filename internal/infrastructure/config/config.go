package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the IoT bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Database    DatabaseConfig    `yaml:"database"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	API         APIConfig         `yaml:"api"`
	Logging     LoggingConfig     `yaml:"logging"`
	Devices     DevicesConfig     `yaml:"devices"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Commands    CommandsConfig    `yaml:"commands"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
// When enabled, sensor readings and device events are mirrored as points.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains the HTTP tool-call server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DevicesConfig contains device registry and liveness settings.
type DevicesConfig struct {
	// TimeoutMinutes is how long a device may stay silent before it is marked offline.
	TimeoutMinutes int `yaml:"timeout_minutes"`

	// CheckInterval is the liveness scan period in seconds.
	CheckInterval int `yaml:"check_interval"`

	// MaxErrors caps the in-memory error history kept per device.
	MaxErrors int `yaml:"max_errors"`
}

// PersistenceConfig contains settings for the asynchronous persistence path.
type PersistenceConfig struct {
	QueueSize            int `yaml:"queue_size"`
	BatchSize            int `yaml:"batch_size"`
	DrainTimeout         int `yaml:"drain_timeout"`          // seconds
	RetentionDays        int `yaml:"retention_days"`         // days of readings/events kept
	CleanupIntervalHours int `yaml:"cleanup_interval_hours"` // hours between cleanups
	MetricsFlushInterval int `yaml:"metrics_flush_interval"` // seconds between metrics flushes
}

// CommandsConfig contains outbound actuator command settings.
type CommandsConfig struct {
	PublishTimeout int `yaml:"publish_timeout"` // seconds
	QoS            int `yaml:"qos"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: IOTBRIDGE_SECTION_KEY
// For example: IOTBRIDGE_DATABASE_PATH, IOTBRIDGE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with defaults.
// Used as the base for Load and directly by tests.
func Default() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "mcp_bridge_server",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Database: DatabaseConfig{
			Path:        "./data/bridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8000,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Devices: DevicesConfig{
			TimeoutMinutes: 5,
			CheckInterval:  60,
			MaxErrors:      100,
		},
		Persistence: PersistenceConfig{
			QueueSize:            1024,
			BatchSize:            64,
			DrainTimeout:         5,
			RetentionDays:        30,
			CleanupIntervalHours: 24,
			MetricsFlushInterval: 300,
		},
		Commands: CommandsConfig{
			PublishTimeout: 5,
			QoS:            1,
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: IOTBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// MQTT
	if v := os.Getenv("IOTBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("IOTBRIDGE_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("IOTBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("IOTBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Database
	if v := os.Getenv("IOTBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Devices
	if v := os.Getenv("IOTBRIDGE_DEVICE_TIMEOUT_MINUTES"); v != "" {
		if minutes, err := strconv.Atoi(v); err == nil {
			cfg.Devices.TimeoutMinutes = minutes
		}
	}

	// API
	if v := os.Getenv("IOTBRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("IOTBRIDGE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Logging
	if v := os.Getenv("IOTBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// InfluxDB
	if v := os.Getenv("IOTBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb is enabled")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required when influxdb is enabled")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Devices.TimeoutMinutes < 1 {
		errs = append(errs, "devices.timeout_minutes must be at least 1")
	}
	if c.Devices.CheckInterval < 1 {
		errs = append(errs, "devices.check_interval must be at least 1")
	}
	if c.Devices.MaxErrors < 1 {
		errs = append(errs, "devices.max_errors must be at least 1")
	}

	if c.Persistence.QueueSize < 1 {
		errs = append(errs, "persistence.queue_size must be at least 1")
	}
	if c.Persistence.BatchSize < 1 {
		errs = append(errs, "persistence.batch_size must be at least 1")
	}
	if c.Persistence.RetentionDays < 1 {
		errs = append(errs, "persistence.retention_days must be at least 1")
	}

	if c.Commands.PublishTimeout < 1 {
		errs = append(errs, "commands.publish_timeout must be at least 1")
	}
	if c.Commands.QoS < 0 || c.Commands.QoS > 2 {
		errs = append(errs, "commands.qos must be 0, 1, or 2")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// DeviceTimeout returns the liveness timeout as a Duration.
func (c *Config) DeviceTimeout() time.Duration {
	return time.Duration(c.Devices.TimeoutMinutes) * time.Minute
}

// LivenessInterval returns the liveness scan period as a Duration.
func (c *Config) LivenessInterval() time.Duration {
	return time.Duration(c.Devices.CheckInterval) * time.Second
}

// PublishTimeout returns the command publish timeout as a Duration.
func (c *Config) PublishTimeout() time.Duration {
	return time.Duration(c.Commands.PublishTimeout) * time.Second
}

// DrainTimeout returns the persistence drain timeout as a Duration.
func (c *Config) DrainTimeout() time.Duration {
	return time.Duration(c.Persistence.DrainTimeout) * time.Second
}

// Retention returns how long readings and events are kept.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Persistence.RetentionDays) * 24 * time.Hour
}

// CleanupInterval returns the period between data cleanups.
func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.Persistence.CleanupIntervalHours) * time.Hour
}

// MetricsFlushInterval returns the period between device metrics flushes.
func (c *Config) MetricsFlushInterval() time.Duration {
	return time.Duration(c.Persistence.MetricsFlushInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
