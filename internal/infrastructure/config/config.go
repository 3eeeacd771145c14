package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends supported by the watcher.
const (
	BackendMQTT  = "mqtt"
	BackendRedis = "redis"
)

// Config is the root configuration structure for the instance watcher.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Watcher  WatcherConfig  `yaml:"watcher"`
	Store    StoreConfig    `yaml:"store"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// WatcherConfig contains the health-evaluation settings.
type WatcherConfig struct {
	// Namespace is the prefix under which derived states are published,
	// e.g. "instance-watch.0".
	Namespace string `yaml:"namespace"`

	// SelfID is the instance id of the watcher itself. It is never watched.
	SelfID string `yaml:"self_id"`

	// Exclude is the operator exclusion list ("admin.0, web.0").
	// Invalid tokens are reported and dropped.
	Exclude string `yaml:"exclude"`

	// QueueDelayMs is the debounce delay. 0 disables coalescing.
	QueueDelayMs int `yaml:"queue_delay_ms"`

	// MaxLogSummary limits the aggregate transition log. 0 disables it.
	MaxLogSummary int `yaml:"max_log_summary"`

	// MaxLogInstance limits each per-instance transition log. 0 disables them.
	MaxLogInstance int `yaml:"max_log_instance"`

	// DriftToleranceSeconds is the allowed lag between the expected run of a
	// scheduled instance and its last heartbeat.
	DriftToleranceSeconds int `yaml:"drift_tolerance_seconds"`

	// PostFireDelaySeconds is how long to wait after a scheduled fire before
	// re-evaluating, giving the job time to emit its heartbeat.
	PostFireDelaySeconds int `yaml:"post_fire_delay_seconds"`

	// RestartSettleMs is the pause between the off and on writes when a
	// running scheduled instance is restarted.
	RestartSettleMs int `yaml:"restart_settle_ms"`
}

// StoreConfig selects and configures the external object/state store.
type StoreConfig struct {
	// Backend is "mqtt" or "redis".
	Backend string          `yaml:"backend"`
	MQTT    MQTTStoreConfig `yaml:"mqtt"`
}

// MQTTStoreConfig contains settings for the MQTT-mirrored store.
type MQTTStoreConfig struct {
	// Prefix is the topic root of the mirrored states and objects.
	Prefix string `yaml:"prefix"`

	// SyncWaitMs is how long to wait for retained messages after subscribing.
	SyncWaitMs int `yaml:"sync_wait_ms"`
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

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// RedisConfig contains settings for the redis states database.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`

	// ConnectTimeout bounds all connection attempts at startup (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// RetryInterval is the initial wait between connection attempts (seconds).
	RetryInterval int `yaml:"retry_interval"`

	// MaxWait caps the exponential backoff between attempts (seconds).
	MaxWait int `yaml:"max_wait"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: INSTANCEWATCH_SECTION_KEY
// For example: INSTANCEWATCH_DATABASE_PATH, INSTANCEWATCH_REDIS_ADDR
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

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

// defaultConfig returns a Config with sensible defaults.
// The watcher defaults mirror the long-standing behaviour of the adapter:
// 1s debounce, 100 summary log lines, 5 minute drift tolerance,
// 30s post-fire delay and a 3s restart settle.
func defaultConfig() *Config {
	return &Config{
		Watcher: WatcherConfig{
			Namespace:             "instance-watch.0",
			SelfID:                "instance-watch.0",
			QueueDelayMs:          1000,
			MaxLogSummary:         100,
			MaxLogInstance:        20,
			DriftToleranceSeconds: 300,
			PostFireDelaySeconds:  30,
			RestartSettleMs:       3000,
		},
		Store: StoreConfig{
			Backend: BackendMQTT,
			MQTT: MQTTStoreConfig{
				Prefix:     "iobroker",
				SyncWaitMs: 2000,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "instance-watch",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       10,
			ConnectTimeout: 30,
			RetryInterval:  2,
			MaxWait:        10,
		},
		Database: DatabaseConfig{
			Path:        "./data/instancewatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8089,
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
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: INSTANCEWATCH_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Watcher
	if v := os.Getenv("INSTANCEWATCH_WATCHER_EXCLUDE"); v != "" {
		cfg.Watcher.Exclude = v
	}
	if v := os.Getenv("INSTANCEWATCH_WATCHER_QUEUE_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Watcher.QueueDelayMs = n
		}
	}

	// Store
	if v := os.Getenv("INSTANCEWATCH_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}

	// MQTT
	if v := os.Getenv("INSTANCEWATCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("INSTANCEWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("INSTANCEWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Redis
	if v := os.Getenv("INSTANCEWATCH_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("INSTANCEWATCH_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// Database
	if v := os.Getenv("INSTANCEWATCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// InfluxDB
	if v := os.Getenv("INSTANCEWATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Watcher validation
	if c.Watcher.Namespace == "" {
		errs = append(errs, "watcher.namespace is required")
	}
	if c.Watcher.QueueDelayMs < 0 {
		errs = append(errs, "watcher.queue_delay_ms must not be negative")
	}
	if c.Watcher.MaxLogSummary < 0 || c.Watcher.MaxLogInstance < 0 {
		errs = append(errs, "watcher log limits must not be negative (0 disables)")
	}
	if c.Watcher.DriftToleranceSeconds <= 0 {
		errs = append(errs, "watcher.drift_tolerance_seconds must be positive")
	}
	if c.Watcher.PostFireDelaySeconds < 0 {
		errs = append(errs, "watcher.post_fire_delay_seconds must not be negative")
	}
	if c.Watcher.RestartSettleMs < 0 {
		errs = append(errs, "watcher.restart_settle_ms must not be negative")
	}

	// Store validation
	switch c.Store.Backend {
	case BackendMQTT:
		if c.Store.MQTT.Prefix == "" {
			errs = append(errs, "store.mqtt.prefix is required for the mqtt backend")
		}
	case BackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, "redis.addr is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.backend must be %q or %q", BackendMQTT, BackendRedis))
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// QueueDelay returns the debounce delay as a Duration.
func (w WatcherConfig) QueueDelay() time.Duration {
	return time.Duration(w.QueueDelayMs) * time.Millisecond
}

// DriftTolerance returns the schedule drift tolerance as a Duration.
func (w WatcherConfig) DriftTolerance() time.Duration {
	return time.Duration(w.DriftToleranceSeconds) * time.Second
}

// PostFireDelay returns the post-fire delay as a Duration.
func (w WatcherConfig) PostFireDelay() time.Duration {
	return time.Duration(w.PostFireDelaySeconds) * time.Second
}

// RestartSettle returns the restart settle delay as a Duration.
func (w WatcherConfig) RestartSettle() time.Duration {
	return time.Duration(w.RestartSettleMs) * time.Millisecond
}

// SyncWait returns the retained-message wait of the MQTT store as a Duration.
func (m MQTTStoreConfig) SyncWait() time.Duration {
	return time.Duration(m.SyncWaitMs) * time.Millisecond
}

// ReadTimeout returns the API read timeout as a Duration.
func (a APIConfig) ReadTimeout() time.Duration {
	return time.Duration(a.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (a APIConfig) WriteTimeout() time.Duration {
	return time.Duration(a.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (a APIConfig) IdleTimeout() time.Duration {
	return time.Duration(a.Timeouts.Idle) * time.Second
}
