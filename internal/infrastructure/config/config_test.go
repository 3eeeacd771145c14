package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
watcher:
  namespace: "instance-watch.1"
  exclude: "admin.0, web.0"
  queue_delay_ms: 250
  max_log_summary: 50
store:
  backend: "redis"
redis:
  addr: "redis.local:6379"
database:
  path: "/tmp/test.db"
  wal_mode: true
mqtt:
  broker:
    host: "localhost"
    port: 1883
  qos: 1
api:
  enabled: true
  port: 9000
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Watcher.Namespace != "instance-watch.1" {
		t.Errorf("Watcher.Namespace = %q, want %q", cfg.Watcher.Namespace, "instance-watch.1")
	}
	if cfg.Watcher.QueueDelay() != 250*time.Millisecond {
		t.Errorf("QueueDelay() = %v, want 250ms", cfg.Watcher.QueueDelay())
	}
	if cfg.Watcher.MaxLogSummary != 50 {
		t.Errorf("MaxLogSummary = %d, want 50", cfg.Watcher.MaxLogSummary)
	}
	// Unset keys keep their defaults.
	if cfg.Watcher.DriftToleranceSeconds != 300 {
		t.Errorf("DriftToleranceSeconds = %d, want 300", cfg.Watcher.DriftToleranceSeconds)
	}
	if cfg.Store.Backend != BackendRedis {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, BackendRedis)
	}
	if cfg.Redis.Addr != "redis.local:6379" {
		t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, "redis.local:6379")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
store:
  backend: "etcd"
`
	_, err := Load(writeConfig(t, content))
	if err == nil {
		t.Error("Load() expected validation error for unknown backend, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "zero queue delay disables debounce",
			mutate:  func(c *Config) { c.Watcher.QueueDelayMs = 0 },
			wantErr: false,
		},
		{
			name:    "zero log limits disable logs",
			mutate:  func(c *Config) { c.Watcher.MaxLogSummary = 0; c.Watcher.MaxLogInstance = 0 },
			wantErr: false,
		},
		{
			name:    "missing namespace",
			mutate:  func(c *Config) { c.Watcher.Namespace = "" },
			wantErr: true,
		},
		{
			name:    "negative queue delay",
			mutate:  func(c *Config) { c.Watcher.QueueDelayMs = -1 },
			wantErr: true,
		},
		{
			name:    "negative log limit",
			mutate:  func(c *Config) { c.Watcher.MaxLogInstance = -5 },
			wantErr: true,
		},
		{
			name:    "zero drift tolerance",
			mutate:  func(c *Config) { c.Watcher.DriftToleranceSeconds = 0 },
			wantErr: true,
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Store.Backend = "zookeeper" },
			wantErr: true,
		},
		{
			name:    "mqtt backend without prefix",
			mutate:  func(c *Config) { c.Store.MQTT.Prefix = "" },
			wantErr: true,
		},
		{
			name:    "redis backend without addr",
			mutate:  func(c *Config) { c.Store.Backend = BackendRedis; c.Redis.Addr = "" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid port with api enabled",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port ignored when api disabled",
			mutate:  func(c *Config) { c.API.Enabled = false; c.API.Port = 0 },
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAPIConfig_Timeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.API.ReadTimeout().Seconds(); got != 30 {
		t.Errorf("ReadTimeout() = %v, want 30", got)
	}

	if got := cfg.API.WriteTimeout().Seconds(); got != 45 {
		t.Errorf("WriteTimeout() = %v, want 45", got)
	}

	if got := cfg.API.IdleTimeout().Seconds(); got != 60 {
		t.Errorf("IdleTimeout() = %v, want 60", got)
	}
}

func TestWatcherConfig_Durations(t *testing.T) {
	w := defaultConfig().Watcher

	if w.QueueDelay() != time.Second {
		t.Errorf("QueueDelay() = %v, want 1s", w.QueueDelay())
	}
	if w.DriftTolerance() != 5*time.Minute {
		t.Errorf("DriftTolerance() = %v, want 5m", w.DriftTolerance())
	}
	if w.PostFireDelay() != 30*time.Second {
		t.Errorf("PostFireDelay() = %v, want 30s", w.PostFireDelay())
	}
	if w.RestartSettle() != 3*time.Second {
		t.Errorf("RestartSettle() = %v, want 3s", w.RestartSettle())
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("INSTANCEWATCH_DATABASE_PATH", "/custom/path.db")
	t.Setenv("INSTANCEWATCH_MQTT_HOST", "mqtt.example.com")
	t.Setenv("INSTANCEWATCH_MQTT_USERNAME", "testuser")
	t.Setenv("INSTANCEWATCH_MQTT_PASSWORD", "testpass")
	t.Setenv("INSTANCEWATCH_REDIS_ADDR", "redis:6380")
	t.Setenv("INSTANCEWATCH_STORE_BACKEND", "redis")
	t.Setenv("INSTANCEWATCH_WATCHER_EXCLUDE", "admin.0")
	t.Setenv("INSTANCEWATCH_WATCHER_QUEUE_DELAY_MS", "500")
	t.Setenv("INSTANCEWATCH_INFLUXDB_TOKEN", "secret-token")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}
	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}
	if cfg.Redis.Addr != "redis:6380" {
		t.Errorf("Redis.Addr = %q, want %q", cfg.Redis.Addr, "redis:6380")
	}
	if cfg.Store.Backend != BackendRedis {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, BackendRedis)
	}
	if cfg.Watcher.Exclude != "admin.0" {
		t.Errorf("Watcher.Exclude = %q, want %q", cfg.Watcher.Exclude, "admin.0")
	}
	if cfg.Watcher.QueueDelayMs != 500 {
		t.Errorf("Watcher.QueueDelayMs = %d, want 500", cfg.Watcher.QueueDelayMs)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
}

func TestApplyEnvOverrides_IgnoresBadNumber(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("INSTANCEWATCH_WATCHER_QUEUE_DELAY_MS", "soon")

	applyEnvOverrides(cfg)

	if cfg.Watcher.QueueDelayMs != 1000 {
		t.Errorf("Watcher.QueueDelayMs = %d, want default 1000", cfg.Watcher.QueueDelayMs)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Watcher.Namespace != "instance-watch.0" {
		t.Errorf("defaultConfig Watcher.Namespace = %q", cfg.Watcher.Namespace)
	}
	if cfg.Database.Path == "" {
		t.Error("defaultConfig should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Store.Backend != BackendMQTT {
		t.Errorf("defaultConfig Store.Backend = %q, want %q", cfg.Store.Backend, BackendMQTT)
	}
}
