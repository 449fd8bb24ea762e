package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport modes a device can be configured with.
const (
	TransportCloud         = "cloud-only"
	TransportLocal         = "local-only"
	TransportLocalFallback = "local-with-cloud-fallback"
)

// Config is the root configuration structure for the SwitchBot bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Local     LocalConfig     `yaml:"local"`
	Sync      SyncConfig      `yaml:"sync"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Devices   []DeviceConfig  `yaml:"devices"`
}

// BridgeConfig contains bridge identity and health reporting settings.
type BridgeConfig struct {
	ID             string `yaml:"id"`
	HealthInterval int    `yaml:"health_interval"` // seconds
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
	// HistoryRetentionDays is how long state history rows are kept. 0 keeps everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
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

// APIConfig contains HTTP API server settings.
type APIConfig struct {
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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

	// Tags are added to every point, e.g. {site: home}.
	Tags map[string]string `yaml:"tags"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// CloudConfig contains vendor cloud API settings.
type CloudConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
	Secret  string `yaml:"secret"`
	// Timeout bounds a single HTTP request (seconds).
	Timeout int `yaml:"timeout"`
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries"`
	// RetryDelay is the delay between attempts (milliseconds).
	RetryDelay int `yaml:"retry_delay"`
	// ExponentialBackoff doubles RetryDelay after each failed attempt.
	ExponentialBackoff bool `yaml:"exponential_backoff"`
	// RateLimit caps outbound requests per second. 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
	// BreakerThreshold is the number of consecutive transient failures that
	// opens the circuit. 0 disables the breaker.
	BreakerThreshold int `yaml:"breaker_threshold"`
	// BreakerTimeout is how long the circuit stays open (seconds).
	BreakerTimeout int `yaml:"breaker_timeout"`
}

// LocalConfig contains BLE transport settings.
type LocalConfig struct {
	Enabled bool `yaml:"enabled"`
	// GatewayTopic is the MQTT topic prefix of the BLE gateway.
	GatewayTopic string `yaml:"gateway_topic"`
	// ScanDuration bounds one discovery window (milliseconds).
	ScanDuration int `yaml:"scan_duration"`
	// Retries is the number of local send retries after the first attempt.
	Retries int `yaml:"retries"`
	// RetryDelay is the delay between local attempts (milliseconds).
	RetryDelay int `yaml:"retry_delay"`
}

// SyncConfig contains per-device synchronisation timing.
type SyncConfig struct {
	// RefreshRate is the periodic status refresh interval (seconds).
	RefreshRate int `yaml:"refresh_rate"`
	// PushRate is the write debounce window (seconds, fractional allowed).
	PushRate float64 `yaml:"push_rate"`
	// ConfirmDelay is the wait between a command ack and its confirming refresh (seconds).
	ConfirmDelay int `yaml:"confirm_delay"`
	// OfflineThreshold is the number of consecutive failed refreshes before a
	// device is treated as unreachable.
	OfflineThreshold int `yaml:"offline_threshold"`
}

// WebhookConfig contains vendor push settings.
type WebhookConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// PublicURL is registered with the vendor cloud when non-empty.
	PublicURL string `yaml:"public_url"`
}

// DeviceConfig describes one vendor device.
type DeviceConfig struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	Family    string `yaml:"family"`
	Model     string `yaml:"model"`
	Address   string `yaml:"address"`
	Transport string `yaml:"transport"`
	Offline   bool   `yaml:"offline"`
	// RefreshRate overrides Sync.RefreshRate for this device (seconds).
	RefreshRate int `yaml:"refresh_rate"`
	// PushRate overrides Sync.PushRate for this device (seconds).
	PushRate float64 `yaml:"push_rate"`
}

// Load builds the configuration in three layers: built-in defaults, then
// the YAML file at path, then GRAYLOGIC_* environment variables. The vendor
// credentials are also read from SWITCHBOT_TOKEN and SWITCHBOT_SECRET. The
// result is validated before it is returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "switchbot-bridge-01",
			HealthInterval: 30,
		},
		Database: DatabaseConfig{
			Enabled:              true,
			Path:                 "./data/switchbot.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-switchbot",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Cloud: CloudConfig{
			BaseURL:          "https://api.switch-bot.com/v1.1",
			Timeout:          10,
			MaxRetries:       2,
			RetryDelay:       1000,
			RateLimit:        2,
			RateBurst:        5,
			BreakerThreshold: 5,
			BreakerTimeout:   60,
		},
		Local: LocalConfig{
			GatewayTopic: "switchbot/ble",
			ScanDuration: 2000,
			Retries:      2,
			RetryDelay:   500,
		},
		Sync: SyncConfig{
			RefreshRate:      300,
			PushRate:         0.1,
			ConfirmDelay:     15,
			OfflineThreshold: 3,
		},
		Webhook: WebhookConfig{
			Path: "/webhook/switchbot",
		},
	}
}

// envOverride binds environment variables to one config field. The first
// non-empty variable wins.
type envOverride struct {
	names []string
	set   func(cfg *Config, v string)
}

var envOverrides = []envOverride{
	{[]string{"GRAYLOGIC_DATABASE_PATH"}, func(c *Config, v string) { c.Database.Path = v }},
	{[]string{"GRAYLOGIC_MQTT_HOST"}, func(c *Config, v string) { c.MQTT.Broker.Host = v }},
	{[]string{"GRAYLOGIC_MQTT_PORT"}, func(c *Config, v string) { setInt(&c.MQTT.Broker.Port, v) }},
	{[]string{"GRAYLOGIC_MQTT_USERNAME"}, func(c *Config, v string) { c.MQTT.Auth.Username = v }},
	{[]string{"GRAYLOGIC_MQTT_PASSWORD"}, func(c *Config, v string) { c.MQTT.Auth.Password = v }},
	{[]string{"GRAYLOGIC_API_HOST"}, func(c *Config, v string) { c.API.Host = v }},
	{[]string{"GRAYLOGIC_API_PORT"}, func(c *Config, v string) { setInt(&c.API.Port, v) }},
	{[]string{"GRAYLOGIC_INFLUXDB_URL"}, func(c *Config, v string) { c.InfluxDB.URL = v }},
	{[]string{"GRAYLOGIC_INFLUXDB_TOKEN"}, func(c *Config, v string) { c.InfluxDB.Token = v }},
	{[]string{"GRAYLOGIC_LOG_LEVEL"}, func(c *Config, v string) { c.Logging.Level = v }},
	{[]string{"GRAYLOGIC_CLOUD_TOKEN", "SWITCHBOT_TOKEN"}, func(c *Config, v string) { c.Cloud.Token = v }},
	{[]string{"GRAYLOGIC_CLOUD_SECRET", "SWITCHBOT_SECRET"}, func(c *Config, v string) { c.Cloud.Secret = v }},
	{[]string{"GRAYLOGIC_WEBHOOK_PUBLIC_URL"}, func(c *Config, v string) { c.Webhook.PublicURL = v }},
}

func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := firstEnv(o.names...); v != "" {
			o.set(cfg, v)
		}
	}
}

// setInt leaves dst unchanged when v is not an integer.
func setInt(dst *int, v string) {
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// firstEnv returns the first non-empty value among the named variables.
func firstEnv(names ...string) string {
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// Validate reports every problem in one error, so a broken file can be
// fixed in a single pass.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Cloud.MaxRetries < 0 {
		errs = append(errs, "cloud.max_retries must not be negative")
	}
	if c.Local.Retries < 0 {
		errs = append(errs, "local.retries must not be negative")
	}
	if c.Sync.RefreshRate <= 0 {
		errs = append(errs, "sync.refresh_rate must be positive")
	}
	if c.Sync.PushRate <= 0 {
		errs = append(errs, "sync.push_rate must be positive")
	}
	if c.Sync.OfflineThreshold < 1 {
		errs = append(errs, "sync.offline_threshold must be at least 1")
	}
	if c.Webhook.Enabled && !strings.HasPrefix(c.Webhook.Path, "/") {
		errs = append(errs, "webhook.path must start with /")
	}

	needsCloud := false
	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if d.ID == "" {
			errs = append(errs, prefix+".id is required")
		} else if seen[d.ID] {
			errs = append(errs, fmt.Sprintf("%s.id %q is duplicated", prefix, d.ID))
		}
		seen[d.ID] = true

		if d.Family == "" {
			errs = append(errs, prefix+".family is required")
		}

		switch d.TransportMode() {
		case TransportCloud:
			needsCloud = true
		case TransportLocalFallback:
			needsCloud = true
			if d.Address == "" {
				errs = append(errs, prefix+".address is required for local transport")
			}
		case TransportLocal:
			if d.Address == "" {
				errs = append(errs, prefix+".address is required for local transport")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.transport %q must be %s, %s or %s",
				prefix, d.Transport, TransportCloud, TransportLocal, TransportLocalFallback))
		}
	}

	if needsCloud && (c.Cloud.Token == "" || c.Cloud.Secret == "") {
		errs = append(errs, "cloud.token and cloud.secret are required (set SWITCHBOT_TOKEN and SWITCHBOT_SECRET)")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TransportMode returns the configured transport, defaulting to cloud-only.
func (d DeviceConfig) TransportMode() string {
	if d.Transport == "" {
		return TransportCloud
	}
	return d.Transport
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

// RefreshInterval returns the periodic refresh interval for a device.
func (c *Config) RefreshInterval(d DeviceConfig) time.Duration {
	if d.RefreshRate > 0 {
		return time.Duration(d.RefreshRate) * time.Second
	}
	return time.Duration(c.Sync.RefreshRate) * time.Second
}

// DebounceDelay returns the write debounce window for a device.
func (c *Config) DebounceDelay(d DeviceConfig) time.Duration {
	rate := c.Sync.PushRate
	if d.PushRate > 0 {
		rate = d.PushRate
	}
	return time.Duration(rate * float64(time.Second))
}

// ConfirmDelay returns the wait between a command ack and its confirming refresh.
func (c *Config) ConfirmDelay() time.Duration {
	return time.Duration(c.Sync.ConfirmDelay) * time.Second
}

// CloudTimeout returns the per-request cloud timeout.
func (c *Config) CloudTimeout() time.Duration {
	return time.Duration(c.Cloud.Timeout) * time.Second
}

// CloudRetryDelay returns the delay between cloud attempts.
func (c *Config) CloudRetryDelay() time.Duration {
	return time.Duration(c.Cloud.RetryDelay) * time.Millisecond
}

// ScanDuration returns the BLE discovery window.
func (c *Config) ScanDuration() time.Duration {
	return time.Duration(c.Local.ScanDuration) * time.Millisecond
}

// LocalRetryDelay returns the delay between local send attempts.
func (c *Config) LocalRetryDelay() time.Duration {
	return time.Duration(c.Local.RetryDelay) * time.Millisecond
}
