package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
bridge:
  id: "test-bridge"
database:
  path: "/tmp/test.db"
mqtt:
  broker:
    host: "localhost"
    port: 1883
cloud:
  token: "tok"
  secret: "sec"
sync:
  push_rate: 0.5
devices:
  - id: "C0FFEE000001"
    name: "Living room curtain"
    family: "curtain"
    transport: "local-with-cloud-fallback"
    address: "C0:FF:EE:00:00:01"
  - id: "C0FFEE000002"
    family: "plug"
    refresh_rate: 60
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Bridge.ID != "test-bridge" {
		t.Errorf("Bridge.ID = %q, want %q", cfg.Bridge.ID, "test-bridge")
	}
	if len(cfg.Devices) != 2 {
		t.Fatalf("len(Devices) = %d, want 2", len(cfg.Devices))
	}
	if got := cfg.Devices[1].TransportMode(); got != TransportCloud {
		t.Errorf("default transport = %q, want %q", got, TransportCloud)
	}
	if got := cfg.DebounceDelay(cfg.Devices[0]); got != 500*time.Millisecond {
		t.Errorf("DebounceDelay() = %v, want 500ms", got)
	}
	if got := cfg.RefreshInterval(cfg.Devices[1]); got != time.Minute {
		t.Errorf("RefreshInterval() override = %v, want 1m", got)
	}
	if got := cfg.RefreshInterval(cfg.Devices[0]); got != 300*time.Second {
		t.Errorf("RefreshInterval() default = %v, want 5m", got)
	}
	if got := cfg.ConfirmDelay(); got != 15*time.Second {
		t.Errorf("ConfirmDelay() = %v, want 15s", got)
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

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SWITCHBOT_TOKEN", "env-token")
	t.Setenv("SWITCHBOT_SECRET", "env-secret")
	t.Setenv("GRAYLOGIC_MQTT_PORT", "1884")

	content := `
devices:
  - id: "AA"
    family: "bot"
`
	cfg, err := Load(writeConfig(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cloud.Token != "env-token" || cfg.Cloud.Secret != "env-secret" {
		t.Errorf("credentials = %q/%q, want env values", cfg.Cloud.Token, cfg.Cloud.Secret)
	}
	if cfg.MQTT.Broker.Port != 1884 {
		t.Errorf("MQTT port = %d, want 1884", cfg.MQTT.Broker.Port)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("GRAYLOGIC_CLOUD_TOKEN", "primary")
	t.Setenv("SWITCHBOT_TOKEN", "fallback")
	t.Setenv("GRAYLOGIC_API_PORT", "not-a-port")
	t.Setenv("GRAYLOGIC_LOG_LEVEL", "debug")

	cfg := defaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Cloud.Token != "primary" {
		t.Errorf("Cloud.Token = %q, want the GRAYLOGIC_ value", cfg.Cloud.Token)
	}
	if cfg.API.Port != 8090 {
		t.Errorf("API.Port = %d, want default kept for a bad value", cfg.API.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := defaultConfig()
		cfg.Cloud.Token = "tok"
		cfg.Cloud.Secret = "sec"
		cfg.Devices = []DeviceConfig{{ID: "A", Family: "bot"}}
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "missing bridge ID",
			mutate:  func(c *Config) { c.Bridge.ID = "" },
			wantErr: "bridge.id",
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "invalid port",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "api.port",
		},
		{
			name:    "missing credentials for cloud device",
			mutate:  func(c *Config) { c.Cloud.Token = "" },
			wantErr: "cloud.token",
		},
		{
			name: "local-only device needs no credentials",
			mutate: func(c *Config) {
				c.Cloud.Token = ""
				c.Devices = []DeviceConfig{{ID: "A", Family: "bot", Transport: TransportLocal, Address: "AA:BB"}}
			},
		},
		{
			name: "local device without address",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{ID: "A", Family: "bot", Transport: TransportLocal}}
			},
			wantErr: "address",
		},
		{
			name: "unknown transport",
			mutate: func(c *Config) {
				c.Devices = []DeviceConfig{{ID: "A", Family: "bot", Transport: "carrier-pigeon"}}
			},
			wantErr: "transport",
		},
		{
			name: "duplicate device ID",
			mutate: func(c *Config) {
				c.Devices = append(c.Devices, DeviceConfig{ID: "A", Family: "plug"})
			},
			wantErr: "duplicated",
		},
		{
			name:    "non-positive push rate",
			mutate:  func(c *Config) { c.Sync.PushRate = 0 },
			wantErr: "sync.push_rate",
		},
		{
			name:    "zero offline threshold",
			mutate:  func(c *Config) { c.Sync.OfflineThreshold = 0 },
			wantErr: "sync.offline_threshold",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_Timeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{Read: 30, Write: 45, Idle: 120},
		},
	}

	if got := cfg.GetReadTimeout(); got != 30*time.Second {
		t.Errorf("GetReadTimeout() = %v, want 30s", got)
	}
	if got := cfg.GetWriteTimeout(); got != 45*time.Second {
		t.Errorf("GetWriteTimeout() = %v, want 45s", got)
	}
	if got := cfg.GetIdleTimeout(); got != 120*time.Second {
		t.Errorf("GetIdleTimeout() = %v, want 120s", got)
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	t.Setenv("SWITCHBOT_TOKEN", "token")
	t.Setenv("SWITCHBOT_SECRET", "secret")

	cfg, err := Load("../../../configs/config.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Devices) == 0 {
		t.Fatal("shipped config has no devices")
	}
	if cfg.InfluxDB.Tags["site"] != "home" {
		t.Errorf("InfluxDB.Tags = %v", cfg.InfluxDB.Tags)
	}
	if got := cfg.RefreshInterval(cfg.Devices[1]); got != time.Minute {
		t.Errorf("RefreshInterval(plug) = %v, want 1m", got)
	}
}
