package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.Storage.Backend != "file" {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, "file")
	}
	if cfg.Pairing.CodeTTL != 60*time.Second {
		t.Errorf("Pairing.CodeTTL = %v, want 60s", cfg.Pairing.CodeTTL)
	}
	if cfg.Pairing.MaxAttempts != 3 {
		t.Errorf("Pairing.MaxAttempts = %d, want 3", cfg.Pairing.MaxAttempts)
	}
	if cfg.Pairing.LockoutDuration != 5*time.Minute {
		t.Errorf("Pairing.LockoutDuration = %v, want 5m", cfg.Pairing.LockoutDuration)
	}
	if cfg.Command.MaxDelta != 10000 || cfg.Command.DispatchMaxDelta != 1000 || cfg.Command.MaxScale != 10 {
		t.Errorf("Command = %+v", cfg.Command)
	}
	if cfg.BLE.StatusInterval != 2*time.Second {
		t.Errorf("BLE.StatusInterval = %v, want 2s", cfg.BLE.StatusInterval)
	}
	if cfg.BLE.DeviceName == "" {
		t.Error("BLE.DeviceName should not be empty")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
log_level: debug
storage:
  backend: badger
  path: /tmp/rt-store
pairing:
  code_ttl: 90s
  max_attempts: 5
  lockout_duration: 10m
  require_pairing: false
command:
  max_delta: 5000
  dispatch_max_delta: 500
input:
  sensitivity: 1.5
ble:
  device_name: studio
  status_interval: 500ms
  peer: AA:BB:CC:DD:EE:FF
metrics:
  listen: 127.0.0.1:9464
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if cfg.Storage.Backend != "badger" || cfg.Storage.Path != "/tmp/rt-store" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.Pairing.CodeTTL != 90*time.Second {
		t.Errorf("Pairing.CodeTTL = %v, want 90s", cfg.Pairing.CodeTTL)
	}
	if cfg.Pairing.MaxAttempts != 5 || cfg.Pairing.LockoutDuration != 10*time.Minute {
		t.Errorf("Pairing = %+v", cfg.Pairing)
	}
	if cfg.Pairing.RequirePairing {
		t.Error("Pairing.RequirePairing = true, want false")
	}
	if cfg.Pairing.RequestsPerMinute != 10 {
		t.Errorf("Pairing.RequestsPerMinute = %d, want default 10", cfg.Pairing.RequestsPerMinute)
	}
	if cfg.Command.MaxDelta != 5000 || cfg.Command.DispatchMaxDelta != 500 {
		t.Errorf("Command = %+v", cfg.Command)
	}
	if cfg.Input.Sensitivity != 1.5 || !cfg.Input.Enabled {
		t.Errorf("Input = %+v", cfg.Input)
	}
	if cfg.BLE.DeviceName != "studio" || cfg.BLE.StatusInterval != 500*time.Millisecond {
		t.Errorf("BLE = %+v", cfg.BLE)
	}
	if cfg.BLE.Peer != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("BLE.Peer = %q", cfg.BLE.Peer)
	}
	if cfg.Metrics.Listen != "127.0.0.1:9464" {
		t.Errorf("Metrics.Listen = %q", cfg.Metrics.Listen)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("storage:\n  path: ~/rt-data\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := filepath.Join(tmpHome, "rt-data")
	if cfg.Storage.Path != want {
		t.Errorf("Storage.Path = %q, want %q", cfg.Storage.Path, want)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() should return error for missing file")
	}
}

func TestLoadOrDefaultMissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadOrDefault() error = %v", err)
	}
	if cfg.Pairing.MaxAttempts != 3 {
		t.Errorf("LoadOrDefault() did not return defaults: %+v", cfg.Pairing)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("pairing: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid default", func(c *Config) {}, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"bad backend", func(c *Config) { c.Storage.Backend = "etcd" }, "storage.backend"},
		{"file without path", func(c *Config) { c.Storage.Path = "" }, "storage.path"},
		{"keyring without path", func(c *Config) { c.Storage.Backend = "keyring"; c.Storage.Path = "" }, ""},
		{"zero ttl", func(c *Config) { c.Pairing.CodeTTL = 0 }, "pairing.code_ttl"},
		{"zero attempts", func(c *Config) { c.Pairing.MaxAttempts = 0 }, "pairing.max_attempts"},
		{"zero lockout", func(c *Config) { c.Pairing.LockoutDuration = 0 }, "pairing.lockout_duration"},
		{"zero rate", func(c *Config) { c.Pairing.RequestsPerMinute = 0 }, "pairing.requests_per_minute"},
		{"zero max delta", func(c *Config) { c.Command.MaxDelta = 0 }, "command.max_delta"},
		{"zero max scale", func(c *Config) { c.Command.MaxScale = 0 }, "command.max_scale"},
		{"dispatch above ingress", func(c *Config) { c.Command.DispatchMaxDelta = 20000 }, "command.dispatch_max_delta"},
		{"zero sensitivity", func(c *Config) { c.Input.Sensitivity = 0 }, "input.sensitivity"},
		{"empty device name", func(c *Config) { c.BLE.DeviceName = "" }, "ble.device_name"},
		{"zero status interval", func(c *Config) { c.BLE.StatusInterval = 0 }, "ble.status_interval"},
		{"zero queue", func(c *Config) { c.BLE.QueueSize = 0 }, "ble.queue_size"},
		{"zero reconnect max", func(c *Config) { c.BLE.ReconnectMax = 0 }, "ble.reconnect_max"},
		{"negative attempts", func(c *Config) { c.BLE.MaxReconnectAttempts = -1 }, "ble.max_reconnect_attempts"},
		{"zero scan timeout", func(c *Config) { c.BLE.ScanTimeout = 0 }, "ble.scan_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "remotetouch", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# remotetouch") {
		t.Error("written config should start with header comment")
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}

	// The template must agree with Default().
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(written) error = %v", err)
	}
	def := Default()
	if cfg.Pairing != def.Pairing {
		t.Errorf("template pairing = %+v, want %+v", cfg.Pairing, def.Pairing)
	}
	if cfg.Command != def.Command {
		t.Errorf("template command = %+v, want %+v", cfg.Command, def.Command)
	}
	if cfg.BLE.StatusInterval != def.BLE.StatusInterval || cfg.BLE.ReconnectMax != def.BLE.ReconnectMax {
		t.Errorf("template ble = %+v", cfg.BLE)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("template Validate() error = %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "remotetouch")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}
	for _, tt := range tests {
		if got := ParseLogLevel(tt.input); got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
