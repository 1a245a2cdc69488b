package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Storage  StorageConfig `yaml:"storage"`
	Pairing  PairingConfig `yaml:"pairing"`
	Command  CommandConfig `yaml:"command"`
	Input    InputConfig   `yaml:"input"`
	BLE      BLEConfig     `yaml:"ble"`
	Hotkey   HotkeyConfig  `yaml:"hotkey"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// StorageConfig selects where trust records and the lockout are kept.
type StorageConfig struct {
	Backend string `yaml:"backend"` // "file", "badger", "keyring" or "memory"
	Path    string `yaml:"path"`    // directory (file, badger) or keyring service name
}

// PairingConfig holds the pairing policy.
type PairingConfig struct {
	CodeTTL           time.Duration `yaml:"code_ttl"`
	MaxAttempts       int           `yaml:"max_attempts"`
	LockoutDuration   time.Duration `yaml:"lockout_duration"`
	RequirePairing    bool          `yaml:"require_pairing"`     // drop commands from unpaired peers
	RequestsPerMinute int           `yaml:"requests_per_minute"` // pairing code requests per link
}

// CommandConfig bounds command values.
type CommandConfig struct {
	MaxDelta         float64 `yaml:"max_delta"`          // ingress validation, per axis
	MaxScale         float64 `yaml:"max_scale"`          // pinch upper bound
	DispatchMaxDelta float64 `yaml:"dispatch_max_delta"` // clamp applied before injection
}

// InputConfig holds host input settings.
type InputConfig struct {
	Sensitivity float64 `yaml:"sensitivity"`
	Enabled     bool    `yaml:"enabled"`
}

// BLEConfig holds transport settings for both roles.
type BLEConfig struct {
	DeviceName           string        `yaml:"device_name"`     // advertised as RemoteTouch-<name>
	StatusInterval       time.Duration `yaml:"status_interval"` // server: status notification period
	Peer                 string        `yaml:"peer"`            // client: address of the server to connect to
	QueueSize            int           `yaml:"queue_size"`
	ReconnectMax         time.Duration `yaml:"reconnect_max"`
	AutoReconnect        bool          `yaml:"auto_reconnect"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // 0 = unlimited
	ScanTimeout          time.Duration `yaml:"scan_timeout"`
}

// HotkeyConfig holds global hotkey bindings.
type HotkeyConfig struct {
	ShowCode      []string `yaml:"show_code"`
	CancelPairing []string `yaml:"cancel_pairing"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "remotetouch")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// DefaultDataDir returns where the file and badger backends keep data.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".local", "share", "remotetouch")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "Desktop"
	}
	return &Config{
		LogLevel: "info",
		Storage: StorageConfig{
			Backend: "file",
			Path:    DefaultDataDir(),
		},
		Pairing: PairingConfig{
			CodeTTL:           60 * time.Second,
			MaxAttempts:       3,
			LockoutDuration:   5 * time.Minute,
			RequirePairing:    true,
			RequestsPerMinute: 10,
		},
		Command: CommandConfig{
			MaxDelta:         10000,
			MaxScale:         10,
			DispatchMaxDelta: 1000,
		},
		Input: InputConfig{
			Sensitivity: 1.0,
			Enabled:     true,
		},
		BLE: BLEConfig{
			DeviceName:           host,
			StatusInterval:       2 * time.Second,
			QueueSize:            64,
			ReconnectMax:         30 * time.Second,
			AutoReconnect:        true,
			MaxReconnectAttempts: 10,
			ScanTimeout:          10 * time.Second,
		},
		Hotkey: HotkeyConfig{
			ShowCode:      []string{"ctrl", "shift", "p"},
			CancelPairing: []string{"ctrl", "shift", "x"},
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in storage.path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Storage.Path = expandTilde(cfg.Storage.Path)

	return cfg, nil
}

// LoadOrDefault loads path if it exists and falls back to defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Debug("config file not found, using defaults", "path", path)
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	switch c.Storage.Backend {
	case "file", "badger":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path must not be empty for the %s backend", c.Storage.Backend)
		}
	case "keyring", "memory":
	default:
		return fmt.Errorf("storage.backend must be file, badger, keyring, or memory, got %q", c.Storage.Backend)
	}

	if c.Pairing.CodeTTL <= 0 {
		return fmt.Errorf("pairing.code_ttl must be > 0")
	}
	if c.Pairing.MaxAttempts <= 0 {
		return fmt.Errorf("pairing.max_attempts must be > 0")
	}
	if c.Pairing.LockoutDuration <= 0 {
		return fmt.Errorf("pairing.lockout_duration must be > 0")
	}
	if c.Pairing.RequestsPerMinute <= 0 {
		return fmt.Errorf("pairing.requests_per_minute must be > 0")
	}

	if c.Command.MaxDelta <= 0 {
		return fmt.Errorf("command.max_delta must be > 0")
	}
	if c.Command.MaxScale <= 0 {
		return fmt.Errorf("command.max_scale must be > 0")
	}
	if c.Command.DispatchMaxDelta <= 0 || c.Command.DispatchMaxDelta > c.Command.MaxDelta {
		return fmt.Errorf("command.dispatch_max_delta must be in (0, max_delta], got %g", c.Command.DispatchMaxDelta)
	}

	if c.Input.Sensitivity <= 0 {
		return fmt.Errorf("input.sensitivity must be > 0")
	}

	if c.BLE.DeviceName == "" {
		return fmt.Errorf("ble.device_name must not be empty")
	}
	if c.BLE.StatusInterval <= 0 {
		return fmt.Errorf("ble.status_interval must be > 0")
	}
	if c.BLE.QueueSize <= 0 {
		return fmt.Errorf("ble.queue_size must be > 0")
	}
	if c.BLE.ReconnectMax <= 0 {
		return fmt.Errorf("ble.reconnect_max must be > 0")
	}
	if c.BLE.MaxReconnectAttempts < 0 {
		return fmt.Errorf("ble.max_reconnect_attempts must be >= 0")
	}
	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}

	return nil
}

// ParseLogLevel maps a config log level to slog. Unknown values map to info.
func ParseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

const defaultConfigTemplate = `# remotetouch configuration
# Durations use Go syntax: 500ms, 2s, 5m.

log_level: info

storage:
  backend: file            # file, badger, keyring, memory
  path: ~/.local/share/remotetouch

pairing:
  code_ttl: 60s
  max_attempts: 3
  lockout_duration: 5m
  require_pairing: true
  requests_per_minute: 10

command:
  max_delta: 10000
  max_scale: 10
  dispatch_max_delta: 1000

input:
  sensitivity: 1.0
  enabled: true

ble:
  # device_name: my-desktop
  status_interval: 2s
  # peer: ""               # client role: server address to connect to
  queue_size: 64
  reconnect_max: 30s
  auto_reconnect: true
  max_reconnect_attempts: 10
  scan_timeout: 10s

hotkey:
  show_code: ["ctrl", "shift", "p"]
  cancel_pairing: ["ctrl", "shift", "x"]

metrics:
  listen: ""               # e.g. 127.0.0.1:9464
`

// WriteDefault writes a commented default config to DefaultConfigPath.
// It returns the path written, or "" if a config already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(defaultConfigTemplate), 0o644); err != nil {
		return "", fmt.Errorf("writing default config: %w", err)
	}
	return path, nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
