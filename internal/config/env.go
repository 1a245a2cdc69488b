package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment overrides, applied after the YAML file.
const (
	EnvLogLevel       = "REMOTETOUCH_LOG_LEVEL"
	EnvStorageBackend = "REMOTETOUCH_STORAGE_BACKEND"
	EnvStoragePath    = "REMOTETOUCH_STORAGE_PATH"
	EnvDeviceName     = "REMOTETOUCH_DEVICE_NAME"
	EnvMetricsListen  = "REMOTETOUCH_METRICS_LISTEN"
)

// LoadDotEnv loads KEY=value pairs from the given files (default ".env")
// into the process environment. Missing files are skipped; variables that
// are already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg fields from REMOTETOUCH_* variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv(EnvStorageBackend); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv(EnvStoragePath); v != "" {
		c.Storage.Path = expandTilde(v)
	}
	if v := os.Getenv(EnvDeviceName); v != "" {
		c.BLE.DeviceName = v
	}
	if v, ok := os.LookupEnv(EnvMetricsListen); ok {
		c.Metrics.Listen = v
	}
}
