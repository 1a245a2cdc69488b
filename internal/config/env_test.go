package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestApplyEnv(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvStorageBackend, "memory")
	t.Setenv(EnvStoragePath, "/var/lib/rt")
	t.Setenv(EnvDeviceName, "lab-mac")
	t.Setenv(EnvMetricsListen, ":9464")

	cfg := Default()
	cfg.ApplyEnv()

	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.Storage.Backend != "memory" || cfg.Storage.Path != "/var/lib/rt" {
		t.Errorf("Storage = %+v", cfg.Storage)
	}
	if cfg.BLE.DeviceName != "lab-mac" {
		t.Errorf("BLE.DeviceName = %q, want lab-mac", cfg.BLE.DeviceName)
	}
	if cfg.Metrics.Listen != ":9464" {
		t.Errorf("Metrics.Listen = %q, want :9464", cfg.Metrics.Listen)
	}
}

func TestApplyEnvUnsetKeepsValues(t *testing.T) {
	cfg := Default()
	want := cfg.BLE.DeviceName
	cfg.ApplyEnv()
	if cfg.BLE.DeviceName != want {
		t.Errorf("BLE.DeviceName = %q, want %q", cfg.BLE.DeviceName, want)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("REMOTETOUCH_DEVICE_NAME=from-dotenv\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Register cleanup for the variable godotenv will set.
	t.Setenv(EnvDeviceName, "")
	os.Unsetenv(EnvDeviceName)

	if err := LoadDotEnv(envFile, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv() error = %v", err)
	}
	if got := os.Getenv(EnvDeviceName); got != "from-dotenv" {
		t.Errorf("%s = %q, want from-dotenv", EnvDeviceName, got)
	}
}
