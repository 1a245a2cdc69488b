package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0644); err != nil {
		t.Fatal(err)
	}

	got := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { got <- c })
	if err != nil {
		t.Fatalf("NewWatcher() error = %v", err)
	}
	w.Start(context.Background())
	defer w.Stop()

	// An invalid edit is ignored.
	if err := os.WriteFile(path, []byte("log_level: chatty\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		t.Fatalf("invalid config delivered: %+v", c)
	case <-time.After(2 * watchDebounce):
	}

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-got:
		if c.LogLevel != "debug" {
			t.Errorf("reloaded LogLevel = %q, want debug", c.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload delivered")
	}
}

func TestWatcherMissingDir(t *testing.T) {
	if _, err := NewWatcher("/nonexistent/dir/config.yaml", func(*Config) {}); err == nil {
		t.Error("NewWatcher() should fail for a missing directory")
	}
}
