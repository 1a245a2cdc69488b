package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events an editor save produces.
const watchDebounce = 300 * time.Millisecond

// Watcher reloads the config file when it changes and hands valid configs to
// a callback. Invalid edits are logged and ignored.
type Watcher struct {
	path     string
	onChange func(*Config)
	fsw      *fsnotify.Watcher
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher watches path. The parent directory is watched so that
// rename-on-save editors are seen.
func NewWatcher(path string, onChange func(*Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("config: watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		fsw:      fsw,
	}, nil
}

// Start begins delivering reloads until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.loop(ctx)
	slog.Info("config watcher started", "path", w.path)
}

// Stop shuts down the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.fsw.Close()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				w.schedule(ctx)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(watchDebounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		slog.Warn("config reload failed, keeping previous config", "error", err)
		return
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		slog.Warn("config reload invalid, keeping previous config", "error", err)
		return
	}
	slog.Info("config reloaded", "path", w.path)
	w.onChange(cfg)
}
