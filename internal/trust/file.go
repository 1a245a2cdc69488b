package trust

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/renameio/v2"
)

// FileKV stores each key as <dir>/<key>.json. Writes are atomic: a reader
// sees either the old value or the new one, never a torn file.
type FileKV struct {
	dir string
}

// NewFileKV creates dir if needed.
func NewFileKV(dir string) (*FileKV, error) {
	if dir == "" {
		return nil, errors.New("trust: file backend needs a directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("trust: create store dir: %w", err)
	}
	return &FileKV{dir: dir}, nil
}

func (f *FileKV) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || strings.Contains(key, "..") {
		return "", fmt.Errorf("trust: invalid key %q", key)
	}
	return filepath.Join(f.dir, key+".json"), nil
}

func (f *FileKV) Get(key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trust: read %s: %w", key, err)
	}
	return data, nil
}

func (f *FileKV) Set(key string, value []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	pending, err := renameio.NewPendingFile(p, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("trust: create pending %s: %w", key, err)
	}
	defer func() {
		if err := pending.Cleanup(); err != nil {
			slog.Debug("[STORE] cleanup pending file", "key", key, "error", err)
		}
	}()
	if _, err := pending.Write(value); err != nil {
		return fmt.Errorf("trust: write %s: %w", key, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("trust: replace %s: %w", key, err)
	}
	return nil
}

func (f *FileKV) Delete(key string) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("trust: delete %s: %w", key, err)
	}
	return nil
}

func (f *FileKV) Close() error { return nil }
