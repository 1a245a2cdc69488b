// Package trust persists paired-device records and the pairing lockout over a
// small key/value contract. Backends: memory, JSON files, badger, OS keyring.
package trust

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrNotFound is returned by KV.Get when a key has no value.
var ErrNotFound = errors.New("trust: key not found")

// KV is the persistence contract the store needs.
type KV interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

// Backend is a KV that holds resources.
type Backend interface {
	KV
	io.Closer
}

// Backend names accepted by Open.
const (
	BackendMemory  = "memory"
	BackendFile    = "file"
	BackendBadger  = "badger"
	BackendKeyring = "keyring"
)

// Open returns the named backend. path is a directory for file and badger,
// the keyring service name for keyring, and ignored for memory.
func Open(backend, path string) (Backend, error) {
	switch backend {
	case BackendMemory:
		return NewMemoryKV(), nil
	case BackendFile, "":
		return NewFileKV(path)
	case BackendBadger:
		return OpenBadgerKV(path)
	case BackendKeyring:
		return NewKeyringKV(path), nil
	default:
		return nil, fmt.Errorf("trust: unknown backend %q (supported: file, badger, keyring, memory)", backend)
	}
}

// MemoryKV keeps values in process memory. Used in tests and for ephemeral runs.
type MemoryKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) Close() error { return nil }
