package trust

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// DefaultKeyringService is the service name used when none is configured.
const DefaultKeyringService = "remotetouch"

// KeyringKV stores values in the OS credential store (macOS Keychain,
// Secret Service, Windows Credential Manager). Each key is one secret.
type KeyringKV struct {
	service string
}

func NewKeyringKV(service string) *KeyringKV {
	if service == "" {
		service = DefaultKeyringService
	}
	return &KeyringKV{service: service}
}

func (k *KeyringKV) Get(key string) ([]byte, error) {
	v, err := keyring.Get(k.service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trust: keyring get %s: %w", key, err)
	}
	return []byte(v), nil
}

func (k *KeyringKV) Set(key string, value []byte) error {
	if err := keyring.Set(k.service, key, string(value)); err != nil {
		return fmt.Errorf("trust: keyring set %s: %w", key, err)
	}
	return nil
}

func (k *KeyringKV) Delete(key string) error {
	err := keyring.Delete(k.service, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("trust: keyring delete %s: %w", key, err)
	}
	return nil
}

func (k *KeyringKV) Close() error { return nil }
