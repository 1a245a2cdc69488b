package trust

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Well-known keys.
const (
	KeyPairedDevices = "pairedDevices"
	KeyLockout       = "pairingLockoutDate"
)

// Device is a trust record for a peer that completed pairing.
type Device struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	PeerAddress   string    `json:"peerAddress"`
	LastConnected time.Time `json:"lastConnected"`
	IsPaired      bool      `json:"isPaired"`
}

// Matches reports whether peer identifies this device by id or address.
func (d Device) Matches(peer string) bool {
	return peer != "" && (d.ID == peer || d.PeerAddress == peer)
}

// Store is the device list and lockout persisted over a KV. Every
// read-modify-write runs under one mutex so concurrent updates are not lost.
type Store struct {
	mu sync.Mutex
	kv KV
}

func NewStore(kv KV) *Store {
	return &Store{kv: kv}
}

// load reads the device list. Caller holds mu.
func (s *Store) load() ([]Device, error) {
	data, err := s.kv.Get(KeyPairedDevices)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var devices []Device
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("trust: decode device list: %w", err)
	}
	return devices, nil
}

// save writes the device list. Caller holds mu.
func (s *Store) save(devices []Device) error {
	if devices == nil {
		devices = []Device{}
	}
	data, err := json.Marshal(devices)
	if err != nil {
		return fmt.Errorf("trust: encode device list: %w", err)
	}
	return s.kv.Set(KeyPairedDevices, data)
}

// List returns all trust records in insertion order.
func (s *Store) List() ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Find returns the record matching peer by id or address.
func (s *Store) Find(peer string) (Device, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices, err := s.load()
	if err != nil {
		return Device{}, false, err
	}
	for _, d := range devices {
		if d.Matches(peer) {
			return d, true, nil
		}
	}
	return Device{}, false, nil
}

// Upsert replaces the record with the same ID or appends a new one.
func (s *Store) Upsert(d Device) error {
	if d.ID == "" {
		return errors.New("trust: device id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	devices, err := s.load()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(devices, func(x Device) bool { return x.ID == d.ID })
	if i >= 0 {
		devices[i] = d
	} else {
		devices = append(devices, d)
	}
	return s.save(devices)
}

// Remove deletes the record with the given id. It reports whether one existed.
func (s *Store) Remove(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices, err := s.load()
	if err != nil {
		return false, err
	}
	n := len(devices)
	devices = slices.DeleteFunc(devices, func(x Device) bool { return x.ID == id })
	if len(devices) == n {
		return false, nil
	}
	return true, s.save(devices)
}

// Touch sets LastConnected on the record matching peer. Returns ErrNotFound
// if no record matches.
func (s *Store) Touch(peer string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	devices, err := s.load()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(devices, func(x Device) bool { return x.Matches(peer) })
	if i < 0 {
		return ErrNotFound
	}
	devices[i].LastConnected = at
	return s.save(devices)
}

// LoadLockout returns the persisted lockout deadline, if any.
func (s *Store) LoadLockout() (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.kv.Get(KeyLockout)
	if errors.Is(err, ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	var until time.Time
	if err := json.Unmarshal(data, &until); err != nil {
		return time.Time{}, false, fmt.Errorf("trust: decode lockout: %w", err)
	}
	return until, true, nil
}

// SaveLockout persists the lockout deadline.
func (s *Store) SaveLockout(until time.Time) error {
	data, err := json.Marshal(until.UTC())
	if err != nil {
		return fmt.Errorf("trust: encode lockout: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Set(KeyLockout, data)
}

// ClearLockout removes the persisted lockout.
func (s *Store) ClearLockout() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.kv.Delete(KeyLockout)
}
