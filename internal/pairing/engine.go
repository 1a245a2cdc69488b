// Package pairing issues and verifies six-digit pairing codes, enforces the
// wrong-code lockout, and writes trust records for peers that pair.
//
// Expiry is lazy: an issued code and a lockout deadline are compared against
// the clock on the next access, never by a background timer.
package pairing

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/remotetouch/internal/ble/protocol"
	"github.com/chaz8081/remotetouch/internal/event"
	"github.com/chaz8081/remotetouch/internal/metrics"
	"github.com/chaz8081/remotetouch/internal/trust"
)

// Pairing errors. Each maps to a distinct user-facing notification.
var (
	ErrInvalidCode     = errors.New("pairing: invalid code")
	ErrLockedOut       = errors.New("pairing: locked out")
	ErrTooManyAttempts = errors.New("pairing: too many attempts")
	ErrStorage         = errors.New("pairing: storage error")
	// ErrAlreadyPaired is for front ends that refuse to start pairing for a
	// peer with a trust record. VerifyPairingCode reports a repeat
	// submission as ErrInvalidCode.
	ErrAlreadyPaired = errors.New("pairing: already paired")
)

// CodeLength is the number of decimal digits in a pairing code.
const CodeLength = 6

// TrustStore is the persistence the engine needs. *trust.Store satisfies it.
type TrustStore interface {
	List() ([]trust.Device, error)
	Find(peer string) (trust.Device, bool, error)
	Upsert(d trust.Device) error
	Remove(id string) (bool, error)
	Touch(peer string, at time.Time) error
	LoadLockout() (time.Time, bool, error)
	SaveLockout(until time.Time) error
	ClearLockout() error
}

// Options configures an Engine. Zero values take defaults.
type Options struct {
	CodeTTL         time.Duration // default 60s
	MaxAttempts     int           // default 3
	LockoutDuration time.Duration // default 5m

	Now    func() time.Time // default time.Now
	Rand   io.Reader        // default crypto/rand.Reader
	Events event.Publisher  // default event.Discard
}

// DefaultOptions returns the production pairing policy.
func DefaultOptions() Options {
	return Options{
		CodeTTL:         60 * time.Second,
		MaxAttempts:     3,
		LockoutDuration: 5 * time.Minute,
	}
}

type session struct {
	id             string
	code           string
	issuedAt       time.Time
	peerID         string // empty once the peer disconnects
	failedAttempts int
}

// Engine is the pairing state machine. All methods are safe for concurrent use;
// state changes are serialized by one mutex.
type Engine struct {
	store TrustStore
	opts  Options

	mu           sync.Mutex
	session      *session
	lockoutUntil time.Time // zero when not locked out
}

// New builds an engine and restores any persisted lockout. A store read
// failure is logged; the engine starts unlocked.
func New(store TrustStore, opts Options) *Engine {
	def := DefaultOptions()
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = def.CodeTTL
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.LockoutDuration <= 0 {
		opts.LockoutDuration = def.LockoutDuration
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.Reader
	}
	if opts.Events == nil {
		opts.Events = event.Discard
	}

	e := &Engine{store: store, opts: opts}
	until, ok, err := store.LoadLockout()
	switch {
	case err != nil:
		slog.Error("[PAIRING] failed to load lockout", "error", err)
	case ok:
		e.lockoutUntil = until
		slog.Info("[PAIRING] restored lockout", "until", until)
	}
	return e
}

// GeneratePairingCode starts a new session bound to peerID and returns its
// code. Any outstanding session is replaced.
func (e *Engine) GeneratePairingCode(peerID string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generateLocked(peerID)
}

func (e *Engine) generateLocked(peerID string) (string, error) {
	if e.lockedLocked() {
		return "", ErrLockedOut
	}
	code, err := e.newCode()
	if err != nil {
		return "", err
	}
	now := e.opts.Now()
	e.session = &session{
		id:       uuid.NewString(),
		code:     code,
		issuedAt: now,
		peerID:   peerID,
	}
	metrics.PairingCodesIssuedTotal.Inc()
	slog.Info("[PAIRING] code generated", "peer", peerID, "session", e.session.id)
	slog.Debug("[PAIRING] code value", "code", code)
	e.opts.Events.Publish(event.Event{
		Kind:   event.CodeGenerated,
		At:     now,
		PeerID: peerID,
		Code:   code,
	})
	return code, nil
}

// newCode draws a uniform integer in [0, 10^6) and zero-pads it.
func (e *Engine) newCode() (string, error) {
	n, err := rand.Int(e.opts.Rand, big.NewInt(1_000_000))
	if err != nil {
		return "", fmt.Errorf("pairing: generate code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// VerifyPairingCode checks code for peerID. On success the peer's trust
// record is written and the session ends.
func (e *Engine) VerifyPairingCode(code, peerID, deviceName string) (trust.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lockedLocked() {
		metrics.PairingAttemptsTotal.WithLabelValues("locked_out").Inc()
		return trust.Device{}, e.fail(peerID, ErrLockedOut)
	}

	s := e.session
	if s == nil {
		metrics.PairingAttemptsTotal.WithLabelValues("no_session").Inc()
		return trust.Device{}, e.fail(peerID, ErrInvalidCode)
	}

	now := e.opts.Now()
	if now.Sub(s.issuedAt) > e.opts.CodeTTL {
		slog.Info("[PAIRING] code expired", "session", s.id)
		e.session = nil
		metrics.PairingAttemptsTotal.WithLabelValues("expired").Inc()
		return trust.Device{}, e.fail(peerID, ErrInvalidCode)
	}

	if s.peerID == "" || s.peerID != peerID {
		slog.Warn("[PAIRING] code submitted by unbound peer", "peer", peerID, "session", s.id)
		metrics.PairingAttemptsTotal.WithLabelValues("wrong_peer").Inc()
		return trust.Device{}, e.fail(peerID, ErrInvalidCode)
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(s.code)) != 1 {
		s.failedAttempts++
		if s.failedAttempts >= e.opts.MaxAttempts {
			e.startLockoutLocked(now)
			metrics.PairingAttemptsTotal.WithLabelValues("too_many_attempts").Inc()
			return trust.Device{}, e.fail(peerID, ErrTooManyAttempts)
		}
		slog.Warn("[PAIRING] wrong code", "peer", peerID, "attempt", s.failedAttempts, "max", e.opts.MaxAttempts)
		metrics.PairingAttemptsTotal.WithLabelValues("invalid").Inc()
		return trust.Device{}, e.fail(peerID, ErrInvalidCode)
	}

	d := trust.Device{
		ID:            peerID,
		Name:          deviceName,
		PeerAddress:   peerID,
		LastConnected: now,
		IsPaired:      true,
	}
	if err := e.store.Upsert(d); err != nil {
		slog.Error("[PAIRING] failed to save trust record", "peer", peerID, "error", err)
		metrics.PairingAttemptsTotal.WithLabelValues("storage_error").Inc()
		return trust.Device{}, e.fail(peerID, fmt.Errorf("%w: %w", ErrStorage, err))
	}

	e.session = nil
	metrics.PairingAttemptsTotal.WithLabelValues("success").Inc()
	slog.Info("[PAIRING] paired", "peer", peerID, "name", deviceName)
	e.opts.Events.Publish(event.Event{
		Kind:       event.PairingCompleted,
		At:         now,
		PeerID:     peerID,
		DeviceName: deviceName,
	})
	return d, nil
}

// startLockoutLocked sets and persists the lockout and ends the session. A
// persist failure is logged; the in-memory lockout still applies.
func (e *Engine) startLockoutLocked(now time.Time) {
	e.lockoutUntil = now.Add(e.opts.LockoutDuration)
	e.session = nil
	if err := e.store.SaveLockout(e.lockoutUntil); err != nil {
		slog.Error("[PAIRING] failed to persist lockout", "error", err)
	}
	metrics.LockoutsTotal.Inc()
	slog.Warn("[PAIRING] locked out", "until", e.lockoutUntil)
	e.opts.Events.Publish(event.Event{
		Kind:  event.LockedOut,
		At:    now,
		Until: e.lockoutUntil,
	})
}

func (e *Engine) fail(peerID string, err error) error {
	e.opts.Events.Publish(event.Event{
		Kind:   event.PairingFailed,
		At:     e.opts.Now(),
		PeerID: peerID,
		Err:    err,
	})
	return err
}

// CurrentPairingCode returns the outstanding code, clearing it if expired.
func (e *Engine) CurrentPairingCode() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.currentLocked()
	if s == nil {
		return "", false
	}
	return s.code, true
}

// currentLocked returns the live session, dropping it if expired.
func (e *Engine) currentLocked() *session {
	if e.session == nil {
		return nil
	}
	if e.opts.Now().Sub(e.session.issuedAt) > e.opts.CodeTTL {
		slog.Debug("[PAIRING] dropping expired session", "session", e.session.id)
		e.session = nil
		return nil
	}
	return e.session
}

// IsLockedOut reports whether a lockout is in force. An expired lockout is
// cleared, including its persisted copy.
func (e *Engine) IsLockedOut() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lockedLocked()
}

func (e *Engine) lockedLocked() bool {
	if e.lockoutUntil.IsZero() {
		return false
	}
	if e.opts.Now().Before(e.lockoutUntil) {
		return true
	}
	e.lockoutUntil = time.Time{}
	if err := e.store.ClearLockout(); err != nil {
		slog.Error("[PAIRING] failed to clear persisted lockout", "error", err)
	}
	slog.Info("[PAIRING] lockout expired")
	return false
}

// RemainingLockoutTime returns the time left in the lockout, if any.
func (e *Engine) RemainingLockoutTime() (time.Duration, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.lockedLocked() {
		return 0, false
	}
	return e.lockoutUntil.Sub(e.opts.Now()), true
}

// IsDevicePaired reports whether peerID matches a trust record by id or address.
func (e *Engine) IsDevicePaired(peerID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	paired, err := e.pairedLocked(peerID)
	if err != nil {
		slog.Error("[PAIRING] trust lookup failed", "peer", peerID, "error", err)
	}
	return paired
}

func (e *Engine) pairedLocked(peerID string) (bool, error) {
	d, ok, err := e.store.Find(peerID)
	if err != nil {
		return false, err
	}
	return ok && d.IsPaired, nil
}

// IssueOrStatus answers a pairing characteristic read. A paired peer gets
// "paired", a locked engine "locked", anyone else a pending code. A peer that
// already holds the live session gets the same code back, so rereading the
// characteristic does not reset the attempt counter.
func (e *Engine) IssueOrStatus(peerID string) (protocol.PairingResponse, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if paired, err := e.pairedLocked(peerID); err != nil {
		return protocol.PairingResponse{}, fmt.Errorf("%w: %w", ErrStorage, err)
	} else if paired {
		return protocol.PairingResponse{Status: protocol.PairingPaired}, nil
	}
	if e.lockedLocked() {
		return protocol.LockedResponse(e.lockoutUntil.Sub(e.opts.Now())), nil
	}
	if s := e.currentLocked(); s != nil && s.peerID != "" && s.peerID == peerID {
		return protocol.PairingResponse{Status: protocol.PairingPending, Code: s.code}, nil
	}
	code, err := e.generateLocked(peerID)
	if err != nil {
		return protocol.PairingResponse{}, err
	}
	return protocol.PairingResponse{Status: protocol.PairingPending, Code: code}, nil
}

// PeerDisconnected unbinds the outstanding session from peerID so a
// reconnecting peer with a new identifier cannot use it.
func (e *Engine) PeerDisconnected(peerID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session != nil && e.session.peerID == peerID {
		slog.Debug("[PAIRING] unbinding session from disconnected peer", "peer", peerID, "session", e.session.id)
		e.session.peerID = ""
	}
}

// CancelPairing drops any outstanding session. It reports whether one existed.
func (e *Engine) CancelPairing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return false
	}
	slog.Info("[PAIRING] cancelled", "session", e.session.id)
	peer := e.session.peerID
	e.session = nil
	e.opts.Events.Publish(event.Event{
		Kind:   event.PairingCancelled,
		At:     e.opts.Now(),
		PeerID: peer,
	})
	return true
}

// TouchDevice refreshes LastConnected for a paired peer.
func (e *Engine) TouchDevice(peerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.store.Touch(peerID, e.opts.Now()); err != nil {
		return fmt.Errorf("pairing: touch %s: %w", peerID, err)
	}
	return nil
}

// ListDevices returns every trust record.
func (e *Engine) ListDevices() ([]trust.Device, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	devices, err := e.store.List()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return devices, nil
}

// RemoveDevice deletes the trust record with the given id. Returns
// trust.ErrNotFound if there is none.
func (e *Engine) RemoveDevice(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed, err := e.store.Remove(id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if !removed {
		return fmt.Errorf("pairing: remove %s: %w", id, trust.ErrNotFound)
	}
	slog.Info("[PAIRING] device removed", "id", id)
	return nil
}

// ClearLockout lifts a lockout early (operator action).
func (e *Engine) ClearLockout() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lockoutUntil = time.Time{}
	if err := e.store.ClearLockout(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return nil
}
