// Package display renders pairing and connection events on a terminal,
// including the pending pairing code as a QR code.
package display

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/skip2/go-qrcode"

	"github.com/chaz8081/remotetouch/internal/event"
	"github.com/chaz8081/remotetouch/internal/pairing"
)

// Terminal writes one line per event, plus a QR block for new codes.
type Terminal struct {
	mu     sync.Mutex
	w      io.Writer
	showQR bool
}

// NewTerminal returns a Terminal writing to w.
func NewTerminal(w io.Writer, showQR bool) *Terminal {
	return &Terminal{w: w, showQR: showQR}
}

// Run renders events from sub until ctx is done or the subscription closes.
func (t *Terminal) Run(ctx context.Context, sub *event.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C:
			if !ok {
				return
			}
			t.Render(e)
		}
	}
}

// Render writes a single event.
func (t *Terminal) Render(e event.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := e.At.Format("15:04:05")
	switch e.Kind {
	case event.CodeGenerated:
		t.writeCode(e.Code)
	case event.PairingCompleted:
		fmt.Fprintf(t.w, "%s paired with %s (%s)\n", ts, e.DeviceName, e.PeerID)
	case event.PairingFailed:
		fmt.Fprintf(t.w, "%s pairing failed: %s\n", ts, FailureReason(e.Err))
	case event.LockedOut:
		fmt.Fprintf(t.w, "%s too many wrong codes, pairing locked until %s\n", ts, e.Until.Local().Format("15:04:05"))
	case event.PairingCancelled:
		fmt.Fprintf(t.w, "%s pairing cancelled\n", ts)
	case event.PeerConnected:
		fmt.Fprintf(t.w, "%s connected: %s\n", ts, e.PeerID)
	case event.PeerDisconnected:
		fmt.Fprintf(t.w, "%s disconnected: %s\n", ts, e.PeerID)
	case event.ModeChanged:
		fmt.Fprintf(t.w, "%s mode: %s\n", ts, e.Mode)
	}
}

// ShowCode writes the pending code (hotkey or CLI request).
func (t *Terminal) ShowCode(code string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeCode(code)
}

func (t *Terminal) writeCode(code string) {
	fmt.Fprintf(t.w, "Pairing code: %s\n", GroupCode(code))
	if !t.showQR {
		return
	}
	qr, err := QR(code)
	if err != nil {
		fmt.Fprintf(t.w, "(QR unavailable: %v)\n", err)
		return
	}
	fmt.Fprint(t.w, qr)
}

// GroupCode splits a six-digit code as "012 345" for reading aloud.
func GroupCode(code string) string {
	if len(code) != pairing.CodeLength {
		return code
	}
	return code[:3] + " " + code[3:]
}

// QR renders content as a compact terminal QR code.
func QR(content string) (string, error) {
	q, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "", fmt.Errorf("display: encode QR: %w", err)
	}
	return q.ToSmallString(false), nil
}

// FailureReason maps a pairing error to the message shown to the user.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return "unknown error"
	case errors.Is(err, pairing.ErrLockedOut):
		return "pairing is locked, try again later"
	case errors.Is(err, pairing.ErrTooManyAttempts):
		return "too many attempts"
	case errors.Is(err, pairing.ErrAlreadyPaired):
		return "device already paired"
	case errors.Is(err, pairing.ErrStorage):
		return "storage error, try again"
	case errors.Is(err, pairing.ErrInvalidCode):
		return "invalid pairing code"
	default:
		return err.Error()
	}
}
