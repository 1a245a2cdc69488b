package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/remotetouch/internal/ble/protocol"
)

// Client-side pairing outcomes.
var (
	ErrServerLocked   = errors.New("ble: server is locked out")
	ErrPairingDenied  = errors.New("ble: server rejected the pairing code")
	ErrPairingTimeout = errors.New("ble: timed out waiting for the server")
)

// resultWait bounds the wait for a pairing outcome notification after the
// code write succeeded.
const resultWait = 2 * time.Second

// PairResult describes a completed pairing exchange.
type PairResult struct {
	Address       string
	AlreadyPaired bool // the server already held a trust record for us
}

// PairOptions configures pairing behavior.
type PairOptions struct {
	DeviceName string        // name the server stores in its trust record
	Timeout    time.Duration // bounds connect and each wait for the server

	// Prompt asks the user for the code shown on the server. When nil, the
	// code carried in the server's pending response is submitted as is.
	Prompt func(ctx context.Context) (string, error)
}

// DefaultPairOptions returns sensible defaults for production use.
func DefaultPairOptions() PairOptions {
	return PairOptions{
		DeviceName: "RemoteTouch client",
		Timeout:    10 * time.Second,
	}
}

// ScanForDevices scans for servers advertising the RemoteTouch service.
func ScanForDevices(adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, ServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// Pair runs the pairing exchange with the server at address: read the
// pairing characteristic, obtain the code, and write it back with our
// device name.
func Pair(ctx context.Context, adapter Adapter, address string, opts PairOptions) (*PairResult, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.DeviceName == "" {
		opts.DeviceName = DefaultPairOptions().DeviceName
	}

	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	conn, err := adapter.Connect(connectCtx, address)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("ble: connect for pairing: %w", err)
	}
	defer func() { _ = conn.Disconnect() }()

	pairingChar, err := conn.DiscoverCharacteristic(ServiceUUID, PairingCharUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: discover pairing char: %w", err)
	}

	updates := make(chan protocol.PairingResponse, 4)
	if err := pairingChar.Subscribe(func(data []byte) {
		resp, err := protocol.DecodePairingResponse(data)
		if err != nil {
			slog.Debug("[BLE] ignoring malformed pairing notification", "error", err)
			return
		}
		select {
		case updates <- resp:
		default:
		}
	}); err != nil {
		return nil, fmt.Errorf("ble: subscribe to pairing char: %w", err)
	}

	resp, err := readPairingStatus(ctx, pairingChar, updates, opts.Timeout)
	if err != nil {
		return nil, err
	}

	switch resp.Status {
	case protocol.PairingPaired:
		slog.Info("[BLE] already paired", "address", address)
		return &PairResult{Address: address, AlreadyPaired: true}, nil
	case protocol.PairingLocked:
		return nil, fmt.Errorf("%w: retry in %ds", ErrServerLocked, resp.RemainingTime)
	case protocol.PairingFailed:
		return nil, fmt.Errorf("%w: %s", ErrPairingDenied, resp.Error)
	}

	code := resp.Code
	if opts.Prompt != nil {
		if code, err = opts.Prompt(ctx); err != nil {
			return nil, fmt.Errorf("ble: read pairing code: %w", err)
		}
	}

	req, err := protocol.EncodePairingRequest(protocol.PairingRequest{Code: code, DeviceName: opts.DeviceName})
	if err != nil {
		return nil, err
	}
	if err := pairingChar.Write(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPairingDenied, err)
	}

	// Servers that answer writes with an ATT result have already accepted
	// the code; servers without one publish the outcome as a notification.
	select {
	case resp := <-updates:
		switch resp.Status {
		case protocol.PairingPaired:
		case protocol.PairingFailed:
			return nil, fmt.Errorf("%w: %s", ErrPairingDenied, resp.Error)
		default:
			return nil, fmt.Errorf("%w: unexpected status %q", ErrPairingDenied, resp.Status)
		}
	case <-time.After(min(opts.Timeout, resultWait)):
		slog.Debug("[BLE] no pairing notification, trusting write result")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	slog.Info("[BLE] paired", "address", address, "device_name", opts.DeviceName)
	return &PairResult{Address: address}, nil
}

// readPairingStatus reads the pairing characteristic. An empty value means
// the server cannot serve reads, so a status request is written and the
// answer awaited as a notification. A "failed" value is the outcome of an
// earlier attempt left on the characteristic and is treated the same way.
func readPairingStatus(ctx context.Context, char Characteristic, updates <-chan protocol.PairingResponse, timeout time.Duration) (protocol.PairingResponse, error) {
	data, err := char.Read()
	if err != nil {
		return protocol.PairingResponse{}, fmt.Errorf("ble: read pairing char: %w", err)
	}
	if len(data) > 0 {
		resp, err := protocol.DecodePairingResponse(data)
		if err != nil {
			return protocol.PairingResponse{}, fmt.Errorf("ble: pairing status: %w", err)
		}
		if resp.Status != protocol.PairingFailed {
			return resp, nil
		}
		slog.Debug("[BLE] stale pairing outcome on read, requesting status")
	}

	if err := char.Write([]byte(`{"request":"status"}`)); err != nil {
		return protocol.PairingResponse{}, fmt.Errorf("ble: request pairing status: %w", err)
	}
	select {
	case resp := <-updates:
		return resp, nil
	case <-time.After(timeout):
		return protocol.PairingResponse{}, ErrPairingTimeout
	case <-ctx.Done():
		return protocol.PairingResponse{}, ctx.Err()
	}
}
