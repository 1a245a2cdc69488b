package protocol

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// PairingState is the status field of a pairing characteristic read.
type PairingState string

const (
	PairingPaired  PairingState = "paired"
	PairingLocked  PairingState = "locked"
	PairingPending PairingState = "pending"
	// PairingFailed answers a rejected code submission on stacks that cannot
	// return an ATT error for a write.
	PairingFailed  PairingState = "failed"
)

// PairingResponse is what the server publishes on the pairing characteristic.
type PairingResponse struct {
	Status        PairingState `json:"status"`
	RemainingTime int          `json:"remainingTime,omitempty"` // seconds, locked only
	Code          string       `json:"code,omitempty"`          // pending only
	Error         string       `json:"error,omitempty"`         // failed only
}

// LockedResponse builds a "locked" response, rounding the remaining time up
// to whole seconds so a peer never retries a moment too early.
func LockedResponse(remaining time.Duration) PairingResponse {
	return PairingResponse{
		Status:        PairingLocked,
		RemainingTime: int(math.Ceil(remaining.Seconds())),
	}
}

// PairingRequest is what a peer writes to the pairing characteristic.
type PairingRequest struct {
	Code       string `json:"code"`
	DeviceName string `json:"deviceName"`
}

// EncodePairingResponse serializes a pairing characteristic response.
func EncodePairingResponse(r PairingResponse) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode pairing response: %w", err)
	}
	return data, nil
}

// DecodePairingResponse parses a pairing characteristic value (client role).
func DecodePairingResponse(data []byte) (PairingResponse, error) {
	var r PairingResponse
	if len(data) == 0 {
		return r, ErrEmpty
	}
	if err := checkFieldCase(data); err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("%w: pairing response: %v", ErrMalformedFields, err)
	}
	switch r.Status {
	case PairingPaired, PairingLocked, PairingFailed:
	case PairingPending:
		if r.Code == "" {
			return r, fmt.Errorf("%w: pending response without code", ErrMalformedFields)
		}
	default:
		return r, fmt.Errorf("%w: pairing status %q", ErrUnknownType, r.Status)
	}
	return r, nil
}

// EncodePairingRequest serializes a code submission (client role).
func EncodePairingRequest(r PairingRequest) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode pairing request: %w", err)
	}
	return data, nil
}

// IsPairingStatusRequest reports whether a pairing characteristic write is a
// request for the current pairing status rather than a code submission. Peers
// on stacks without read callbacks use an empty write or {"request":"status"}.
func IsPairingStatusRequest(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	var probe struct {
		Request string `json:"request"`
	}
	if checkFieldCase(data) != nil || json.Unmarshal(data, &probe) != nil {
		return false
	}
	return probe.Request == "status"
}

// DecodePairingRequest parses a code submission. Both fields are required.
func DecodePairingRequest(data []byte) (PairingRequest, error) {
	switch {
	case len(data) == 0:
		return PairingRequest{}, ErrEmpty
	case len(data) > MaxPayloadBytes:
		return PairingRequest{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	var w struct {
		Code       *string `json:"code"`
		DeviceName *string `json:"deviceName"`
	}
	if err := checkFieldCase(data); err != nil {
		return PairingRequest{}, err
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return PairingRequest{}, fmt.Errorf("%w: pairing request: %v", ErrMalformedFields, err)
	}
	if w.Code == nil || w.DeviceName == nil {
		return PairingRequest{}, fmt.Errorf("%w: pairing request needs code and deviceName", ErrMalformedFields)
	}
	return PairingRequest{Code: *w.Code, DeviceName: *w.DeviceName}, nil
}
