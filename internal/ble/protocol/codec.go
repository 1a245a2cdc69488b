package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// MaxPayloadBytes is the largest command payload accepted from a peer.
// BLE attribute writes top out at 512 bytes, so anything longer is either a
// buggy peer or an attack.
const MaxPayloadBytes = 512

// Decode errors. Every decode failure wraps exactly one of these.
var (
	ErrEmpty           = errors.New("protocol: empty payload")
	ErrTooLarge        = errors.New("protocol: payload too large")
	ErrMissingType     = errors.New("protocol: missing type")
	ErrUnknownType     = errors.New("protocol: unknown type")
	ErrMalformedFields = errors.New("protocol: malformed fields")
)

// Wire shapes. Required fields are pointers so a missing field can be told
// apart from a zero value.
type (
	deltaWire struct {
		DX *float64 `json:"dx"`
		DY *float64 `json:"dy"`
	}
	cursorMoveWire struct {
		Type  string     `json:"type"`
		Delta *deltaWire `json:"delta"`
	}
	tapWire struct {
		Type      string  `json:"type"`
		ClickType *string `json:"clickType"`
	}
	actionWire struct {
		Type   string  `json:"type"`
		Action *string `json:"action"`
	}
	modeChangeWire struct {
		Type string  `json:"type"`
		Mode *string `json:"mode"`
	}
	pinchWire struct {
		Type  string   `json:"type"`
		Scale *float64 `json:"scale"`
	}
	statusWire struct {
		Type              string  `json:"type"`
		BatteryLevel      *int    `json:"batteryLevel"`
		Timestamp         *string `json:"timestamp"`
		ConnectionQuality *int    `json:"connectionQuality"`
	}
)

// Encode serializes a command or status message to its JSON wire form.
func Encode(msg Message) ([]byte, error) {
	var v any
	switch m := msg.(type) {
	case CursorMove:
		v = cursorMoveWire{Type: TypeCursorMove, Delta: &deltaWire{DX: &m.DX, DY: &m.DY}}
	case Tap:
		ct := string(m.ClickType)
		v = tapWire{Type: TypeTap, ClickType: &ct}
	case Button:
		a := string(m.Action)
		v = actionWire{Type: TypeButton, Action: &a}
	case ModeChange:
		mode := string(m.Mode)
		v = modeChangeWire{Type: TypeModeChange, Mode: &mode}
	case MediaControl:
		a := string(m.Action)
		v = actionWire{Type: TypeMediaControl, Action: &a}
	case Pinch:
		v = pinchWire{Type: TypePinch, Scale: &m.Scale}
	case Status:
		ts := formatTime(m.Timestamp)
		v = statusWire{
			Type:              TypeStatus,
			BatteryLevel:      &m.BatteryLevel,
			Timestamp:         &ts,
			ConnectionQuality: &m.ConnectionQuality,
		}
	case nil:
		return nil, errors.New("protocol: encode nil message")
	default:
		return nil, fmt.Errorf("protocol: encode unsupported message %T", msg)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", msg.Type(), err)
	}
	return data, nil
}

// Decode parses a command or status message. The payload size is checked
// before any parsing is attempted.
func Decode(data []byte) (Message, error) {
	switch {
	case len(data) == 0:
		return nil, ErrEmpty
	case len(data) > MaxPayloadBytes:
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrTooLarge, len(data), MaxPayloadBytes)
	}

	typ, err := readType(data)
	if err != nil {
		return nil, err
	}

	switch typ {
	case TypeCursorMove:
		var w cursorMoveWire
		if err := unmarshalFields(data, &w); err != nil {
			return nil, err
		}
		if w.Delta == nil || w.Delta.DX == nil || w.Delta.DY == nil {
			return nil, malformed(typ, "delta.dx and delta.dy are required")
		}
		return CursorMove{DX: *w.Delta.DX, DY: *w.Delta.DY}, nil

	case TypeTap:
		var w tapWire
		if err := unmarshalFields(data, &w); err != nil {
			return nil, err
		}
		if w.ClickType == nil || !ClickType(*w.ClickType).valid() {
			return nil, malformed(typ, "invalid clickType")
		}
		return Tap{ClickType: ClickType(*w.ClickType)}, nil

	case TypeButton:
		var w actionWire
		if err := unmarshalFields(data, &w); err != nil {
			return nil, err
		}
		if w.Action == nil || !ButtonAction(*w.Action).valid() {
			return nil, malformed(typ, "invalid action")
		}
		return Button{Action: ButtonAction(*w.Action)}, nil

	case TypeModeChange:
		var w modeChangeWire
		if err := unmarshalFields(data, &w); err != nil {
			return nil, err
		}
		if w.Mode == nil || !Mode(*w.Mode).Valid() {
			return nil, malformed(typ, "invalid mode")
		}
		return ModeChange{Mode: Mode(*w.Mode)}, nil

	case TypeMediaControl:
		var w actionWire
		if err := unmarshalFields(data, &w); err != nil {
			return nil, err
		}
		if w.Action == nil || !MediaAction(*w.Action).valid() {
			return nil, malformed(typ, "invalid action")
		}
		return MediaControl{Action: MediaAction(*w.Action)}, nil

	case TypePinch:
		var w pinchWire
		if err := unmarshalFields(data, &w); err != nil {
			return nil, err
		}
		if w.Scale == nil {
			return nil, malformed(typ, "scale is required")
		}
		return Pinch{Scale: *w.Scale}, nil

	case TypeStatus:
		var w statusWire
		if err := unmarshalFields(data, &w); err != nil {
			return nil, err
		}
		if w.BatteryLevel == nil || w.Timestamp == nil || w.ConnectionQuality == nil {
			return nil, malformed(typ, "batteryLevel, timestamp and connectionQuality are required")
		}
		ts, err := parseTime(*w.Timestamp)
		if err != nil {
			return nil, malformed(typ, "timestamp is not ISO-8601")
		}
		return Status{BatteryLevel: *w.BatteryLevel, Timestamp: ts, ConnectionQuality: *w.ConnectionQuality}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
}

// DecodeCommand is Decode restricted to command variants.
func DecodeCommand(data []byte) (Command, error) {
	msg, err := Decode(data)
	if err != nil {
		return nil, err
	}
	cmd, ok := msg.(Command)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a command", ErrUnknownType, msg.Type())
	}
	return cmd, nil
}

// DecodeStatus is Decode restricted to status messages.
func DecodeStatus(data []byte) (Status, error) {
	msg, err := Decode(data)
	if err != nil {
		return Status{}, err
	}
	st, ok := msg.(Status)
	if !ok {
		return Status{}, fmt.Errorf("%w: %q is not a status message", ErrUnknownType, msg.Type())
	}
	return st, nil
}

// readType extracts the discriminator without committing to a variant shape.
func readType(data []byte) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("%w: not a JSON object: %v", ErrMalformedFields, err)
	}
	raw, ok := fields["type"]
	if !ok {
		return "", ErrMissingType
	}
	var typ string
	if err := json.Unmarshal(raw, &typ); err != nil || typ == "" {
		return "", fmt.Errorf("%w: type must be a non-empty string", ErrMissingType)
	}
	return typ, nil
}

// wireFieldNames holds the exact key of every field on the wire.
var wireFieldNames = map[string]bool{
	"type": true, "delta": true, "dx": true, "dy": true,
	"clickType": true, "action": true, "mode": true, "scale": true,
	"batteryLevel": true, "timestamp": true, "connectionQuality": true,
	"status": true, "code": true, "remainingTime": true, "error": true,
	"deviceName": true, "request": true,
}

// checkFieldCase rejects keys that match a wire field only when case is
// ignored. encoding/json would accept them; the discriminator does not.
// Unknown keys and non-object payloads are left to the typed decode.
func checkFieldCase(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil
	}
	for k, v := range fields {
		if !wireFieldNames[k] {
			for name := range wireFieldNames {
				if strings.EqualFold(k, name) {
					return fmt.Errorf("%w: field %q must be spelled %q", ErrMalformedFields, k, name)
				}
			}
		}
		if v = bytes.TrimSpace(v); len(v) > 0 && v[0] == '{' {
			if err := checkFieldCase(v); err != nil {
				return err
			}
		}
	}
	return nil
}

func unmarshalFields(data []byte, v any) error {
	if err := checkFieldCase(data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFields, err)
	}
	return nil
}

func malformed(typ, detail string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedFields, typ, detail)
}

// formatTime renders t the way the mobile apps expect: ISO-8601, UTC, whole seconds.
func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
