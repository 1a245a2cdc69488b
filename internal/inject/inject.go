// Package inject performs host input for dispatched commands using robotgo
// for pointer movement, clicks and key taps.
package inject

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-vgo/robotgo"

	"github.com/chaz8081/remotetouch/internal/ble/protocol"
	"github.com/chaz8081/remotetouch/internal/processor"
)

// Backend is the host input API. RobotBackend is the real one.
type Backend interface {
	MoveRelative(dx, dy int)
	Click(double bool)
	KeyTap(key string, modifiers ...string) error
}

// RobotBackend drives the host through robotgo.
type RobotBackend struct{}

func (RobotBackend) MoveRelative(dx, dy int) {
	robotgo.MoveRelative(dx, dy)
}

func (RobotBackend) Click(double bool) {
	robotgo.Click("left", double)
}

func (RobotBackend) KeyTap(key string, modifiers ...string) error {
	args := make([]interface{}, len(modifiers))
	for i, m := range modifiers {
		args[i] = m
	}
	return robotgo.KeyTap(key, args...)
}

// robotgo key names.
var keyNames = map[processor.Key]string{
	processor.KeyLeftArrow:  "left",
	processor.KeyRightArrow: "right",
	processor.KeyUpArrow:    "up",
	processor.KeyDownArrow:  "down",
	processor.KeyEnter:      "enter",
	processor.KeyEscape:     "escape",
	processor.KeySpace:      "space",
}

var modifierNames = map[processor.Modifier]string{
	processor.ModCommand: commandModifier,
}

var mediaKeys = map[protocol.MediaAction]string{
	protocol.MediaPlayPause:  "audio_play",
	protocol.MediaVolumeUp:   "audio_vol_up",
	protocol.MediaVolumeDown: "audio_vol_down",
}

// Sink is a processor.ActionSink over a Backend. Pointer deltas are scaled by
// the sensitivity; the fractional remainder carries over to the next move so
// slow drags are not lost to rounding.
type Sink struct {
	backend Backend
	gate    Gate

	enabled atomic.Bool
	denied  atomic.Bool // logged the gate denial already

	mu          sync.Mutex
	sensitivity float64
	remX, remY  float64
}

// NewSink returns an enabled sink. A nil gate allows everything.
func NewSink(backend Backend, gate Gate, sensitivity float64) *Sink {
	if gate == nil {
		gate = AllowAll
	}
	s := &Sink{backend: backend, gate: gate}
	s.enabled.Store(true)
	s.SetSensitivity(sensitivity)
	return s
}

// NewRobotSink returns a Sink that drives the host through robotgo.
func NewRobotSink(sensitivity float64) *Sink {
	return NewSink(RobotBackend{}, DisplayGate(), sensitivity)
}

// SetSensitivity changes the pointer multiplier. Non-positive values reset to 1.
func (s *Sink) SetSensitivity(v float64) {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		v = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sensitivity = v
	s.remX, s.remY = 0, 0
}

// SetEnabled turns injection on or off without touching the gate.
func (s *Sink) SetEnabled(on bool) {
	s.enabled.Store(on)
}

func (s *Sink) allowed() bool {
	if !s.enabled.Load() {
		return false
	}
	if !s.gate.Allowed() {
		if !s.denied.Swap(true) {
			slog.Warn("[INJECT] input permission not granted, dropping actions")
		}
		return false
	}
	s.denied.Store(false)
	return true
}

func (s *Sink) MoveCursor(dx, dy float64) {
	if !s.allowed() {
		return
	}
	s.mu.Lock()
	x := dx*s.sensitivity + s.remX
	y := dy*s.sensitivity + s.remY
	ix, iy := math.Trunc(x), math.Trunc(y)
	s.remX, s.remY = x-ix, y-iy
	s.mu.Unlock()

	if ix == 0 && iy == 0 {
		return
	}
	s.backend.MoveRelative(int(ix), int(iy))
}

func (s *Sink) Click(c protocol.ClickType) {
	if !s.allowed() {
		return
	}
	s.backend.Click(c == protocol.ClickDouble)
}

func (s *Sink) NavKey(k processor.NavKey) {
	if !s.allowed() {
		return
	}
	key, ok := keyNames[k.Key]
	if !ok {
		slog.Warn("[INJECT] unknown key", "key", k.Key)
		return
	}
	mods := make([]string, 0, len(k.Modifiers))
	for _, m := range k.Modifiers {
		if name, ok := modifierNames[m]; ok {
			mods = append(mods, name)
		}
	}
	if err := s.backend.KeyTap(key, mods...); err != nil {
		slog.Warn("[INJECT] key tap failed", "key", k.String(), "error", err)
	}
}

func (s *Sink) MediaAction(a protocol.MediaAction) {
	if !s.allowed() {
		return
	}
	key, ok := mediaKeys[a]
	if !ok {
		slog.Warn("[INJECT] unknown media action", "action", a)
		return
	}
	if err := s.backend.KeyTap(key); err != nil {
		slog.Warn("[INJECT] media key failed", "action", a, "error", err)
	}
}

var _ processor.ActionSink = (*Sink)(nil)
