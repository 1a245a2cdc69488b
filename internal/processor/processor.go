// Package processor turns decoded commands into host input according to the
// current mode.
package processor

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/chaz8081/remotetouch/internal/ble/protocol"
	"github.com/chaz8081/remotetouch/internal/event"
	"github.com/chaz8081/remotetouch/internal/metrics"
)

// DefaultDispatchMaxDelta bounds each cursor axis at the sink, after validation.
const DefaultDispatchMaxDelta = 1000

// Options configures a Processor.
type Options struct {
	Limits           protocol.Limits // ingress bounds; zero value means protocol.DefaultLimits
	DispatchMaxDelta float64         // default DefaultDispatchMaxDelta
	Events           event.Publisher // receives ModeChanged; default event.Discard
}

// Processor decodes, validates and dispatches command payloads one at a time.
type Processor struct {
	sink   ActionSink
	events event.Publisher

	mu          sync.Mutex
	mode        protocol.Mode
	limits      protocol.Limits
	dispatchMax float64
}

// New returns a processor in the default mode.
func New(sink ActionSink, opts Options) *Processor {
	if opts.Limits == (protocol.Limits{}) {
		opts.Limits = protocol.DefaultLimits()
	}
	if opts.DispatchMaxDelta <= 0 {
		opts.DispatchMaxDelta = DefaultDispatchMaxDelta
	}
	if opts.Events == nil {
		opts.Events = event.Discard
	}
	return &Processor{
		sink:        sink,
		events:      opts.Events,
		mode:        protocol.DefaultMode,
		limits:      opts.Limits,
		dispatchMax: opts.DispatchMaxDelta,
	}
}

// Process handles one raw command payload. Bad input is logged and dropped;
// Process never returns an error and never panics.
func (p *Processor) Process(raw []byte) {
	_ = p.Handle(raw)
}

// Handle is Process for transports that can report a rejection to the peer:
// it returns the decode or validation error that caused a payload to be
// dropped.
func (p *Processor) Handle(raw []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[PROC] recovered from panic", "panic", r)
			metrics.CommandsTotal.WithLabelValues("unknown", "panic").Inc()
			err = fmt.Errorf("processor: recovered from panic: %v", r)
		}
	}()

	cmd, err := protocol.DecodeCommand(raw)
	if err != nil {
		slog.Debug("[PROC] dropping undecodable command", "bytes", len(raw), "error", err)
		metrics.CommandsTotal.WithLabelValues("unknown", "decode_error").Inc()
		return err
	}

	p.mu.Lock()
	lim := p.limits
	p.mu.Unlock()
	if err := protocol.Validate(cmd, lim); err != nil {
		slog.Debug("[PROC] dropping invalid command", "type", cmd.Type(), "error", err)
		metrics.CommandsTotal.WithLabelValues(cmd.Type(), "invalid").Inc()
		return err
	}

	p.Dispatch(cmd)
	return nil
}

// Dispatch routes an already validated command to the sink.
func (p *Processor) Dispatch(cmd protocol.Command) {
	if cmd == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[PROC] sink panicked", "type", cmd.Type(), "panic", r)
			metrics.CommandsTotal.WithLabelValues(cmd.Type(), "panic").Inc()
		}
	}()
	p.mu.Lock()
	defer p.mu.Unlock()
	cmd.Accept(dispatcher{p})
	metrics.CommandsTotal.WithLabelValues(cmd.Type(), "dispatched").Inc()
}

// Mode returns the current mode.
func (p *Processor) Mode() protocol.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

// SetMode sets the mode directly. Invalid modes are ignored.
func (p *Processor) SetMode(m protocol.Mode) {
	if !m.Valid() {
		slog.Warn("[PROC] ignoring invalid mode", "mode", m)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setModeLocked(m)
}

// ResetMode returns to the default mode. Called when the peer disconnects.
func (p *Processor) ResetMode() {
	p.SetMode(protocol.DefaultMode)
}

// SetLimits replaces the ingress and dispatch bounds (config reload).
func (p *Processor) SetLimits(lim protocol.Limits, dispatchMax float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if lim != (protocol.Limits{}) {
		p.limits = lim
	}
	if dispatchMax > 0 {
		p.dispatchMax = dispatchMax
	}
}

func (p *Processor) setModeLocked(m protocol.Mode) {
	if p.mode == m {
		return
	}
	slog.Info("[PROC] mode changed", "from", p.mode, "to", m)
	p.mode = m
	p.events.Publish(event.Event{Kind: event.ModeChanged, Mode: string(m)})
}

// dispatcher implements the dispatch table. It runs with p.mu held.
type dispatcher struct{ p *Processor }

var _ protocol.Handler = dispatcher{}

func (d dispatcher) HandleCursorMove(c protocol.CursorMove) {
	lim := d.p.dispatchMax
	d.p.sink.MoveCursor(clamp(c.DX, lim), clamp(c.DY, lim))
}

func (d dispatcher) HandleTap(c protocol.Tap) {
	if c.ClickType == protocol.ClickSingle && d.p.mode == protocol.ModeMediaControl {
		d.p.sink.MediaAction(protocol.MediaPlayPause)
		return
	}
	d.p.sink.Click(c.ClickType)
}

func (d dispatcher) HandleButton(c protocol.Button) {
	var back, forward NavKey
	switch d.p.mode {
	case protocol.ModeBasicMouse:
		back, forward = NavCommandLeft, NavEnter
	default: // presentation, mediaControl
		back, forward = NavLeftArrow, NavRightArrow
	}
	switch c.Action {
	case protocol.ButtonBack:
		d.p.sink.NavKey(back)
	case protocol.ButtonForward:
		d.p.sink.NavKey(forward)
	}
}

func (d dispatcher) HandleModeChange(c protocol.ModeChange) {
	if !c.Mode.Valid() {
		return
	}
	d.p.setModeLocked(c.Mode)
}

func (d dispatcher) HandleMediaControl(c protocol.MediaControl) {
	d.p.sink.MediaAction(c.Action)
}

func (d dispatcher) HandlePinch(c protocol.Pinch) {
	slog.Info("[PROC] pinch not implemented", "scale", c.Scale)
}

func clamp(v, limit float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-limit, math.Min(limit, v))
}
