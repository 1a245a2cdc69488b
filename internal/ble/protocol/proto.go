// Package protocol implements the RemoteTouch command/status wire protocol:
// the closed set of command variants, their JSON encoding, and the ingress
// validation rules applied before a command is dispatched.
package protocol

// Message type discriminators carried in the "type" field.
const (
	TypeCursorMove   = "cursorMove"
	TypeTap          = "tap"
	TypeButton       = "button"
	TypeModeChange   = "modeChange"
	TypeMediaControl = "mediaControl"
	TypePinch        = "pinch"
	TypeStatus       = "status"
)

// ClickType is the kind of click a Tap produces.
type ClickType string

const (
	ClickSingle ClickType = "single"
	ClickDouble ClickType = "double"
)

func (c ClickType) valid() bool {
	return c == ClickSingle || c == ClickDouble
}

// ButtonAction is the hardware-style back/forward button on the remote.
type ButtonAction string

const (
	ButtonBack    ButtonAction = "back"
	ButtonForward ButtonAction = "forward"
)

func (a ButtonAction) valid() bool {
	return a == ButtonBack || a == ButtonForward
}

// Mode is the interpretation context for Button and Tap commands.
type Mode string

const (
	ModePresentation Mode = "presentation"
	ModeMediaControl Mode = "mediaControl"
	ModeBasicMouse   Mode = "basicMouse"
)

// DefaultMode is the mode a processor starts in and returns to on disconnect.
const DefaultMode = ModeBasicMouse

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModePresentation, ModeMediaControl, ModeBasicMouse:
		return true
	}
	return false
}

// MediaAction is a media key.
type MediaAction string

const (
	MediaPlayPause  MediaAction = "playPause"
	MediaVolumeUp   MediaAction = "volumeUp"
	MediaVolumeDown MediaAction = "volumeDown"
)

func (a MediaAction) valid() bool {
	switch a {
	case MediaPlayPause, MediaVolumeUp, MediaVolumeDown:
		return true
	}
	return false
}

// Message is anything that travels over the command or status characteristic.
type Message interface {
	// Type returns the wire discriminator.
	Type() string
}

// Command is one remote-control action. The variant set is closed: every
// variant is dispatched through Handler, so adding a variant without
// extending Handler (and therefore every implementation of it) does not compile.
type Command interface {
	Message
	Accept(h Handler)
}

// Handler receives a command by variant.
type Handler interface {
	HandleCursorMove(CursorMove)
	HandleTap(Tap)
	HandleButton(Button)
	HandleModeChange(ModeChange)
	HandleMediaControl(MediaControl)
	HandlePinch(Pinch)
}

// CursorMove moves the pointer by a relative delta.
type CursorMove struct {
	DX float64
	DY float64
}

// Tap clicks at the current pointer position.
type Tap struct {
	ClickType ClickType
}

// Button presses back or forward; its effect depends on the current Mode.
type Button struct {
	Action ButtonAction
}

// ModeChange switches the processor to a new Mode.
type ModeChange struct {
	Mode Mode
}

// MediaControl sends a media key.
type MediaControl struct {
	Action MediaAction
}

// Pinch carries a zoom gesture scale factor.
type Pinch struct {
	Scale float64
}

func (CursorMove) Type() string   { return TypeCursorMove }
func (Tap) Type() string          { return TypeTap }
func (Button) Type() string       { return TypeButton }
func (ModeChange) Type() string   { return TypeModeChange }
func (MediaControl) Type() string { return TypeMediaControl }
func (Pinch) Type() string        { return TypePinch }

func (c CursorMove) Accept(h Handler)   { h.HandleCursorMove(c) }
func (c Tap) Accept(h Handler)          { h.HandleTap(c) }
func (c Button) Accept(h Handler)       { h.HandleButton(c) }
func (c ModeChange) Accept(h Handler)   { h.HandleModeChange(c) }
func (c MediaControl) Accept(h Handler) { h.HandleMediaControl(c) }
func (c Pinch) Accept(h Handler)        { h.HandlePinch(c) }
