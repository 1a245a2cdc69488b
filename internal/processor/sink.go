package processor

import "github.com/chaz8081/remotetouch/internal/ble/protocol"

// Key names a navigation key independent of the injection backend.
type Key string

const (
	KeyLeftArrow  Key = "leftArrow"
	KeyRightArrow Key = "rightArrow"
	KeyUpArrow    Key = "upArrow"
	KeyDownArrow  Key = "downArrow"
	KeyEnter      Key = "enter"
	KeyEscape     Key = "escape"
	KeySpace      Key = "space"
)

// Modifier is a key held while a navigation key is tapped.
type Modifier string

const ModCommand Modifier = "command"

// NavKey is a key plus modifiers.
type NavKey struct {
	Key       Key
	Modifiers []Modifier
}

// Navigation keys the dispatch table and CLI use.
var (
	NavLeftArrow    = NavKey{Key: KeyLeftArrow}
	NavRightArrow   = NavKey{Key: KeyRightArrow}
	NavUpArrow      = NavKey{Key: KeyUpArrow}
	NavDownArrow    = NavKey{Key: KeyDownArrow}
	NavEnter        = NavKey{Key: KeyEnter}
	NavEscape       = NavKey{Key: KeyEscape}
	NavSpace        = NavKey{Key: KeySpace}
	NavCommandLeft  = NavKey{Key: KeyLeftArrow, Modifiers: []Modifier{ModCommand}}
	NavCommandRight = NavKey{Key: KeyRightArrow, Modifiers: []Modifier{ModCommand}}
)

// String returns the identifier used in logs, e.g. "commandLeft".
func (k NavKey) String() string {
	if len(k.Modifiers) == 1 && k.Modifiers[0] == ModCommand {
		switch k.Key {
		case KeyLeftArrow:
			return "commandLeft"
		case KeyRightArrow:
			return "commandRight"
		}
	}
	s := string(k.Key)
	for _, m := range k.Modifiers {
		s = string(m) + "+" + s
	}
	return s
}

// ActionSink performs host input. Calls are fire-and-forget: a sink that
// cannot act (no permission, input disabled) silently does nothing.
type ActionSink interface {
	MoveCursor(dx, dy float64)
	Click(protocol.ClickType)
	NavKey(NavKey)
	MediaAction(protocol.MediaAction)
}
