package inject

import (
	"os"
	"runtime"
)

// Gate reports whether the host currently lets us inject input.
type Gate interface {
	Allowed() bool
}

// GateFunc adapts a function to Gate.
type GateFunc func() bool

func (f GateFunc) Allowed() bool { return f() }

// AllowAll never blocks injection.
var AllowAll Gate = GateFunc(func() bool { return true })

// DisplayGate checks that a graphical session is reachable. On Linux that
// means DISPLAY or WAYLAND_DISPLAY is set; macOS and Windows always pass and
// rely on the OS to refuse events when accessibility access is missing.
func DisplayGate() Gate {
	return GateFunc(func() bool {
		if runtime.GOOS != "linux" {
			return true
		}
		return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
	})
}
