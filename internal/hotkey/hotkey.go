// Package hotkey provides global hotkeys using gohook. Each binding maps a
// key combo to an action the server performs, such as showing the pending
// pairing code or cancelling pairing.
package hotkey

import (
	"fmt"
	"strings"
	"sync"

	hook "github.com/robotn/gohook"
)

// Action identifies what a hotkey asks for.
type Action string

const (
	ActionShowCode      Action = "show_code"
	ActionCancelPairing Action = "cancel_pairing"
)

// Binding maps a key combo to an action.
// Keys are lowercase key names (e.g., ["ctrl", "shift", "p"]).
type Binding struct {
	Action Action
	Keys   []string
}

// register is swapped in tests.
var register = hook.Register

// Listener manages global hotkeys and emits actions.
type Listener struct {
	bindings []Binding
	ch       chan Action
	done     chan struct{}
	once     sync.Once
}

// NewListener creates a Listener. Bindings with no keys are skipped; two
// bindings on the same combo are an error.
func NewListener(bindings ...Binding) (*Listener, error) {
	seen := make(map[string]Action)
	var kept []Binding
	for _, b := range bindings {
		keys := normalize(b.Keys)
		if len(keys) == 0 {
			continue
		}
		combo := strings.Join(keys, "+")
		if prev, ok := seen[combo]; ok {
			return nil, fmt.Errorf("hotkey: %s bound to both %s and %s", combo, prev, b.Action)
		}
		seen[combo] = b.Action
		kept = append(kept, Binding{Action: b.Action, Keys: keys})
	}
	return &Listener{
		bindings: kept,
		ch:       make(chan Action, 16),
		done:     make(chan struct{}),
	}, nil
}

// Actions returns the channel that receives triggered actions.
// The channel is closed when Start returns.
func (l *Listener) Actions() <-chan Action {
	return l.ch
}

// Bindings returns the effective bindings.
func (l *Listener) Bindings() []Binding {
	return l.bindings
}

// Start begins listening for the global hotkeys.
// This function blocks until Stop is called. Run it in a goroutine.
func (l *Listener) Start() {
	l.bind()

	evChan := hook.Start()
	go func() {
		<-l.done
		hook.End()
	}()
	<-hook.Process(evChan)
	close(l.ch)
}

func (l *Listener) bind() {
	for _, b := range l.bindings {
		action := b.Action
		register(hook.KeyDown, b.Keys, func(hook.Event) {
			select {
			case l.ch <- action:
			default: // don't block if channel is full
			}
		})
	}
}

// Stop terminates the hotkey listener.
// It is safe to call multiple times.
func (l *Listener) Stop() {
	l.once.Do(func() {
		close(l.done)
	})
}

func normalize(keys []string) []string {
	var out []string
	for _, k := range keys {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			out = append(out, k)
		}
	}
	return out
}
