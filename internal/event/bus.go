// Package event carries pairing and connection notifications from the
// protocol engine to whatever presents them (terminal, hotkeys, metrics).
// Publishing never blocks: a subscriber that falls behind loses events.
package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened.
type Kind string

const (
	CodeGenerated    Kind = "pairing.code_generated"
	PairingCompleted Kind = "pairing.completed"
	PairingFailed    Kind = "pairing.failed"
	LockedOut        Kind = "pairing.locked_out"
	PairingCancelled Kind = "pairing.cancelled"
	PeerConnected    Kind = "peer.connected"
	PeerDisconnected Kind = "peer.disconnected"
	ModeChanged      Kind = "mode.changed"
)

// Event is a single notification. Only the fields relevant to Kind are set.
type Event struct {
	ID         string
	Kind       Kind
	At         time.Time
	PeerID     string
	DeviceName string
	Code       string    // CodeGenerated
	Until      time.Time // LockedOut
	Mode       string    // ModeChanged
	Err        error     // PairingFailed
}

// Publisher is the narrow interface producers depend on.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Bus fans events out to any number of subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]chan Event
	closed bool

	dropped atomic.Uint64
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Event)}
}

// Subscription is one listener's view of the bus.
type Subscription struct {
	id  string
	C   <-chan Event
	bus *Bus
}

// Subscribe registers a listener with the given channel buffer. The returned
// channel is closed by Unsubscribe or Bus.Close.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	id := uuid.NewString()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
	} else {
		b.subs[id] = ch
	}
	return &Subscription{id: id, C: ch, bus: b}
}

// Unsubscribe detaches the subscription and closes its channel. Safe to call
// more than once.
func (s *Subscription) Unsubscribe() {
	b := s.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[s.id]; ok {
		delete(b.subs, s.id)
		close(ch)
	}
}

// Publish stamps the event and delivers it to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for id, ch := range b.subs {
		select {
		case ch <- e:
		default:
			b.dropped.Add(1)
			slog.Debug("[EVENT] subscriber full, dropping", "subscriber", id, "kind", e.Kind)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

var _ Publisher = (*Bus)(nil)
