package ble

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/chaz8081/remotetouch/internal/ble/protocol"
	"github.com/chaz8081/remotetouch/internal/event"
	"github.com/chaz8081/remotetouch/internal/pairing"
	"github.com/chaz8081/remotetouch/internal/processor"
	"github.com/chaz8081/remotetouch/internal/trust"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingSink captures sink calls as short strings.
type recordingSink struct {
	mu    sync.Mutex
	calls []string
}

func (s *recordingSink) add(c string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, c)
}

func (s *recordingSink) MoveCursor(dx, dy float64)          { s.add("moveCursor") }
func (s *recordingSink) Click(c protocol.ClickType)         { s.add("click:" + string(c)) }
func (s *recordingSink) NavKey(k processor.NavKey)          { s.add("navKey:" + k.String()) }
func (s *recordingSink) MediaAction(a protocol.MediaAction) { s.add("media:" + string(a)) }

func (s *recordingSink) take() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.calls
	s.calls = nil
	return out
}

type eventLog struct {
	mu     sync.Mutex
	events []event.Event
}

func (l *eventLog) Publish(e event.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) kinds() []event.Kind {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []event.Kind
	for _, e := range l.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	clock  *fakeClock
	store  *trust.Store
	engine *pairing.Engine
	proc   *processor.Processor
	sink   *recordingSink
	radio  *mockPeripheral
	events *eventLog
	server *Server
}

func newHarness(t *testing.T, opts ServerOptions) *harness {
	t.Helper()
	h := &harness{
		clock:  &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		store:  trust.NewStore(trust.NewMemoryKV()),
		sink:   &recordingSink{},
		radio:  newMockPeripheral(),
		events: &eventLog{},
	}
	h.engine = pairing.New(h.store, pairing.Options{Now: h.clock.Now, Events: h.events})
	h.proc = processor.New(h.sink, processor.Options{Events: h.events})
	opts.Now = h.clock.Now
	opts.Events = h.events
	h.server = NewServer(h.radio, h.engine, h.proc, opts)
	return h
}

func (h *harness) command(t *testing.T, peer string, c protocol.Command) error {
	t.Helper()
	data, err := protocol.Encode(c)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return h.server.OnCommandBytes(peer, data)
}

// pair runs the read/write pairing exchange for peer.
func (h *harness) pair(t *testing.T, peer, name string) {
	t.Helper()
	data, err := h.server.OnPairingRead(peer)
	if err != nil {
		t.Fatalf("OnPairingRead() error = %v", err)
	}
	resp, err := protocol.DecodePairingResponse(data)
	if err != nil || resp.Status != protocol.PairingPending {
		t.Fatalf("pairing read = %+v, %v; want pending", resp, err)
	}
	req, _ := protocol.EncodePairingRequest(protocol.PairingRequest{Code: resp.Code, DeviceName: name})
	if err := h.server.OnPairingWrite(peer, req); err != nil {
		t.Fatalf("OnPairingWrite() error = %v", err)
	}
}

func TestServerEndToEnd(t *testing.T) {
	h := newHarness(t, ServerOptions{RequirePairing: true})
	issuedAt := h.clock.Now()

	h.server.OnConnectionStateChanged("peerA", true)

	data, err := h.server.OnPairingRead("peerA")
	if err != nil {
		t.Fatalf("OnPairingRead() error = %v", err)
	}
	resp, err := protocol.DecodePairingResponse(data)
	if err != nil {
		t.Fatalf("DecodePairingResponse() error = %v", err)
	}
	if resp.Status != protocol.PairingPending || !regexp.MustCompile(`^\d{6}$`).MatchString(resp.Code) {
		t.Fatalf("pairing read = %+v, want pending with a 6-digit code", resp)
	}

	h.clock.Advance(5 * time.Second)
	req, _ := protocol.EncodePairingRequest(protocol.PairingRequest{Code: resp.Code, DeviceName: "Pixel"})
	if err := h.server.OnPairingWrite("peerA", req); err != nil {
		t.Fatalf("OnPairingWrite() error = %v", err)
	}
	if diff := cmp.Diff([]notification{{PairingCharUUID, `{"status":"paired"}`}}, h.radio.take()); diff != "" {
		t.Errorf("pairing notifications mismatch (-want +got):\n%s", diff)
	}

	devices, err := h.store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(devices) != 1 {
		t.Fatalf("trust records = %d, want 1", len(devices))
	}
	d := devices[0]
	if !d.IsPaired || d.Name != "Pixel" || !d.Matches("peerA") {
		t.Errorf("trust record = %+v", d)
	}
	// Stamped when the code is verified, not when it was issued.
	if verifiedAt := h.clock.Now(); !d.LastConnected.Equal(verifiedAt) || d.LastConnected.Equal(issuedAt) {
		t.Errorf("LastConnected = %v, want verify time %v", d.LastConnected, verifiedAt)
	}

	if err := h.command(t, "peerA", protocol.ModeChange{Mode: protocol.ModePresentation}); err != nil {
		t.Fatalf("mode change error = %v", err)
	}
	if h.proc.Mode() != protocol.ModePresentation {
		t.Fatalf("Mode() = %q, want presentation", h.proc.Mode())
	}
	if err := h.command(t, "peerA", protocol.Button{Action: protocol.ButtonForward}); err != nil {
		t.Fatalf("button error = %v", err)
	}
	if diff := cmp.Diff([]string{"navKey:rightArrow"}, h.sink.take()); diff != "" {
		t.Errorf("sink calls mismatch (-want +got):\n%s", diff)
	}
}

func TestServerRequirePairingDropsUnpaired(t *testing.T) {
	h := newHarness(t, ServerOptions{RequirePairing: true})
	h.server.OnConnectionStateChanged("peerA", true)

	err := h.command(t, "peerA", protocol.Tap{ClickType: protocol.ClickSingle})
	if !errors.Is(err, ErrNotPaired) {
		t.Errorf("OnCommandBytes() error = %v, want ErrNotPaired", err)
	}
	if calls := h.sink.take(); len(calls) != 0 {
		t.Errorf("unpaired command reached the sink: %v", calls)
	}
}

func TestServerOpenModeDispatches(t *testing.T) {
	h := newHarness(t, ServerOptions{RequirePairing: false})
	h.server.OnConnectionStateChanged("peerA", true)

	if err := h.command(t, "peerA", protocol.Tap{ClickType: protocol.ClickDouble}); err != nil {
		t.Fatalf("OnCommandBytes() error = %v", err)
	}
	if diff := cmp.Diff([]string{"click:double"}, h.sink.take()); diff != "" {
		t.Errorf("sink calls mismatch (-want +got):\n%s", diff)
	}
}

func TestServerRejectsMalformedCommand(t *testing.T) {
	h := newHarness(t, ServerOptions{})
	h.server.OnConnectionStateChanged("peerA", true)

	if err := h.server.OnCommandBytes("peerA", nil); !errors.Is(err, protocol.ErrEmpty) {
		t.Errorf("empty command error = %v, want ErrEmpty", err)
	}
	if err := h.server.OnCommandBytes("peerA", []byte(`{"dx":1}`)); !errors.Is(err, protocol.ErrMissingType) {
		t.Errorf("typeless command error = %v, want ErrMissingType", err)
	}
	if calls := h.sink.take(); len(calls) != 0 {
		t.Errorf("malformed command reached the sink: %v", calls)
	}
}

func TestServerSingleActivePeer(t *testing.T) {
	h := newHarness(t, ServerOptions{})
	h.server.OnConnectionStateChanged("peerA", true)
	h.server.OnConnectionStateChanged("peerB", true)

	if got := h.server.Peer(); got != "peerA" {
		t.Fatalf("Peer() = %q, want peerA", got)
	}
	if err := h.command(t, "peerB", protocol.Tap{ClickType: protocol.ClickSingle}); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("command from second peer error = %v, want ErrUnknownPeer", err)
	}
	if _, err := h.server.OnPairingRead("peerB"); !errors.Is(err, ErrUnknownPeer) {
		t.Errorf("pairing read from second peer error = %v, want ErrUnknownPeer", err)
	}

	// A disconnect from the ignored peer does not drop the link.
	h.server.OnConnectionStateChanged("peerB", false)
	if got := h.server.Peer(); got != "peerA" {
		t.Errorf("Peer() = %q after stray disconnect, want peerA", got)
	}
}

func TestServerDisconnectResetsModeAndUnbindsSession(t *testing.T) {
	h := newHarness(t, ServerOptions{})
	h.server.OnConnectionStateChanged("peerA", true)

	if err := h.command(t, "peerA", protocol.ModeChange{Mode: protocol.ModeMediaControl}); err != nil {
		t.Fatal(err)
	}
	data, err := h.server.OnPairingRead("peerA")
	if err != nil {
		t.Fatal(err)
	}
	resp, _ := protocol.DecodePairingResponse(data)

	h.server.OnConnectionStateChanged("peerA", false)

	if h.proc.Mode() != protocol.DefaultMode {
		t.Errorf("Mode() = %q after disconnect, want %q", h.proc.Mode(), protocol.DefaultMode)
	}
	if h.server.Peer() != "" {
		t.Errorf("Peer() = %q after disconnect", h.server.Peer())
	}

	// The stale session no longer answers to peerA.
	if _, err := h.engine.VerifyPairingCode(resp.Code, "peerA", "Pixel"); !errors.Is(err, pairing.ErrInvalidCode) {
		t.Errorf("VerifyPairingCode() after disconnect error = %v, want ErrInvalidCode", err)
	}

	want := []event.Kind{
		event.PeerConnected,
		event.ModeChanged, // mediaControl
		event.CodeGenerated,
		event.ModeChanged, // back to basicMouse
		event.PeerDisconnected,
		event.PairingFailed,
	}
	if diff := cmp.Diff(want, h.events.kinds()); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestServerReconnectTouchesTrustRecord(t *testing.T) {
	h := newHarness(t, ServerOptions{RequirePairing: true})
	h.server.OnConnectionStateChanged("peerA", true)
	h.pair(t, "peerA", "Pixel")
	h.server.OnConnectionStateChanged("peerA", false)

	h.clock.Advance(time.Hour)
	h.server.OnConnectionStateChanged("peerA", true)

	d, ok, err := h.store.Find("peerA")
	if err != nil || !ok {
		t.Fatalf("Find() = %v, %v", ok, err)
	}
	if !d.LastConnected.Equal(h.clock.Now()) {
		t.Errorf("LastConnected = %v, want %v", d.LastConnected, h.clock.Now())
	}

	// Paired peers read "paired" and may send commands.
	data, err := h.server.OnPairingRead("peerA")
	if err != nil || string(data) != `{"status":"paired"}` {
		t.Errorf("OnPairingRead() = %s, %v", data, err)
	}
	if err := h.command(t, "peerA", protocol.MediaControl{Action: protocol.MediaVolumeUp}); err != nil {
		t.Errorf("command from paired peer error = %v", err)
	}
}

func TestServerPairingRateLimit(t *testing.T) {
	h := newHarness(t, ServerOptions{RequestsPerMinute: 2})
	h.server.OnConnectionStateChanged("peerA", true)

	for i := 0; i < 2; i++ {
		if _, err := h.server.OnPairingRead("peerA"); err != nil {
			t.Fatalf("read %d error = %v", i+1, err)
		}
	}
	if _, err := h.server.OnPairingRead("peerA"); !errors.Is(err, ErrRateLimited) {
		t.Errorf("third read error = %v, want ErrRateLimited", err)
	}

	// A new link gets a fresh allowance.
	h.server.OnConnectionStateChanged("peerA", false)
	h.server.OnConnectionStateChanged("peerA", true)
	if _, err := h.server.OnPairingRead("peerA"); err != nil {
		t.Errorf("read on new link error = %v", err)
	}
}

func TestServerStatusRequestWrite(t *testing.T) {
	h := newHarness(t, ServerOptions{})
	h.server.OnConnectionStateChanged("peerA", true)

	for _, req := range [][]byte{nil, []byte(`{"request":"status"}`)} {
		if err := h.server.OnPairingWrite("peerA", req); err != nil {
			t.Fatalf("OnPairingWrite(%q) error = %v", req, err)
		}
	}
	got := h.radio.take()
	if len(got) != 2 {
		t.Fatalf("notifications = %v, want 2", got)
	}
	// The second request returns the same live code.
	if got[0] != got[1] || got[0].Char != PairingCharUUID {
		t.Errorf("notifications = %v", got)
	}
	resp, err := protocol.DecodePairingResponse([]byte(got[0].Data))
	if err != nil || resp.Status != protocol.PairingPending {
		t.Errorf("published response = %+v, %v", resp, err)
	}
}

func TestServerPairingWriteFailures(t *testing.T) {
	h := newHarness(t, ServerOptions{})
	h.server.OnConnectionStateChanged("peerA", true)
	if _, err := h.server.OnPairingRead("peerA"); err != nil {
		t.Fatal(err)
	}

	if err := h.server.OnPairingWrite("peerA", []byte(`{"code":"1"}`)); !errors.Is(err, protocol.ErrMalformedFields) {
		t.Errorf("malformed write error = %v, want ErrMalformedFields", err)
	}

	code, _ := h.engine.CurrentPairingCode()
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	req, _ := protocol.EncodePairingRequest(protocol.PairingRequest{Code: wrong, DeviceName: "Pixel"})
	if err := h.server.OnPairingWrite("peerA", req); !errors.Is(err, pairing.ErrInvalidCode) {
		t.Errorf("wrong code error = %v, want ErrInvalidCode", err)
	}
	got := h.radio.take()
	if len(got) != 1 {
		t.Fatalf("notifications = %v, want 1", got)
	}
	resp, err := protocol.DecodePairingResponse([]byte(got[0].Data))
	if err != nil || resp.Status != protocol.PairingFailed || resp.Error == "" {
		t.Errorf("published response = %+v, %v; want failed with reason", resp, err)
	}
}

func TestServerLockedRead(t *testing.T) {
	h := newHarness(t, ServerOptions{RequestsPerMinute: 100})
	h.server.OnConnectionStateChanged("peerA", true)
	if _, err := h.server.OnPairingRead("peerA"); err != nil {
		t.Fatal(err)
	}
	code, _ := h.engine.CurrentPairingCode()
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	req, _ := protocol.EncodePairingRequest(protocol.PairingRequest{Code: wrong, DeviceName: "Pixel"})
	for i := 0; i < pairing.DefaultOptions().MaxAttempts; i++ {
		_ = h.server.OnPairingWrite("peerA", req)
	}

	data, err := h.server.OnPairingRead("peerA")
	if err != nil {
		t.Fatalf("OnPairingRead() error = %v", err)
	}
	if string(data) != `{"status":"locked","remainingTime":300}` {
		t.Errorf("OnPairingRead() = %s, want locked for 300s", data)
	}
}

func TestSendStatusRequiresPeer(t *testing.T) {
	h := newHarness(t, ServerOptions{})
	if err := h.server.SendStatus(protocol.Status{BatteryLevel: 50}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendStatus() error = %v, want ErrNotConnected", err)
	}
	if err := h.server.SendCommand(protocol.Button{Action: protocol.ButtonBack}); !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand() error = %v, want ErrNotConnected", err)
	}

	h.server.OnConnectionStateChanged("peerA", true)
	if err := h.server.SendCommand(protocol.Button{Action: protocol.ButtonBack}); err != nil {
		t.Fatalf("SendCommand() error = %v", err)
	}
	want := []notification{{CommandCharUUID, `{"type":"button","action":"back"}`}}
	if diff := cmp.Diff(want, h.radio.take()); diff != "" {
		t.Errorf("notifications mismatch (-want +got):\n%s", diff)
	}
}

func TestServerRunSendsStatus(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	h := newHarness(t, ServerOptions{
		DeviceName:     "studio",
		StatusInterval: 10 * time.Millisecond,
		Status: StatusFunc(func() protocol.Status {
			return protocol.Status{BatteryLevel: 87, Timestamp: at, ConnectionQuality: 100}
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.server.Run(ctx) }()

	waitFor(t, "peripheral start", func() bool {
		h.radio.mu.Lock()
		defer h.radio.mu.Unlock()
		return h.radio.started
	})
	if h.radio.name != "RemoteTouch-studio" {
		t.Errorf("advertised name = %q, want RemoteTouch-studio", h.radio.name)
	}

	h.server.OnConnectionStateChanged("peerA", true)
	select {
	case n := <-h.radio.notifyCh:
		want := notification{StatusCharUUID, `{"type":"status","batteryLevel":87,"timestamp":"2026-01-02T03:04:05Z","connectionQuality":100}`}
		if diff := cmp.Diff(want, n); diff != "" {
			t.Errorf("status mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no status notification")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}
	h.radio.mu.Lock()
	stopped := h.radio.stopped
	h.radio.mu.Unlock()
	if !stopped {
		t.Error("Run() did not stop the peripheral")
	}
}

type panickyEngine struct{ PairingEngine }

func (panickyEngine) IssueOrStatus(string) (protocol.PairingResponse, error) { panic("boom") }
func (panickyEngine) IsDevicePaired(string) bool                             { return false }

func TestServerRecoversFromEnginePanic(t *testing.T) {
	h := newHarness(t, ServerOptions{})
	s := NewServer(h.radio, panickyEngine{}, h.proc, ServerOptions{})
	s.OnConnectionStateChanged("peerA", true)
	if _, err := s.OnPairingRead("peerA"); err == nil {
		t.Error("OnPairingRead() error = nil after engine panic")
	}
}

func TestLocalName(t *testing.T) {
	if got := LocalName("desk"); got != "RemoteTouch-desk" {
		t.Errorf("LocalName(desk) = %q", got)
	}
	if got := LocalName("RemoteTouch-desk"); got != "RemoteTouch-desk" {
		t.Errorf("LocalName(RemoteTouch-desk) = %q", got)
	}
}
