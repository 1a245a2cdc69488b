package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/chaz8081/remotetouch/internal/ble/protocol"
	"github.com/chaz8081/remotetouch/internal/event"
	"github.com/chaz8081/remotetouch/internal/metrics"
	"github.com/chaz8081/remotetouch/internal/trust"
)

// Server rejections.
var (
	ErrNotConnected = errors.New("ble: no peer connected")
	ErrUnknownPeer  = errors.New("ble: request from a peer that does not hold the link")
	ErrNotPaired    = errors.New("ble: peer is not paired")
	ErrRateLimited  = errors.New("ble: pairing requests rate limited")
)

// PairingEngine is the part of *pairing.Engine the server drives.
type PairingEngine interface {
	IssueOrStatus(peerID string) (protocol.PairingResponse, error)
	VerifyPairingCode(code, peerID, deviceName string) (trust.Device, error)
	IsDevicePaired(peerID string) bool
	TouchDevice(peerID string) error
	PeerDisconnected(peerID string)
}

// CommandProcessor is the part of *processor.Processor the server drives.
type CommandProcessor interface {
	Handle(raw []byte) error
	ResetMode()
}

// ServerOptions configures a Server. Zero values take defaults.
type ServerOptions struct {
	DeviceName        string          // advertised as RemoteTouch-<DeviceName>
	RequirePairing    bool            // drop commands from peers without a trust record
	RequestsPerMinute int             // pairing reads per link; default 10
	StatusInterval    time.Duration   // default 2s
	Status            StatusProvider  // default DefaultStatusProvider
	Events            event.Publisher // default event.Discard
	Now               func() time.Time
}

// Server is the transport glue for the server role. It tracks the single
// peer holding the link, gates commands and pairing traffic, and pushes
// periodic status notifications. It implements PeripheralHandler.
type Server struct {
	radio  Peripheral
	engine PairingEngine
	proc   CommandProcessor
	opts   ServerOptions

	mu      sync.Mutex
	peer    string
	limiter *rate.Limiter
}

// NewServer wires a radio to the pairing engine and command processor.
func NewServer(radio Peripheral, engine PairingEngine, proc CommandProcessor, opts ServerOptions) *Server {
	if opts.RequestsPerMinute <= 0 {
		opts.RequestsPerMinute = 10
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = 2 * time.Second
	}
	if opts.Status == nil {
		opts.Status = DefaultStatusProvider()
	}
	if opts.Events == nil {
		opts.Events = event.Discard
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{radio: radio, engine: engine, proc: proc, opts: opts}
}

// Run starts advertising and sends status notifications until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	name := LocalName(s.opts.DeviceName)
	if err := s.radio.Start(name, s); err != nil {
		return fmt.Errorf("ble: start peripheral: %w", err)
	}
	slog.Info("[BLE] server running", "name", name, "require_pairing", s.opts.RequirePairing)

	ticker := time.NewTicker(s.opts.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := s.radio.Stop(); err != nil {
				slog.Warn("[BLE] stop peripheral", "error", err)
			}
			return nil
		case <-ticker.C:
			if s.Peer() == "" {
				continue
			}
			if err := s.SendStatus(s.opts.Status.Status()); err != nil {
				slog.Debug("[BLE] status not sent", "error", err)
			}
		}
	}
}

// Peer returns the peer holding the link, or "".
func (s *Server) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// OnConnectionStateChanged tracks the single active link. A second peer
// connecting while one holds the link is ignored.
func (s *Server) OnConnectionStateChanged(peerID string, connected bool) {
	defer s.recoverPanic("connection state")

	if connected {
		s.mu.Lock()
		if s.peer != "" && s.peer != peerID {
			current := s.peer
			s.mu.Unlock()
			slog.Warn("[BLE] ignoring second peer", "peer", peerID, "active", current)
			return
		}
		s.peer = peerID
		s.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.opts.RequestsPerMinute)), s.opts.RequestsPerMinute)
		s.mu.Unlock()

		slog.Info("[BLE] peer connected", "peer", peerID)
		metrics.ConnectedPeers.Set(1)
		if s.engine.IsDevicePaired(peerID) {
			if err := s.engine.TouchDevice(peerID); err != nil {
				slog.Warn("[BLE] failed to refresh last connected", "peer", peerID, "error", err)
			}
		}
		s.opts.Events.Publish(event.Event{Kind: event.PeerConnected, At: s.opts.Now(), PeerID: peerID})
		return
	}

	s.mu.Lock()
	if s.peer != peerID {
		s.mu.Unlock()
		return
	}
	s.peer = ""
	s.limiter = nil
	s.mu.Unlock()

	slog.Info("[BLE] peer disconnected", "peer", peerID)
	metrics.ConnectedPeers.Set(0)
	s.proc.ResetMode()
	s.engine.PeerDisconnected(peerID)
	s.opts.Events.Publish(event.Event{Kind: event.PeerDisconnected, At: s.opts.Now(), PeerID: peerID})
}

// OnCommandBytes hands a command payload to the processor. The returned
// error is the rejection reported to the peer; the payload never reaches
// the sink when it is non-nil.
func (s *Server) OnCommandBytes(peerID string, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[BLE] recovered from panic handling command", "panic", r)
			err = fmt.Errorf("ble: command handler panic: %v", r)
		}
	}()

	if !s.holdsLink(peerID) {
		metrics.CommandsTotal.WithLabelValues("unknown", "wrong_peer").Inc()
		return ErrUnknownPeer
	}
	if s.opts.RequirePairing && !s.engine.IsDevicePaired(peerID) {
		slog.Debug("[BLE] dropping command from unpaired peer", "peer", peerID)
		metrics.CommandsTotal.WithLabelValues("unknown", "unauthorized").Inc()
		return ErrNotPaired
	}
	return s.proc.Handle(data)
}

// OnPairingRead answers a pairing characteristic read with the encoded
// pairing status for peerID.
func (s *Server) OnPairingRead(peerID string) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[BLE] recovered from panic handling pairing read", "panic", r)
			data, err = nil, fmt.Errorf("ble: pairing read panic: %v", r)
		}
	}()

	if !s.holdsLink(peerID) {
		metrics.PairingRequestsRejectedTotal.WithLabelValues("wrong_peer").Inc()
		return nil, ErrUnknownPeer
	}
	if !s.allowPairingRequest() {
		slog.Warn("[BLE] pairing request rate limited", "peer", peerID)
		metrics.PairingRequestsRejectedTotal.WithLabelValues("rate_limited").Inc()
		return nil, ErrRateLimited
	}

	resp, err := s.engine.IssueOrStatus(peerID)
	if err != nil {
		return nil, err
	}
	return protocol.EncodePairingResponse(resp)
}

// OnPairingWrite handles a code submission, or a status request from a peer
// whose stack cannot issue reads. Either way the outcome is also published
// as the pairing characteristic's value.
func (s *Server) OnPairingWrite(peerID string, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("[BLE] recovered from panic handling pairing write", "panic", r)
			err = fmt.Errorf("ble: pairing write panic: %v", r)
		}
	}()

	if protocol.IsPairingStatusRequest(data) {
		resp, err := s.OnPairingRead(peerID)
		if err != nil {
			return err
		}
		s.notify(PairingCharUUID, resp)
		return nil
	}

	if !s.holdsLink(peerID) {
		metrics.PairingRequestsRejectedTotal.WithLabelValues("wrong_peer").Inc()
		return ErrUnknownPeer
	}
	req, err := protocol.DecodePairingRequest(data)
	if err != nil {
		slog.Debug("[BLE] malformed pairing write", "peer", peerID, "error", err)
		metrics.PairingRequestsRejectedTotal.WithLabelValues("malformed").Inc()
		return err
	}

	var resp protocol.PairingResponse
	device, verr := s.engine.VerifyPairingCode(req.Code, peerID, req.DeviceName)
	if verr != nil {
		resp = protocol.PairingResponse{Status: protocol.PairingFailed, Error: verr.Error()}
	} else {
		slog.Info("[BLE] peer paired", "peer", peerID, "device", device.Name)
		resp = protocol.PairingResponse{Status: protocol.PairingPaired}
	}
	if encoded, err := protocol.EncodePairingResponse(resp); err == nil {
		s.notify(PairingCharUUID, encoded)
	}
	return verr
}

// SendStatus notifies the peer with a status message.
func (s *Server) SendStatus(st protocol.Status) error {
	data, err := protocol.Encode(st)
	if err != nil {
		return err
	}
	if err := s.send(StatusCharUUID, data); err != nil {
		metrics.StatusSentTotal.WithLabelValues("error").Inc()
		return err
	}
	metrics.StatusSentTotal.WithLabelValues("sent").Inc()
	return nil
}

// SendCommand notifies the peer with a command on the command
// characteristic (server-to-client direction).
func (s *Server) SendCommand(cmd protocol.Command) error {
	data, err := protocol.Encode(cmd)
	if err != nil {
		return err
	}
	return s.send(CommandCharUUID, data)
}

func (s *Server) send(charUUID string, data []byte) error {
	if s.Peer() == "" {
		return ErrNotConnected
	}
	return s.radio.Notify(charUUID, data)
}

func (s *Server) notify(charUUID string, data []byte) {
	if err := s.radio.Notify(charUUID, data); err != nil {
		slog.Debug("[BLE] notify failed", "char", charUUID, "error", err)
	}
}

func (s *Server) holdsLink(peerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return peerID != "" && s.peer == peerID
}

func (s *Server) allowPairingRequest() bool {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()
	return lim == nil || lim.Allow()
}

func (s *Server) recoverPanic(what string) {
	if r := recover(); r != nil {
		slog.Error("[BLE] recovered from panic", "in", what, "panic", r)
	}
}

var _ PeripheralHandler = (*Server)(nil)
