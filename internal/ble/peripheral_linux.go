//go:build linux

package ble

import (
	"fmt"
	"log/slog"
	"sync"

	"tinygo.org/x/bluetooth"
)

// GATTPeripheral hosts the RemoteTouch service through BlueZ.
//
// BlueZ exposes no read callback to tinygo, so pairing reads are served by
// the handler publishing its answer as the pairing characteristic's value
// after a status-request write. Peers are identified by the address the
// connect handler reports, or by the ATT connection handle when BlueZ does
// not report the connection.
type GATTPeripheral struct {
	adapter *bluetooth.Adapter

	mu      sync.Mutex
	handler PeripheralHandler
	peer    string
	chars   map[string]*bluetooth.Characteristic
	adv     *bluetooth.Advertisement
}

// NewGATTPeripheral returns a peripheral on the default adapter.
func NewGATTPeripheral() *GATTPeripheral {
	return &GATTPeripheral{
		adapter: bluetooth.DefaultAdapter,
		chars:   make(map[string]*bluetooth.Characteristic),
	}
}

// Start registers the service and begins advertising localName.
func (p *GATTPeripheral) Start(localName string, h PeripheralHandler) error {
	if err := p.adapter.Enable(); err != nil {
		return fmt.Errorf("ble: enable adapter: %w", err)
	}

	uuids := make(map[string]bluetooth.UUID, 4)
	for _, s := range []string{ServiceUUID, CommandCharUUID, StatusCharUUID, PairingCharUUID} {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return fmt.Errorf("ble: parse UUID %s: %w", s, err)
		}
		uuids[s] = u
	}

	p.mu.Lock()
	p.handler = h
	p.mu.Unlock()

	p.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		p.setPeer(device.Address.String(), connected)
	})

	var command, status, pairing bluetooth.Characteristic
	err := p.adapter.AddService(&bluetooth.Service{
		UUID: uuids[ServiceUUID],
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &command,
				UUID:   uuids[CommandCharUUID],
				Flags: bluetooth.CharacteristicWritePermission |
					bluetooth.CharacteristicWriteWithoutResponsePermission |
					bluetooth.CharacteristicNotifyPermission,
				WriteEvent: func(client bluetooth.Connection, _ int, value []byte) {
					peer := p.peerFor(client)
					if err := h.OnCommandBytes(peer, clone(value)); err != nil {
						slog.Debug("[BLE] command write rejected", "peer", peer, "error", err)
					}
				},
			},
			{
				Handle: &status,
				UUID:   uuids[StatusCharUUID],
				Flags:  bluetooth.CharacteristicReadPermission | bluetooth.CharacteristicNotifyPermission,
			},
			{
				Handle: &pairing,
				UUID:   uuids[PairingCharUUID],
				Flags: bluetooth.CharacteristicReadPermission |
					bluetooth.CharacteristicWritePermission |
					bluetooth.CharacteristicNotifyPermission,
				WriteEvent: func(client bluetooth.Connection, _ int, value []byte) {
					peer := p.peerFor(client)
					if err := h.OnPairingWrite(peer, clone(value)); err != nil {
						slog.Debug("[BLE] pairing write rejected", "peer", peer, "error", err)
					}
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ble: add service: %w", err)
	}

	p.mu.Lock()
	p.chars[CommandCharUUID] = &command
	p.chars[StatusCharUUID] = &status
	p.chars[PairingCharUUID] = &pairing
	p.mu.Unlock()

	adv := p.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    localName,
		ServiceUUIDs: []bluetooth.UUID{uuids[ServiceUUID]},
	}); err != nil {
		return fmt.Errorf("ble: configure advertisement: %w", err)
	}
	if err := adv.Start(); err != nil {
		return fmt.Errorf("ble: start advertising: %w", err)
	}
	p.mu.Lock()
	p.adv = adv
	p.mu.Unlock()

	slog.Info("[BLE] advertising", "name", localName, "service", ServiceUUID)
	return nil
}

// Notify updates a characteristic value; BlueZ notifies subscribers.
func (p *GATTPeripheral) Notify(charUUID string, data []byte) error {
	p.mu.Lock()
	c, ok := p.chars[charUUID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("ble: characteristic %s not registered", charUUID)
	}
	if _, err := c.Write(data); err != nil {
		return fmt.Errorf("ble: notify %s: %w", charUUID, err)
	}
	return nil
}

// Stop ends advertising and reports the current peer as gone.
func (p *GATTPeripheral) Stop() error {
	p.mu.Lock()
	adv := p.adv
	p.adv = nil
	peer := p.peer
	p.mu.Unlock()

	if peer != "" {
		p.setPeer(peer, false)
	}
	if adv == nil {
		return nil
	}
	if err := adv.Stop(); err != nil {
		return fmt.Errorf("ble: stop advertising: %w", err)
	}
	return nil
}

// peerFor returns the current peer, adopting the connection handle as the
// peer identity when no connect event was seen.
func (p *GATTPeripheral) peerFor(client bluetooth.Connection) string {
	p.mu.Lock()
	peer := p.peer
	p.mu.Unlock()
	if peer != "" {
		return peer
	}
	peer = fmt.Sprintf("conn-%d", client)
	p.setPeer(peer, true)
	return peer
}

func (p *GATTPeripheral) setPeer(peer string, connected bool) {
	p.mu.Lock()
	h := p.handler
	switch {
	case connected && p.peer == "":
		p.peer = peer
	case !connected && p.peer == peer:
		p.peer = ""
	}
	p.mu.Unlock()
	if h != nil {
		h.OnConnectionStateChanged(peer, connected)
	}
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ Peripheral = (*GATTPeripheral)(nil)
