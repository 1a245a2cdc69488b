// Package ble carries the RemoteTouch protocol over Bluetooth Low Energy. It
// holds the server glue behind the GATT service, the client role that drives
// a server from the other side, and adapters over tinygo bluetooth.
package ble

import (
	"context"
	"errors"
	"strings"
)

// RemoteTouch GATT layout.
const (
	ServiceUUID     = "12345678-1234-1234-1234-123456789ABC"
	CommandCharUUID = "12345678-1234-1234-1234-123456789ABD" // write; notify in the client role
	StatusCharUUID  = "12345678-1234-1234-1234-123456789ABE" // notify
	PairingCharUUID = "12345678-1234-1234-1234-123456789ABF" // read/write
)

// LocalNamePrefix starts every advertised local name.
const LocalNamePrefix = "RemoteTouch-"

// LocalName returns the advertised name for a device name.
func LocalName(deviceName string) string {
	if strings.HasPrefix(deviceName, LocalNamePrefix) {
		return deviceName
	}
	return LocalNamePrefix + deviceName
}

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Read returns the characteristic's current value.
	Read() ([]byte, error)
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string // MAC on Linux, CoreBluetooth UUID on macOS
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the central-role BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID.
	// Returns discovered devices until ctx is cancelled or timeout.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}

// PeripheralHandler receives GATT traffic from a Peripheral. *Server
// implements it. Returned errors become ATT error responses on stacks that
// support them.
type PeripheralHandler interface {
	OnConnectionStateChanged(peerID string, connected bool)
	OnCommandBytes(peerID string, data []byte) error
	OnPairingRead(peerID string) ([]byte, error)
	OnPairingWrite(peerID string, data []byte) error
}

// ErrPeripheralUnsupported is returned by Start on platforms where tinygo
// bluetooth cannot host a GATT server.
var ErrPeripheralUnsupported = errors.New("ble: peripheral role not supported on this platform")

// Peripheral is the server-role radio: it advertises the RemoteTouch service
// and feeds characteristic traffic to a handler.
type Peripheral interface {
	Start(localName string, h PeripheralHandler) error
	// Notify sets the value of charUUID and notifies the subscribed peer.
	Notify(charUUID string, data []byte) error
	Stop() error
}
