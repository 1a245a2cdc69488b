//go:build !linux

package ble

// GATTPeripheral is unavailable off Linux: tinygo bluetooth has no GATT
// server for this platform.
type GATTPeripheral struct{}

func NewGATTPeripheral() *GATTPeripheral { return &GATTPeripheral{} }

func (*GATTPeripheral) Start(string, PeripheralHandler) error { return ErrPeripheralUnsupported }
func (*GATTPeripheral) Notify(string, []byte) error          { return ErrPeripheralUnsupported }
func (*GATTPeripheral) Stop() error                          { return nil }

var _ Peripheral = (*GATTPeripheral)(nil)
