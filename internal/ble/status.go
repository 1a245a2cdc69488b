package ble

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chaz8081/remotetouch/internal/ble/protocol"
)

// StatusProvider supplies the periodic status report.
type StatusProvider interface {
	Status() protocol.Status
}

// StatusFunc adapts a function to StatusProvider.
type StatusFunc func() protocol.Status

func (f StatusFunc) Status() protocol.Status { return f() }

// PowerSupplyStatus reads the battery level from the Linux power_supply
// class. Hosts without a battery (most desktops) report 100.
type PowerSupplyStatus struct {
	Root string // default /sys/class/power_supply
	Now  func() time.Time
}

// DefaultStatusProvider returns a PowerSupplyStatus on the real sysfs.
func DefaultStatusProvider() StatusProvider {
	return PowerSupplyStatus{}
}

func (p PowerSupplyStatus) Status() protocol.Status {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return protocol.Status{
		BatteryLevel:      p.battery(),
		Timestamp:         now().UTC(),
		ConnectionQuality: 100,
	}
}

func (p PowerSupplyStatus) battery() int {
	root := p.Root
	if root == "" {
		root = "/sys/class/power_supply"
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return 100
	}
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		if readTrimmed(filepath.Join(dir, "type")) != "Battery" {
			continue
		}
		level, err := strconv.Atoi(readTrimmed(filepath.Join(dir, "capacity")))
		if err != nil {
			continue
		}
		return min(max(level, 0), 100)
	}
	return 100
}

func readTrimmed(path string) string {
	b, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}
