package protocol

import (
	"fmt"
	"time"
)

// Status is the periodic health report sent to the peer on the status
// characteristic.
type Status struct {
	BatteryLevel      int
	Timestamp         time.Time
	ConnectionQuality int
}

func (Status) Type() string { return TypeStatus }

func (s Status) String() string {
	return fmt.Sprintf("Status(battery=%d%%, quality=%d, at=%s)",
		s.BatteryLevel, s.ConnectionQuality, formatTime(s.Timestamp))
}
