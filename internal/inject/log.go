package inject

import (
	"log/slog"

	"github.com/chaz8081/remotetouch/internal/ble/protocol"
	"github.com/chaz8081/remotetouch/internal/processor"
)

// LogSink logs every action instead of performing it (dry runs).
type LogSink struct {
	Logger *slog.Logger
}

func (l LogSink) logger() *slog.Logger {
	if l.Logger != nil {
		return l.Logger
	}
	return slog.Default()
}

func (l LogSink) MoveCursor(dx, dy float64) {
	l.logger().Info("[INJECT] move", "dx", dx, "dy", dy)
}

func (l LogSink) Click(c protocol.ClickType) {
	l.logger().Info("[INJECT] click", "type", c)
}

func (l LogSink) NavKey(k processor.NavKey) {
	l.logger().Info("[INJECT] key", "key", k.String())
}

func (l LogSink) MediaAction(a protocol.MediaAction) {
	l.logger().Info("[INJECT] media", "action", a)
}

var _ processor.ActionSink = LogSink{}
