package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/chaz8081/remotetouch/internal/ble/protocol"
)

const commandHelp = `Commands:
  move <dx> <dy>              move the pointer
  tap | double                single or double click
  back | forward              previous / next (meaning depends on mode)
  mode <presentation|basicMouse|mediaControl>
  play | vol+ | vol-          media keys
  pinch <scale>
  {"type":...}                raw JSON command`

var errBlankLine = errors.New("blank line")

// parseLine turns one line of user input into a command. Lines starting
// with '{' are decoded as wire JSON.
func parseLine(line string) (protocol.Command, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return nil, errBlankLine
	}
	if strings.HasPrefix(line, "{") {
		return protocol.DecodeCommand([]byte(line))
	}

	fields := strings.Fields(line)
	verb, args := strings.ToLower(fields[0]), fields[1:]
	want := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("%s takes %d argument(s), got %d", verb, n, len(args))
		}
		return nil
	}

	switch verb {
	case "move":
		if err := want(2); err != nil {
			return nil, err
		}
		dx, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return nil, fmt.Errorf("move: dx: %w", err)
		}
		dy, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return nil, fmt.Errorf("move: dy: %w", err)
		}
		return protocol.CursorMove{DX: dx, DY: dy}, nil
	case "tap", "click":
		return protocol.Tap{ClickType: protocol.ClickSingle}, want(0)
	case "double":
		return protocol.Tap{ClickType: protocol.ClickDouble}, want(0)
	case "back":
		return protocol.Button{Action: protocol.ButtonBack}, want(0)
	case "forward", "next":
		return protocol.Button{Action: protocol.ButtonForward}, want(0)
	case "mode":
		if err := want(1); err != nil {
			return nil, err
		}
		m := protocol.Mode(args[0])
		if !m.Valid() {
			return nil, fmt.Errorf("unknown mode %q", args[0])
		}
		return protocol.ModeChange{Mode: m}, nil
	case "play", "pause":
		return protocol.MediaControl{Action: protocol.MediaPlayPause}, want(0)
	case "vol+", "volup":
		return protocol.MediaControl{Action: protocol.MediaVolumeUp}, want(0)
	case "vol-", "voldown":
		return protocol.MediaControl{Action: protocol.MediaVolumeDown}, want(0)
	case "pinch":
		if err := want(1); err != nil {
			return nil, err
		}
		s, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return nil, fmt.Errorf("pinch: %w", err)
		}
		return protocol.Pinch{Scale: s}, nil
	default:
		return nil, fmt.Errorf("unknown command %q", verb)
	}
}
