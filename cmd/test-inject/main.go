// Command test-inject is a manual test for host input injection.
// It waits 3 seconds, then moves the pointer, clicks and taps keys the way
// dispatched commands would. Focus a harmless window before the countdown ends.
//
// Usage:
//
//	go run ./cmd/test-inject [--sensitivity 1.5] [--dry-run]
package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/chaz8081/remotetouch/internal/ble/protocol"
	"github.com/chaz8081/remotetouch/internal/inject"
	"github.com/chaz8081/remotetouch/internal/processor"
)

func main() {
	sensitivity := flag.Float64("sensitivity", 1.0, "pointer sensitivity multiplier")
	dryRun := flag.Bool("dry-run", false, "log actions instead of performing them")
	flag.Parse()

	var sink processor.ActionSink = inject.NewRobotSink(*sensitivity)
	if *dryRun {
		sink = inject.LogSink{}
	}
	proc := processor.New(sink, processor.Options{})

	fmt.Println("Injecting test input in 3 seconds...")
	fmt.Println("Focus a harmless window now!")
	for i := 3; i > 0; i-- {
		fmt.Printf("%d...\n", i)
		time.Sleep(time.Second)
	}

	steps := []protocol.Command{
		protocol.CursorMove{DX: 120, DY: 0},
		protocol.CursorMove{DX: 0, DY: 80},
		protocol.CursorMove{DX: -120, DY: -80},
		protocol.Tap{ClickType: protocol.ClickSingle},
		protocol.ModeChange{Mode: protocol.ModePresentation},
		protocol.Button{Action: protocol.ButtonForward},
		protocol.Button{Action: protocol.ButtonBack},
		protocol.ModeChange{Mode: protocol.ModeMediaControl},
		protocol.MediaControl{Action: protocol.MediaVolumeDown},
		protocol.MediaControl{Action: protocol.MediaVolumeUp},
	}
	for _, cmd := range steps {
		data, err := protocol.Encode(cmd)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Printf("-> %s (mode %s)\n", data, proc.Mode())
		proc.Process(data)
		time.Sleep(300 * time.Millisecond)
	}

	fmt.Println("\nDone!")
}
