// Command test-hotkey is a manual test for the global hotkey listener.
// Run it, then press the configured show-code or cancel-pairing combos
// (default Ctrl+Shift+P and Ctrl+Shift+X) to see actions.
// Press Ctrl+C to exit.
//
// Usage:
//
//	go run ./cmd/test-hotkey [--config path]
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chaz8081/remotetouch/internal/config"
	"github.com/chaz8081/remotetouch/internal/hotkey"
)

func main() {
	cfgPath := flag.String("config", config.DefaultConfigPath(), "config file path")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	listener, err := hotkey.NewListener(
		hotkey.Binding{Action: hotkey.ActionShowCode, Keys: cfg.Hotkey.ShowCode},
		hotkey.Binding{Action: hotkey.ActionCancelPairing, Keys: cfg.Hotkey.CancelPairing},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hotkey: %v\n", err)
		os.Exit(1)
	}
	for _, b := range listener.Bindings() {
		fmt.Printf("Listening for %s -> %s\n", strings.Join(b.Keys, "+"), b.Action)
	}
	fmt.Println("Press Ctrl+C to exit.")

	// Handle Ctrl+C
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nShutting down...")
		listener.Stop()
	}()

	// Read actions
	go func() {
		for a := range listener.Actions() {
			fmt.Printf(">>> %s\n", a)
		}
		fmt.Println("Action channel closed.")
	}()

	// Blocks until stopped
	listener.Start()
	fmt.Println("Done.")
}
