package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chaz8081/remotetouch/internal/ble"
	"github.com/chaz8081/remotetouch/internal/ble/protocol"
	"github.com/chaz8081/remotetouch/internal/config"
	"github.com/chaz8081/remotetouch/internal/display"
	"github.com/chaz8081/remotetouch/internal/event"
	"github.com/chaz8081/remotetouch/internal/hotkey"
	"github.com/chaz8081/remotetouch/internal/inject"
	"github.com/chaz8081/remotetouch/internal/metrics"
	"github.com/chaz8081/remotetouch/internal/pairing"
	"github.com/chaz8081/remotetouch/internal/processor"
	"github.com/chaz8081/remotetouch/internal/trust"
)

type serveFlags struct {
	dryRun    bool
	noQR      bool
	noHotkeys bool
	noWatch   bool
}

func serveCmd(root *rootFlags) *cobra.Command {
	flags := &serveFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Advertise the RemoteTouch service and accept a phone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, root.configPath, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "log input actions instead of performing them")
	cmd.Flags().BoolVar(&flags.noQR, "no-qr", false, "do not render pairing codes as QR")
	cmd.Flags().BoolVar(&flags.noHotkeys, "no-hotkeys", false, "disable global hotkeys")
	cmd.Flags().BoolVar(&flags.noWatch, "no-watch", false, "do not reload the config file on change")
	return cmd
}

func commandLimits(cfg *config.Config) protocol.Limits {
	return protocol.Limits{MaxDelta: cfg.Command.MaxDelta, MaxScale: cfg.Command.MaxScale}
}

func runServe(ctx context.Context, cfg *config.Config, cfgPath string, flags *serveFlags) error {
	printBanner(cfg)

	backend, err := trust.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Warn("[STORE] close", "error", err)
		}
	}()

	bus := event.NewBus()
	defer bus.Close()

	engine := pairing.New(trust.NewStore(backend), pairing.Options{
		CodeTTL:         cfg.Pairing.CodeTTL,
		MaxAttempts:     cfg.Pairing.MaxAttempts,
		LockoutDuration: cfg.Pairing.LockoutDuration,
		Events:          bus,
	})

	var robot *inject.Sink
	var sink processor.ActionSink = inject.LogSink{}
	if !flags.dryRun {
		robot = inject.NewRobotSink(cfg.Input.Sensitivity)
		robot.SetEnabled(cfg.Input.Enabled)
		sink = robot
	}
	proc := processor.New(sink, processor.Options{
		Limits:           commandLimits(cfg),
		DispatchMaxDelta: cfg.Command.DispatchMaxDelta,
		Events:           bus,
	})

	server := ble.NewServer(ble.NewGATTPeripheral(), engine, proc, ble.ServerOptions{
		DeviceName:        cfg.BLE.DeviceName,
		RequirePairing:    cfg.Pairing.RequirePairing,
		RequestsPerMinute: cfg.Pairing.RequestsPerMinute,
		StatusInterval:    cfg.BLE.StatusInterval,
		Events:            bus,
	})

	term := display.NewTerminal(os.Stdout, !flags.noQR)
	go term.Run(ctx, bus.Subscribe(32))

	if cfg.Metrics.Listen != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Listen); err != nil {
				slog.Error("[METRICS] stopped", "error", err)
			}
		}()
	}

	if !flags.noWatch {
		w, err := config.NewWatcher(cfgPath, func(next *config.Config) {
			applyReload(next, proc, robot)
		})
		switch {
		case errors.Is(err, fs.ErrNotExist):
			slog.Debug("config directory missing, not watching", "path", cfgPath)
		case err != nil:
			slog.Warn("config watcher unavailable", "error", err)
		default:
			w.Start(ctx)
			defer w.Stop()
		}
	}

	if !flags.noHotkeys {
		listener, err := hotkey.NewListener(
			hotkey.Binding{Action: hotkey.ActionShowCode, Keys: cfg.Hotkey.ShowCode},
			hotkey.Binding{Action: hotkey.ActionCancelPairing, Keys: cfg.Hotkey.CancelPairing},
		)
		if err != nil {
			return err
		}
		go listener.Start()
		defer listener.Stop()
		go handleHotkeys(listener.Actions(), engine, term)
	}

	slog.Info("Ready! Open RemoteTouch on your phone. Ctrl+C to quit.")
	return server.Run(ctx)
}

// applyReload pushes the settings that are safe to change at runtime.
// Storage, BLE identity and hotkeys need a restart.
func applyReload(cfg *config.Config, proc *processor.Processor, robot *inject.Sink) {
	logLevel.Set(config.ParseLogLevel(cfg.LogLevel))
	proc.SetLimits(commandLimits(cfg), cfg.Command.DispatchMaxDelta)
	if robot != nil {
		robot.SetSensitivity(cfg.Input.Sensitivity)
		robot.SetEnabled(cfg.Input.Enabled)
	}
	slog.Info("config reloaded", "log_level", cfg.LogLevel, "sensitivity", cfg.Input.Sensitivity, "input_enabled", cfg.Input.Enabled)
}

// codeController is the slice of the pairing engine the hotkeys drive.
type codeController interface {
	CurrentPairingCode() (string, bool)
	CancelPairing() bool
}

func handleHotkeys(actions <-chan hotkey.Action, engine codeController, term *display.Terminal) {
	for a := range actions {
		switch a {
		case hotkey.ActionShowCode:
			if code, ok := engine.CurrentPairingCode(); ok {
				term.ShowCode(code)
			} else {
				fmt.Println("No pairing code pending. Tap Pair on the phone to request one.")
			}
		case hotkey.ActionCancelPairing:
			if !engine.CancelPairing() {
				fmt.Println("No pairing in progress.")
			}
		}
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== remotetouch ===")
	fmt.Printf("  Name:     %s\n", ble.LocalName(cfg.BLE.DeviceName))
	fmt.Printf("  Storage:  %s (%s)\n", cfg.Storage.Backend, cfg.Storage.Path)
	fmt.Printf("  Pairing:  required=%t, code ttl %s, lockout %s after %d attempts\n",
		cfg.Pairing.RequirePairing, cfg.Pairing.CodeTTL, cfg.Pairing.LockoutDuration, cfg.Pairing.MaxAttempts)
	fmt.Printf("  Hotkeys:  show %s, cancel %s\n", strings.Join(cfg.Hotkey.ShowCode, "+"), strings.Join(cfg.Hotkey.CancelPairing, "+"))
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	if cfg.Metrics.Listen != "" {
		fmt.Printf("  Metrics:  http://%s/metrics\n", cfg.Metrics.Listen)
	}
	fmt.Println("===================")
}
