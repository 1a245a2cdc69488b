package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/remotetouch/internal/ble"
	"github.com/chaz8081/remotetouch/internal/ble/protocol"
	"github.com/chaz8081/remotetouch/internal/config"
	"github.com/chaz8081/remotetouch/internal/inject"
	"github.com/chaz8081/remotetouch/internal/processor"
)

func scanCmd(root *rootFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "List nearby RemoteTouch servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if timeout <= 0 {
				timeout = cfg.BLE.ScanTimeout
			}
			fmt.Printf("Scanning for %s...\n", timeout)
			devices, err := ble.ScanForDevices(ble.NewCentralAdapter(), timeout)
			if err != nil {
				return err
			}
			if len(devices) == 0 {
				fmt.Println("No servers found.")
				return nil
			}
			for _, d := range devices {
				fmt.Printf("  %-36s  %-28s  %d dBm\n", d.Address, d.Name, d.RSSI)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "scan duration (default ble.scan_timeout)")
	return cmd
}

// peerAddress picks the address from args, falling back to ble.peer.
func peerAddress(cfg *config.Config, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if cfg.BLE.Peer != "" {
		return cfg.BLE.Peer, nil
	}
	return "", errors.New("no server address: pass one or set ble.peer (see 'remotetouch scan')")
}

func pairCmd(root *rootFlags) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "pair [address]",
		Short: "Pair with a server using the code it displays",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			addr, err := peerAddress(cfg, args)
			if err != nil {
				return err
			}
			opts := ble.DefaultPairOptions()
			if name != "" {
				opts.DeviceName = name
			}
			opts.Prompt = stdinPrompt(os.Stdin)

			res, err := ble.Pair(cmd.Context(), ble.NewCentralAdapter(), addr, opts)
			switch {
			case errors.Is(err, ble.ErrServerLocked):
				return fmt.Errorf("%w: wait for the lockout to end or run 'remotetouch lockout --clear' on the server", err)
			case err != nil:
				return err
			case res.AlreadyPaired:
				fmt.Printf("Already paired with %s\n", res.Address)
			default:
				fmt.Printf("Paired with %s\n", res.Address)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name the server stores for this device")
	return cmd
}

// stdinPrompt reads the pairing code typed by the user.
func stdinPrompt(in io.Reader) func(ctx context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		fmt.Print("Enter the 6-digit code shown on the server: ")
		line := make(chan string, 1)
		errCh := make(chan error, 1)
		go func() {
			s, err := bufio.NewReader(in).ReadString('\n')
			if err != nil && s == "" {
				errCh <- err
				return
			}
			line <- strings.TrimSpace(s)
		}()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case err := <-errCh:
			return "", fmt.Errorf("reading code: %w", err)
		case s := <-line:
			return strings.ReplaceAll(s, " ", ""), nil
		}
	}
}

func newClient(cfg *config.Config, addr string, opts ble.ClientOptions) *ble.Client {
	opts.QueueSize = cfg.BLE.QueueSize
	opts.ReconnectMax = cfg.BLE.ReconnectMax
	opts.AutoReconnect = cfg.BLE.AutoReconnect
	opts.MaxReconnectAttempts = cfg.BLE.MaxReconnectAttempts
	return ble.NewClient(ble.NewCentralAdapter(), addr, opts)
}

func connectCmd(root *rootFlags) *cobra.Command {
	var injectInput bool
	cmd := &cobra.Command{
		Use:   "connect [address]",
		Short: "Drive a server interactively from stdin",
		Long: "Connect to a server and read one command per line from stdin.\n\n" + commandHelp,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			addr, err := peerAddress(cfg, args)
			if err != nil {
				return err
			}

			opts := ble.DefaultClientOptions()
			opts.OnStatus = func(st protocol.Status) {
				slog.Info("[BLE] server status", "battery", st.BatteryLevel, "quality", st.ConnectionQuality)
			}
			opts.OnCommand = func(raw []byte) {
				slog.Info("[BLE] server command", "payload", string(raw))
			}
			if injectInput {
				sink := inject.NewRobotSink(cfg.Input.Sensitivity)
				sink.SetEnabled(cfg.Input.Enabled)
				proc := processor.New(sink, processor.Options{
					Limits:           commandLimits(cfg),
					DispatchMaxDelta: cfg.Command.DispatchMaxDelta,
				})
				opts.OnCommand = proc.Process
			}
			client := newClient(cfg, addr, opts)
			defer client.Close()

			if err := client.Connect(cmd.Context()); err != nil {
				return err
			}
			fmt.Printf("Connected to %s. Type commands, Ctrl+D to quit.\n", addr)
			return runREPL(cmd.Context(), os.Stdin, client)
		},
	}
	cmd.Flags().BoolVar(&injectInput, "inject", false, "perform commands the server sends on this machine")
	return cmd
}

// commandSender is the part of ble.Client the REPL needs.
type commandSender interface {
	Send(protocol.Command) error
}

func runREPL(ctx context.Context, in io.Reader, c commandSender) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseLine(line)
			if errors.Is(err, errBlankLine) {
				continue
			}
			if err != nil {
				fmt.Printf("  %v\n", err)
				continue
			}
			if err := c.Send(cmd); err != nil {
				fmt.Printf("  send failed: %v\n", err)
			}
		}
	}
}

func sendCmd(root *rootFlags) *cobra.Command {
	var address string
	cmd := &cobra.Command{
		Use:   "send <command>...",
		Short: "Send commands to a server and exit",
		Long:  "Each argument is one command.\n\n" + commandHelp,
		Example: `  remotetouch send "mode presentation" forward forward
  remotetouch send '{"type":"tap","clickType":"double"}'`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			cmds := make([]protocol.Command, 0, len(args))
			for _, a := range args {
				c, err := parseLine(a)
				if err != nil {
					return fmt.Errorf("%q: %w", a, err)
				}
				cmds = append(cmds, c)
			}

			var pos []string
			if address != "" {
				pos = []string{address}
			}
			addr, err := peerAddress(cfg, pos)
			if err != nil {
				return err
			}
			opts := ble.DefaultClientOptions()
			opts.AutoReconnect = false
			client := newClient(cfg, addr, opts)
			defer client.Close()
			if err := client.Connect(cmd.Context()); err != nil {
				return err
			}
			for _, c := range cmds {
				if err := client.Send(c); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&address, "address", "", "server address (default ble.peer)")
	return cmd
}
