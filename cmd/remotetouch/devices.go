package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaz8081/remotetouch/internal/config"
	"github.com/chaz8081/remotetouch/internal/pairing"
	"github.com/chaz8081/remotetouch/internal/trust"
)

// withEngine opens the configured trust store for a one-shot command.
func withEngine(root *rootFlags, fn func(*pairing.Engine) error) error {
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	return openEngine(cfg, fn)
}

func openEngine(cfg *config.Config, fn func(*pairing.Engine) error) error {
	backend, err := trust.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Warn("[STORE] close", "error", err)
		}
	}()
	return fn(pairing.New(trust.NewStore(backend), pairing.Options{
		CodeTTL:         cfg.Pairing.CodeTTL,
		MaxAttempts:     cfg.Pairing.MaxAttempts,
		LockoutDuration: cfg.Pairing.LockoutDuration,
	}))
}

func devicesCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "Manage paired devices (list, remove)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List paired devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(root, func(e *pairing.Engine) error {
				devices, err := e.ListDevices()
				if err != nil {
					return err
				}
				if len(devices) == 0 {
					fmt.Println("No paired devices.")
					return nil
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tADDRESS\tLAST CONNECTED")
				for _, d := range devices {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.ID, d.Name, d.PeerAddress, d.LastConnected.Local().Format(time.DateTime))
				}
				return tw.Flush()
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "remove <id>",
		Short: "Forget a paired device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(root, func(e *pairing.Engine) error {
				if err := e.RemoveDevice(args[0]); err != nil {
					return err
				}
				fmt.Printf("Removed %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func lockoutCmd(root *rootFlags) *cobra.Command {
	var clearLockout bool
	cmd := &cobra.Command{
		Use:   "lockout",
		Short: "Show or clear the pairing lockout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(root, func(e *pairing.Engine) error {
				if clearLockout {
					if err := e.ClearLockout(); err != nil {
						return err
					}
					fmt.Println("Lockout cleared.")
					return nil
				}
				if left, ok := e.RemainingLockoutTime(); ok {
					fmt.Printf("Pairing locked for another %s\n", left.Round(time.Second))
				} else {
					fmt.Println("Pairing is not locked.")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearLockout, "clear", false, "lift the lockout now")
	return cmd
}
