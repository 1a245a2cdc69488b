// Command remotetouch runs the RemoteTouch server (advertise, pair, inject
// input) or acts as a client against one.
//
// Usage:
//
//	remotetouch serve
//	remotetouch pair <address>
//	remotetouch connect <address>
//	remotetouch devices list
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/chaz8081/remotetouch/internal/config"
)

// logLevel is shared by every command so a config reload can change it.
var logLevel = new(slog.LevelVar)

type rootFlags struct {
	configPath string
	logLevel   string
	envFile    string
}

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:           "remotetouch",
		Short:         "Use a phone as a Bluetooth trackpad and remote for this computer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&flags.configPath, "config", config.DefaultConfigPath(), "config file path")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file with REMOTETOUCH_* overrides")

	cmd.AddCommand(serveCmd(flags))
	cmd.AddCommand(scanCmd(flags))
	cmd.AddCommand(pairCmd(flags))
	cmd.AddCommand(connectCmd(flags))
	cmd.AddCommand(sendCmd(flags))
	cmd.AddCommand(devicesCmd(flags))
	cmd.AddCommand(lockoutCmd(flags))
	cmd.AddCommand(initConfigCmd())
	return cmd
}

// loadConfig resolves the effective config: defaults, then the YAML file,
// then the environment, then flags. The result is validated.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	if err := config.LoadDotEnv(flags.envFile); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(flags.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	logLevel.Set(config.ParseLogLevel(cfg.LogLevel))
	return cfg, nil
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write a commented default config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.WriteDefault()
			if err != nil {
				return err
			}
			if path == "" {
				fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
				return nil
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
}
