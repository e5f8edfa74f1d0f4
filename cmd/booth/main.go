package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/antoniostano/charbooth/internal/booth"
	"github.com/antoniostano/charbooth/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "booth: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "booth",
		Short: "Character booth device",
		Long: `Drive a character booth against the backend.

Available subcommands:
  run          Run one booth, reading handset events from stdin
  healthcheck  Check the backend and print the active model
  simulate     Run many synthetic booths concurrently

Examples:
  booth run --config booth.yaml
  booth healthcheck
  booth simulate --booths 8 --turns 3`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "booth.yaml", "Path to the booth config file (missing file uses defaults)")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newHealthcheckCmd(opts))
	cmd.AddCommand(newSimulateCmd(opts))
	return cmd
}

func (o *rootOptions) load() (booth.Config, *slog.Logger, error) {
	cfg, err := booth.LoadConfig(o.configPath)
	if err != nil {
		return booth.Config{}, nil, err
	}
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if cfg.Source != "" {
		logger.Debug("booth config loaded", "path", cfg.Source)
	}
	return cfg, logger, nil
}
