package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/brianly1003/devtap/internal/app"
	"github.com/brianly1003/devtap/internal/config"
)

var (
	endpoints []string
	httpPort  int
	wsPort    int
)

// startCmd represents the start command.
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the devtap daemon",
	Long: `Start the devtap daemon to begin scanning the configured debugger
listener endpoints and serving session state to subscribers.

Example:
  devtap start
  devtap start --endpoint 127.0.0.1:9222 --endpoint 127.0.0.1:9223
  devtap start --http-port 8790 --ws-port 8791`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringArrayVar(&endpoints, "endpoint", nil, "debugger listener endpoint (repeatable, overrides config)")
	startCmd.Flags().IntVar(&httpPort, "http-port", 0, "HTTP API port (default: 8790)")
	startCmd.Flags().IntVar(&wsPort, "ws-port", 0, "subscriber WebSocket port (default: 8791)")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override config with flags
	if len(endpoints) > 0 {
		cfg.Discovery.Endpoints = endpoints
	}
	if httpPort != 0 {
		cfg.Server.HTTPPort = httpPort
	}
	if wsPort != 0 {
		cfg.Server.WebSocketPort = wsPort
	}

	// Re-validate after overrides
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogging(cfg)

	log.Info().
		Str("version", version).
		Strs("endpoints", cfg.Discovery.Endpoints).
		Int("http_port", cfg.Server.HTTPPort).
		Int("ws_port", cfg.Server.WebSocketPort).
		Msg("starting devtap")

	application, err := app.New(cfg, version)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("application error: %w", err)
	}

	log.Info().Msg("devtap stopped")
	return nil
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Logging.Format == "console" || verbose {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}
