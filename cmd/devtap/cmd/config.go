package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/brianly1003/devtap/internal/config"
)

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		printConfig(cfg)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

func printConfig(cfg *config.Config) {
	fmt.Println("Current Configuration:")
	fmt.Println("----------------------")
	fmt.Printf("Host:              %s\n", cfg.Server.Host)
	fmt.Printf("HTTP Port:         %d\n", cfg.Server.HTTPPort)
	fmt.Printf("WebSocket Port:    %d\n", cfg.Server.WebSocketPort)
	fmt.Printf("Endpoints:         %s\n", strings.Join(cfg.Discovery.Endpoints, ", "))
	fmt.Printf("Discovery Period:  %dms\n", cfg.Discovery.IntervalMS)
	fmt.Printf("Sampling Period:   %dms\n", cfg.Sampler.IntervalMS)
	fmt.Printf("Conversations Dir: %s\n", cfg.Artifacts.ConversationsDir)
	fmt.Printf("History Enabled:   %t\n", cfg.History.Enabled)
	fmt.Printf("History Path:      %s\n", cfg.History.Path)
	fmt.Printf("Log Level:         %s\n", cfg.Logging.Level)
	fmt.Printf("Log Format:        %s\n", cfg.Logging.Format)
}
