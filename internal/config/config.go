// Package config handles configuration management for devtap.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Sampler   SamplerConfig   `mapstructure:"sampler"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	History   HistoryConfig   `mapstructure:"history"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	HTTPPort      int    `mapstructure:"http_port"`
	WebSocketPort int    `mapstructure:"websocket_port"`
}

// DiscoveryConfig holds discovery reconciler configuration.
type DiscoveryConfig struct {
	// Endpoints are the debugger listener endpoints to scan, host:port
	// or full URLs.
	Endpoints []string `mapstructure:"endpoints"`

	// IntervalMS is the reconciliation period in milliseconds.
	IntervalMS int `mapstructure:"interval_ms"`

	// ListTimeoutMS bounds each endpoint list fetch.
	ListTimeoutMS int `mapstructure:"list_timeout_ms"`

	// Match filters advertised pages by URL or title substring. Empty
	// accepts every advertised page.
	Match []string `mapstructure:"match"`
}

// SamplerConfig holds change publisher configuration.
type SamplerConfig struct {
	// IntervalMS is the content sampling period in milliseconds.
	IntervalMS int `mapstructure:"interval_ms"`

	// CallTimeoutMS bounds each evaluate call.
	CallTimeoutMS int `mapstructure:"call_timeout_ms"`
}

// ArtifactsConfig holds on-disk artifact configuration.
type ArtifactsConfig struct {
	// ConversationsDir is the root of the conversation directories used
	// for the correlation fallback. Empty disables the fallback.
	ConversationsDir string `mapstructure:"conversations_dir"`
}

// HistoryConfig holds change history persistence configuration.
type HistoryConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	Path             string `mapstructure:"path"`
	RetainPerSession int    `mapstructure:"retain_per_session"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from files and environment.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default search paths
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.devtap")
		v.AddConfigPath("/etc/devtap")
	}

	// Environment variable prefix
	v.SetEnvPrefix("DEVTAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults
	setDefaults(v)

	// Read config file (optional - not an error if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	if err := postProcess(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.http_port", 8790)
	v.SetDefault("server.websocket_port", 8791)

	// Discovery defaults
	v.SetDefault("discovery.endpoints", []string{"127.0.0.1:9222"})
	v.SetDefault("discovery.interval_ms", 5000)
	v.SetDefault("discovery.list_timeout_ms", 2000)
	v.SetDefault("discovery.match", []string{})

	// Sampler defaults
	v.SetDefault("sampler.interval_ms", 1000)
	v.SetDefault("sampler.call_timeout_ms", 3000)

	// Artifacts defaults
	v.SetDefault("artifacts.conversations_dir", "")

	// History defaults
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")
	v.SetDefault("history.retain_per_session", 200)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// postProcess applies post-processing to configuration.
func postProcess(cfg *Config) error {
	if cfg.History.Enabled && cfg.History.Path == "" {
		dir, err := GetDataDir()
		if err != nil {
			return fmt.Errorf("failed to resolve data dir: %w", err)
		}
		cfg.History.Path = filepath.Join(dir, "history.db")
	}

	if cfg.Artifacts.ConversationsDir != "" {
		abs, err := filepath.Abs(cfg.Artifacts.ConversationsDir)
		if err != nil {
			return fmt.Errorf("failed to resolve conversations dir: %w", err)
		}
		cfg.Artifacts.ConversationsDir = abs
	}

	return nil
}

// GetDataDir returns the user data directory for devtap.
func GetDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".devtap"), nil
}
