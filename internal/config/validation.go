package config

import (
	"fmt"
	"strings"
)

// Validate validates the configuration.
func Validate(cfg *Config) error {
	if err := validateServer(&cfg.Server); err != nil {
		return err
	}
	if err := validateDiscovery(&cfg.Discovery); err != nil {
		return err
	}
	if err := validateSampler(&cfg.Sampler); err != nil {
		return err
	}
	if err := validateLogging(&cfg.Logging); err != nil {
		return err
	}
	return nil
}

func validateServer(cfg *ServerConfig) error {
	if cfg.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if cfg.HTTPPort <= 0 || cfg.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port must be in 1..65535, got %d", cfg.HTTPPort)
	}
	if cfg.WebSocketPort <= 0 || cfg.WebSocketPort > 65535 {
		return fmt.Errorf("server.websocket_port must be in 1..65535, got %d", cfg.WebSocketPort)
	}
	if cfg.HTTPPort == cfg.WebSocketPort {
		return fmt.Errorf("server.http_port and server.websocket_port must differ")
	}
	return nil
}

func validateDiscovery(cfg *DiscoveryConfig) error {
	if len(cfg.Endpoints) == 0 {
		return fmt.Errorf("discovery.endpoints must list at least one endpoint")
	}
	for _, e := range cfg.Endpoints {
		if strings.TrimSpace(e) == "" {
			return fmt.Errorf("discovery.endpoints must not contain empty entries")
		}
	}
	if cfg.IntervalMS <= 0 {
		return fmt.Errorf("discovery.interval_ms must be positive, got %d", cfg.IntervalMS)
	}
	if cfg.ListTimeoutMS <= 0 {
		return fmt.Errorf("discovery.list_timeout_ms must be positive, got %d", cfg.ListTimeoutMS)
	}
	return nil
}

func validateSampler(cfg *SamplerConfig) error {
	if cfg.IntervalMS <= 0 {
		return fmt.Errorf("sampler.interval_ms must be positive, got %d", cfg.IntervalMS)
	}
	if cfg.CallTimeoutMS <= 0 {
		return fmt.Errorf("sampler.call_timeout_ms must be positive, got %d", cfg.CallTimeoutMS)
	}
	return nil
}

func validateLogging(cfg *LoggingConfig) error {
	switch cfg.Level {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "":
	default:
		return fmt.Errorf("logging.level %q is not a known level", cfg.Level)
	}
	switch cfg.Format {
	case "console", "json", "":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", cfg.Format)
	}
	return nil
}
