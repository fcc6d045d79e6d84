package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Load reads, parses, and validates the configuration file at path.
// Defaults are applied first, then the file contents, then environment
// variable overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is empty")
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file does not exist: %s", path)
		}
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path is a directory, not a file: %s", path)
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills zero values left after unmarshaling.
func applyDefaults(cfg *Config) {
	if cfg.HealthCheck.Interval == 0 {
		cfg.HealthCheck.Interval = Duration(DefaultHealthCheckInterval)
	}
	if cfg.HealthCheck.Timeout == 0 {
		cfg.HealthCheck.Timeout = Duration(DefaultProbeTimeout)
	}
	if cfg.HealthCheck.CacheTTL == 0 {
		cfg.HealthCheck.CacheTTL = Duration(DefaultHealthCacheTTL)
	}
	if cfg.HealthCheck.Path == "" {
		cfg.HealthCheck.Path = DefaultHealthPath
	}
	for i := range cfg.Services {
		for j := range cfg.Services[i].Instances {
			if cfg.Services[i].Instances[j].Weight == 0 {
				cfg.Services[i].Instances[j].Weight = 1
			}
		}
	}
}
