// Package config provides configuration management for the routing core.
// Configuration is loaded from a YAML file, with a small set of environment
// variable overrides for deployment-specific settings.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// Default configuration values.
const (
	DefaultAdminPort           = 8081
	DefaultHealthCacheTTL      = 30 * time.Second
	DefaultProbeTimeout        = 5 * time.Second
	DefaultHealthCheckInterval = 10 * time.Second
	DefaultHealthPath          = "/health"
)

// Config holds all configuration for the routing core.
type Config struct {
	// Logging
	LogLevel  string `json:"logLevel" yaml:"logLevel"`
	LogFormat string `json:"logFormat" yaml:"logFormat"`
	LogOutput string `json:"logOutput" yaml:"logOutput"`

	// Admin server
	AdminPort            int      `json:"adminPort" yaml:"adminPort"`
	AdminReadTimeout     Duration `json:"adminReadTimeout" yaml:"adminReadTimeout"`
	AdminWriteTimeout    Duration `json:"adminWriteTimeout" yaml:"adminWriteTimeout"`
	AdminShutdownTimeout Duration `json:"adminShutdownTimeout" yaml:"adminShutdownTimeout"`

	// Health checking
	HealthCheck HealthCheck `json:"healthCheck" yaml:"healthCheck"`

	// Services known at startup
	Services []Service `json:"services" yaml:"services"`
}

// HealthCheck holds health probing configuration.
type HealthCheck struct {
	// Interval between pruning-loop passes.
	Interval Duration `json:"interval" yaml:"interval"`
	// Timeout bounds a single probe.
	Timeout Duration `json:"timeout" yaml:"timeout"`
	// CacheTTL is the validity window of a cached health record.
	CacheTTL Duration `json:"cacheTTL" yaml:"cacheTTL"`
	// Path is the HTTP path probed on each service endpoint.
	Path string `json:"path" yaml:"path"`
	// ProbesPerSecond caps the aggregate probe rate. 0 disables the cap.
	ProbesPerSecond float64 `json:"probesPerSecond" yaml:"probesPerSecond"`
}

// Service describes one backend service and its instance pool.
type Service struct {
	Name string `json:"name" yaml:"name"`
	// Host and Port form the canonical address used for health probing.
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
	// Strategy selects instances for requests: roundrobin, leastconn, weighted.
	Strategy  string     `json:"strategy" yaml:"strategy"`
	Instances []Instance `json:"instances" yaml:"instances"`
}

// Instance describes one routable instance of a service.
type Instance struct {
	Address string `json:"address" yaml:"address"`
	Weight  int    `json:"weight" yaml:"weight"`
}

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:             "info",
		LogFormat:            "json",
		LogOutput:            "stdout",
		AdminPort:            DefaultAdminPort,
		AdminReadTimeout:     Duration(10 * time.Second),
		AdminWriteTimeout:    Duration(10 * time.Second),
		AdminShutdownTimeout: Duration(5 * time.Second),
		HealthCheck: HealthCheck{
			Interval: Duration(DefaultHealthCheckInterval),
			Timeout:  Duration(DefaultProbeTimeout),
			CacheTTL: Duration(DefaultHealthCacheTTL),
			Path:     DefaultHealthPath,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.AdminPort < 0 || c.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.AdminPort)
	}
	if c.HealthCheck.Interval < 0 || c.HealthCheck.Timeout < 0 || c.HealthCheck.CacheTTL < 0 {
		return fmt.Errorf("health check durations must not be negative")
	}

	seen := make(map[string]bool, len(c.Services))
	for i := range c.Services {
		svc := &c.Services[i]
		if svc.Name == "" {
			return fmt.Errorf("service %d: name is required", i)
		}
		if seen[svc.Name] {
			return fmt.Errorf("duplicate service name: %s", svc.Name)
		}
		seen[svc.Name] = true

		if svc.Host == "" {
			return fmt.Errorf("service %s: host is required", svc.Name)
		}
		if svc.Port <= 0 || svc.Port > 65535 {
			return fmt.Errorf("service %s: invalid port %d", svc.Name, svc.Port)
		}

		addrs := make(map[string]bool, len(svc.Instances))
		for _, inst := range svc.Instances {
			if _, _, err := net.SplitHostPort(inst.Address); err != nil {
				return fmt.Errorf("service %s: invalid instance address %q: %w",
					svc.Name, inst.Address, err)
			}
			if addrs[inst.Address] {
				return fmt.Errorf("service %s: duplicate instance address %s",
					svc.Name, inst.Address)
			}
			addrs[inst.Address] = true
			if inst.Weight < 0 {
				return fmt.Errorf("service %s: instance %s: negative weight %d",
					svc.Name, inst.Address, inst.Weight)
			}
		}
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AVROUTING_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("AVROUTING_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("AVROUTING_ADMIN_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.AdminPort = port
		}
	}
	if v := os.Getenv("AVROUTING_HEALTH_PATH"); v != "" {
		cfg.HealthCheck.Path = v
	}
}
