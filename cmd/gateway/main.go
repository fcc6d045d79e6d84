// Package main is the entry point for the routing core daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/vyrodovalexey/avrouting/internal/config"
	"github.com/vyrodovalexey/avrouting/internal/gateway"
	"github.com/vyrodovalexey/avrouting/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags()

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		logger.Error("failed to load configuration",
			observability.String("path", flags.configPath),
			observability.Error(err),
		)
		os.Exit(1)
	}

	run(cfg, flags.configPath, logger)
}

// parseFlags parses command line flags.
func parseFlags() cliFlags {
	configPath := flag.String("config", getEnvOrDefault("AVROUTING_CONFIG_PATH", "configs/routing.yaml"),
		"Path to configuration file")
	logLevel := flag.String("log-level", getEnvOrDefault("AVROUTING_LOG_LEVEL", "info"),
		"Log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", getEnvOrDefault("AVROUTING_LOG_FORMAT", "json"),
		"Log format (json, console)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	return cliFlags{
		configPath:  *configPath,
		logLevel:    *logLevel,
		logFormat:   *logFormat,
		showVersion: *showVersion,
	}
}

// printVersion prints version information and exits.
func printVersion() {
	fmt.Printf("avrouting version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger initializes the logger.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(observability.LogConfig{
		Level:  flags.logLevel,
		Format: flags.logFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	observability.SetGlobalLogger(logger)
	return logger
}

// run wires the core, admin server, and config watcher, then blocks until a
// shutdown signal arrives.
func run(cfg *config.Config, configPath string, logger observability.Logger) {
	logger.Info("starting avrouting",
		observability.String("version", version),
		observability.Int("services", len(cfg.Services)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core := gateway.New(cfg, gateway.WithLogger(logger))
	core.Start(ctx)
	defer core.Stop()

	admin := gateway.NewAdminServer(core, cfg, logger)
	if err := admin.Start(); err != nil {
		logger.Error("failed to start admin server", observability.Error(err))
		os.Exit(1)
	}

	watcher, err := config.NewWatcher(configPath,
		func(newCfg *config.Config) {
			core.ApplyTopology(newCfg)
		},
		config.WithWatcherLogger(logger),
	)
	if err != nil {
		logger.Warn("configuration hot reload disabled", observability.Error(err))
	} else if err := watcher.Start(ctx); err != nil {
		logger.Warn("configuration hot reload disabled", observability.Error(err))
	} else {
		defer func() { _ = watcher.Stop() }()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal",
		observability.String("signal", sig.String()),
	)

	if err := admin.Shutdown(ctx); err != nil {
		logger.Error("admin server shutdown failed", observability.Error(err))
	}
}

// getEnvOrDefault returns the environment variable value or a default.
func getEnvOrDefault(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}
