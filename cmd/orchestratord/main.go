// Command orchestratord runs the supervisor/worker orchestration core as a
// long-lived daemon: the run orchestrator, an embedded worker runtime, the
// stream gateway, and the HTTP run-control surface that fronts them.
//
// # Basic Usage
//
// Start the daemon:
//
//	orchestratord --config orchestrator.yaml
//
// # Environment Variables
//
//   - ORCHESTRATOR_CONFIG: path to configuration file (default: orchestrator.yaml)
//   - ANTHROPIC_API_KEY, OPENAI_API_KEY: LLM provider credentials
//   - DATABASE_URL: CockroachDB connection string
//   - ORCHESTRATOR_JWT_SECRET: signing secret for the auth config's JWT tokens
//
// # Config reload
//
// Setting reload.enabled in the config file starts a watcher on that file's
// directory; edits debounce and live-apply logging.level without a restart.
// Every other setting (stores, ports, LLM providers, schedule entries)
// still requires a restart.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opscore/orchestrator/internal/config"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	configPath := flag.String("config", defaultConfigPath(), "path to YAML configuration file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	if err := run(*configPath); err != nil {
		slog.Error("orchestratord exited with error", "error", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if v := os.Getenv("ORCHESTRATOR_CONFIG"); v != "" {
		return v
	}
	return "orchestrator.yaml"
}

func run(configPath string) error {
	slog.Info("starting orchestratord", "version", version, "commit", commit, "built", date, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("configuration loaded",
		"http_port", cfg.Server.HTTPPort,
		"metrics_port", cfg.Server.MetricsPort,
		"llm_provider", cfg.LLM.DefaultProvider,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server, err := NewServer(ctx, cfg, configPath)
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutdown signal received, draining in-flight work")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	slog.Info("orchestratord stopped gracefully")
	return nil
}
