// Package main is the entry point for the agent metrics exporter sidecar.
// It loads configuration, wires the fetch pipeline, starts the HTTP server,
// and on a termination signal runs the drain protocol before exiting: the
// sidecar keeps serving scrapes until the agent it reports on has finished
// draining its own work, up to the configured grace period.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/matillion-public/agent-metrics-exporter/internal/admin"
	"github.com/matillion-public/agent-metrics-exporter/internal/agent"
	"github.com/matillion-public/agent-metrics-exporter/internal/circuitbreaker"
	"github.com/matillion-public/agent-metrics-exporter/internal/config"
	"github.com/matillion-public/agent-metrics-exporter/internal/drain"
	"github.com/matillion-public/agent-metrics-exporter/internal/fetcher"
	"github.com/matillion-public/agent-metrics-exporter/internal/logging"
	"github.com/matillion-public/agent-metrics-exporter/internal/middleware"
	"github.com/matillion-public/agent-metrics-exporter/internal/server"
	"github.com/matillion-public/agent-metrics-exporter/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	for _, w := range cfg.Warnings {
		logger.Warn("config warning", "message", w)
	}
	logger.Info("starting metrics exporter",
		"port", cfg.Server.Port,
		"upstream", cfg.Upstream.Endpoint,
		"grace_period", cfg.Drain.GracePeriod.Std(),
		"max_retry_attempts", cfg.Fetch.MaxAttempts,
		"retry_delay", cfg.Fetch.RetryDelay.Std(),
		"cache_ttl", cfg.Fetch.CacheTTL.Std(),
		"telemetry_enabled", cfg.Telemetry.IsEnabled(),
	)

	if cfg.Telemetry.IsEnabled() {
		telemetry.Init()
	}

	// Shared process-wide state: one cache entry, one set of drain flags,
	// one keyed failure counter. Single-writer discipline: the fetcher
	// writes the cache and counters, the coordinator writes the drain flags.
	state := drain.NewState()
	counters := telemetry.NewCounters()
	cache := fetcher.NewCache()
	client := agent.New(cfg.Upstream.Endpoint, cfg.Upstream.RequestTimeout.Std(), logger)
	breaker := circuitbreaker.New(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.RecoveryTimeout.Std())

	// The retry budget is read on every fetch so hot-reloaded settings take
	// effect without a restart.
	settings := func() fetcher.Settings {
		return fetcher.Settings{
			MaxAttempts:      cfg.Fetch.MaxAttempts,
			RetryDelay:       cfg.Fetch.RetryDelay.Std(),
			DrainMaxAttempts: cfg.Fetch.DrainMaxAttempts,
			DrainRetryDelay:  cfg.Fetch.DrainRetryDelay.Std(),
			CacheTTL:         cfg.Fetch.CacheTTL.Std(),
		}
	}

	var reloader *config.Reloader
	if *configPath != "" {
		reloader = config.NewReloader(*configPath, cfg, logger)
		reloader.Start()
		defer reloader.Stop()
		settings = func() fetcher.Settings {
			c := reloader.Current()
			return fetcher.Settings{
				MaxAttempts:      c.Fetch.MaxAttempts,
				RetryDelay:       c.Fetch.RetryDelay.Std(),
				DrainMaxAttempts: c.Fetch.DrainMaxAttempts,
				DrainRetryDelay:  c.Fetch.DrainRetryDelay.Std(),
				CacheTTL:         c.Fetch.CacheTTL.Std(),
			}
		}
	}

	f := fetcher.New(client, breaker, cache, counters, state, settings, logger)

	mux := http.NewServeMux()
	server.New(f, state, counters, logger).RegisterRoutes(mux)

	if cfg.Telemetry.IsEnabled() {
		mux.Handle("GET "+cfg.Telemetry.Path, telemetry.Handler())
		logger.Info("telemetry endpoint registered", "path", cfg.Telemetry.Path)
	}
	if cfg.Admin.Enabled {
		admin.New(f, state, counters, cfg.Upstream.Endpoint, cfg.Admin.IPAllowlist, logger).RegisterRoutes(mux)
		logger.Info("admin endpoint registered", "path", "/admin/status")
	}

	handler := middleware.Recovery(logger)(middleware.Logging(logger)(mux))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logger.Info("shutdown signal received", "signal", sig.String())

	// The coordinator blocks here until the agent stops answering or the
	// grace period elapses, latching the shutdown signal on the way out.
	// Scrapes keep being served (with the reduced retry budget) throughout.
	// Drain knobs are read at signal time so hot-reloaded values apply.
	drainCfg := cfg.Drain
	if reloader != nil {
		drainCfg = reloader.Current().Drain
	}
	coordinator := drain.NewCoordinator(state, client,
		drainCfg.GracePeriod.Std(), drainCfg.PollInterval.Std(), drainCfg.PollTimeout.Std(), logger)
	coordinator.Drain(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("metrics exporter stopped gracefully")
}

// buildLogger constructs the process logger per config: JSON output to
// stdout, stderr, or a rotating file. The returned func closes the file
// writer, if any.
func buildLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	var out io.Writer
	closeFn := func() {}

	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		w, err := logging.NewRotatingWriter(cfg.Output, cfg.MaxSizeMB, cfg.MaxBackups, cfg.MaxAgeDays)
		if err != nil {
			return nil, nil, err
		}
		out = w
		closeFn = func() { w.Close() }
	}

	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})), closeFn, nil
}
