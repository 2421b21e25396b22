// Command ais_manager is the host-level application supervisor binary. It
// loads a YAML configuration file, constructs the global context (§9),
// spawns every independent task the control flow names (§2), and blocks
// accepting control-protocol commands until it receives a shutdown signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/artisan-hosting/ais_manager/internal/apphost"
	"github.com/artisan-hosting/ais_manager/internal/config"
)

// version and gitConfig are overridden at build time via -ldflags.
var (
	version   = "dev"
	gitConfig = "unknown"
)

func main() {
	configPath := flag.String("config", "/etc/ais_manager/config.yaml", "path to the ais_manager YAML configuration file")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9802", "address the Prometheus metrics/health endpoint listens on")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ais_manager: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.String("config_path", *configPath),
		slog.String("listen_addr", cfg.ListenAddr),
		slog.String("log_level", cfg.LogLevel),
	)

	host, err := apphost.Build(cfg, version, gitConfig, logger)
	if err != nil {
		logger.Error("failed to build global context", slog.Any("error", err))
		os.Exit(1)
	}
	defer host.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", host.Metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	metricsServer := &http.Server{
		Addr:         *metricsAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics server listening", slog.String("addr", *metricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", slog.Any("error", err))
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("ais_manager starting", slog.String("version", version))
	if err := host.Run(ctx); err != nil {
		logger.Error("ais_manager exited with error", slog.Any("error", err))
		os.Exit(1)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("metrics server shutdown error", slog.Any("error", err))
	}

	logger.Info("ais_manager exited cleanly")
}

// newLogger builds a slog.Logger at the requested level, text-handler to
// stderr, matching the teacher's newLogger convention.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
