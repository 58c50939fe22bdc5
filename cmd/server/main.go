// Package main is the entry point for the resize credits server.
//
// main only reads configuration, builds the logger and the optional image
// executor, and starts the server. Everything else lives in internal/.
package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/resize-credits/internal/config"
	"github.com/sakif/resize-credits/internal/executor"
	"github.com/sakif/resize-credits/internal/executor/remote"
	"github.com/sakif/resize-credits/internal/server"
)

func main() {
	// === 1. READ CONFIGURATION ===
	// config.Load reads the environment (and .env via godotenv) and reports
	// every bad value at once.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 2. SET UP LOGGING ===
	// Text for humans in development, JSON for the log pipeline in production.
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	// === 3. DATABASE DIRECTORY ===
	// The SQLite file's directory must exist before the driver opens it.
	if cfg.Store.Driver == config.DriverSQLite && cfg.Store.SQLitePath != ":memory:" {
		dbDir := filepath.Dir(cfg.Store.SQLitePath)
		if err := os.MkdirAll(dbDir, 0o755); err != nil {
			logger.Error("failed to create database directory",
				slog.String("dir", dbDir),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	// === 4. IMAGE EXECUTOR ===
	// Optional: without INFERENCE_URL the server starts and /api/process
	// answers 503 without charging anyone.
	var exec executor.Executor
	if cfg.Executor.URL != "" {
		remoteExec, err := remote.New(remote.Config{
			URL:           cfg.Executor.URL,
			Token:         cfg.Executor.Token,
			Timeout:       cfg.Executor.Timeout,
			MaxConcurrent: cfg.Executor.MaxConcurrent,
		}, logger)
		if err != nil {
			logger.Error("failed to create image executor", slog.String("error", err.Error()))
			os.Exit(1)
		}
		exec = remoteExec
	} else {
		logger.Warn("INFERENCE_URL not set, /api/process is disabled")
	}

	// === 5. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, logger, exec)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT/SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.IsDevelopment() {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
