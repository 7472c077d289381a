package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/scribeworks/scribe/internal/api"
	"github.com/scribeworks/scribe/internal/config"
	"github.com/scribeworks/scribe/internal/events"
	"github.com/scribeworks/scribe/internal/gemini"
	"github.com/scribeworks/scribe/internal/governor"
	"github.com/scribeworks/scribe/internal/pipeline"
	"github.com/scribeworks/scribe/internal/store"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("scribe starting", "port", cfg.Port, "model", cfg.Model)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	if cfg.DatabaseURL == "" {
		slog.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database connected, migrations applied")

	// Gemini client
	if cfg.GeminiAPIKey == "" {
		slog.Error("GEMINI_API_KEY is required")
		os.Exit(1)
	}
	model := gemini.NewClient(cfg.GeminiAPIKey)
	slog.Info("gemini client ready", "model", cfg.Model)

	// Governor — shared across all requests, backed by the store's ledger
	gate := governor.New(cfg.RPMDelay, db, cfg.DailyTokenLimit, slog.Default())

	// NATS events (optional — scribe works without them)
	var pub *events.Publisher
	if cfg.NatsURL != "" {
		pub, err = events.NewPublisher(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer pub.Close()
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured — running without lifecycle events")
	}

	// Pipeline — the full upload-to-document flow
	pipe := pipeline.New(cfg, model, gate, db, pub, slog.Default())

	// JWT auth
	if cfg.JWKSURL == "" {
		slog.Error("CLERK_JWKS_URL is required")
		os.Exit(1)
	}
	auth, err := api.NewJWTAuth(ctx, cfg.JWKSURL, slog.Default())
	if err != nil {
		slog.Error("failed to initialize JWKS auth", "error", err)
		os.Exit(1)
	}

	// HTTP API
	srv := api.NewServer(cfg, auth, pipe, db, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("scribe ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")
	cancel()
	slog.Info("scribe stopped")
}

func setupLogging(level string) {
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
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
