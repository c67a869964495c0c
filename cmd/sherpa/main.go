package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/anthropic"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/api"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/config"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/engine"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/extractor"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/store"
	"github.com/david-nelson-elske/choice-sherpa-sub005/internal/transport"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	slog.Info("sherpa starting", "port", cfg.Port)

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
	slog.Info("database connected")

	// Anthropic client
	if cfg.AnthropicAPIKey == "" {
		slog.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	slog.Info("anthropic client ready", "model", cfg.AnthropicModel)

	// Extractor
	ext := extractor.New(llm, slog.Default())

	// NATS event publisher — also the step-confirmation sink
	pub, err := transport.NewPublisher(cfg.NatsURL, cfg.NatsToken, slog.Default())
	if err != nil {
		slog.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer pub.Close()
	slog.Info("NATS connected", "url", cfg.NatsURL)

	// Engine — the dialogue pipeline
	eng := engine.New(db, llm, ext, pub, pub, cfg.TurnTimeout, slog.Default())

	// HTTP API
	srv := api.NewServer(cfg.Port, eng, api.AllowAll{}, cfg.APIToken, slog.Default())
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("sherpa ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	eng.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown error", "error", err)
	}

	cancel()
	slog.Info("sherpa stopped")
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
