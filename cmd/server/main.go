package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/config"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/server"
	"github.com/dgarbuzob-dotcom/assistant-sse-2/internal/telemetry"
)

func main() {
	// Initialize Structured Logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load Configuration
	cfg := config.LoadConfig()

	// Initialize Telemetry (OpenTelemetry)
	tpShutdown, err := telemetry.InitTracer(server.ServiceName, os.Stderr)
	if err != nil {
		slog.Error("Failed to init telemetry", "error", err)
		// Don't fatal, just log
	} else {
		defer func() {
			if err := tpShutdown(context.Background()); err != nil {
				slog.Error("Failed to shutdown telemetry", "error", err)
			}
		}()
	}

	app := server.New(cfg)

	// Graceful Shutdown Setup
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           app.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start Server in Goroutine
	go func() {
		slog.Info("Starting server", "port", cfg.ServerPort, "base_url", cfg.OpenAIBaseURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server init failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for Interrupt Signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	// Context with 10s timeout for active requests and cleanup
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Wait for stream readers and release the lock store
	slog.Info("Waiting for stream readers to complete...")
	if err := app.Shutdown(ctx); err != nil {
		slog.Error("Failed to complete shutdown", "error", err)
	}

	slog.Info("Server exiting")
}
