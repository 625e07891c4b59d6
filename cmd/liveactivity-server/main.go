// Package main is the entry point for the Live Activity server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nightscout-labs/liveactivity/internal/apns"
	"github.com/nightscout-labs/liveactivity/internal/config"
	"github.com/nightscout-labs/liveactivity/internal/dexcom"
	"github.com/nightscout-labs/liveactivity/internal/scheduler"
	"github.com/nightscout-labs/liveactivity/internal/server"
	"github.com/nightscout-labs/liveactivity/internal/store"
)

func main() {
	cfg := config.Load()

	logger := setupLogger(cfg)
	logger.Info("starting Live Activity server",
		"port", cfg.Port,
		"redis_url", cfg.RedisURL,
		"push_enabled", cfg.PushAuthKeyPEM != "",
	)

	st, err := store.NewClient(store.ClientOptions{
		URL:      cfg.RedisURL,
		PoolSize: cfg.RedisPoolSize,
		Timeout:  cfg.RedisTimeout,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to create store client", "error", err)
		os.Exit(1)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := st.Connect(connectCtx); err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	cancel()

	gateway, err := apns.NewGateway(apns.GatewayOptions{
		AuthKeyPEM: []byte(cfg.PushAuthKeyPEM),
		KeyID:      cfg.PushKeyID,
		TeamID:     cfg.TeamID,
		Topic:      cfg.PushTopic,
		Timeout:    cfg.APNSTimeout,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to create APNs gateway", "error", err)
		os.Exit(1)
	}

	fetcher := dexcom.NewClient(dexcom.ClientOptions{
		Timeout:             cfg.UpstreamTimeout,
		MaxConns:            100,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     90 * time.Second,
		RequestsPerSecond:   cfg.UpstreamRPS,
		Logger:              logger,
	})

	processor := scheduler.NewProcessor(st, fetcher, gateway, logger)
	sched := scheduler.New(scheduler.Options{
		Store:         st,
		Processor:     processor,
		Logger:        logger,
		MaxConcurrent: cfg.MaxConcurrentPolls,
	})
	widgets := scheduler.NewWidgetTicker(st, gateway, cfg.WidgetInterval, logger)

	runCtx, stop := context.WithCancel(context.Background())
	go sched.Run(runCtx)
	go widgets.Run(runCtx)

	srv := server.New(server.Options{
		Store:  st,
		Logger: logger,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GracefulTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}

	if err := st.Close(); err != nil {
		logger.Error("store close failed", "error", err)
	}
	logger.Info("shutdown complete")
}

// setupLogger builds the process logger from config.
func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogJSON {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
