package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"courier/internal/bus"
	"courier/internal/config"
	"courier/internal/httpserver"
	"courier/internal/logging"
	"courier/internal/observability"
	"courier/internal/plugins"
	"courier/internal/service"
	"courier/internal/store/pg"
)

func main() {
	cfg := config.LoadAPI()
	logging.Init("api", cfg.Observability.LogFormat, cfg.Observability.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, "courier-api", cfg.Observability.OTLPEndpoint, cfg.Observability.OTLPInsecure)
	if err != nil {
		slog.Error("api tracing init failed", "err", err)
		os.Exit(1)
	}

	pool, err := pg.NewPool(ctx, cfg.DB.DSN, cfg.DB.PoolOptions())
	if err != nil {
		slog.Error("api db connect failed", "err", err)
		os.Exit(1)
	}
	db := pg.New(pool, cfg.DB.AcquireTimeout)

	observability.Register(prometheus.DefaultRegisterer)

	registry := plugins.Registry(config.ProviderConfig{})
	commands := bus.NewCommandBus(db, registry)
	queries := bus.NewQueryBus(db, registry)
	service.Register(commands, queries)

	s := httpserver.New(cfg.MaxBodyBytes, func(ctx context.Context) error { return pool.Ping(ctx) })
	api := &httpserver.API{Commands: commands, Queries: queries}
	api.Register(s.Mux)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      s.Handler("courier-api"),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("api shutdown", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("api listening", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("api server failed", "err", err)
		os.Exit(1)
	}

	pool.Close()
	flushCtx, flushCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer flushCancel()
	_ = shutdownTracing(flushCtx)
}
