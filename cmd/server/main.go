package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stockdash/internal/app"
	"stockdash/internal/config"
	"stockdash/internal/logger"
	"stockdash/internal/publish"
	"stockdash/internal/quotefeed"
	"stockdash/internal/server"
	"stockdash/internal/telemetry"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("dotenv", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load("")
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	feed, err := app.NewFeed(cfg, log)
	if err != nil {
		log.Error("building feed", "error", err)
		os.Exit(1)
	}

	opts := []quotefeed.PollerOption{
		quotefeed.WithInterval(cfg.RefreshInterval()),
		quotefeed.WithLogger(log),
		quotefeed.WithCycleObserver(telemetry.Expvar{}.RefreshCycle),
	}
	if cfg.Redis.Addr != "" {
		rdb, err := publish.Dial(ctx, cfg.Redis.Addr)
		if err != nil {
			// the dashboard works without it
			log.Warn("redis unavailable, not publishing quotes", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer rdb.Close()
			opts = append(opts, quotefeed.WithListener(publish.New(rdb, cfg.RedisTTL(), log).Listener()))
			log.Info("publishing quotes to redis", "addr", cfg.Redis.Addr)
		}
	}
	poller := quotefeed.NewPoller(feed, cfg.Symbols(), opts...)

	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		_ = poller.Run(ctx)
	}()

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: server.New(poller, feed.Generator(),
			server.WithLogger(log),
			server.WithRefreshTimeout(cfg.RequestTimeout()),
			server.WithCycleTimeout(feed.CycleBudget()+5*time.Second),
		).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	log.Info("server listening", "port", cfg.Server.Port, "symbols", cfg.Symbols(), "refresh_interval", cfg.RefreshInterval())

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		log.Error("server terminated unexpectedly", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	<-pollDone
	log.Info("server stopped")
}
