// Package main is the entry point for the listsync supervisor daemon.
// It runs one dispatch worker per active marketplace account, the local
// control API consumed by listctl, and the metrics endpoint.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"listsync/internal/config"
	"listsync/internal/control"
	"listsync/internal/logger"
	"listsync/internal/observability"
	"listsync/internal/ratelimit"
	"listsync/internal/scheduler"
	"listsync/internal/store"
	"listsync/internal/store/postgres"
	"listsync/internal/supervisor"
	"listsync/internal/uploader"
	"listsync/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New(logger.ParseLevel(cfg.LogLevel))

	// A single cancellation root: every blocking wait in workers, pacers
	// and pollers hangs off this context.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "listsyncd", cfg.Otel.Endpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			slogger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			slogger.Error("failed to shutdown metrics", "error", err)
		}
	}()

	metrics, err := observability.NewMetrics()
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	sched, err := scheduler.New(db, scheduler.Window{
		Start: cfg.Worker.WindowStart,
		End:   cfg.Worker.WindowEnd,
	}, slogger)
	if err != nil {
		log.Fatalf("Failed to create scheduler: %v", err)
	}

	factory := func(account *store.Account) (*worker.Worker, error) {
		up, err := uploader.ForMarketplace(account.Marketplace, account)
		if err != nil {
			return nil, err
		}
		return worker.New(
			worker.Stores{Queue: db, Items: db, Listings: db},
			up,
			ratelimit.ForHourlyCap(account.HourlyCap),
			worker.Config{
				AccountID:      account.ID,
				Marketplace:    account.Marketplace,
				BatchSize:      cfg.Worker.BatchSize,
				IdleInterval:   cfg.Worker.IdleInterval,
				MaxAttempts:    cfg.Worker.MaxAttempts,
				RateLimitDelay: cfg.Worker.RateLimitDelay,
			},
			metrics,
			slogger,
		), nil
	}

	sup := supervisor.New(ctx, db, factory, cfg.Control.LockDir, metrics, slogger)
	if err := sup.StartAll(ctx); err != nil {
		// Locked accounts are running elsewhere; everything else is fatal.
		if errors.Is(err, supervisor.ErrLocked) {
			slogger.Warn("some accounts locked by another instance", "error", err)
		} else {
			log.Fatalf("Failed to start workers: %v", err)
		}
	}

	ctl := control.New(cfg.Control.Addr, sup, sched, db, slogger)
	go func() {
		if err := ctl.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slogger.Error("control server error", "error", err)
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		slogger.Info("metrics listening", "addr", cfg.Control.MetricsAddr)
		if err := http.ListenAndServe(cfg.Control.MetricsAddr, mux); err != nil {
			slogger.Error("metrics server error", "error", err)
		}
	}()

	<-ctx.Done()
	slogger.Info("shutting down")

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ctl.Shutdown(drainCtx); err != nil {
		slogger.Error("control server shutdown failed", "error", err)
	}
	if err := sup.Shutdown(drainCtx); err != nil {
		slogger.Error("worker shutdown incomplete", "error", err)
		os.Exit(1)
	}
}
