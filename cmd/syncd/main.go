// Package main is the entry point for the batch price/stock sync daemon.
// Each cycle picks the stalest items, fetches fresh facts from the remote
// pricing source in rate-limited batches, and reconciles the cache and the
// record store.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"listsync/internal/cache"
	"listsync/internal/config"
	"listsync/internal/logger"
	"listsync/internal/observability"
	"listsync/internal/ratelimit"
	"listsync/internal/store/postgres"
	"listsync/internal/syncer"
)

func main() {
	once := flag.Bool("once", false, "run a single sync cycle and exit")
	limit := flag.Int("limit", 1000, "max items per cycle")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	slogger := logger.New(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, "listsync-syncd", cfg.Otel.Endpoint)
	if err != nil {
		log.Fatalf("Failed to init tracing: %v", err)
	}
	defer shutdownTracer(context.Background())

	metricsHandler, shutdownMetrics, err := observability.InitMetrics()
	if err != nil {
		log.Fatalf("Failed to init metrics: %v", err)
	}
	defer shutdownMetrics(context.Background())

	metrics, err := observability.NewMetrics()
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		slogger.Info("metrics listening", "addr", cfg.Sync.MetricsAddr)
		if err := http.ListenAndServe(cfg.Sync.MetricsAddr, mux); err != nil {
			slogger.Error("metrics server error", "error", err)
		}
	}()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}
	defer db.Close()

	var priceCache cache.Cache
	switch cfg.Cache.Type {
	case "redis":
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisCache.Close()
		priceCache = redisCache
	default:
		priceCache = cache.NewMemory(cfg.Cache.TTL)
	}

	source, err := syncer.NewHTTPSource(cfg.Sync.SourceURL, cfg.Sync.SourceToken, cfg.Sync.BatchSize)
	if err != nil {
		log.Fatalf("Failed to create pricing source: %v", err)
	}

	engine, err := syncer.New(syncer.Config{
		Source:   source,
		Cache:    priceCache,
		Items:    db,
		Listings: db,
		Pacer:    ratelimit.New(cfg.Sync.MinCallGap),
		Margin:   cfg.Sync.Margin,
		Logger:   slogger,
	})
	if err != nil {
		log.Fatalf("Failed to create sync engine: %v", err)
	}

	for {
		runCycle(ctx, engine, db, metrics, cfg.Sync.Interval, *limit, slogger)
		if *once || ctx.Err() != nil {
			break
		}

		// Cancellable idle between cycles.
		timer := time.NewTimer(cfg.Sync.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			slogger.Info("sync daemon stopping")
			return
		case <-timer.C:
		}
	}
}

func runCycle(ctx context.Context, engine *syncer.Engine, db *postgres.Store, metrics *observability.Metrics, staleness time.Duration, limit int, slogger *slog.Logger) {
	ids, err := db.ItemIDsForSync(ctx, time.Now().Add(-staleness), limit)
	if err != nil {
		slogger.Error("failed to select items for sync", "error", err)
		return
	}
	if len(ids) == 0 {
		slogger.Info("no items due for sync")
		return
	}

	report, err := engine.Run(ctx, ids)
	if err != nil && ctx.Err() == nil {
		slogger.Error("sync run failed", "error", err)
	}

	metrics.RecordSync(ctx, "success", report.Success)
	metrics.RecordSync(ctx, "out_of_stock", report.OutOfStock)
	metrics.RecordSync(ctx, "filtered_out", report.FilteredOut)
	metrics.RecordSync(ctx, "api_error", report.APIError)
	metrics.RecordSync(ctx, "fallback_failed", report.FallbackFailed)
}
