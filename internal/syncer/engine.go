// Package syncer is the rate-limited batch price/stock synchronization
// engine.
//
// It fetches price/stock facts for a set of items from the remote pricing
// source in bounded chunks, classifies every identifier, and resolves remote
// failures through a fallback chain: cache first, then the record store's
// last known values. The record store is always written first on fresh data;
// the cache is strictly secondary.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"listsync/internal/cache"
	"listsync/internal/ratelimit"
	"listsync/internal/store"
)

// Engine runs batch sync cycles against one remote pricing source. The pacer
// is scoped to that source and independent of any worker's limiter.
type Engine struct {
	source   PriceSource
	cache    cache.Cache
	items    store.ItemStore
	listings store.ListingStore
	pacer    *ratelimit.Pacer
	margin   float64 // selling price = unit price * margin
	now      func() time.Time
	log      *slog.Logger
}

// Config assembles an Engine.
type Config struct {
	Source   PriceSource
	Cache    cache.Cache
	Items    store.ItemStore
	Listings store.ListingStore
	Pacer    *ratelimit.Pacer
	Margin   float64
	Logger   *slog.Logger
}

// New validates the configuration and builds an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Source == nil || cfg.Cache == nil || cfg.Items == nil || cfg.Listings == nil {
		return nil, fmt.Errorf("syncer: source, cache, items and listings are required")
	}
	if cfg.Pacer == nil {
		cfg.Pacer = ratelimit.New(0)
	}
	if cfg.Margin <= 0 {
		cfg.Margin = 1.0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		source:   cfg.Source,
		cache:    cfg.Cache,
		items:    cfg.Items,
		listings: cfg.Listings,
		pacer:    cfg.Pacer,
		margin:   cfg.Margin,
		now:      time.Now,
		log:      cfg.Logger,
	}, nil
}

// Run synchronizes price/stock for the given items. A failure to resolve one
// identifier never blocks the others; only cancellation aborts the run, and
// the partial report is still returned.
func (e *Engine) Run(ctx context.Context, itemIDs []string) (*Report, error) {
	report := &Report{
		RunID:     uuid.NewString(),
		StartedAt: e.now(),
	}
	log := e.log.With("run_id", report.RunID)

	batchSize := e.source.BatchSize()
	if batchSize <= 0 {
		batchSize = 20
	}

	for start := 0; start < len(itemIDs); start += batchSize {
		end := start + batchSize
		if end > len(itemIDs) {
			end = len(itemIDs)
		}
		chunk := itemIDs[start:end]

		// Inter-chunk pacing; aborts promptly on shutdown.
		if err := e.pacer.Acquire(ctx); err != nil {
			report.FinishedAt = e.now()
			return report, err
		}

		results, err := e.fetchWithRetry(ctx, chunk, report)
		if err != nil {
			if ctx.Err() != nil {
				report.FinishedAt = e.now()
				return report, ctx.Err()
			}
			// Whole chunk failed even after retry: every identifier in it
			// goes through the fallback chain.
			log.Warn("chunk fetch failed, falling back", "size", len(chunk), "error", err)
			results = make([]RemoteResult, len(chunk))
			for i, id := range chunk {
				results[i] = RemoteResult{ItemID: id, Class: ClassAPIError}
			}
		}

		for _, res := range results {
			e.apply(ctx, res, report, log)
		}
	}

	report.FinishedAt = e.now()
	log.Info("sync run finished", "report", report)
	return report, nil
}

// fetchWithRetry performs the remote batch call with one immediate retry on
// transient transport failure.
func (e *Engine) fetchWithRetry(ctx context.Context, chunk []string, report *Report) ([]RemoteResult, error) {
	results, err := e.source.FetchBatch(ctx, chunk)
	if err == nil || ctx.Err() != nil || !retryableFetch(err) {
		return results, err
	}
	report.ChunkRetries++
	return e.source.FetchBatch(ctx, chunk)
}

// retryableFetch gates the immediate chunk retry: transport errors and
// server-side failures get one, a permanent rejection would just burn a call
// against the rate budget.
func retryableFetch(err error) bool {
	var serr *SourceError
	if errors.As(err, &serr) {
		return serr.Retryable()
	}
	return true
}

func (e *Engine) apply(ctx context.Context, res RemoteResult, report *Report, log *slog.Logger) {
	switch res.Class {
	case ClassSuccess:
		report.Success++
		e.applySuccess(ctx, res, report, log)

	case ClassOutOfStock:
		report.OutOfStock++
		e.applyUnavailable(ctx, res.ItemID, report, log)

	case ClassFilteredOut:
		report.FilteredOut++
		e.applyUnavailable(ctx, res.ItemID, report, log)

	case ClassAPIError:
		report.APIError++
		e.fallback(ctx, res.ItemID, report, log)

	default:
		report.APIError++
		log.Warn("unknown classification", "item_id", res.ItemID, "class", res.Class)
		e.fallback(ctx, res.ItemID, report, log)
	}
}

// applySuccess writes fresh facts to the record store first, then the cache,
// reprices live listings and re-shows hidden ones.
func (e *Engine) applySuccess(ctx context.Context, res RemoteResult, report *Report, log *slog.Logger) {
	now := e.now()

	if err := e.items.SetPriceStock(ctx, res.ItemID, res.Price, res.InStock, now); err != nil {
		log.Error("failed to store synced price", "item_id", res.ItemID, "error", err)
	}
	if err := e.cache.Set(ctx, res.ItemID, cache.Entry{Price: res.Price, InStock: res.InStock, SyncedAt: now}); err != nil {
		log.Warn("failed to cache synced price", "item_id", res.ItemID, "error", err)
	}

	if res.Price != nil {
		selling := *res.Price * e.margin
		if _, err := e.listings.RepriceByItem(ctx, res.ItemID, selling); err != nil {
			log.Error("failed to reprice listings", "item_id", res.ItemID, "error", err)
		}
	}
	if res.InStock != nil && *res.InStock {
		if _, err := e.listings.SetVisibilityByItem(ctx, res.ItemID, store.VisibilityPublic); err != nil {
			log.Error("failed to show listings", "item_id", res.ItemID, "error", err)
		}
	}

	report.Resolutions = append(report.Resolutions, Resolution{
		ItemID: res.ItemID, Price: res.Price, InStock: res.InStock, Source: SourceRemote,
	})
}

// applyUnavailable records the out-of-stock signal and hides listings. The
// stored price is left untouched: a missing offer never erases a known price.
func (e *Engine) applyUnavailable(ctx context.Context, itemID string, report *Report, log *slog.Logger) {
	now := e.now()
	outOfStock := false

	if err := e.items.SetPriceStock(ctx, itemID, nil, &outOfStock, now); err != nil {
		log.Error("failed to store stock signal", "item_id", itemID, "error", err)
	}
	if err := e.cache.Set(ctx, itemID, cache.Entry{InStock: &outOfStock, SyncedAt: now}); err != nil {
		log.Warn("failed to cache stock signal", "item_id", itemID, "error", err)
	}
	if _, err := e.listings.SetVisibilityByItem(ctx, itemID, store.VisibilityHidden); err != nil {
		log.Error("failed to hide listings", "item_id", itemID, "error", err)
	}

	report.Resolutions = append(report.Resolutions, Resolution{
		ItemID: itemID, InStock: &outOfStock, Source: SourceRemote,
	})
}

// fallback resolves an identifier the remote could not answer: cache entry
// with a usable price first, then the record store's last known values. The
// result is read-only; stale fallback data is never written back as fresh.
func (e *Engine) fallback(ctx context.Context, itemID string, report *Report, log *slog.Logger) {
	entry, err := e.cache.Get(ctx, itemID)
	if err == nil && entry.HasPrice() {
		report.FallbackCache++
		report.Resolutions = append(report.Resolutions, Resolution{
			ItemID: itemID, Price: entry.Price, InStock: entry.InStock, Source: SourceCache,
		})
		return
	}
	if err != nil && !errors.Is(err, cache.ErrCacheMiss) {
		log.Warn("cache fallback read failed", "item_id", itemID, "error", err)
	}

	item, err := e.items.GetItem(ctx, itemID)
	if err == nil && item.UnitPrice != nil {
		report.FallbackStore++
		report.Resolutions = append(report.Resolutions, Resolution{
			ItemID: itemID, Price: item.UnitPrice, InStock: item.InStock, Source: SourceStore,
		})
		return
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Warn("store fallback read failed", "item_id", itemID, "error", err)
	}

	report.FallbackFailed++
	report.Unresolved = append(report.Unresolved, itemID)
	log.Warn("identifier unresolved after fallback chain", "item_id", itemID)
}
