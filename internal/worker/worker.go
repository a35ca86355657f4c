// Package worker contains the per-account dispatch loop.
//
// One Worker drains the upload queue for exactly one account. Items are
// dispatched strictly sequentially so the account's rate-limit pacing stays
// exact; parallelism across accounts comes from the supervisor running one
// Worker each.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"listsync/internal/observability"
	"listsync/internal/ratelimit"
	"listsync/internal/store"
	"listsync/internal/uploader"
)

// Config holds per-worker settings.
type Config struct {
	AccountID      string
	Marketplace    string
	BatchSize      int           // entries claimed per poll (default 10)
	IdleInterval   time.Duration // sleep when the queue is empty (default 30s)
	MaxAttempts    int           // retry ceiling before an entry is left failed (default 5)
	RateLimitDelay time.Duration // release delay after a remote 429 (default 5m)
	RetryBackoff   time.Duration // base backoff for recoverable failures (default 1m)
}

// Stores groups the record store dependencies of a worker.
type Stores struct {
	Queue    store.Queue
	Items    store.ItemStore
	Listings store.ListingStore
}

// Worker drains the upload queue for one account.
type Worker struct {
	stores   Stores
	uploader uploader.Uploader
	pacer    *ratelimit.Pacer
	config   Config
	metrics  *observability.Metrics
	log      *slog.Logger
	now      func() time.Time
	done     chan struct{}
}

// New creates a worker for one account. The pacer must be owned exclusively
// by this worker; sharing one across accounts would couple their budgets.
func New(stores Stores, up uploader.Uploader, pacer *ratelimit.Pacer, config Config, metrics *observability.Metrics, log *slog.Logger) *Worker {
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}
	if config.IdleInterval <= 0 {
		config.IdleInterval = 30 * time.Second
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 5
	}
	if config.RateLimitDelay <= 0 {
		config.RateLimitDelay = 5 * time.Minute
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = time.Minute
	}

	return &Worker{
		stores:   stores,
		uploader: up,
		pacer:    pacer,
		config:   config,
		metrics:  metrics,
		log:      log.With("account_id", config.AccountID, "marketplace", config.Marketplace),
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

// Done returns a channel closed when the worker has fully stopped.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Run executes the poll loop until ctx is cancelled. On cancellation the
// worker stops claiming new entries; an in-flight remote call is allowed to
// finish so no listing is left half-written, and unprocessed claims are
// released back to the queue.
func (w *Worker) Run(ctx context.Context) error {
	defer close(w.done)
	w.log.Info("worker started", "batch_size", w.config.BatchSize, "pace", w.pacer.Interval())

	for {
		if ctx.Err() != nil {
			w.log.Info("worker stopping")
			return ctx.Err()
		}

		entries, err := w.stores.Queue.DequeueDue(ctx, w.config.AccountID, w.now(), w.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The record store is the only fatal dependency; let the
			// supervisor restart us with backoff.
			return fmt.Errorf("dequeue failed: %w", err)
		}

		if len(entries) == 0 {
			if err := w.idle(ctx); err != nil {
				w.log.Info("worker stopping")
				return err
			}
			continue
		}

		for i := range entries {
			// Re-check before every entry so cancellation takes effect
			// within one item's processing, not one whole batch.
			if ctx.Err() != nil {
				w.releaseRemaining(entries[i:])
				w.log.Info("worker stopping")
				return ctx.Err()
			}
			w.dispatch(ctx, &entries[i])
		}
	}
}

// idle sleeps between polls; a shutdown signal wakes it immediately.
func (w *Worker) idle(ctx context.Context) error {
	timer := time.NewTimer(w.config.IdleInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// releaseRemaining returns unprocessed claims to pending on shutdown.
// A fresh context: the worker's own is already cancelled.
func (w *Worker) releaseRemaining(entries []store.QueueEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, e := range entries {
		if err := w.stores.Queue.Release(ctx, e.ID, w.now()); err != nil {
			w.log.Error("failed to release claimed entry", "entry_id", e.ID, "error", err)
		}
	}
}

// dispatch processes one queue entry end to end. Errors are recorded on the
// entry and never abort the batch.
func (w *Worker) dispatch(ctx context.Context, entry *store.QueueEntry) {
	tracer := otel.Tracer("listsync-worker")
	ctx, span := tracer.Start(ctx, "dispatch_entry",
		trace.WithAttributes(
			attribute.String("item_id", entry.ItemID),
			attribute.String("account_id", entry.AccountID),
			attribute.Int64("entry_id", entry.ID),
		),
	)
	defer span.End()

	log := w.log.With("entry_id", entry.ID, "item_id", entry.ItemID)

	item, err := w.stores.Items.GetItem(ctx, entry.ItemID)
	if err != nil {
		w.finish(ctx, entry, store.EntryStatusFailed, fmt.Sprintf("item lookup: %v", err), log)
		return
	}
	listing, err := w.stores.Listings.GetListing(ctx, entry.ItemID, entry.Marketplace, entry.AccountID)
	if err != nil {
		w.finish(ctx, entry, store.EntryStatusFailed, fmt.Sprintf("listing lookup: %v", err), log)
		return
	}

	// Queue and listing tables can transiently disagree after manual
	// maintenance; an already-listed listing is a skip, not an error.
	if listing.Status == store.ListingStatusListed && listing.RemoteID != nil && *listing.RemoteID != "" {
		w.finish(ctx, entry, store.EntryStatusSuccess, "skip: already-listed", log)
		return
	}

	payload, err := uploader.BuildPayload(item, listing)
	if err != nil {
		var verr *uploader.ValidationError
		if errors.As(err, &verr) {
			log.Warn("payload validation failed", "missing", verr.Missing)
		}
		w.finish(ctx, entry, store.EntryStatusFailed, err.Error(), log)
		return
	}

	// Pace before the remote call; aborts promptly on shutdown.
	if err := w.pacer.Acquire(ctx); err != nil {
		w.releaseRemaining([]store.QueueEntry{*entry})
		return
	}

	var remoteID string
	if listing.RemoteID != nil && *listing.RemoteID != "" {
		remoteID, err = w.refreshExisting(ctx, listing, payload, log)
	} else {
		remoteID, err = w.uploader.CreateListing(ctx, payload)
	}

	if err != nil {
		span.RecordError(err)
		w.handleDispatchError(ctx, entry, listing, payload, err, log)
		return
	}

	if err := w.stores.Listings.MarkListed(ctx, listing.SKU, remoteID, w.now()); err != nil {
		// The remote listing exists; failing the entry would re-create it.
		log.Error("failed to persist listed state", "remote_id", remoteID, "error", err)
	}
	w.finish(ctx, entry, store.EntryStatusSuccess, "", log)
}

// refreshExisting handles an entry whose listing already has a remote ID: a
// pre-dispatch existence check decides between an update and a verified
// re-create. A confirmed-gone remote listing is delisted first, never
// silently retried.
func (w *Worker) refreshExisting(ctx context.Context, listing *store.Listing, payload uploader.Payload, log *slog.Logger) (string, error) {
	remoteID := *listing.RemoteID

	exists, err := w.uploader.CheckExists(ctx, remoteID)
	if err != nil {
		return "", err
	}

	if exists {
		err := w.uploader.UpdateListing(ctx, remoteID, map[string]any{
			"price":    payload.Price,
			"quantity": payload.Quantity,
		})
		if err != nil {
			return "", err
		}
		return remoteID, nil
	}

	// Verify before delisting: one more check, so a single transient blip
	// on the first probe cannot delist a live listing.
	exists, err = w.uploader.CheckExists(ctx, remoteID)
	if err != nil || exists {
		if exists {
			return "", &uploader.RemoteError{Kind: uploader.KindTransient, Msg: "existence check flapped"}
		}
		return "", err
	}

	log.Warn("remote listing gone, delisting and re-creating", "remote_id", remoteID)
	if err := w.stores.Listings.MarkDelisted(ctx, listing.SKU); err != nil {
		return "", fmt.Errorf("delist %s: %w", listing.SKU, err)
	}
	return w.uploader.CreateListing(ctx, payload)
}

// handleDispatchError picks the recovery path from the error kind.
func (w *Worker) handleDispatchError(ctx context.Context, entry *store.QueueEntry, listing *store.Listing, payload uploader.Payload, err error, log *slog.Logger) {
	if ctx.Err() != nil {
		w.releaseRemaining([]store.QueueEntry{*entry})
		return
	}

	switch uploader.KindOf(err) {
	case uploader.KindRateLimited:
		// Backoff, not failure: no attempt is consumed.
		next := w.now().Add(w.config.RateLimitDelay)
		log.Warn("remote rate limited, releasing entry", "next_attempt", next)
		if rerr := w.stores.Queue.Release(ctx, entry.ID, next); rerr != nil {
			log.Error("failed to release entry", "error", rerr)
		}
		w.metrics.RecordDispatch(ctx, entry.AccountID, "rate_limited")

	case uploader.KindTransient:
		// One immediate retry, then the queue-level backoff budget.
		if rid, rerr := w.retryOnce(ctx, listing, payload); rerr == nil {
			if merr := w.stores.Listings.MarkListed(ctx, listing.SKU, rid, w.now()); merr != nil {
				log.Error("failed to persist listed state", "remote_id", rid, "error", merr)
			}
			w.finish(ctx, entry, store.EntryStatusSuccess, "", log)
			return
		}
		// Shutdown during the retry is not a dispatch failure; the entry
		// goes back to pending with its attempt budget intact.
		if ctx.Err() != nil {
			w.releaseRemaining([]store.QueueEntry{*entry})
			return
		}
		if entry.Attempts+1 >= w.config.MaxAttempts {
			w.finish(ctx, entry, store.EntryStatusFailed, err.Error(), log)
			return
		}
		next := w.now().Add(w.config.RetryBackoff * time.Duration(entry.Attempts+1))
		log.Warn("transient dispatch failure, retrying later",
			"attempt", entry.Attempts+1, "next_attempt", next, "error", err)
		if rerr := w.stores.Queue.Retry(ctx, entry.ID, next, err.Error()); rerr != nil {
			log.Error("failed to requeue entry", "error", rerr)
		}
		w.metrics.RecordDispatch(ctx, entry.AccountID, "retried")

	default:
		// Permanent and not-found-on-create failures are terminal. The
		// listing status is left unchanged for operator inspection.
		w.finish(ctx, entry, store.EntryStatusFailed, err.Error(), log)
	}
}

// retryOnce re-attempts a create once, immediately, still under the pacer.
func (w *Worker) retryOnce(ctx context.Context, listing *store.Listing, payload uploader.Payload) (string, error) {
	if err := w.pacer.Acquire(ctx); err != nil {
		return "", err
	}
	if listing.RemoteID != nil && *listing.RemoteID != "" {
		err := w.uploader.UpdateListing(ctx, *listing.RemoteID, map[string]any{
			"price":    payload.Price,
			"quantity": payload.Quantity,
		})
		return *listing.RemoteID, err
	}
	return w.uploader.CreateListing(ctx, payload)
}

// finish marks the entry terminal and records the outcome.
func (w *Worker) finish(ctx context.Context, entry *store.QueueEntry, status store.EntryStatus, detail string, log *slog.Logger) {
	// Results are persisted even when shutdown is in progress.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}

	if err := w.stores.Queue.MarkResult(ctx, entry.ID, status, detail); err != nil {
		log.Error("failed to mark entry result", "status", status, "error", err)
		return
	}

	if status == store.EntryStatusSuccess {
		log.Info("entry dispatched", "detail", detail)
		w.metrics.RecordDispatch(ctx, entry.AccountID, "success")
	} else {
		log.Warn("entry failed", "detail", detail)
		w.metrics.RecordDispatch(ctx, entry.AccountID, "failed")
	}
}
