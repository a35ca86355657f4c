package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"listsync/internal/cache"
	"listsync/internal/store"
)

type fakeSource struct {
	batchSize int
	calls     [][]string
	respond   func(call int, itemIDs []string) ([]RemoteResult, error)
}

func (f *fakeSource) BatchSize() int { return f.batchSize }

func (f *fakeSource) FetchBatch(ctx context.Context, itemIDs []string) ([]RemoteResult, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	call := len(f.calls)
	f.calls = append(f.calls, itemIDs)
	return f.respond(call, itemIDs)
}

type priceStockWrite struct {
	itemID  string
	price   *float64
	inStock *bool
}

type fakeItems struct {
	store.ItemStore

	writes []priceStockWrite
	items  map[string]*store.Item
}

func (f *fakeItems) SetPriceStock(_ context.Context, id string, price *float64, inStock *bool, _ time.Time) error {
	f.writes = append(f.writes, priceStockWrite{itemID: id, price: price, inStock: inStock})
	return nil
}

func (f *fakeItems) GetItem(_ context.Context, id string) (*store.Item, error) {
	if item, ok := f.items[id]; ok {
		return item, nil
	}
	return nil, store.ErrNotFound
}

type fakeListings struct {
	store.ListingStore

	reprices   map[string]float64
	visibility map[string]store.Visibility
}

func newFakeListings() *fakeListings {
	return &fakeListings{
		reprices:   make(map[string]float64),
		visibility: make(map[string]store.Visibility),
	}
}

func (f *fakeListings) RepriceByItem(_ context.Context, itemID string, price float64) (int64, error) {
	f.reprices[itemID] = price
	return 1, nil
}

func (f *fakeListings) SetVisibilityByItem(_ context.Context, itemID string, v store.Visibility) (int64, error) {
	f.visibility[itemID] = v
	return 1, nil
}

func successResult(id string, price float64, inStock bool) RemoteResult {
	return RemoteResult{ItemID: id, Class: ClassSuccess, Price: &price, InStock: &inStock}
}

func testEngine(t *testing.T, source PriceSource, c cache.Cache, items *fakeItems, listings *fakeListings, margin float64) *Engine {
	t.Helper()
	e, err := New(Config{
		Source:   source,
		Cache:    c,
		Items:    items,
		Listings: listings,
		Margin:   margin,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func TestRun_MixedClassifications(t *testing.T) {
	source := &fakeSource{
		batchSize: 10,
		respond: func(_ int, ids []string) ([]RemoteResult, error) {
			return []RemoteResult{
				successResult("ITEM-1", 10.0, true),
				successResult("ITEM-2", 20.0, true),
				{ItemID: "ITEM-3", Class: ClassOutOfStock},
				{ItemID: "ITEM-4", Class: ClassFilteredOut},
				{ItemID: "ITEM-5", Class: ClassAPIError},
			}, nil
		},
	}
	c := cache.NewMemory(0)
	cachedPrice := 7.5
	c.Set(context.Background(), "ITEM-5", cache.Entry{Price: &cachedPrice, SyncedAt: time.Now()})

	items := &fakeItems{items: map[string]*store.Item{}}
	listings := newFakeListings()
	e := testEngine(t, source, c, items, listings, 1.0)

	report, err := e.Run(context.Background(), []string{"ITEM-1", "ITEM-2", "ITEM-3", "ITEM-4", "ITEM-5"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.Success != 2 || report.OutOfStock != 1 || report.FilteredOut != 1 || report.APIError != 1 {
		t.Errorf("got success=%d oos=%d filtered=%d apierr=%d, want 2/1/1/1",
			report.Success, report.OutOfStock, report.FilteredOut, report.APIError)
	}
	if report.FallbackCache != 1 {
		t.Errorf("got fallback_cache=%d, want 1", report.FallbackCache)
	}
	if len(report.Unresolved) != 0 {
		t.Errorf("unexpected unresolved items: %v", report.Unresolved)
	}
	if len(report.Resolutions) != 5 {
		t.Errorf("got %d resolutions, want 5", len(report.Resolutions))
	}
}

func TestRun_SuccessWritesStoreThenRepricesWithMargin(t *testing.T) {
	source := &fakeSource{
		batchSize: 10,
		respond: func(_ int, _ []string) ([]RemoteResult, error) {
			return []RemoteResult{successResult("ITEM-1", 10.0, true)}, nil
		},
	}
	items := &fakeItems{items: map[string]*store.Item{}}
	listings := newFakeListings()
	e := testEngine(t, source, cache.NewMemory(0), items, listings, 1.25)

	if _, err := e.Run(context.Background(), []string{"ITEM-1"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(items.writes) != 1 || items.writes[0].price == nil || *items.writes[0].price != 10.0 {
		t.Fatalf("expected one store write with price 10.0, got %+v", items.writes)
	}
	if got := listings.reprices["ITEM-1"]; got != 12.5 {
		t.Errorf("got selling price %v, want 12.5 (unit price times margin)", got)
	}
	if listings.visibility["ITEM-1"] != store.VisibilityPublic {
		t.Errorf("in-stock item should re-show listings, got %s", listings.visibility["ITEM-1"])
	}
}

func TestRun_OutOfStockPreservesStoredPrice(t *testing.T) {
	source := &fakeSource{
		batchSize: 10,
		respond: func(_ int, _ []string) ([]RemoteResult, error) {
			return []RemoteResult{{ItemID: "ITEM-1", Class: ClassOutOfStock}}, nil
		},
	}
	items := &fakeItems{items: map[string]*store.Item{}}
	listings := newFakeListings()
	e := testEngine(t, source, cache.NewMemory(0), items, listings, 1.0)

	if _, err := e.Run(context.Background(), []string{"ITEM-1"}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(items.writes) != 1 {
		t.Fatalf("expected one store write, got %d", len(items.writes))
	}
	w := items.writes[0]
	if w.price != nil {
		t.Errorf("out-of-stock write carried price %v, must be nil to preserve stored price", *w.price)
	}
	if w.inStock == nil || *w.inStock {
		t.Errorf("expected in_stock=false write, got %v", w.inStock)
	}
	if listings.visibility["ITEM-1"] != store.VisibilityHidden {
		t.Errorf("out-of-stock item should hide listings, got %s", listings.visibility["ITEM-1"])
	}
	if _, ok := listings.reprices["ITEM-1"]; ok {
		t.Error("out-of-stock result must not reprice listings")
	}
}

func TestRun_ChunkRetrySucceedsOnSecondAttempt(t *testing.T) {
	source := &fakeSource{
		batchSize: 10,
		respond: func(call int, ids []string) ([]RemoteResult, error) {
			if call == 0 {
				return nil, errors.New("connection reset")
			}
			return []RemoteResult{successResult(ids[0], 5.0, true)}, nil
		},
	}
	items := &fakeItems{items: map[string]*store.Item{}}
	e := testEngine(t, source, cache.NewMemory(0), items, newFakeListings(), 1.0)

	report, err := e.Run(context.Background(), []string{"ITEM-1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.ChunkRetries != 1 {
		t.Errorf("got chunk_retries=%d, want 1", report.ChunkRetries)
	}
	if report.Success != 1 {
		t.Errorf("got success=%d, want 1", report.Success)
	}
	if len(source.calls) != 2 {
		t.Errorf("got %d fetch calls, want 2", len(source.calls))
	}
}

func TestRun_PermanentSourceRejectionSkipsRetry(t *testing.T) {
	source := &fakeSource{
		batchSize: 10,
		respond: func(_ int, _ []string) ([]RemoteResult, error) {
			return nil, &SourceError{Status: 400}
		},
	}
	items := &fakeItems{items: map[string]*store.Item{}}
	e := testEngine(t, source, cache.NewMemory(0), items, newFakeListings(), 1.0)

	report, err := e.Run(context.Background(), []string{"ITEM-1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// A replayed rejection would only burn a call against the rate budget.
	if len(source.calls) != 1 {
		t.Errorf("got %d fetch calls, want 1 (no retry for a rejection)", len(source.calls))
	}
	if report.ChunkRetries != 0 {
		t.Errorf("got chunk_retries=%d, want 0", report.ChunkRetries)
	}
	if report.APIError != 1 {
		t.Errorf("got api_error=%d, want 1 (identifier still goes through fallback)", report.APIError)
	}
}

func TestRun_ServerSideSourceErrorIsRetried(t *testing.T) {
	source := &fakeSource{
		batchSize: 10,
		respond: func(call int, ids []string) ([]RemoteResult, error) {
			if call == 0 {
				return nil, &SourceError{Status: 502}
			}
			return []RemoteResult{successResult(ids[0], 5.0, true)}, nil
		},
	}
	items := &fakeItems{items: map[string]*store.Item{}}
	e := testEngine(t, source, cache.NewMemory(0), items, newFakeListings(), 1.0)

	report, err := e.Run(context.Background(), []string{"ITEM-1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(source.calls) != 2 {
		t.Errorf("got %d fetch calls, want 2", len(source.calls))
	}
	if report.Success != 1 || report.ChunkRetries != 1 {
		t.Errorf("got success=%d chunk_retries=%d, want 1/1", report.Success, report.ChunkRetries)
	}
}

func TestRun_WholeChunkFailureFallsBackEveryIdentifier(t *testing.T) {
	source := &fakeSource{
		batchSize: 10,
		respond: func(_ int, _ []string) ([]RemoteResult, error) {
			return nil, errors.New("gateway down")
		},
	}
	storedPrice := 3.0
	items := &fakeItems{items: map[string]*store.Item{
		"ITEM-1": {ID: "ITEM-1", UnitPrice: &storedPrice},
	}}
	e := testEngine(t, source, cache.NewMemory(0), items, newFakeListings(), 1.0)

	report, err := e.Run(context.Background(), []string{"ITEM-1", "ITEM-2"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if report.APIError != 2 {
		t.Errorf("got api_error=%d, want 2", report.APIError)
	}
	if report.FallbackStore != 1 {
		t.Errorf("got fallback_store=%d, want 1", report.FallbackStore)
	}
	if report.FallbackFailed != 1 {
		t.Errorf("got fallback_failed=%d, want 1", report.FallbackFailed)
	}
	if len(report.Unresolved) != 1 || report.Unresolved[0] != "ITEM-2" {
		t.Errorf("got unresolved %v, want [ITEM-2]", report.Unresolved)
	}
}

func TestRun_FallbackPrefersCacheOverStore(t *testing.T) {
	source := &fakeSource{
		batchSize: 10,
		respond: func(_ int, _ []string) ([]RemoteResult, error) {
			return []RemoteResult{{ItemID: "ITEM-1", Class: ClassAPIError}}, nil
		},
	}
	c := cache.NewMemory(0)
	cachedPrice := 8.0
	c.Set(context.Background(), "ITEM-1", cache.Entry{Price: &cachedPrice, SyncedAt: time.Now()})

	storedPrice := 3.0
	items := &fakeItems{items: map[string]*store.Item{
		"ITEM-1": {ID: "ITEM-1", UnitPrice: &storedPrice},
	}}
	e := testEngine(t, source, c, items, newFakeListings(), 1.0)

	report, err := e.Run(context.Background(), []string{"ITEM-1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.FallbackCache != 1 || report.FallbackStore != 0 {
		t.Errorf("got cache=%d store=%d, want 1/0", report.FallbackCache, report.FallbackStore)
	}
	if len(report.Resolutions) != 1 || *report.Resolutions[0].Price != 8.0 {
		t.Errorf("expected cached price 8.0 in resolution, got %+v", report.Resolutions)
	}
}

func TestRun_PricelessCacheEntryIsNotFallbackMaterial(t *testing.T) {
	source := &fakeSource{
		batchSize: 10,
		respond: func(_ int, _ []string) ([]RemoteResult, error) {
			return []RemoteResult{{ItemID: "ITEM-1", Class: ClassAPIError}}, nil
		},
	}
	c := cache.NewMemory(0)
	inStock := false
	c.Set(context.Background(), "ITEM-1", cache.Entry{InStock: &inStock, SyncedAt: time.Now()})

	items := &fakeItems{items: map[string]*store.Item{}}
	e := testEngine(t, source, c, items, newFakeListings(), 1.0)

	report, err := e.Run(context.Background(), []string{"ITEM-1"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if report.FallbackCache != 0 || report.FallbackFailed != 1 {
		t.Errorf("got cache=%d failed=%d, want 0/1", report.FallbackCache, report.FallbackFailed)
	}
}

func TestRun_ChunksRespectBatchSize(t *testing.T) {
	source := &fakeSource{
		batchSize: 2,
		respond: func(_ int, ids []string) ([]RemoteResult, error) {
			out := make([]RemoteResult, len(ids))
			for i, id := range ids {
				out[i] = successResult(id, 1.0, true)
			}
			return out, nil
		},
	}
	items := &fakeItems{items: map[string]*store.Item{}}
	e := testEngine(t, source, cache.NewMemory(0), items, newFakeListings(), 1.0)

	report, err := e.Run(context.Background(), []string{"A", "B", "C", "D", "E"})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(source.calls) != 3 {
		t.Fatalf("got %d fetch calls, want 3", len(source.calls))
	}
	if len(source.calls[0]) != 2 || len(source.calls[2]) != 1 {
		t.Errorf("unexpected chunk sizes: %v", source.calls)
	}
	if report.Success != 5 {
		t.Errorf("got success=%d, want 5", report.Success)
	}
}

func TestRun_CancellationReturnsPartialReport(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	source := &fakeSource{
		batchSize: 1,
		respond: func(call int, ids []string) ([]RemoteResult, error) {
			if call == 0 {
				// Simulate shutdown arriving mid-run.
				cancel()
				return []RemoteResult{successResult(ids[0], 1.0, true)}, nil
			}
			return nil, ctx.Err()
		},
	}
	items := &fakeItems{items: map[string]*store.Item{}}
	e := testEngine(t, source, cache.NewMemory(0), items, newFakeListings(), 1.0)

	report, err := e.Run(ctx, []string{"ITEM-1", "ITEM-2"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if report == nil {
		t.Fatal("partial report must be returned on cancellation")
	}
	if report.Success != 1 {
		t.Errorf("got success=%d, want 1 from the completed chunk", report.Success)
	}
}
