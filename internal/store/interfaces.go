package store

import (
	"context"
	"database/sql"
	"time"
)

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx.
// This allows passing either a connection pool or an active transaction
// to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// ItemStore handles persistence of catalog items.
type ItemStore interface {
	// UpsertItem inserts or merges an item. Nil/absent fields never
	// overwrite stored non-null values.
	UpsertItem(ctx context.Context, tx DBTransaction, item *Item) error

	// GetItem returns an item by its external product code.
	GetItem(ctx context.Context, id string) (*Item, error)

	// GetItems returns the subset of the given items that exist, keyed by ID.
	GetItems(ctx context.Context, ids []string) (map[string]*Item, error)

	// SetPriceStock records freshly synced price/stock facts and refreshes
	// the sync timestamps. A nil price leaves the stored price untouched.
	SetPriceStock(ctx context.Context, id string, price *float64, inStock *bool, syncedAt time.Time) error

	// ItemIDsForSync returns up to limit item IDs whose price was last
	// synced before staleBefore, never-synced items first.
	ItemIDsForSync(ctx context.Context, staleBefore time.Time, limit int) ([]string, error)
}

// ListingStore handles persistence of per-account listings.
type ListingStore interface {
	// InsertListing inserts a new listing and fails with ErrDuplicateListing
	// if the (item, marketplace, account) triple already exists.
	InsertListing(ctx context.Context, tx DBTransaction, listing *Listing) error

	// UpsertListing inserts or merges a listing; nil/zero optional fields
	// never overwrite stored values.
	UpsertListing(ctx context.Context, tx DBTransaction, listing *Listing) error

	// GetListing returns the listing for the unique triple.
	GetListing(ctx context.Context, itemID, marketplace, accountID string) (*Listing, error)

	// MarkListed transitions a listing to listed with its remote identifier.
	MarkListed(ctx context.Context, sku, remoteID string, listedAt time.Time) error

	// MarkDelisted transitions a listing to delisted.
	MarkDelisted(ctx context.Context, sku string) error

	// SetStatus sets the lifecycle status of a listing.
	SetStatus(ctx context.Context, sku string, status ListingStatus) error

	// SetVisibilityByItem flips visibility for every listing of an item,
	// returning the number of rows changed. Used on remote stock transitions.
	SetVisibilityByItem(ctx context.Context, itemID string, visibility Visibility) (int64, error)

	// RepriceByItem updates the selling price for every non-terminal listing
	// of an item, returning the number of rows changed.
	RepriceByItem(ctx context.Context, itemID string, price float64) (int64, error)
}

// Queue handles the scheduled upload work queue. Implementations must use
// SELECT ... FOR UPDATE SKIP LOCKED semantics for DequeueDue.
type Queue interface {
	// Enqueue adds a pending entry. Fails with ErrDuplicateQueueEntry when a
	// non-terminal entry for the triple already exists.
	Enqueue(ctx context.Context, tx DBTransaction, entry *QueueEntry) (int64, error)

	// DequeueDue atomically claims up to limit pending entries for the
	// account whose scheduled time has passed, marking them dispatching.
	// Ordered by priority (high first), then scheduled time.
	DequeueDue(ctx context.Context, accountID string, now time.Time, limit int) ([]QueueEntry, error)

	// MarkResult finalizes a dispatching entry as success or failed,
	// recording a human-readable detail and bumping the attempt counter.
	MarkResult(ctx context.Context, entryID int64, status EntryStatus, detail string) error

	// Release returns a dispatching entry to pending with a new scheduled
	// time without counting an attempt. Used for remote rate limiting and
	// shutdown, which are pacing events, not failures.
	Release(ctx context.Context, entryID int64, nextAttempt time.Time) error

	// Retry returns a dispatching entry to pending after a recoverable
	// failure, recording the error and counting the attempt.
	Retry(ctx context.Context, entryID int64, nextAttempt time.Time, detail string) error

	// CountScheduledOn counts entries for an account whose scheduled time
	// falls on the given calendar day, terminal or not. Used for daily cap
	// accounting.
	CountScheduledOn(ctx context.Context, accountID string, day time.Time) (int, error)

	// ActiveItemIDs returns, from the given candidates, the item IDs that
	// already have a non-terminal entry for the account. Used by the
	// scheduler for idempotent re-runs.
	ActiveItemIDs(ctx context.Context, accountID string, itemIDs []string) (map[string]struct{}, error)
}

// AccountStore reads marketplace account configuration.
type AccountStore interface {
	// GetAccount returns an account by ID.
	GetAccount(ctx context.Context, id string) (*Account, error)

	// ListActiveAccounts returns all accounts with the active flag set.
	ListActiveAccounts(ctx context.Context) ([]Account, error)
}
