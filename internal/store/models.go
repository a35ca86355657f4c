// Package store contains the database layer for listsync.
package store

import "time"

// Item is one catalog entry, identified by a stable external product code.
// Descriptive fields are written by the discovery flow; price/stock fields
// are written only by the sync engine.
type Item struct {
	ID            string
	Title         string
	Description   string
	Category      string
	Brand         string
	Images        []string // ordered image URIs
	UnitPrice     *float64 // last known remote unit price, nil until first sync
	InStock       *bool    // last known remote stock flag
	PriceSyncedAt *time.Time
	StockSyncedAt *time.Time
	InfoSyncedAt  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Listing is one item offered on one marketplace under one account.
// The (ItemID, Marketplace, AccountID) triple is unique.
type Listing struct {
	SKU         string
	ItemID      string
	Marketplace string
	AccountID   string
	Price       float64 // computed selling price
	Quantity    int
	Status      ListingStatus
	Visibility  Visibility
	RemoteID    *string // set once creation on the marketplace succeeds
	ListedAt    *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ListingStatus is the lifecycle state of a listing.
type ListingStatus string

const (
	ListingStatusPending  ListingStatus = "pending"
	ListingStatusQueued   ListingStatus = "queued"
	ListingStatusListed   ListingStatus = "listed"
	ListingStatusSold     ListingStatus = "sold"
	ListingStatusDelisted ListingStatus = "delisted"
)

// Visibility controls whether a listing is shown to buyers.
type Visibility string

const (
	VisibilityPublic Visibility = "public"
	VisibilityHidden Visibility = "hidden"
)

// QueueEntry is one scheduled unit of upload work. At most one non-terminal
// entry may exist per (ItemID, Marketplace, AccountID) triple; terminal
// entries are retained for audit.
type QueueEntry struct {
	ID          int64
	ItemID      string
	Marketplace string
	AccountID   string
	ScheduledAt time.Time
	Priority    int
	Status      EntryStatus
	Attempts    int
	LastError   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EntryStatus is the queue entry state machine:
// pending -> dispatching -> success | failed, with dispatching -> pending
// when an entry is released back for a later retry.
type EntryStatus string

const (
	EntryStatusPending     EntryStatus = "pending"
	EntryStatusDispatching EntryStatus = "dispatching"
	EntryStatusSuccess     EntryStatus = "success"
	EntryStatusFailed      EntryStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s EntryStatus) Terminal() bool {
	return s == EntryStatusSuccess || s == EntryStatusFailed
}

// Account is a configured marketplace account. The core only ever reads
// accounts; Credentials are opaque and passed through to the uploader.
type Account struct {
	ID          string
	Marketplace string
	Active      bool
	DailyCap    int
	HourlyCap   int
	Credentials []byte // marketplace-specific, JSON
	CreatedAt   time.Time
}
