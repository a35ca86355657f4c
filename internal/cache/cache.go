// Package cache is the read-through price/stock cache.
//
// The cache is strictly secondary: the record store is the source of truth,
// writes go there first, and cached entries are allowed to be stale. The sync
// engine consults it only when the remote source fails.
package cache

import (
	"context"
	"time"
)

// Entry is a cached price/stock fact for one item.
type Entry struct {
	Price    *float64  `json:"price,omitempty"`
	InStock  *bool     `json:"in_stock,omitempty"`
	SyncedAt time.Time `json:"synced_at"`
}

// HasPrice reports whether the entry carries a usable price. Entries without
// one are not valid fallback material.
func (e Entry) HasPrice() bool { return e.Price != nil }

// Cache stores price/stock entries keyed by item identifier.
type Cache interface {
	// Get retrieves an entry. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, itemID string) (Entry, error)

	// Set stores an entry.
	Set(ctx context.Context, itemID string, entry Entry) error

	// Delete removes an entry.
	Delete(ctx context.Context, itemID string) error
}

// CacheError is a sentinel cache error.
type CacheError string

func (e CacheError) Error() string { return string(e) }

// ErrCacheMiss indicates the key was not found in cache.
const ErrCacheMiss CacheError = "cache miss"
