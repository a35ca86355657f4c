package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process cache for development and tests.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
}

type memoryEntry struct {
	entry     Entry
	expiresAt time.Time
}

// NewMemory creates an in-memory cache. A non-positive TTL means entries
// never expire.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
	}
}

// Get implements Cache.
func (m *Memory) Get(_ context.Context, itemID string) (Entry, error) {
	m.mu.RLock()
	stored, ok := m.entries[itemID]
	m.mu.RUnlock()

	if !ok {
		return Entry{}, ErrCacheMiss
	}
	if !stored.expiresAt.IsZero() && time.Now().After(stored.expiresAt) {
		m.mu.Lock()
		delete(m.entries, itemID)
		m.mu.Unlock()
		return Entry{}, ErrCacheMiss
	}
	return stored.entry, nil
}

// Set implements Cache.
func (m *Memory) Set(_ context.Context, itemID string, entry Entry) error {
	var expiresAt time.Time
	if m.ttl > 0 {
		expiresAt = time.Now().Add(m.ttl)
	}

	m.mu.Lock()
	m.entries[itemID] = memoryEntry{entry: entry, expiresAt: expiresAt}
	m.mu.Unlock()
	return nil
}

// Delete implements Cache.
func (m *Memory) Delete(_ context.Context, itemID string) error {
	m.mu.Lock()
	delete(m.entries, itemID)
	m.mu.Unlock()
	return nil
}
