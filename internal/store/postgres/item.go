package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"listsync/internal/store"

	"github.com/lib/pq"
)

// UpsertItem inserts a new item or merges descriptive fields into an existing
// row. COALESCE keeps stored values when the incoming field is null, so a
// partial update can never erase known facts.
func (s *Store) UpsertItem(ctx context.Context, tx store.DBTransaction, item *store.Item) error {
	executor := s.getExecutor(tx)

	images, err := json.Marshal(item.Images)
	if err != nil {
		return fmt.Errorf("failed to encode images for item %s: %w", item.ID, err)
	}

	query := `
		INSERT INTO items (id, title, description, category, brand, images, info_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			title          = COALESCE(NULLIF(EXCLUDED.title, ''), items.title),
			description    = COALESCE(NULLIF(EXCLUDED.description, ''), items.description),
			category       = COALESCE(NULLIF(EXCLUDED.category, ''), items.category),
			brand          = COALESCE(NULLIF(EXCLUDED.brand, ''), items.brand),
			images         = CASE WHEN EXCLUDED.images = '[]'::jsonb THEN items.images ELSE EXCLUDED.images END,
			info_synced_at = NOW(),
			updated_at     = NOW()
	`

	if _, err := executor.ExecContext(ctx, query,
		item.ID, item.Title, item.Description, item.Category, item.Brand, images,
	); err != nil {
		return fmt.Errorf("failed to upsert item %s: %w", item.ID, err)
	}
	return nil
}

// GetItem returns an item by its external product code.
func (s *Store) GetItem(ctx context.Context, id string) (*store.Item, error) {
	query := `
		SELECT id, title, description, category, brand, images,
		       unit_price, in_stock, price_synced_at, stock_synced_at, info_synced_at,
		       created_at, updated_at
		FROM items
		WHERE id = $1
	`

	item, err := scanItem(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get item %s: %w", id, err)
	}
	return item, nil
}

// GetItems returns the subset of the requested items that exist, keyed by ID.
func (s *Store) GetItems(ctx context.Context, ids []string) (map[string]*store.Item, error) {
	if len(ids) == 0 {
		return map[string]*store.Item{}, nil
	}

	query := `
		SELECT id, title, description, category, brand, images,
		       unit_price, in_stock, price_synced_at, stock_synced_at, info_synced_at,
		       created_at, updated_at
		FROM items
		WHERE id = ANY($1)
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to get items: %w", err)
	}
	defer rows.Close()

	items := make(map[string]*store.Item, len(ids))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items[item.ID] = item
	}
	return items, rows.Err()
}

// SetPriceStock records synced price/stock facts. A nil price keeps the
// stored price; the stock flag and timestamps are always refreshed.
func (s *Store) SetPriceStock(ctx context.Context, id string, price *float64, inStock *bool, syncedAt time.Time) error {
	query := `
		UPDATE items SET
			unit_price      = COALESCE($2, unit_price),
			in_stock        = COALESCE($3, in_stock),
			price_synced_at = CASE WHEN $2 IS NOT NULL THEN $4 ELSE price_synced_at END,
			stock_synced_at = CASE WHEN $3 IS NOT NULL THEN $4 ELSE stock_synced_at END,
			updated_at      = NOW()
		WHERE id = $1
	`

	res, err := s.db.ExecContext(ctx, query, id, price, inStock, syncedAt)
	if err != nil {
		return fmt.Errorf("failed to set price/stock for item %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ItemIDsForSync returns item IDs due for a price refresh, never-synced
// items first, then oldest sync first.
func (s *Store) ItemIDsForSync(ctx context.Context, staleBefore time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM items
		WHERE price_synced_at IS NULL OR price_synced_at < $1
		ORDER BY price_synced_at ASC NULLS FIRST
		LIMIT $2
	`, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query items for sync: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanItem(row rowScanner) (*store.Item, error) {
	var item store.Item
	var images []byte

	err := row.Scan(
		&item.ID, &item.Title, &item.Description, &item.Category, &item.Brand, &images,
		&item.UnitPrice, &item.InStock, &item.PriceSyncedAt, &item.StockSyncedAt, &item.InfoSyncedAt,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(images, &item.Images); err != nil {
		return nil, fmt.Errorf("failed to decode images for item %s: %w", item.ID, err)
	}
	return &item, nil
}
