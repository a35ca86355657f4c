package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"listsync/internal/store"
)

// InsertListing inserts a new listing. It fails with ErrDuplicateListing if
// a row for the (item, marketplace, account) triple already exists.
func (s *Store) InsertListing(ctx context.Context, tx store.DBTransaction, listing *store.Listing) error {
	executor := s.getExecutor(tx)

	query := `
		INSERT INTO listings (sku, item_id, marketplace, account_id, price, quantity, status, visibility)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := executor.ExecContext(ctx, query,
		listing.SKU, listing.ItemID, listing.Marketplace, listing.AccountID,
		listing.Price, listing.Quantity, listing.Status, listing.Visibility,
	)
	if err != nil {
		if isUniqueViolation(err, "listings_triple_key") {
			return store.ErrDuplicateListing
		}
		return fmt.Errorf("failed to insert listing %s: %w", listing.SKU, err)
	}
	return nil
}

// UpsertListing inserts or merges a listing. Zero-valued optional fields
// never overwrite stored values: a missing price, status or remote ID in the
// update leaves the existing column untouched.
func (s *Store) UpsertListing(ctx context.Context, tx store.DBTransaction, listing *store.Listing) error {
	executor := s.getExecutor(tx)

	query := `
		INSERT INTO listings (sku, item_id, marketplace, account_id, price, quantity, status, visibility, remote_id, listed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (item_id, marketplace, account_id) DO UPDATE SET
			price      = CASE WHEN EXCLUDED.price > 0 THEN EXCLUDED.price ELSE listings.price END,
			quantity   = CASE WHEN EXCLUDED.quantity > 0 THEN EXCLUDED.quantity ELSE listings.quantity END,
			status     = COALESCE(NULLIF(EXCLUDED.status, ''), listings.status),
			visibility = COALESCE(NULLIF(EXCLUDED.visibility, ''), listings.visibility),
			remote_id  = COALESCE(EXCLUDED.remote_id, listings.remote_id),
			listed_at  = COALESCE(EXCLUDED.listed_at, listings.listed_at),
			updated_at = NOW()
	`

	_, err := executor.ExecContext(ctx, query,
		listing.SKU, listing.ItemID, listing.Marketplace, listing.AccountID,
		listing.Price, listing.Quantity, listing.Status, listing.Visibility,
		listing.RemoteID, listing.ListedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listing %s: %w", listing.SKU, err)
	}
	return nil
}

// GetListing returns the listing for the unique triple.
func (s *Store) GetListing(ctx context.Context, itemID, marketplace, accountID string) (*store.Listing, error) {
	query := `
		SELECT sku, item_id, marketplace, account_id, price, quantity, status, visibility,
		       remote_id, listed_at, created_at, updated_at
		FROM listings
		WHERE item_id = $1 AND marketplace = $2 AND account_id = $3
	`

	var l store.Listing
	err := s.db.QueryRowContext(ctx, query, itemID, marketplace, accountID).Scan(
		&l.SKU, &l.ItemID, &l.Marketplace, &l.AccountID, &l.Price, &l.Quantity,
		&l.Status, &l.Visibility, &l.RemoteID, &l.ListedAt, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get listing for item %s: %w", itemID, err)
	}
	return &l, nil
}

// MarkListed transitions a listing to listed and records the remote
// identifier assigned by the marketplace.
func (s *Store) MarkListed(ctx context.Context, sku, remoteID string, listedAt time.Time) error {
	query := `
		UPDATE listings
		SET status = $2, remote_id = $3, listed_at = $4, updated_at = NOW()
		WHERE sku = $1
	`

	res, err := s.db.ExecContext(ctx, query, sku, store.ListingStatusListed, remoteID, listedAt)
	if err != nil {
		return fmt.Errorf("failed to mark listing %s listed: %w", sku, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// MarkDelisted transitions a listing to delisted. The remote ID is kept for
// audit.
func (s *Store) MarkDelisted(ctx context.Context, sku string) error {
	return s.SetStatus(ctx, sku, store.ListingStatusDelisted)
}

// SetStatus sets the lifecycle status of a listing.
func (s *Store) SetStatus(ctx context.Context, sku string, status store.ListingStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE listings SET status = $2, updated_at = NOW() WHERE sku = $1`, sku, status)
	if err != nil {
		return fmt.Errorf("failed to set listing %s status: %w", sku, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// SetVisibilityByItem flips visibility for every listing of an item. Sold and
// delisted listings are left alone.
func (s *Store) SetVisibilityByItem(ctx context.Context, itemID string, visibility store.Visibility) (int64, error) {
	query := `
		UPDATE listings
		SET visibility = $2, updated_at = NOW()
		WHERE item_id = $1 AND visibility <> $2 AND status NOT IN ('sold', 'delisted')
	`

	res, err := s.db.ExecContext(ctx, query, itemID, visibility)
	if err != nil {
		return 0, fmt.Errorf("failed to set visibility for item %s: %w", itemID, err)
	}
	return res.RowsAffected()
}

// RepriceByItem updates the selling price on every live listing of an item.
func (s *Store) RepriceByItem(ctx context.Context, itemID string, price float64) (int64, error) {
	query := `
		UPDATE listings
		SET price = $2, updated_at = NOW()
		WHERE item_id = $1 AND status NOT IN ('sold', 'delisted')
	`

	res, err := s.db.ExecContext(ctx, query, itemID, price)
	if err != nil {
		return 0, fmt.Errorf("failed to reprice item %s: %w", itemID, err)
	}
	return res.RowsAffected()
}
