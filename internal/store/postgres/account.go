package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"listsync/internal/store"
)

const accountColumns = "id, marketplace, active, daily_cap, hourly_cap, credentials, created_at"

// GetAccount returns an account by ID.
func (s *Store) GetAccount(ctx context.Context, id string) (*store.Account, error) {
	var a store.Account
	err := s.db.QueryRowContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE id = $1", id,
	).Scan(&a.ID, &a.Marketplace, &a.Active, &a.DailyCap, &a.HourlyCap, &a.Credentials, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account %s: %w", id, err)
	}
	return &a, nil
}

// ListActiveAccounts returns all accounts with the active flag set.
func (s *Store) ListActiveAccounts(ctx context.Context) ([]store.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+accountColumns+" FROM accounts WHERE active ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("failed to list active accounts: %w", err)
	}
	defer rows.Close()

	var accounts []store.Account
	for rows.Next() {
		var a store.Account
		if err := rows.Scan(&a.ID, &a.Marketplace, &a.Active, &a.DailyCap, &a.HourlyCap, &a.Credentials, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
