package postgres

import (
	"context"
	"fmt"
	"time"

	"listsync/internal/store"

	"github.com/lib/pq"
)

// Enqueue adds a pending entry to the upload queue. The partial unique index
// on (item_id, marketplace, account_id) for non-terminal statuses enforces
// the at-most-one-active-entry invariant; violations surface as
// ErrDuplicateQueueEntry.
func (s *Store) Enqueue(ctx context.Context, tx store.DBTransaction, entry *store.QueueEntry) (int64, error) {
	executor := s.getExecutor(tx)

	if entry.ScheduledAt.IsZero() {
		entry.ScheduledAt = time.Now()
	}

	query := `
		INSERT INTO queue_entries (item_id, marketplace, account_id, scheduled_at, priority, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING id
	`

	var id int64
	err := executor.QueryRowContext(ctx, query,
		entry.ItemID, entry.Marketplace, entry.AccountID, entry.ScheduledAt, entry.Priority,
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err, "queue_entries_active_triple_key") {
			return 0, store.ErrDuplicateQueueEntry
		}
		return 0, fmt.Errorf("failed to enqueue item %s: %w", entry.ItemID, err)
	}
	return id, nil
}

// DequeueDue claims up to limit due entries for one account using
// SELECT ... FOR UPDATE SKIP LOCKED, marking them dispatching in the same
// transaction. Two workers can never claim the same entry.
func (s *Store) DequeueDue(ctx context.Context, accountID string, now time.Time, limit int) ([]store.QueueEntry, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT id, item_id, marketplace, account_id, scheduled_at, priority, status, attempts, last_error, created_at, updated_at
		FROM queue_entries
		WHERE account_id = $1 AND status = 'pending' AND scheduled_at <= $2
		ORDER BY priority DESC, scheduled_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT $3
	`

	rows, err := tx.QueryContext(ctx, selectQuery, accountID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeue query failed: %w", err)
	}
	defer rows.Close()

	var entries []store.QueueEntry
	var ids []int64
	for rows.Next() {
		var e store.QueueEntry
		if err := rows.Scan(
			&e.ID, &e.ItemID, &e.Marketplace, &e.AccountID, &e.ScheduledAt,
			&e.Priority, &e.Status, &e.Attempts, &e.LastError, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("dequeue scan failed: %w", err)
		}
		e.Status = store.EntryStatusDispatching
		entries = append(entries, e)
		ids = append(ids, e.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dequeue rows error: %w", err)
	}

	if len(entries) == 0 {
		return nil, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE queue_entries
		SET status = 'dispatching', updated_at = NOW()
		WHERE id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("dequeue mark failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

// MarkResult finalizes a dispatching entry. The detail message is retained
// for operator visibility; the attempt counter tracks total dispatches.
func (s *Store) MarkResult(ctx context.Context, entryID int64, status store.EntryStatus, detail string) error {
	if !status.Terminal() {
		return fmt.Errorf("mark result with non-terminal status %q", status)
	}

	query := `
		UPDATE queue_entries
		SET status = $2, last_error = NULLIF($3, ''), attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
	`

	res, err := s.db.ExecContext(ctx, query, entryID, status, detail)
	if err != nil {
		return fmt.Errorf("failed to mark entry %d %s: %w", entryID, status, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Release returns a dispatching entry to pending at a later scheduled time.
// Pacing events are not failures, so the attempt counter is left alone.
func (s *Store) Release(ctx context.Context, entryID int64, nextAttempt time.Time) error {
	query := `
		UPDATE queue_entries
		SET status = 'pending', scheduled_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'dispatching'
	`

	res, err := s.db.ExecContext(ctx, query, entryID, nextAttempt)
	if err != nil {
		return fmt.Errorf("failed to release entry %d: %w", entryID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Retry returns a dispatching entry to pending after a recoverable failure,
// recording the error and counting the attempt toward the retry ceiling.
func (s *Store) Retry(ctx context.Context, entryID int64, nextAttempt time.Time, detail string) error {
	query := `
		UPDATE queue_entries
		SET status = 'pending', scheduled_at = $2, last_error = NULLIF($3, ''),
		    attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1 AND status = 'dispatching'
	`

	res, err := s.db.ExecContext(ctx, query, entryID, nextAttempt, detail)
	if err != nil {
		return fmt.Errorf("failed to retry entry %d: %w", entryID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CountScheduledOn counts entries scheduled on the given calendar day for an
// account, regardless of status. Terminal entries still occupy their day's
// cap so a re-run cannot overfill it.
func (s *Store) CountScheduledOn(ctx context.Context, accountID string, day time.Time) (int, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_entries
		WHERE account_id = $1 AND scheduled_at >= $2 AND scheduled_at < $3
	`, accountID, start, end).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scheduled entries: %w", err)
	}
	return count, nil
}

// ActiveItemIDs returns which of the candidate items already have a
// non-terminal entry for the account.
func (s *Store) ActiveItemIDs(ctx context.Context, accountID string, itemIDs []string) (map[string]struct{}, error) {
	active := make(map[string]struct{})
	if len(itemIDs) == 0 {
		return active, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT item_id FROM queue_entries
		WHERE account_id = $1 AND item_id = ANY($2) AND status IN ('pending', 'dispatching')
	`, accountID, pq.Array(itemIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to query active entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		active[id] = struct{}{}
	}
	return active, rows.Err()
}
