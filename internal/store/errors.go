package store

import "errors"

var (
	// ErrDuplicateListing is returned by a strict listing insert when a row
	// for the (item, marketplace, account) triple already exists. Callers
	// should treat it as "already handled", not as a failure.
	ErrDuplicateListing = errors.New("listing already exists for item/marketplace/account")

	// ErrDuplicateQueueEntry is returned by Enqueue when a non-terminal
	// entry for the triple is already queued.
	ErrDuplicateQueueEntry = errors.New("queue entry already pending for item/marketplace/account")

	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
)
