package syncer

import "context"

// Classification buckets one identifier's remote fetch outcome.
type Classification string

const (
	// ClassSuccess means price and stock are present.
	ClassSuccess Classification = "success"
	// ClassOutOfStock means the remote confirms zero offers.
	ClassOutOfStock Classification = "out_of_stock"
	// ClassFilteredOut means offers exist but none satisfy the business
	// filter criteria (e.g. free shipping).
	ClassFilteredOut Classification = "filtered_out"
	// ClassAPIError means the remote call failed for this identifier;
	// the fallback chain takes over.
	ClassAPIError Classification = "api_error"
)

// RemoteResult is the classified remote answer for one identifier.
type RemoteResult struct {
	ItemID  string
	Class   Classification
	Price   *float64
	InStock *bool
}

// PriceSource fetches price/stock facts from the remote pricing provider in
// bounded batches. A returned error means the whole batch call failed at the
// transport level; per-identifier failures are reported as ClassAPIError
// results instead.
type PriceSource interface {
	FetchBatch(ctx context.Context, itemIDs []string) ([]RemoteResult, error)
	BatchSize() int
}
