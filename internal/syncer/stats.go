package syncer

import (
	"log/slog"
	"time"
)

// ResolutionSource names where a resolved price/stock fact came from.
type ResolutionSource string

const (
	SourceRemote ResolutionSource = "remote"
	SourceCache  ResolutionSource = "cache"
	SourceStore  ResolutionSource = "store"
)

// Resolution is the engine's output for one identifier.
type Resolution struct {
	ItemID  string
	Price   *float64
	InStock *bool
	Source  ResolutionSource
}

// Report accumulates per-run statistics so an operator can distinguish
// "remote rate limited" from "genuinely out of stock".
type Report struct {
	RunID      string
	StartedAt  time.Time
	FinishedAt time.Time

	Success     int
	OutOfStock  int
	FilteredOut int
	APIError    int

	FallbackCache  int // resolved from the cache
	FallbackStore  int // resolved from the record store
	FallbackFailed int // unresolved after the whole chain

	ChunkRetries int

	Resolutions []Resolution
	Unresolved  []string
}

// Requested is the total number of identifiers the run looked at.
func (r *Report) Requested() int {
	return r.Success + r.OutOfStock + r.FilteredOut + r.APIError
}

// LogValue renders the report as structured log attributes.
func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("run_id", r.RunID),
		slog.Int("requested", r.Requested()),
		slog.Int("success", r.Success),
		slog.Int("out_of_stock", r.OutOfStock),
		slog.Int("filtered_out", r.FilteredOut),
		slog.Int("api_error", r.APIError),
		slog.Int("fallback_cache", r.FallbackCache),
		slog.Int("fallback_store", r.FallbackStore),
		slog.Int("fallback_failed", r.FallbackFailed),
		slog.Int("chunk_retries", r.ChunkRetries),
		slog.Duration("elapsed", r.FinishedAt.Sub(r.StartedAt)),
	)
}
