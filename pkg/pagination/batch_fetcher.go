package pagination

import (
	"context"
	"time"
)

// FetchReason tells a fetcher why a batch is requested.
type FetchReason string

const (
	ReasonInitial  FetchReason = "initial"
	ReasonNext     FetchReason = "next"
	ReasonRetry    FetchReason = "retry"
	ReasonReload   FetchReason = "reload"
	ReasonPrefetch FetchReason = "prefetch"
	ReasonConfig   FetchReason = "config"
)

// FetchRequest is the input of a single-batch fetch.
type FetchRequest[K comparable, D any, C any] struct {
	// Key identifies the batch to fetch.
	Key K
	// Config is the configuration in force when the fetch was issued.
	Config C
	// State is the flow snapshot at issue time. Cursor-based sources read the
	// previous batch from it.
	State BatchingState[K, D]
	// Reason is why the fetch was issued.
	Reason FetchReason
}

// BatchFetcher fetches a single batch. Implementations must be idempotent per
// key and return ErrEndOfPagination when the source is exhausted.
type BatchFetcher[K comparable, D any, C any] interface {
	FetchBatch(ctx context.Context, req FetchRequest[K, D, C]) (D, error)
}

// BatchFetcherFunc adapts a function to BatchFetcher.
type BatchFetcherFunc[K comparable, D any, C any] func(ctx context.Context, req FetchRequest[K, D, C]) (D, error)

// FetchBatch implements BatchFetcher.
func (f BatchFetcherFunc[K, D, C]) FetchBatch(ctx context.Context, req FetchRequest[K, D, C]) (D, error) {
	return f(ctx, req)
}

// UpdateRequest asks the flow to refresh already loaded batches.
type UpdateRequest[K comparable, U any] struct {
	// OperationID deduplicates concurrent updates. Empty means a fresh id.
	OperationID string
	// Keys limits the update to these batches. Empty means every loaded batch.
	Keys []K
	// Payload is passed through to the updater.
	Payload U
}

// BatchUpdateFetcher produces replacement data for loaded batches.
// Keys missing from the returned map keep their current data.
type BatchUpdateFetcher[K comparable, D any, U any] interface {
	UpdateBatches(ctx context.Context, req UpdateRequest[K, U], state BatchingState[K, D]) (map[K]D, error)
}

// BatchUpdateFetcherFunc adapts a function to BatchUpdateFetcher.
type BatchUpdateFetcherFunc[K comparable, D any, U any] func(ctx context.Context, req UpdateRequest[K, U], state BatchingState[K, D]) (map[K]D, error)

// UpdateBatches implements BatchUpdateFetcher.
func (f BatchUpdateFetcherFunc[K, D, U]) UpdateBatches(ctx context.Context, req UpdateRequest[K, U], state BatchingState[K, D]) (map[K]D, error) {
	return f(ctx, req, state)
}

// Source describes where a flow gets its batches from.
type Source[K comparable, D any, C any, U any] struct {
	// Name labels logs and metrics.
	Name    string
	Fetcher BatchFetcher[K, D, C]
	// Updater is optional; without it Update returns ErrUpdatesUnsupported.
	Updater BatchUpdateFetcher[K, D, U]
	Keys    KeyGenerator[K]
}

// Config holds flow configuration.
type Config struct {
	// MaxConcurrency bounds the workers used by Prefetch.
	MaxConcurrency int
	// Timeout per batch fetch
	Timeout time.Duration
}

// DefaultConfig returns the configuration used by the shipped feeds.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Timeout:        15 * time.Second,
	}
}
