// Package pagination provides an incrementally loaded, cancelable list engine
// for paginated backends.
//
// A BatchFlow owns an ordered set of batches (pages) fetched one key at a
// time through a BatchFetcher. Callers drive it with LoadMore, Reload and
// Prefetch, observe it through State or Subscribe, and refresh loaded batches
// with Update. The configuration (filters, sort order) lives in a
// BatchingContext; changing it resets the flow.
//
// Example usage:
//
//	bctx := pagination.NewBatchingContext[int, MarketsConfig, QuotesRefresh](cfg)
//	flow, err := pagination.New(ctx, bctx, pagination.Source[int, MarketsPage, MarketsConfig, QuotesRefresh]{
//		Name:    "markets",
//		Fetcher: fetcher,
//		Keys:    pagination.PageNumbers(0),
//	}, pagination.DefaultConfig())
//	err = flow.LoadMore(ctx)
//	state, err := flow.WaitFor(ctx, func(s pagination.BatchingState[int, MarketsPage]) bool {
//		return s.InFlight() == 0
//	})
//	list := pagination.Flatten(state, func(p MarketsPage) []Market { return p.Items })
//
// The flow:
//   - Tracks every key through NotLoaded, Loading, Loaded or Failed
//   - Never runs two fetches for the same key (OperationInProgressError)
//   - Turns ErrEndOfPagination into CanLoadMore=false
//   - Keeps failed batches in place so the next LoadMore retries them
//   - Re-sorts out-of-order prefetch results into request order
//   - Keeps merged batches visible after its owning context is cancelled
//
// All state changes happen on one goroutine per flow. Snapshots handed out
// by State and Subscribe are immutable.
package pagination
