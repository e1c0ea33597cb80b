// Package cache keeps fetched batches in Redis.
//
// Batches are stored under deterministic keys built from the source name, the
// configuration values the batch depends on and the batch key:
//
//	batchflow:markets:currency=usd:order=desc:page=2
//
// A Manager does the Redis work. Fetcher decorates any
// pagination.BatchFetcher with it:
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(redisClient)
//
//	fetcher := cache.NewFetcher(manager, "markets", 2*time.Minute,
//		func(c feeds.MarketsConfig) map[string]string { return c.Params() },
//		feeds.NewMarketsFetcher(apiClient, 50),
//	)
//
// Pages the source reported as past the end are cached as end markers.
// A reload bypasses cached reads. Any Redis failure falls back to the wrapped
// fetcher; the list keeps working without a cache.
//
// # Metrics
//
//   - batchflow_cache_hits_total{source}
//   - batchflow_cache_misses_total{source}
//   - batchflow_cache_written_bytes_total{source}
//   - batchflow_cache_errors_total{operation}
package cache
