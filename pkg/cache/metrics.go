package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by source
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchflow_cache_hits_total",
			Help: "Total number of batch cache hits",
		},
		[]string{"source"},
	)

	// CacheMisses tracks cache misses by source
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchflow_cache_misses_total",
			Help: "Total number of batch cache misses",
		},
		[]string{"source"},
	)

	// CacheWrittenBytes tracks bytes written to Redis by source
	CacheWrittenBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchflow_cache_written_bytes_total",
			Help: "Total bytes of batch data written to the cache",
		},
		[]string{"source"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batchflow_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "invalidate"
	)
)
