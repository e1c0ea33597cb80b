// Package metrics exposes the Prometheus registry shared by the batchflow packages.
// All metrics are defined in their respective packages (pagination, cache, client,
// ratelimit, session) to maintain modularity and avoid circular dependencies.
//
// This package provides the scrape handler and a reference for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by batchflow.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler returns the HTTP handler serving every registered metric.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Flow Metrics (pkg/pagination):
//   - batchflow_fetches_total{source, outcome} (Counter): Batch fetches (loaded, failed, end, dropped)
//   - batchflow_fetch_duration_seconds{source} (Histogram): Batch fetch duration
//   - batchflow_inflight_fetches{source} (Gauge): Batch fetches currently running
//   - batchflow_conflicts_total{source} (Counter): Requests rejected while the same operation ran
//   - batchflow_resets_total{source, cause} (Counter): State resets by cause (reload, config)
//   - batchflow_updates_total{source, outcome} (Counter): Batch updates (applied, failed, dropped)
//
// Cache Metrics (pkg/cache):
//   - batchflow_cache_hits_total{source} (Counter): Batch cache hits
//   - batchflow_cache_misses_total{source} (Counter): Batch cache misses
//   - batchflow_cache_written_bytes_total{source} (Counter): Bytes of batch data written to Redis
//   - batchflow_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - batchflow_rate_limit_remaining (Gauge): Requests remaining in the backend window
//   - batchflow_rate_limit_blocks_total (Counter): Requests blocked at the critical budget
//   - batchflow_rate_limit_throttles_total (Counter): Requests delayed at the warning budget
//
// Request Metrics (pkg/client):
//   - batchflow_client_requests_total{route, status} (Counter): Backend requests by route and status
//   - batchflow_client_request_duration_seconds{route} (Histogram): Backend request duration
//   - batchflow_client_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - batchflow_client_retries_total{error_class} (Counter): Retry attempts
//   - batchflow_client_retry_backoff_seconds{error_class} (Histogram): Backoff duration
//   - batchflow_client_retry_exhausted_total{error_class} (Counter): Requests that exhausted retries
//
// Session Metrics (internal/session):
//   - batchflow_sessions_open (Gauge): Sessions currently open
//   - batchflow_sessions_closed_total{cause} (Counter): Closed sessions (client, idle, shutdown)
//
// HTTP Metrics (cmd/feedserver):
//   - batchflow_http_requests_total{route, method, status} (Counter): Feed server requests
//   - batchflow_http_request_duration_seconds{route} (Histogram): Feed server request duration
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(batchflow_cache_hits_total[5m])) /
//   (sum(rate(batchflow_cache_hits_total[5m])) + sum(rate(batchflow_cache_misses_total[5m])))
//
//   # Rate Limit Budget
//   batchflow_rate_limit_remaining < 20
//
//   # Failed Fetch Ratio per Source
//   sum by (source) (rate(batchflow_fetches_total{outcome="failed"}[5m])) /
//   sum by (source) (rate(batchflow_fetches_total[5m]))
//
//   # P95 Fetch Latency
//   histogram_quantile(0.95, sum by (le, source) (rate(batchflow_fetch_duration_seconds_bucket[5m])))
//
//   # Conflict Rate
//   rate(batchflow_conflicts_total[5m])
