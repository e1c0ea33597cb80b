package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for batch flows.
var (
	fetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchflow_fetches_total",
		Help: "Total batch fetches by source and outcome",
	}, []string{"source", "outcome"}) // "loaded", "failed", "end", "dropped"

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "batchflow_fetch_duration_seconds",
		Help:    "Batch fetch duration in seconds by source",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15},
	}, []string{"source"})

	inflightFetches = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "batchflow_inflight_fetches",
		Help: "Batch fetches currently running by source",
	}, []string{"source"})

	conflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchflow_conflicts_total",
		Help: "Requests rejected because the same operation was in progress",
	}, []string{"source"})

	resetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchflow_resets_total",
		Help: "State resets by source and cause",
	}, []string{"source", "cause"}) // "reload", "config"

	updatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "batchflow_updates_total",
		Help: "Batch update operations by source and outcome",
	}, []string{"source", "outcome"}) // "applied", "failed", "dropped"
)
