// Package metrics declares the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Mutation coordinator
	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emailfinder",
		Name:      "mutations_total",
		Help:      "Mutations by operation and terminal state",
	}, []string{"op", "state"})

	// Search path
	SearchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emailfinder",
		Name:      "search_total",
		Help:      "Search requests by pagination mode",
	}, []string{"mode"})

	SearchCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emailfinder",
		Name:      "search_cache_total",
		Help:      "Search cache lookups by result (hit, miss, error)",
	}, []string{"result"})

	SearchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "emailfinder",
		Name:      "search_duration_seconds",
		Help:      "Search latency including cache lookup and visibility policy",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"mode"})

	// Search index client
	IndexRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emailfinder",
		Subsystem: "index",
		Name:      "requests_total",
		Help:      "Search index requests by operation and outcome",
	}, []string{"op", "outcome"})

	// Background jobs
	ReindexDocsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emailfinder",
		Subsystem: "reindex",
		Name:      "documents_total",
		Help:      "Documents pushed by the reindexer by result",
	}, []string{"result"})

	ImportRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "emailfinder",
		Subsystem: "import",
		Name:      "rows_total",
		Help:      "Imported CSV rows by result (inserted, skipped, invalid, failed)",
	}, []string{"result"})
)
