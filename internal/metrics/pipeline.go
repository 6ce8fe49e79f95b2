package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Map pipeline Prometheus metrics.
var (
	ReduceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reduce_duration_seconds",
			Help:      "Dimensionality reduction duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"strategy"},
	)

	ReducePoints = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reduce_points",
			Help:      "Number of vectors per reduction",
			Buckets:   prometheus.ExponentialBuckets(2, 4, 8),
		},
	)

	ReduceFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reduce_fallback_total",
			Help:      "Reductions that fell back to the naive 2-component projection",
		},
		[]string{"strategy"},
	)

	IndexMirrorTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_mirror_total",
			Help:      "Best-effort vector index writes",
		},
		[]string{"op", "result"}, // op: upsert/delete, result: ok/error
	)

	SkippedItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_items_total",
			Help:      "Posts skipped by batch stages",
		},
		[]string{"stage", "reason"}, // stage: map/search/backfill
	)
)

var pipelineOnce sync.Once

// RegisterPipelineMetrics registers the reducer, mirror and batch collectors.
// Safe to call more than once.
func RegisterPipelineMetrics() {
	pipelineOnce.Do(func() {
		prometheus.MustRegister(
			ReduceDuration,
			ReducePoints,
			ReduceFallbackTotal,
			IndexMirrorTotal,
			SkippedItemsTotal,
		)
	})
}
