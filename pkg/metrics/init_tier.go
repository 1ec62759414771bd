package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTierMetrics() {
	r.PromotionsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "burrowdb_tier_promotions_total",
			Help: "Documents moved from the cold tier to the hot tier",
		},
	)

	r.DemotionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrowdb_tier_demotions_total",
			Help: "Documents moved from the hot tier to the cold tier",
		},
		[]string{"reason"}, // evicted, idle, oversize
	)

	r.ColdWritesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrowdb_cold_writes_total",
			Help: "Cold store writes",
		},
		[]string{"status"},
	)

	r.ColdWriteDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrowdb_cold_write_duration_seconds",
			Help:    "Cold store write latency in seconds",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
	)

	r.HotBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "burrowdb_tier_hot_bytes",
			Help: "Value bytes resident in the hot tier",
		},
	)
}
