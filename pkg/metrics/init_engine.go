package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initEngineMetrics() {
	r.CommandsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrowdb_commands_total",
			Help: "Engine commands executed",
		},
		[]string{"op", "outcome"}, // ok, not_found, error
	)

	r.CommandDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrowdb_command_duration_seconds",
			Help:    "Engine command execution time in seconds",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"op"},
	)

	r.LogSizeBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "burrowdb_wal_size_bytes",
			Help: "Size of the write-ahead log in bytes",
		},
	)

	r.DocumentsTotal = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrowdb_documents",
			Help: "Indexed keys by location",
		},
		[]string{"location"}, // hot, cold, tombstoned
	)

	r.CoalescedGetTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "burrowdb_coalesced_gets_total",
			Help: "GET requests served by joining a read already in flight",
		},
	)
}
