package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dd0wney/burrowdb/pkg/pools"
)

func (r *Registry) initSystemMetrics() {
	r.UptimeSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "burrowdb_uptime_seconds",
			Help: "Time since the server started in seconds",
		},
	)

	r.GoRoutines = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "burrowdb_goroutines",
			Help: "Number of goroutines",
		},
	)

	r.MemoryAllocBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "burrowdb_memory_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)

	r.MemorySysBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "burrowdb_memory_sys_bytes",
			Help: "Total bytes of memory obtained from the OS",
		},
	)

	promauto.With(r.registry).NewCounterFunc(
		prometheus.CounterOpts{
			Name: "burrowdb_buffer_pool_hits_total",
			Help: "Encode buffers served from the pool",
		},
		func() float64 { return float64(pools.DefaultStats().Hits) },
	)

	promauto.With(r.registry).NewCounterFunc(
		prometheus.CounterOpts{
			Name: "burrowdb_buffer_pool_misses_total",
			Help: "Encode buffers that had to be allocated",
		},
		func() float64 { return float64(pools.DefaultStats().Misses) },
	)
}
