package metrics

import (
	"runtime"
	"time"

	"github.com/dd0wney/burrowdb/pkg/engine"
)

var _ engine.Observer = (*Registry)(nil)

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordResponseSize records the bytes written for a response
func (r *Registry) RecordResponseSize(method, path string, size float64) {
	r.HTTPResponseSizeBytes.WithLabelValues(method, path).Observe(size)
}

// IncHTTPRequestsInFlight marks a request as started
func (r *Registry) IncHTTPRequestsInFlight() {
	r.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight marks a request as finished
func (r *Registry) DecHTTPRequestsInFlight() {
	r.HTTPRequestsInFlight.Dec()
}

// RecordAuthFailure counts a rejected credential
func (r *Registry) RecordAuthFailure() {
	r.AuthFailuresTotal.Inc()
}

// Command records one engine command
func (r *Registry) Command(op, outcome string, d time.Duration) {
	r.CommandsTotal.WithLabelValues(op, outcome).Inc()
	r.CommandDuration.WithLabelValues(op).Observe(d.Seconds())
}

// LogSize records the write-ahead log size after an append
func (r *Registry) LogSize(bytes int64) {
	r.LogSizeBytes.Set(float64(bytes))
}

// Promoted counts a cold-to-hot move
func (r *Registry) Promoted() {
	r.PromotionsTotal.Inc()
}

// Demoted counts a hot-to-cold move
func (r *Registry) Demoted(reason string) {
	r.DemotionsTotal.WithLabelValues(reason).Inc()
}

// ColdWrite records a cold store write attempt
func (r *Registry) ColdWrite(d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.ColdWritesTotal.WithLabelValues(status).Inc()
	r.ColdWriteDuration.Observe(d.Seconds())
}

// Coalesced counts a GET that shared another request's read
func (r *Registry) Coalesced() {
	r.CoalescedGetTotal.Inc()
}

// UpdateEngineStats copies a stats snapshot into the gauges
func (r *Registry) UpdateEngineStats(s engine.Stats) {
	r.DocumentsTotal.WithLabelValues("hot").Set(float64(s.Hot))
	r.DocumentsTotal.WithLabelValues("cold").Set(float64(s.Cold))
	r.DocumentsTotal.WithLabelValues("tombstoned").Set(float64(s.Tombstones))
	r.HotBytes.Set(float64(s.HotBytes))
	r.LogSizeBytes.Set(float64(s.LogBytes))
}

// UpdateSystemMetrics samples uptime, goroutines and memory
func (r *Registry) UpdateSystemMetrics() {
	r.mu.Lock()
	defer r.mu.Unlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	r.UptimeSeconds.Set(time.Since(r.startTime).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}
