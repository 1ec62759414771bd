package health

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/dd0wney/burrowdb/pkg/coldstore"
	"github.com/dd0wney/burrowdb/pkg/engine"
	burrowtls "github.com/dd0wney/burrowdb/pkg/tls"
)

// ProbeKey is read from the cold store by ColdStoreCheck; it is never
// written, so a healthy store answers not found.
const ProbeKey = "\x00burrowdb-health-probe"

// SimpleCheck creates a simple health check that always returns healthy
func SimpleCheck(name string) CheckFunc {
	return func(context.Context) Check {
		return Check{Name: name, Status: StatusHealthy}
	}
}

// EngineCheck reports the engine through its stats call. A log larger than
// maxLogBytes marks the engine degraded; zero disables the limit.
func EngineCheck(stats func(ctx context.Context) (engine.Stats, error), maxLogBytes int64) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{
			Name:    "engine",
			Details: make(map[string]any),
		}

		s, err := stats(ctx)
		if err != nil {
			check.Status = StatusUnhealthy
			check.Message = err.Error()
			return check
		}

		check.Details["documents"] = s.Documents
		check.Details["hot"] = s.Hot
		check.Details["cold"] = s.Cold
		check.Details["lsn"] = s.LSN
		check.Details["log_bytes"] = s.LogBytes

		if maxLogBytes > 0 && s.LogBytes > maxLogBytes {
			check.Status = StatusDegraded
			check.Message = "Log exceeds size limit"
		} else {
			check.Status = StatusHealthy
			check.Message = "Accepting commands"
		}
		return check
	}
}

// ColdStoreCheck reads ProbeKey from the store. Not found is the healthy answer.
func ColdStoreCheck(store coldstore.Store) CheckFunc {
	return func(ctx context.Context) Check {
		check := Check{Name: "cold_store"}

		done := make(chan error, 1)
		go func() {
			_, err := store.Read(ProbeKey)
			done <- err
		}()

		var err error
		select {
		case err = <-done:
		case <-ctx.Done():
			check.Status = StatusUnhealthy
			check.Message = "Probe timed out"
			return check
		}

		switch {
		case err == nil, errors.Is(err, coldstore.ErrNotFound):
			check.Status = StatusHealthy
			check.Message = "Reachable"
		default:
			check.Status = StatusUnhealthy
			check.Message = err.Error()
		}
		return check
	}
}

// DiskSpaceCheck creates a health check for disk space
func DiskSpaceCheck(getUsage func() (used, total uint64, err error)) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:    "disk_space",
			Details: make(map[string]any),
		}

		used, total, err := getUsage()
		if err != nil {
			check.Status = StatusDegraded
			check.Message = err.Error()
			return check
		}
		if total == 0 {
			check.Status = StatusHealthy
			check.Message = "Usage unknown"
			return check
		}

		usagePercent := float64(used) / float64(total) * 100

		check.Details["used_bytes"] = used
		check.Details["total_bytes"] = total
		check.Details["usage_percent"] = usagePercent

		if usagePercent > 95 {
			check.Status = StatusUnhealthy
			check.Message = "Critical disk space"
		} else if usagePercent > 80 {
			check.Status = StatusDegraded
			check.Message = "Low disk space"
		} else {
			check.Status = StatusHealthy
			check.Message = "Sufficient disk space"
		}

		return check
	}
}

// MemoryCheck creates a health check for memory usage
func MemoryCheck(getUsage func() (alloc, sys uint64)) CheckFunc {
	return func(context.Context) Check {
		check := Check{
			Name:    "memory",
			Details: make(map[string]any),
		}

		alloc, sys := getUsage()

		check.Details["alloc_bytes"] = alloc
		check.Details["sys_bytes"] = sys

		usagePercent := 0.0
		if sys > 0 {
			usagePercent = float64(alloc) / float64(sys) * 100
		}

		if usagePercent > 90 {
			check.Status = StatusDegraded
			check.Message = "High memory usage"
		} else {
			check.Status = StatusHealthy
			check.Message = "Memory usage normal"
		}

		return check
	}
}

// RuntimeMemory reads heap usage from the Go runtime
func RuntimeMemory() (alloc, sys uint64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.Alloc, m.Sys
}

// CertificateCheck reports the HTTPS certificate's remaining lifetime. It is
// degraded within warnWithin of expiry and unhealthy once expired.
func CertificateCheck(info burrowtls.CertificateInfo, warnWithin time.Duration) CheckFunc {
	return func(context.Context) Check {
		left := info.ExpiresIn(time.Now())
		check := Check{
			Name: "tls_certificate",
			Details: map[string]any{
				"subject":   info.Subject,
				"not_after": info.NotAfter.UTC().Format(time.RFC3339),
			},
		}
		switch {
		case left <= 0:
			check.Status = StatusUnhealthy
			check.Message = "Certificate expired"
		case left < warnWithin:
			check.Status = StatusDegraded
			check.Message = "Certificate expires in " + left.Round(time.Hour).String()
		default:
			check.Status = StatusHealthy
		}
		return check
	}
}
