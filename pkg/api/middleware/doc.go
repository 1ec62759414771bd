// Package middleware provides the HTTP middleware chain for the BurrowDB API.
//
//   - recovery.go: panic recovery
//   - request_id.go: request ID assignment and propagation
//   - logging.go: structured request logs
//   - metrics.go: Prometheus request metrics keyed by route pattern
//   - auth.go: bearer token authentication and per-operation roles
//   - body_limit.go: request body size limits
//   - security_headers.go: response hardening headers
package middleware
