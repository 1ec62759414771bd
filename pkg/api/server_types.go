package api

import (
	"github.com/dd0wney/burrowdb/pkg/audit"
	"github.com/dd0wney/burrowdb/pkg/auth"
	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/health"
	"github.com/dd0wney/burrowdb/pkg/logging"
	"github.com/dd0wney/burrowdb/pkg/metrics"
)

// Options wires a Server to the rest of the process
type Options struct {
	// Submitter runs commands; normally the fan-out coalescer over a Loop
	Submitter engine.Submitter
	// Health serves /health; nil omits the health routes
	Health *health.HealthChecker
	// Metrics records requests and serves /metrics; nil disables both
	Metrics *metrics.Registry
	// Validator checks bearer tokens; nil leaves the API open
	Validator auth.TokenValidator
	Logger    logging.Logger
	// MaxValueSize caps document bodies
	MaxValueSize int
	// Audit receives one event per mutating request; nil disables auditing
	Audit audit.Logger
	// AuditLog serves GET /v1/admin/audit; nil omits the route
	AuditLog *audit.Ring
}

// Server translates HTTP requests into engine commands
type Server struct {
	sub          engine.Submitter
	health       *health.HealthChecker
	metrics      *metrics.Registry
	validator    auth.TokenValidator
	logger       logging.Logger
	maxValueSize int
	audit        audit.Logger
	auditLog     *audit.Ring
}
