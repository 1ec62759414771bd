// Package api exposes the engine over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dd0wney/burrowdb/pkg/api/middleware"
	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/logging"
)

// bodySlack allows for a trailing newline and the like beyond the value cap
const bodySlack = 1 << 10

// NewServer creates an API server
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.MaxValueSize <= 0 {
		opts.MaxValueSize = engine.DefaultMaxValueSize
	}
	return &Server{
		sub:          opts.Submitter,
		health:       opts.Health,
		metrics:      opts.Metrics,
		validator:    opts.Validator,
		logger:       opts.Logger.With(logging.Component("api")),
		maxValueSize: opts.MaxValueSize,
		audit:        opts.Audit,
		auditLog:     opts.AuditLog,
	}
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.PanicRecovery(s.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(s.logger))
	if s.metrics != nil {
		r.Use(middleware.Metrics(s.metrics))
	}
	r.Use(middleware.SecurityHeaders())

	if s.health != nil {
		r.Get("/health", s.health.HTTPHandler())
		r.Get("/health/live", s.health.LivenessHandler())
		r.Get("/health/ready", s.health.ReadinessHandler())
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	guard := &middleware.Auth{Validator: s.validator, Logger: s.logger}
	if s.metrics != nil {
		guard.OnFailure = s.metrics.RecordAuthFailure
	}

	r.Route("/v1", func(r chi.Router) {
		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			s.respondError(w, http.StatusNotFound, "no such route")
		})
		r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
			s.respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		})

		audited := func(op engine.Op) func(http.Handler) http.Handler {
			return middleware.Audit(s.audit, op, s.logger)
		}

		r.With(guard.Require(engine.OpKeys)).Get("/docs", s.handleList)
		r.With(guard.Require(engine.OpGet)).Get("/docs/{key}", s.handleGet)
		r.With(audited(engine.OpPut), guard.Require(engine.OpPut), middleware.BodySizeLimit(int64(s.maxValueSize)+bodySlack)).
			Put("/docs/{key}", s.handlePut)
		r.With(audited(engine.OpDelete), guard.Require(engine.OpDelete)).Delete("/docs/{key}", s.handleDelete)
		r.With(guard.Require(engine.OpStats)).Get("/stats", s.handleStats)
		r.With(audited(engine.OpSweep), guard.Require(engine.OpSweep)).Post("/admin/sweep", s.handleSweep)
		if s.auditLog != nil {
			r.With(guard.RequireAdmin()).Get("/admin/audit", s.handleAudit)
		}
	})

	return r
}
