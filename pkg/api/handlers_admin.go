package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dd0wney/burrowdb/pkg/audit"
	"github.com/dd0wney/burrowdb/pkg/engine"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	reply, err := s.sub.Submit(r.Context(), engine.Command{Op: engine.OpStats})
	if err != nil {
		s.respondEngineError(w, r, engine.OpStats, err)
		return
	}
	if s.metrics != nil {
		s.metrics.UpdateEngineStats(reply.Stats)
	}
	s.respondJSON(w, http.StatusOK, Response{Status: StatusOK, Value: reply.Stats})
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	reply, err := s.sub.Submit(r.Context(), engine.Command{Op: engine.OpSweep})
	if err != nil {
		s.respondEngineError(w, r, engine.OpSweep, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Status: StatusOK, Value: SweepResult{Demoted: reply.Swept}})
}

// handleAudit lists recent audit events, newest first. Query parameters:
// limit, subject, action, key, status and since (RFC 3339).
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := defaultAuditLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	filter := audit.Filter{
		Subject: q.Get("subject"),
		Action:  strings.ToUpper(q.Get("action")),
		Key:     q.Get("key"),
		Status:  audit.Status(q.Get("status")),
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}

	s.respondJSON(w, http.StatusOK, Response{Status: StatusOK, Value: s.auditLog.Recent(limit, filter)})
}
