package middleware

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/dd0wney/burrowdb/pkg/audit"
	"github.com/dd0wney/burrowdb/pkg/auth"
	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/logging"
)

// principal is filled in by Auth.Require for an enclosing Audit
type principal struct {
	claims *auth.Claims
}

type principalKey struct{}

func notePrincipal(ctx context.Context, claims *auth.Claims) {
	if p, ok := ctx.Value(principalKey{}).(*principal); ok {
		p.claims = claims
	}
}

// Audit records one event per request for op. Place it outside the auth
// guard so refused requests are recorded too. A nil sink disables it.
func Audit(sink audit.Logger, op engine.Op, logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if sink == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := &principal{}
			rw := wrapWriter(w)
			next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))

			event := &audit.Event{
				Action:     op.String(),
				Key:        auditKey(r),
				Status:     auditStatus(rw.statusCode),
				HTTPStatus: rw.statusCode,
				RequestID:  GetRequestID(r),
				RemoteAddr: r.RemoteAddr,
			}
			if p.claims != nil {
				event.Subject = p.claims.Subject
				event.Role = string(p.claims.Role)
			}
			if err := sink.Log(event); err != nil && logger != nil {
				logger.Error("failed to record audit event",
					logging.Op(event.Action),
					logging.Key(event.Key),
					logging.Error(err))
			}
		})
	}
}

func auditKey(r *http.Request) string {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath != "" {
		if k, err := url.PathUnescape(key); err == nil {
			key = k
		}
	}
	return key
}

func auditStatus(code int) audit.Status {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return audit.StatusDenied
	case code >= http.StatusBadRequest:
		return audit.StatusFailure
	}
	return audit.StatusSuccess
}
