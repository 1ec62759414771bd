package middleware

import (
	"net/http"
	"strings"

	"github.com/dd0wney/burrowdb/pkg/auth"
	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/logging"
)

// Auth checks bearer tokens. A nil Validator disables checks.
type Auth struct {
	Validator auth.TokenValidator
	Logger    logging.Logger
	// OnFailure is called for each rejected request
	OnFailure func()
}

// Require admits requests whose token role allows op
func (a *Auth) Require(op engine.Op) func(http.Handler) http.Handler {
	return a.require(func(r auth.Role) bool { return r.Allows(op) }, op.String())
}

// RequireAdmin admits admin tokens only
func (a *Auth) RequireAdmin() func(http.Handler) http.Handler {
	return a.require(func(r auth.Role) bool { return r == auth.RoleAdmin }, "use admin routes")
}

func (a *Auth) require(allowed func(auth.Role) bool, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if a == nil || a.Validator == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				a.reject(w, r, http.StatusUnauthorized, "missing bearer token", nil)
				return
			}

			claims, err := a.Validator.ValidateToken(r.Context(), token)
			if err != nil {
				a.reject(w, r, http.StatusUnauthorized, "invalid or expired token", err)
				return
			}
			if !allowed(claims.Role) {
				a.reject(w, r, http.StatusForbidden, "role "+string(claims.Role)+" may not "+action, nil)
				return
			}

			notePrincipal(r.Context(), claims)
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

func (a *Auth) reject(w http.ResponseWriter, r *http.Request, code int, msg string, err error) {
	if a.OnFailure != nil {
		a.OnFailure()
	}
	if a.Logger != nil {
		fields := []logging.Field{
			logging.Path(r.URL.Path),
			logging.Int("status", code),
			logging.String("request_id", GetRequestID(r)),
		}
		if err != nil {
			fields = append(fields, logging.Error(err))
		}
		a.Logger.Info("request rejected: "+msg, fields...)
	}
	writeError(w, code, msg)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
