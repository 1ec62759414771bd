package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/dd0wney/burrowdb/pkg/api/middleware"
	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/logging"
)

// errBadRequest marks client errors found before the engine is reached
var errBadRequest = errors.New("bad request")

func (s *Server) respondJSON(w http.ResponseWriter, code int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Warn("failed to write response", logging.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, code int, msg string) {
	s.respondJSON(w, code, Response{Status: StatusError, Error: msg})
}

// respondEngineError maps an engine error onto a status code. Internal
// failures are logged in full and reported generically.
func (s *Server) respondEngineError(w http.ResponseWriter, r *http.Request, op engine.Op, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError {
		s.logger.Error("command failed",
			logging.Op(op.String()),
			logging.String("request_id", middleware.GetRequestID(r)),
			logging.Error(err),
		)
		if code == http.StatusInternalServerError {
			msg = op.String() + " failed"
		}
	}
	s.respondError(w, code, msg)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, engine.ErrEmptyKey),
		errors.Is(err, engine.ErrKeyTooLarge),
		errors.Is(err, engine.ErrValueTooLarge):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// keyParam returns the decoded {key} segment. chi matches on RawPath when
// the request carried escapes, so only then is the segment still encoded.
func keyParam(r *http.Request) (string, error) {
	key := chi.URLParam(r, "key")
	if r.URL.RawPath == "" {
		return key, nil
	}
	decoded, err := url.PathUnescape(key)
	if err != nil {
		return "", err
	}
	return decoded, nil
}
