package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/dd0wney/burrowdb/pkg/engine"
	"github.com/dd0wney/burrowdb/pkg/validation"
)

// documentKey extracts and validates {key}, replying 400 on failure
func (s *Server) documentKey(w http.ResponseWriter, r *http.Request) (string, bool) {
	key, err := keyParam(r)
	if err == nil {
		err = validation.ValidateKey(key)
	}
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return "", false
	}
	return key, true
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key, ok := s.documentKey(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.respondError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if err := validation.ValidateDocument(body, s.maxValueSize); err != nil {
		s.respondEngineError(w, r, engine.OpPut, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}

	reply, err := s.sub.Submit(r.Context(), engine.Command{Op: engine.OpPut, Key: key, Value: body})
	if err != nil {
		s.respondEngineError(w, r, engine.OpPut, err)
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Status: StatusOK, LSN: reply.Result.LSN})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key, ok := s.documentKey(w, r)
	if !ok {
		return
	}

	reply, err := s.sub.Submit(r.Context(), engine.Command{Op: engine.OpGet, Key: key})
	if err != nil {
		s.respondEngineError(w, r, engine.OpGet, err)
		return
	}
	if !reply.Result.Found {
		s.respondJSON(w, http.StatusNotFound, Response{Status: StatusNotFound})
		return
	}
	s.respondJSON(w, http.StatusOK, Response{
		Status: StatusOK,
		Value:  json.RawMessage(reply.Result.Value),
		LSN:    reply.Result.LSN,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key, ok := s.documentKey(w, r)
	if !ok {
		return
	}

	reply, err := s.sub.Submit(r.Context(), engine.Command{Op: engine.OpDelete, Key: key})
	if err != nil {
		s.respondEngineError(w, r, engine.OpDelete, err)
		return
	}
	if !reply.Result.Found {
		s.respondJSON(w, http.StatusNotFound, Response{Status: StatusNotFound})
		return
	}
	s.respondJSON(w, http.StatusOK, Response{Status: StatusOK, LSN: reply.Result.LSN})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	reply, err := s.sub.Submit(r.Context(), engine.Command{Op: engine.OpKeys})
	if err != nil {
		s.respondEngineError(w, r, engine.OpKeys, err)
		return
	}
	keys := reply.Keys
	if keys == nil {
		keys = []string{}
	}
	s.respondJSON(w, http.StatusOK, Response{Status: StatusOK, Value: keys})
}
