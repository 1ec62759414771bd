// Package audit records who changed what through the HTTP API. Events go to
// an in-memory ring for the admin endpoint and, optionally, to a hash-chained
// JSON-lines file.
package audit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status represents the outcome of an action
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	// StatusDenied marks requests refused by authentication or role checks
	StatusDenied Status = "denied"
)

// Event is a single audit entry. Action is the engine op name (PUT,
// DELETE, SWEEP).
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Subject    string    `json:"subject,omitempty"`
	Role       string    `json:"role,omitempty"`
	Action     string    `json:"action"`
	Key        string    `json:"key,omitempty"`
	Status     Status    `json:"status"`
	HTTPStatus int       `json:"http_status"`
	RequestID  string    `json:"request_id,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
}

func (e *Event) String() string {
	subject := e.Subject
	if subject == "" {
		subject = "anonymous"
	}
	return fmt.Sprintf("[%s] %s %s %q %s (%d)",
		e.Timestamp.Format(time.RFC3339), subject, e.Action, e.Key, e.Status, e.HTTPStatus)
}

// Filter selects events. Zero fields match everything.
type Filter struct {
	Subject string
	Action  string
	Key     string
	Status  Status
	Since   time.Time
}

func (f Filter) matches(e *Event) bool {
	switch {
	case f.Subject != "" && e.Subject != f.Subject:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case f.Key != "" && e.Key != f.Key:
		return false
	case f.Status != "" && e.Status != f.Status:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	}
	return true
}

// Logger is implemented by every audit sink
type Logger interface {
	Log(event *Event) error
}

// prepare fills in the ID and timestamp
func prepare(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
}

// Ring keeps the most recent events in memory
type Ring struct {
	events []*Event
	next   int
	count  int
	total  int64
	mu     sync.RWMutex
}

// NewRing creates a ring holding up to size events
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 1
	}
	return &Ring{events: make([]*Event, size)}
}

// Log stores event, overwriting the oldest entry when full
func (r *Ring) Log(event *Event) error {
	prepare(event)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = event
	r.next = (r.next + 1) % len(r.events)
	if r.count < len(r.events) {
		r.count++
	}
	r.total++
	return nil
}

// Recent returns up to limit matching events, newest first. A limit of
// zero or less returns every match.
func (r *Ring) Recent(limit int, filter Filter) []*Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Event, 0, min(r.count, max(limit, 0)))
	for i := 0; i < r.count; i++ {
		idx := (r.next - 1 - i + len(r.events)) % len(r.events)
		e := r.events[idx]
		if !filter.matches(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len returns the number of buffered events
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Total returns the number of events ever logged
func (r *Ring) Total() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Tee fans one event out to several sinks. Every sink sees the event even
// when an earlier one fails.
type Tee []Logger

func (t Tee) Log(event *Event) error {
	prepare(event)
	var errs []error
	for _, l := range t {
		if l == nil {
			continue
		}
		if err := l.Log(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
