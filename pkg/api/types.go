package api

// Response statuses
const (
	StatusOK       = "ok"
	StatusNotFound = "not_found"
	StatusError    = "error"
)

// Response is the envelope every endpoint under /v1 returns
type Response struct {
	Status string `json:"status"`
	Value  any    `json:"value,omitempty"`
	LSN    uint64 `json:"lsn,omitempty"`
	Error  string `json:"error,omitempty"`
}

// SweepResult is the value of POST /v1/admin/sweep
type SweepResult struct {
	Demoted int `json:"demoted"`
}
