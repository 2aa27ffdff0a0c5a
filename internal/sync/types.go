package sync

import (
	"errors"
	"time"
)

var (
	ErrTokenExpired    = errors.New("oura API token is invalid or expired")
	ErrUnknownEndpoint = errors.New("unknown endpoint")
)

// EndpointResult is the outcome of one endpoint within a pass.
type EndpointResult struct {
	Endpoint string        `json:"endpoint"`
	Records  int           `json:"records"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Result summarizes one sync pass.
type Result struct {
	RunID       string           `json:"run_id,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
	Skipped     bool             `json:"skipped"`
	Interrupted bool             `json:"interrupted"`
	Total       int              `json:"total"`
	Endpoints   []EndpointResult `json:"endpoints"`
}

// Failed returns the endpoints that ended in error.
func (r Result) Failed() []string {
	var out []string
	for _, e := range r.Endpoints {
		if e.Error != "" {
			out = append(out, e.Endpoint)
		}
	}
	return out
}
