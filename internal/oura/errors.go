package oura

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind classifies a failed request.
type Kind uint8

const (
	Fatal Kind = iota
	RateLimited
	Transient
	Unauthorized
	NotFound
)

func (k Kind) String() string {
	switch k {
	case RateLimited:
		return "rate_limited"
	case Transient:
		return "transient"
	case Unauthorized:
		return "unauthorized"
	case NotFound:
		return "not_found"
	default:
		return "fatal"
	}
}

const (
	defaultRetryAfter = 60 * time.Second
	maxRetryAfter     = 300 * time.Second
)

// APIError is a classified failure of one request.
type APIError struct {
	Kind       Kind
	StatusCode int
	Path       string
	RetryAfter time.Duration
	Body       string
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "oura %s %s", e.Path, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (HTTP %d)", e.StatusCode)
	}
	if e.Body != "" {
		fmt.Fprintf(&b, ": %s", e.Body)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.Err }

func (e *APIError) Retryable() bool {
	return e.Kind == RateLimited || e.Kind == Transient
}

func kindOf(err error) (Kind, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Kind, true
	}
	return Fatal, false
}

// IsUnauthorized reports whether err means the access token was rejected.
func IsUnauthorized(err error) bool {
	k, ok := kindOf(err)
	return ok && k == Unauthorized
}

func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == NotFound
}

func classify(status int) Kind {
	switch {
	case status == 429:
		return RateLimited
	case status == 401:
		return Unauthorized
	case status == 404:
		return NotFound
	case status == 500, status == 502, status == 503:
		return Transient
	default:
		return Fatal
	}
}

// parseRetryAfter reads a Retry-After header given in seconds, integer or
// fractional. Fractions are truncated, missing or unparsable values fall back
// to 60s and everything is capped at 300s.
func parseRetryAfter(h string) time.Duration {
	h = strings.TrimSpace(h)
	if h == "" {
		return defaultRetryAfter
	}
	f, err := strconv.ParseFloat(h, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return defaultRetryAfter
	}
	d := time.Duration(int64(f)) * time.Second
	if d < 0 {
		d = 0
	}
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}
