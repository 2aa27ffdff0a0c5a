package oura

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/MaximeMichaud/oura-dashboard/internal/logger"
	"github.com/MaximeMichaud/oura-dashboard/internal/metrics"
)

const (
	maxAttempts = 6
	maxBackoff  = 120 * time.Second
)

// retryer drives one logical request through at most maxAttempts tries.
// A rate-limited failure waits its RetryAfter, a transient failure waits
// backoff(attempt), anything else ends the call with that error.
type retryer struct {
	attempts int
	sleep    func(context.Context, time.Duration) error
}

func newRetryer() retryer {
	return retryer{attempts: maxAttempts, sleep: sleepContext}
}

// backoff returns min(2^attempt * 2s, 120s) for the 1-based failed attempt.
func backoff(attempt int) time.Duration {
	if attempt >= 6 {
		return maxBackoff
	}
	d := time.Duration(1<<attempt) * 2 * time.Second
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// wait returns how long to pause after err, and whether another attempt is allowed.
func (r retryer) wait(err error, attempt int) (time.Duration, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Retryable() {
		return 0, false
	}
	if attempt >= r.attempts {
		return 0, false
	}
	if apiErr.Kind == RateLimited {
		d := apiErr.RetryAfter
		if d > maxRetryAfter {
			d = maxRetryAfter
		}
		return d, true
	}
	return backoff(attempt), true
}

func (r retryer) do(ctx context.Context, path string, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		delay, again := r.wait(err, attempt)
		if !again {
			return err
		}

		kind, _ := kindOf(err)
		metrics.RecordAPIRetry(path, kind.String())
		logger.Log.Warn("Retrying Oura request",
			zap.String("path", path),
			zap.Int("attempt", attempt),
			zap.Duration("wait", delay),
			zap.Error(err))

		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
