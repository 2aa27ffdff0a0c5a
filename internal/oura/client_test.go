package oura

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waits = append(s.waits, d)
	return ctx.Err()
}

func newTestClient(t *testing.T, h http.HandlerFunc) (*Client, *sleepRecorder) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	rec := &sleepRecorder{}
	return NewClient("secret", WithBaseURL(srv.URL), WithSleep(rec.sleep)), rec
}

func day(s string) time.Time {
	t, _ := time.Parse(dateLayout, s)
	return t
}

func collect(it *RecordIterator) []string {
	var ids []string
	for it.Next() {
		ids = append(ids, it.Record().ID())
	}
	return ids
}

func TestFetchAllPaginates(t *testing.T) {
	var queries []string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/daily_sleep", r.URL.Path)
		queries = append(queries, r.URL.RawQuery)

		switch r.URL.Query().Get("next_token") {
		case "":
			fmt.Fprint(w, `{"data":[{"day":"2024-01-01"},{"day":"2024-01-02"}],"next_token":"p2"}`)
		case "p2":
			fmt.Fprint(w, `{"data":[],"next_token":"p3"}`)
		case "p3":
			fmt.Fprint(w, `{"data":[{"day":"2024-01-03"}],"next_token":null}`)
		}
	})

	it := client.FetchAll(context.Background(), "daily_sleep", day("2024-01-01"), day("2024-01-03"))
	assert.Equal(t, []string{"2024-01-01", "2024-01-02", "2024-01-03"}, collect(it))
	require.NoError(t, it.Err())
	assert.Equal(t, 3, it.Pages())
	assert.Equal(t, []string{
		"end_date=2024-01-03&start_date=2024-01-01",
		"next_token=p2",
		"next_token=p3",
	}, queries)

	assert.False(t, it.Next())
}

func TestFetchAllNotFoundIsEmpty(t *testing.T) {
	calls := 0
	client, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	})

	it := client.FetchAll(context.Background(), "daily_vo2_max", day("2024-01-01"), day("2024-01-02"))
	assert.Empty(t, collect(it))
	assert.NoError(t, it.Err())
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits.waits)
}

func TestFetchAllEmptyPage(t *testing.T) {
	calls := 0
	client, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("start_date"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[],"next_token":null}`)
	})

	it := client.FetchAll(context.Background(), "daily_stress", day("2024-01-01"), day("2024-01-02"))
	assert.Empty(t, collect(it))
	assert.NoError(t, it.Err())
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, it.Pages())
	assert.Empty(t, waits.waits)
}

func TestFetchAllUnauthorized(t *testing.T) {
	calls := 0
	client, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail":"invalid token"}`)
	})

	it := client.FetchAll(context.Background(), "sleep", day("2024-01-01"), day("2024-01-02"))
	assert.False(t, it.Next())
	require.Error(t, it.Err())
	assert.True(t, IsUnauthorized(it.Err()))
	assert.Equal(t, 1, calls)
	assert.Empty(t, waits.waits)
}

func TestRateLimitUsesRetryAfter(t *testing.T) {
	calls := 0
	client, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"a"}],"next_token":null}`)
	})

	it := client.FetchAll(context.Background(), "workout", day("2024-01-01"), day("2024-01-02"))
	assert.Equal(t, []string{"a"}, collect(it))
	require.NoError(t, it.Err())
	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{5 * time.Second}, waits.waits)
}

func TestTransientRetriesThenGivesUp(t *testing.T) {
	calls := 0
	client, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := client.FetchPage(context.Background(), "sleep", nil)
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, Transient, apiErr.Kind)
	assert.Equal(t, 503, apiErr.StatusCode)
	assert.Equal(t, maxAttempts, calls)
	assert.Equal(t, []time.Duration{
		4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second, 64 * time.Second,
	}, waits.waits)
}

func TestTransientThenSuccess(t *testing.T) {
	calls := 0
	client, waits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"x"}]}`)
	})

	page, err := client.FetchPage(context.Background(), "sleep", nil)
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, "", page.Next())
	assert.Len(t, waits.waits, 2)
}

func TestFatalStatusNotRetried(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "bad date")
	})

	_, err := client.FetchPage(context.Background(), "sleep", nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, Fatal, apiErr.Kind)
	assert.Equal(t, "bad date", apiErr.Body)
	assert.Equal(t, 1, calls)
}

func TestConnectionFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	rec := &sleepRecorder{}
	client := NewClient("secret", WithBaseURL(url), WithSleep(rec.sleep))
	_, err := client.FetchPage(context.Background(), "sleep", nil)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, Transient, apiErr.Kind)
	assert.Len(t, rec.waits, maxAttempts-1)
}

func TestCancelledWaitStopsRetrying(t *testing.T) {
	calls := 0
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	client.retry.sleep = sleepContext

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.FetchPage(ctx, "sleep", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}
