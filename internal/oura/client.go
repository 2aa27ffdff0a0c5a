package oura

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/MaximeMichaud/oura-dashboard/internal/endpoint"
	"github.com/MaximeMichaud/oura-dashboard/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.ouraring.com/v2/usercollection"
	DefaultTimeout = 30 * time.Second

	maxErrorBodySize = 2048
)

// Page is one response page of a usercollection endpoint.
type Page struct {
	Data      []endpoint.Record `json:"data"`
	NextToken *string           `json:"next_token"`
}

// Next returns the continuation token, empty on the last page.
func (p *Page) Next() string {
	if p.NextToken == nil {
		return ""
	}
	return *p.NextToken
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retryer
}

type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithRateLimit paces outgoing requests. rps <= 0 disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithSleep replaces the wait between retries.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Client) { c.retry.sleep = sleep }
}

func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		token:      token,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		retry:      newRetryer(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchPage performs one logical GET of path, retrying rate-limited and
// transient failures.
func (c *Client) FetchPage(ctx context.Context, path string, params url.Values) (*Page, error) {
	var page *Page
	err := c.retry.do(ctx, path, func(ctx context.Context) error {
		p, err := c.get(ctx, path, params)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// FetchAll pages through path for the inclusive date window.
func (c *Client) FetchAll(ctx context.Context, path string, start, end time.Time) *RecordIterator {
	return newRecordIterator(ctx, c, path, start, end)
}

// get performs a single request and classifies its failure.
func (c *Client) get(ctx context.Context, path string, params url.Values) (*Page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &APIError{Kind: Fatal, Path: path, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPIRequest(path, "error", time.Since(started))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &APIError{Kind: Transient, Path: path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		kind := classify(resp.StatusCode)
		metrics.RecordAPIRequest(path, kind.String(), time.Since(started))
		apiErr := &APIError{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Path:       path,
			Body:       strings.TrimSpace(string(readBodyForError(resp.Body))),
		}
		if kind == RateLimited {
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return nil, apiErr
	}

	var page Page
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(&page); err != nil {
		metrics.RecordAPIRequest(path, "decode_error", time.Since(started))
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, &APIError{Kind: Transient, Path: path, Err: err}
		}
		return nil, &APIError{Kind: Fatal, StatusCode: resp.StatusCode, Path: path, Err: fmt.Errorf("failed to decode page: %w", err)}
	}
	metrics.RecordAPIRequest(path, "ok", time.Since(started))
	return &page, nil
}

func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	return body
}
