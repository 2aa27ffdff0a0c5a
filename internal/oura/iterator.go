package oura

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/MaximeMichaud/oura-dashboard/internal/endpoint"
	"github.com/MaximeMichaud/oura-dashboard/internal/logger"
)

const dateLayout = "2006-01-02"

// RecordIterator yields the records of every page of one endpoint in order.
// It is single-pass: once Next returns false it stays false.
//
//	it := client.FetchAll(ctx, "sleep", start, end)
//	for it.Next() {
//		rec := it.Record()
//	}
//	if err := it.Err(); err != nil { ... }
type RecordIterator struct {
	ctx    context.Context
	client *Client
	path   string
	params url.Values

	buf   []endpoint.Record
	cur   endpoint.Record
	pages int
	done  bool
	err   error
}

func newRecordIterator(ctx context.Context, c *Client, path string, start, end time.Time) *RecordIterator {
	return &RecordIterator{
		ctx:    ctx,
		client: c,
		path:   path,
		params: url.Values{
			"start_date": {start.Format(dateLayout)},
			"end_date":   {end.Format(dateLayout)},
		},
	}
}

func (it *RecordIterator) Next() bool {
	for len(it.buf) == 0 {
		if it.done || it.err != nil {
			it.cur = nil
			return false
		}
		it.fetch()
	}
	it.cur, it.buf = it.buf[0], it.buf[1:]
	return true
}

func (it *RecordIterator) fetch() {
	page, err := it.client.FetchPage(it.ctx, it.path, it.params)
	if err != nil {
		if IsNotFound(err) {
			logger.Log.Warn("Endpoint not found (404), skipping",
				zap.String("endpoint", it.path),
				zap.Int("page", it.pages+1))
			it.done = true
			return
		}
		it.err = err
		return
	}
	it.pages++
	it.buf = page.Data

	next := page.Next()
	if next == "" {
		it.done = true
		return
	}
	it.params = url.Values{"next_token": {next}}
}

// Record returns the current record. Valid only after Next returned true.
func (it *RecordIterator) Record() endpoint.Record { return it.cur }

func (it *RecordIterator) Err() error { return it.err }

// Pages returns the number of pages fetched so far.
func (it *RecordIterator) Pages() int { return it.pages }
