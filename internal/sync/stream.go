package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/MaximeMichaud/oura-dashboard/internal/endpoint"
	"github.com/MaximeMichaud/oura-dashboard/internal/logger"
	"github.com/MaximeMichaud/oura-dashboard/internal/metrics"
	"github.com/MaximeMichaud/oura-dashboard/internal/oura"
)

// RecordSource is a single-pass pull iterator over raw records.
type RecordSource interface {
	Next() bool
	Record() endpoint.Record
	Err() error
}

// Fetcher opens a record stream for one endpoint and date window.
type Fetcher interface {
	FetchAll(ctx context.Context, path string, start, end time.Time) RecordSource
}

// FetchFunc adapts a function to Fetcher.
type FetchFunc func(ctx context.Context, path string, start, end time.Time) RecordSource

func (f FetchFunc) FetchAll(ctx context.Context, path string, start, end time.Time) RecordSource {
	return f(ctx, path, start, end)
}

// FromClient exposes an Oura API client as a Fetcher.
func FromClient(c *oura.Client) Fetcher {
	return FetchFunc(func(ctx context.Context, path string, start, end time.Time) RecordSource {
		return c.FetchAll(ctx, path, start, end)
	})
}

// rowStream transforms records lazily, logging and skipping the ones whose
// transform fails.
type rowStream struct {
	desc    endpoint.Descriptor
	src     RecordSource
	row     endpoint.Row
	skipped int
}

func newRowStream(desc endpoint.Descriptor, src RecordSource) *rowStream {
	return &rowStream{desc: desc, src: src}
}

func (s *rowStream) Next() bool {
	for s.src.Next() {
		rec := s.src.Record()
		row, err := s.apply(rec)
		if err != nil {
			s.skipped++
			metrics.RecordTransformError(s.desc.Name)
			logger.Log.Warn("Transform error",
				zap.String("endpoint", s.desc.Name),
				zap.String("record", rec.ID()),
				zap.Error(err))
			continue
		}
		s.row = row
		return true
	}
	return false
}

func (s *rowStream) apply(rec endpoint.Record) (row endpoint.Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transform panicked: %v", r)
		}
	}()
	return s.desc.Apply(rec)
}

func (s *rowStream) Row() endpoint.Row { return s.row }

func (s *rowStream) Err() error { return s.src.Err() }

// chunk pulls at most n rows. An empty result means the stream is drained.
func (s *rowStream) chunk(n int) []endpoint.Row {
	batch := make([]endpoint.Row, 0, n)
	for len(batch) < n && s.Next() {
		batch = append(batch, s.row)
	}
	return batch
}
