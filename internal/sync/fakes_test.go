package sync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MaximeMichaud/oura-dashboard/internal/config"
	"github.com/MaximeMichaud/oura-dashboard/internal/endpoint"
	"github.com/MaximeMichaud/oura-dashboard/internal/logger"
	"github.com/MaximeMichaud/oura-dashboard/internal/store"
)

var testNow = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	prev := logger.Log
	logger.Log = zap.New(core)
	t.Cleanup(func() { logger.Log = prev })
	return logs
}

func testDesc(name string) endpoint.Descriptor {
	cols, transform := endpoint.Mapping(endpoint.Key("day"), endpoint.Col("score"))
	return endpoint.Descriptor{
		Name:       name,
		Path:       name,
		Table:      name,
		PrimaryKey: "day",
		Columns:    cols,
		Transform:  transform,
	}
}

func testRegistry(t *testing.T, names ...string) *endpoint.Registry {
	t.Helper()
	descs := make([]endpoint.Descriptor, len(names))
	for i, n := range names {
		descs[i] = testDesc(n)
	}
	r, err := endpoint.NewRegistry(descs...)
	require.NoError(t, err)
	return r
}

func days(n int) []endpoint.Record {
	return daysFrom(time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC), n)
}

func daysFrom(start time.Time, n int) []endpoint.Record {
	recs := make([]endpoint.Record, n)
	for i := range recs {
		recs[i] = endpoint.Record{"day": start.AddDate(0, 0, i).Format(config.DateLayout), "score": i}
	}
	return recs
}

// sliceSource replays records, then reports err.
type sliceSource struct {
	recs []endpoint.Record
	cur  endpoint.Record
	err  error
	// before runs ahead of the first record.
	before func()
}

func (s *sliceSource) Next() bool {
	if s.before != nil {
		s.before()
		s.before = nil
	}
	if len(s.recs) == 0 {
		return false
	}
	s.cur, s.recs = s.recs[0], s.recs[1:]
	return true
}

func (s *sliceSource) Record() endpoint.Record { return s.cur }
func (s *sliceSource) Err() error              { return s.err }

type fetchCall struct {
	path       string
	start, end time.Time
}

type fakeFetcher struct {
	mu       sync.Mutex
	sources  map[string]func() RecordSource
	windowed map[string][]endpoint.Record
	calls    []fetchCall
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		sources:  make(map[string]func() RecordSource),
		windowed: make(map[string][]endpoint.Record),
	}
}

func (f *fakeFetcher) serve(path string, recs []endpoint.Record, err error) {
	f.sources[path] = func() RecordSource {
		return &sliceSource{recs: append([]endpoint.Record(nil), recs...), err: err}
	}
}

// serveWindow answers with the records whose day falls inside the requested
// window, like the remote API does.
func (f *fakeFetcher) serveWindow(path string, recs []endpoint.Record) {
	f.windowed[path] = recs
}

func (f *fakeFetcher) FetchAll(_ context.Context, path string, start, end time.Time) RecordSource {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{path: path, start: start, end: end})
	src, ok := f.sources[path]
	windowed, inWindow := f.windowed[path]
	f.mu.Unlock()
	if inWindow {
		var out []endpoint.Record
		for _, rec := range windowed {
			day, err := time.Parse(config.DateLayout, fmt.Sprint(rec["day"]))
			if err == nil && !day.Before(start) && !day.After(end) {
				out = append(out, rec)
			}
		}
		return &sliceSource{recs: out}
	}
	if !ok {
		return &sliceSource{}
	}
	return src()
}

func (f *fakeFetcher) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		out = append(out, c.path)
	}
	return out
}

// fakeWriter stores rows by table and primary key, the way an upsert would.
type fakeWriter struct {
	mu      sync.Mutex
	batches map[string][]int
	rows    map[string]map[string]endpoint.Row
	fail    map[string]error
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{
		batches: make(map[string][]int),
		rows:    make(map[string]map[string]endpoint.Row),
		fail:    make(map[string]error),
	}
}

func (w *fakeWriter) UpsertBatch(_ context.Context, table, pk string, rows []endpoint.Row) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.fail[table]; err != nil {
		return 0, err
	}
	stored, ok := w.rows[table]
	if !ok {
		stored = make(map[string]endpoint.Row)
		w.rows[table] = stored
	}
	for _, row := range rows {
		key, _ := row.Get(pk)
		stored[fmt.Sprint(key.SQLArg())] = row
	}
	w.batches[table] = append(w.batches[table], len(rows))
	return len(rows), nil
}

func (w *fakeWriter) rowCount(table string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.rows[table])
}

func (w *fakeWriter) row(table, key string) (endpoint.Row, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	row, ok := w.rows[table][key]
	return row, ok
}

type fakeStore struct {
	mu         sync.Mutex
	watermarks map[string]*store.Watermark
	history    []store.HistoryEntry
	refreshed  int
	calls      int

	getErr     error
	successErr error
	refreshErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{watermarks: make(map[string]*store.Watermark)}
}

func (s *fakeStore) setLastSync(name string, day time.Time) {
	d := day
	s.watermarks[name] = &store.Watermark{Endpoint: name, LastSyncDate: &d}
}

func (s *fakeStore) GetWatermark(_ context.Context, name string) (*store.Watermark, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.getErr != nil {
		return nil, s.getErr
	}
	w, ok := s.watermarks[name]
	if !ok {
		return nil, nil
	}
	c := *w
	return &c, nil
}

func (s *fakeStore) MarkSuccess(_ context.Context, name string, day time.Time, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.successErr != nil {
		return s.successErr
	}
	w, ok := s.watermarks[name]
	if !ok {
		w = &store.Watermark{Endpoint: name}
		s.watermarks[name] = w
	}
	d := day
	now := testNow
	w.LastSyncDate = &d
	w.RecordCount = int64(count)
	w.LastError = nil
	w.ConsecutiveFailures = 0
	w.LastSuccessAt = &now
	return nil
}

func (s *fakeStore) MarkFailure(_ context.Context, name, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	w, ok := s.watermarks[name]
	if !ok {
		w = &store.Watermark{Endpoint: name}
		s.watermarks[name] = w
	}
	m := msg
	w.LastError = &m
	w.ConsecutiveFailures++
	return nil
}

func (s *fakeStore) AppendHistory(_ context.Context, e *store.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.history = append(s.history, *e)
	return nil
}

func (s *fakeStore) RefreshViews(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.refreshed++
	return s.refreshErr
}

func (s *fakeStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var errBoom = errors.New("boom")
