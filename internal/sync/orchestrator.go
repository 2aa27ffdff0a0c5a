package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MaximeMichaud/oura-dashboard/internal/config"
	"github.com/MaximeMichaud/oura-dashboard/internal/endpoint"
	"github.com/MaximeMichaud/oura-dashboard/internal/logger"
	"github.com/MaximeMichaud/oura-dashboard/internal/metrics"
	"github.com/MaximeMichaud/oura-dashboard/internal/oura"
	"github.com/MaximeMichaud/oura-dashboard/internal/store"
)

const staleAfterDays = 3

// RowWriter persists one chunk of rows atomically.
type RowWriter interface {
	UpsertBatch(ctx context.Context, table, pk string, rows []endpoint.Row) (int, error)
}

// Bookkeeper is the part of the store a sync pass writes to.
type Bookkeeper interface {
	GetWatermark(ctx context.Context, endpoint string) (*store.Watermark, error)
	MarkSuccess(ctx context.Context, endpoint string, day time.Time, count int) error
	MarkFailure(ctx context.Context, endpoint, msg string) error
	AppendHistory(ctx context.Context, entry *store.HistoryEntry) error
	RefreshViews(ctx context.Context) error
}

type Options struct {
	HistoryStart time.Time
	OverlapDays  int
	BatchSize    int
	SentinelPath string
	Now          func() time.Time
}

// OptionsFromConfig maps the sync section of the configuration.
func OptionsFromConfig(cfg config.SyncConfig) (Options, error) {
	start, err := cfg.HistoryStart()
	if err != nil {
		return Options{}, fmt.Errorf("invalid history start date %q: %w", cfg.HistoryStartDate, err)
	}
	return Options{
		HistoryStart: start,
		OverlapDays:  cfg.OverlapDays,
		BatchSize:    cfg.BatchSize,
		SentinelPath: cfg.SentinelPath,
	}, nil
}

// Orchestrator runs sync passes over the registry. At most one pass runs at
// a time; a pass requested while another is running is skipped.
type Orchestrator struct {
	registry *endpoint.Registry
	fetcher  Fetcher
	writer   RowWriter
	store    Bookkeeper
	opts     Options

	syncMu sync.Mutex

	mu      sync.RWMutex
	running bool
	last    *Result
}

func NewOrchestrator(registry *endpoint.Registry, fetcher Fetcher, writer RowWriter, bk Bookkeeper, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = store.DefaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.HistoryStart.IsZero() {
		opts.HistoryStart = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return &Orchestrator{
		registry: registry,
		fetcher:  fetcher,
		writer:   writer,
		store:    bk,
		opts:     opts,
	}
}

func (o *Orchestrator) Registry() *endpoint.Registry { return o.registry }

func (o *Orchestrator) Running() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// LastResult returns the most recent completed pass, nil before the first.
func (o *Orchestrator) LastResult() *Result {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return nil
	}
	r := *o.last
	return &r
}

func (o *Orchestrator) setRunning(v bool) {
	o.mu.Lock()
	o.running = v
	o.mu.Unlock()
}

func (o *Orchestrator) finish(res *Result) {
	res.FinishedAt = o.opts.Now()
	metrics.RecordPass(res.FinishedAt.Sub(res.StartedAt))
	o.mu.Lock()
	r := *res
	o.last = &r
	o.mu.Unlock()
}

func (o *Orchestrator) today() time.Time {
	return truncateDay(o.opts.Now())
}

// truncateDay keeps the calendar date of t in its own location and returns
// it as UTC midnight, the form dates are stored and compared in.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StartDate is the first day to fetch for an endpoint: the last synced day
// minus the overlap, or the history start when the endpoint never synced.
func (o *Orchestrator) StartDate(ctx context.Context, name string) (time.Time, error) {
	wm, err := o.store.GetWatermark(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	if wm == nil || wm.LastSyncDate == nil {
		return truncateDay(o.opts.HistoryStart), nil
	}
	return truncateDay(*wm.LastSyncDate).AddDate(0, 0, -o.opts.OverlapDays), nil
}

// SyncEndpoint fetches, transforms and upserts one endpoint, returning the
// number of rows written.
func (o *Orchestrator) SyncEndpoint(ctx context.Context, desc endpoint.Descriptor) (int, error) {
	started := time.Now()
	log := logger.Log.With(zap.String("endpoint", desc.Name))

	start, err := o.StartDate(ctx, desc.Name)
	if err != nil {
		return 0, fmt.Errorf("failed to compute start date: %w", err)
	}
	end := o.today()
	log.Info("Fetching",
		zap.String("start", start.Format(config.DateLayout)),
		zap.String("end", end.Format(config.DateLayout)))

	if gap := int(end.Sub(start).Hours() / 24); gap > staleAfterDays {
		log.Warn(fmt.Sprintf("Sync gap: %d days behind", gap), zap.Int("gap_days", gap))
	}

	stream := newRowStream(desc, o.fetcher.FetchAll(ctx, desc.Path, start, end))
	count := 0
	for {
		rows := stream.chunk(o.opts.BatchSize)
		if len(rows) == 0 {
			break
		}
		n, err := o.writer.UpsertBatch(ctx, desc.Table, desc.PrimaryKey, rows)
		count += n
		if err != nil {
			return count, err
		}
	}
	if err := stream.Err(); err != nil {
		return count, err
	}
	if stream.skipped > 0 {
		log.Warn("Skipped records with transform errors", zap.Int("skipped", stream.skipped))
	}

	duration := time.Since(started)
	if count > 0 {
		if err := o.store.MarkSuccess(ctx, desc.Name, end, count); err != nil {
			log.Error("Failed to update sync log", zap.Error(err))
		}
	} else {
		log.Info("No records returned, watermark unchanged")
	}
	o.appendHistory(ctx, &store.HistoryEntry{
		Endpoint:        desc.Name,
		RecordCount:     count,
		DurationSeconds: duration.Seconds(),
		Status:          store.StatusSuccess,
	})

	log.Info(fmt.Sprintf("Upserted %d records in %.1fs", count, duration.Seconds()),
		zap.Int("records", count),
		zap.Duration("duration", duration))
	return count, nil
}

// SyncAll runs one pass over every endpoint, or only the named one. It
// returns ErrTokenExpired when the API rejects the token, which ends the
// pass immediately. Other endpoint failures are recorded and the pass moves
// on. Cancelling ctx stops the pass at the next endpoint boundary.
func (o *Orchestrator) SyncAll(ctx context.Context, only string) (Result, error) {
	if !o.syncMu.TryLock() {
		logger.Log.Warn("Sync already in progress, skipping this run")
		metrics.RecordSkippedPass()
		return Result{Skipped: true}, nil
	}
	defer o.syncMu.Unlock()

	o.setRunning(true)
	defer o.setRunning(false)

	res := Result{RunID: uuid.NewString(), StartedAt: o.opts.Now()}
	log := logger.Log.With(zap.String("run_id", res.RunID))

	descs := o.registry.List()
	if only != "" {
		d, err := o.registry.Lookup(only)
		if err != nil {
			log.Error("Unknown endpoint", zap.String("endpoint", only))
			o.finish(&res)
			return res, fmt.Errorf("%w: %s", ErrUnknownEndpoint, only)
		}
		descs = []endpoint.Descriptor{d}
	}

	// Endpoint work ignores cancellation; ctx is only checked between endpoints.
	work := context.WithoutCancel(ctx)

	for _, d := range descs {
		if ctx.Err() != nil {
			log.Info("Sync interrupted, remaining endpoints skipped", zap.String("next", d.Name))
			res.Interrupted = true
			break
		}

		t0 := time.Now()
		n, err := o.SyncEndpoint(work, d)
		metrics.RecordEndpointSync(d.Name, n, err)
		er := EndpointResult{Endpoint: d.Name, Records: n, Duration: time.Since(t0)}

		if err != nil {
			if oura.IsUnauthorized(err) {
				log.Error("Oura API token is invalid or expired (401). Stopping all syncs.",
					zap.String("endpoint", d.Name), zap.Error(err))
				er.Error = err.Error()
				res.Endpoints = append(res.Endpoints, er)
				o.finish(&res)
				return res, fmt.Errorf("%w: %w", ErrTokenExpired, err)
			}
			er.Error = err.Error()
			o.recordFailure(work, d.Name, er.Duration, err)
		}
		res.Total += n
		res.Endpoints = append(res.Endpoints, er)
	}

	if err := o.store.RefreshViews(work); err != nil {
		log.Warn("Could not refresh materialized views", zap.Error(err))
	}
	o.touchSentinel()

	o.finish(&res)
	log.Info(fmt.Sprintf("Sync complete - %d total records", res.Total),
		zap.Int("total", res.Total),
		zap.Strings("failed", res.Failed()))
	return res, nil
}

func (o *Orchestrator) recordFailure(ctx context.Context, name string, d time.Duration, cause error) {
	logger.Log.Error("Sync failed", zap.String("endpoint", name), zap.Error(cause))

	if err := o.store.MarkFailure(ctx, name, cause.Error()); err != nil {
		logger.Log.Error("Failed to record sync failure", zap.String("endpoint", name), zap.Error(err))
	}
	o.appendHistory(ctx, &store.HistoryEntry{
		Endpoint:        name,
		DurationSeconds: d.Seconds(),
		Status:          store.StatusError,
		ErrorMessage:    cause.Error(),
	})
}

func (o *Orchestrator) appendHistory(ctx context.Context, entry *store.HistoryEntry) {
	if err := o.store.AppendHistory(ctx, entry); err != nil {
		logger.Log.Error("Failed to append sync history",
			zap.String("endpoint", entry.Endpoint), zap.Error(err))
	}
}

// touchSentinel marks the end of a pass for container healthchecks.
func (o *Orchestrator) touchSentinel() {
	path := o.opts.SentinelPath
	if path == "" {
		return
	}
	now := time.Now()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err == nil {
		err = errors.Join(f.Close(), os.Chtimes(path, now, now))
	}
	if err != nil {
		logger.Log.Debug("Could not write sentinel file", zap.String("path", path), zap.Error(err))
	}
}
