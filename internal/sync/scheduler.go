package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/MaximeMichaud/oura-dashboard/internal/config"
	"github.com/MaximeMichaud/oura-dashboard/internal/logger"
)

// Passer runs one sync pass.
type Passer interface {
	SyncAll(ctx context.Context, only string) (Result, error)
}

// Scheduler runs a sync pass on a fixed interval until stopped or until the
// token is rejected.
type Scheduler struct {
	cfg     config.SchedulerConfig
	passer  Passer
	only    string
	cron    *cron.Cron
	entryID cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
	fatal  chan error
}

func NewScheduler(cfg config.SchedulerConfig, passer Passer, only string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:    cfg,
		passer: passer,
		only:   only,
		cron:   cron.New(),
		ctx:    ctx,
		cancel: cancel,
		fatal:  make(chan error, 1),
	}
}

// Spec returns the cron expression for the configured interval.
func (s *Scheduler) Spec() string {
	return fmt.Sprintf("@every %s", s.cfg.Interval())
}

func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return nil
	}
	if s.cfg.IntervalMinutes <= 0 {
		return fmt.Errorf("invalid sync interval: %d minutes", s.cfg.IntervalMinutes)
	}

	logger.Log.Info("Starting scheduler", zap.Int("interval_minutes", s.cfg.IntervalMinutes))

	id, err := s.cron.AddFunc(s.Spec(), s.run)
	if err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	return nil
}

// Fatal delivers the error that made the scheduler stop on its own.
func (s *Scheduler) Fatal() <-chan error { return s.fatal }

// Stop prevents new runs, cancels the running pass at its next endpoint
// boundary and waits for it until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		logger.Log.Info("Stopped scheduler")
		return nil
	case <-ctx.Done():
		logger.Log.Warn("Scheduler stop timed out with a sync still running")
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	if s.ctx.Err() != nil {
		return
	}
	logger.Log.Info("Triggering scheduled sync")

	_, err := s.passer.SyncAll(s.ctx, s.only)
	switch {
	case err == nil:
	case errors.Is(err, ErrTokenExpired):
		s.cron.Remove(s.entryID)
		select {
		case s.fatal <- err:
		default:
		}
	default:
		logger.Log.Error("Scheduled sync failed", zap.Error(err))
	}
}
