package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MaximeMichaud/oura-dashboard/internal/config"
)

type fakePasser struct {
	mu    sync.Mutex
	err   error
	calls []string
	ctxs  []context.Context
}

func (p *fakePasser) SyncAll(ctx context.Context, only string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, only)
	p.ctxs = append(p.ctxs, ctx)
	return Result{}, p.err
}

func TestSchedulerSpec(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{Enabled: true, IntervalMinutes: 30}, &fakePasser{}, "")
	assert.Equal(t, "@every 30m0s", s.Spec())
}

func TestSchedulerStartRejectsBadInterval(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{Enabled: true, IntervalMinutes: 0}, &fakePasser{}, "")
	assert.Error(t, s.Start())
}

func TestSchedulerDisabled(t *testing.T) {
	s := NewScheduler(config.SchedulerConfig{Enabled: false, IntervalMinutes: 30}, &fakePasser{}, "")
	require.NoError(t, s.Start())
	assert.Empty(t, s.cron.Entries())
}

func TestSchedulerRunPassesFilter(t *testing.T) {
	p := &fakePasser{}
	s := NewScheduler(config.SchedulerConfig{Enabled: true, IntervalMinutes: 5}, p, "daily_sleep")

	s.run()
	assert.Equal(t, []string{"daily_sleep"}, p.calls)

	select {
	case err := <-s.Fatal():
		t.Fatalf("unexpected fatal error: %v", err)
	default:
	}
}

func TestSchedulerStopsOnTokenExpiry(t *testing.T) {
	p := &fakePasser{err: ErrTokenExpired}
	s := NewScheduler(config.SchedulerConfig{Enabled: true, IntervalMinutes: 5}, p, "")
	require.NoError(t, s.Start())
	require.Len(t, s.cron.Entries(), 1)

	s.run()

	select {
	case err := <-s.Fatal():
		assert.True(t, errors.Is(err, ErrTokenExpired))
	case <-time.After(time.Second):
		t.Fatal("no fatal error delivered")
	}
	assert.Empty(t, s.cron.Entries())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, s.Stop(ctx))
}

func TestSchedulerStopCancelsPassContext(t *testing.T) {
	p := &fakePasser{}
	s := NewScheduler(config.SchedulerConfig{Enabled: true, IntervalMinutes: 5}, p, "")
	s.run()
	require.Len(t, p.ctxs, 1)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Error(t, p.ctxs[0].Err())

	s.run()
	assert.Len(t, p.calls, 1)
}
