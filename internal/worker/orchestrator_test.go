package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookingsync/internal/clock"
	"bookingsync/internal/database"
	"bookingsync/internal/events"
	"bookingsync/internal/lock"
	"bookingsync/internal/models"
	"bookingsync/internal/service"
	"bookingsync/internal/syncerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFunc func(ctx context.Context, since *time.Time, source string) (*service.SyncStats, error)

func (f engineFunc) RunFullSync(ctx context.Context, since *time.Time, source string) (*service.SyncStats, error) {
	return f(ctx, since, source)
}

type orchestratorFixture struct {
	db     *database.DB
	clock  *clock.Fake
	locker *lock.DBLocker
	bus    *events.EventBus
	seen   []string
}

func newOrchestratorFixture(t *testing.T) *orchestratorFixture {
	t.Helper()
	f := &orchestratorFixture{
		db:    newTestDB(t),
		clock: clock.NewFake(t0),
		bus:   events.NewEventBus(),
	}
	f.locker = lock.NewDBLocker(f.db, f.clock)
	record := func(ev *events.Event) error {
		f.seen = append(f.seen, ev.Type)
		return nil
	}
	f.bus.Subscribe(events.EventSyncCompleted, record)
	f.bus.Subscribe(events.EventSyncFailed, record)
	return f
}

func (f *orchestratorFixture) orchestrator(engine Engine) *Orchestrator {
	queue := NewRetryQueue(f.db, noJitter(), f.clock, nil, nil, nil)
	return NewOrchestrator(engine, f.locker, f.db, queue, f.bus, f.clock,
		OrchestratorConfig{MaxSyncDuration: 10 * time.Minute, Trigger: IntervalTrigger{Interval: 5 * time.Minute}}, nil)
}

func stats(total, ok, failed int) *service.SyncStats {
	return &service.SyncStats{Total: total, Processed: ok + failed, Successful: ok, Failed: failed, StartedAt: t0, FinishedAt: t0}
}

func TestOrchestrator_CompletedRun(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	calls := 0
	o := f.orchestrator(engineFunc(func(ctx context.Context, _ *time.Time, source string) (*service.SyncStats, error) {
		calls++
		assert.Equal(t, models.SyncSourceScheduled, source)
		held, _, err := lock.IsHeld(ctx, f.locker, models.LockScopeGlobal, f.clock.Now())
		assert.NoError(t, err)
		assert.True(t, held, "engine runs under the global lock")
		return stats(3, 2, 0), nil
	}))

	res, err := o.RunSync(ctx, models.SyncSourceScheduled, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.False(t, res.Skipped)
	assert.Equal(t, models.RunStatusCompleted, res.Run.Status)

	run, err := f.db.GetSyncRun(ctx, res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, 3, run.OrdersFetched)

	state, err := f.db.GetSyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompleted, state.Status)
	assert.Equal(t, 2, state.OrdersSuccessful)

	m, err := f.db.GetSyncMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.TotalSyncs)
	assert.Equal(t, 1, m.SuccessfulSyncs)

	running, err := o.IsSyncRunning(ctx)
	require.NoError(t, err)
	assert.False(t, running, "lock released")
	assert.Equal(t, []string{events.EventSyncCompleted}, f.seen)
}

func TestOrchestrator_FailedOrdersFailRun(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	o := f.orchestrator(engineFunc(func(context.Context, *time.Time, string) (*service.SyncStats, error) {
		return stats(2, 1, 1), nil
	}))

	res, err := o.RunSync(ctx, "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, res.Run.Status)
	assert.Equal(t, models.SyncSourceManual, res.Run.Source)

	m, err := f.db.GetSyncMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.FailedSyncs)
	assert.Equal(t, 1, m.TotalFailedOrders)

	errs, err := f.db.ListSyncErrors(ctx, t0.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, errs)
}

func TestOrchestrator_EngineErrorRecorded(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	o := f.orchestrator(engineFunc(func(context.Context, *time.Time, string) (*service.SyncStats, error) {
		return &service.SyncStats{}, syncerr.Transient("fetch orders", errors.New("502 bad gateway"))
	}))

	res, err := o.RunSync(ctx, models.SyncSourceScheduled, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, res.Run.Status)
	assert.Contains(t, res.Run.Error, "502 bad gateway")

	errs, err := f.db.ListSyncErrors(ctx, t0.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, res.Run.ID, errs[0].RunID)
	assert.Equal(t, string(syncerr.CategoryTransient), errs[0].Category)

	state, err := f.db.GetSyncState(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusFailed, state.Status)
	assert.Contains(t, state.LastError, "502")
	assert.Equal(t, []string{events.EventSyncFailed}, f.seen)
}

func TestOrchestrator_PanicRecovered(t *testing.T) {
	f := newOrchestratorFixture(t)
	o := f.orchestrator(engineFunc(func(context.Context, *time.Time, string) (*service.SyncStats, error) {
		panic("boom")
	}))

	res, err := o.RunSync(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, res.Run.Status)
	assert.Contains(t, res.Run.Error, "sync panicked: boom")

	running, err := o.IsSyncRunning(context.Background())
	require.NoError(t, err)
	assert.False(t, running)
}

func TestOrchestrator_SkipsWhenLocked(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	called := false
	o := f.orchestrator(engineFunc(func(context.Context, *time.Time, string) (*service.SyncStats, error) {
		called = true
		return stats(0, 0, 0), nil
	}))

	ok, err := f.locker.Acquire(ctx, models.LockScopeGlobal, "other-replica", 10*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := o.RunSync(ctx, models.SyncSourceScheduled, nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, models.RunStatusSkipped, res.Run.Status)
	assert.False(t, called)

	_, err = f.db.GetLastSyncRun(ctx)
	assert.ErrorIs(t, err, database.ErrNotFound)

	// The other replica died; its lock goes stale and the next trigger reclaims it.
	f.clock.Advance(11 * time.Minute)
	res, err = o.RunSync(ctx, models.SyncSourceScheduled, nil)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.True(t, called)
}

func TestOrchestrator_Timeout(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	canceled := make(chan struct{})
	release := make(chan struct{})
	o := f.orchestrator(engineFunc(func(ctx context.Context, _ *time.Time, _ string) (*service.SyncStats, error) {
		<-ctx.Done()
		close(canceled)
		<-release
		return stats(5, 5, 0), nil
	}))

	type result struct {
		res *RunResult
		err error
	}
	done := make(chan result, 1)
	go func() {
		res, err := o.RunSync(ctx, models.SyncSourceScheduled, nil)
		done <- result{res, err}
	}()

	require.True(t, f.clock.BlockUntil(1, time.Second), "deadline timer armed")
	f.clock.Advance(10 * time.Minute)

	var got result
	select {
	case got = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunSync did not return after the deadline")
	}
	require.NoError(t, got.err)
	assert.Equal(t, models.RunStatusTimedOut, got.res.Run.Status)
	assert.Equal(t, syncerr.ErrTimeout.Error(), got.res.Run.Error)

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("engine context was not canceled")
	}
	close(release)

	running, err := o.IsSyncRunning(ctx)
	require.NoError(t, err)
	assert.False(t, running, "lock released without waiting for the engine")

	run, err := f.db.GetSyncRun(ctx, got.res.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusTimedOut, run.Status)

	errs, err := f.db.ListSyncErrors(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, string(syncerr.CategoryTimeout), errs[0].Category)
	assert.Equal(t, []string{events.EventSyncFailed}, f.seen)
}

func TestOrchestrator_StartLoop(t *testing.T) {
	f := newOrchestratorFixture(t)
	runs := make(chan string, 4)
	o := f.orchestrator(engineFunc(func(_ context.Context, _ *time.Time, source string) (*service.SyncStats, error) {
		runs <- source
		return stats(0, 0, 0), nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		o.Start(ctx)
		close(stopped)
	}()

	require.True(t, f.clock.BlockUntil(1, time.Second))
	st, err := o.Status(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st.NextRunAt)
	assert.True(t, st.NextRunAt.Equal(t0.Add(5*time.Minute)))

	f.clock.Advance(5 * time.Minute)
	select {
	case src := <-runs:
		assert.Equal(t, models.SyncSourceScheduled, src)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled run did not fire")
	}

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestOrchestrator_Status(t *testing.T) {
	f := newOrchestratorFixture(t)
	ctx := context.Background()
	o := f.orchestrator(engineFunc(func(context.Context, *time.Time, string) (*service.SyncStats, error) {
		return stats(1, 1, 0), nil
	}))

	st, err := o.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.HealthUnknown, st.Health)
	assert.Nil(t, st.LastRun)
	assert.False(t, st.Running)

	queue := NewRetryQueue(f.db, noJitter(), f.clock, nil, nil, nil)
	_, err = queue.Enqueue(ctx, paidOrder("O9"), "calendar 503", syncerr.CategoryTransient)
	require.NoError(t, err)

	_, err = o.RunSync(ctx, "", nil)
	require.NoError(t, err)

	st, err = o.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.HealthHealthy, st.Health)
	assert.Equal(t, float64(100), st.SuccessRate)
	assert.Equal(t, 1, st.PendingRetries)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, models.RunStatusCompleted, st.LastRun.Status)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name    string
		metrics *models.SyncMetrics
		want    string
	}{
		{"nil", nil, models.HealthUnknown},
		{"no runs", &models.SyncMetrics{}, models.HealthUnknown},
		{"all good", &models.SyncMetrics{TotalSyncs: 10, SuccessfulSyncs: 10}, models.HealthHealthy},
		{"exactly 90", &models.SyncMetrics{TotalSyncs: 10, SuccessfulSyncs: 9}, models.HealthHealthy},
		{"degraded", &models.SyncMetrics{TotalSyncs: 10, SuccessfulSyncs: 5}, models.HealthDegraded},
		{"failing", &models.SyncMetrics{TotalSyncs: 10, SuccessfulSyncs: 4}, models.HealthFailing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Health(tt.metrics))
		})
	}
}
