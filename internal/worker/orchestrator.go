package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bookingsync/internal/clock"
	"bookingsync/internal/database"
	"bookingsync/internal/domain"
	"bookingsync/internal/events"
	"bookingsync/internal/lock"
	"bookingsync/internal/metrics"
	"bookingsync/internal/models"
	"bookingsync/internal/service"
	"bookingsync/internal/syncerr"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Engine runs one full sync.
type Engine interface {
	RunFullSync(ctx context.Context, since *time.Time, source string) (*service.SyncStats, error)
}

// PendingCounter reports the retry backlog.
type PendingCounter interface {
	PendingCount(ctx context.Context) (int, error)
}

// OrchestratorConfig bounds a run and schedules the next one.
type OrchestratorConfig struct {
	MaxSyncDuration time.Duration
	Trigger         Trigger
	// RunOnStart fires one run as soon as Start is called.
	RunOnStart bool
}

// RunResult describes one RunSync call.
type RunResult struct {
	Run     *models.SyncRun
	Stats   *service.SyncStats
	Skipped bool
}

// Orchestrator serializes sync runs across processes through the global lock
// and records their outcome.
type Orchestrator struct {
	engine  Engine
	locker  lock.Locker
	store   domain.SyncStateStore
	retries PendingCounter
	events  domain.EventPublisher
	clock   clock.Clock
	cfg     OrchestratorConfig
	logger  zerolog.Logger

	running atomic.Bool
	mu      sync.Mutex
	nextRun *time.Time
}

func NewOrchestrator(
	engine Engine,
	locker lock.Locker,
	store domain.SyncStateStore,
	retries PendingCounter,
	publisher domain.EventPublisher,
	clk clock.Clock,
	cfg OrchestratorConfig,
	logger *zerolog.Logger,
) *Orchestrator {
	if cfg.MaxSyncDuration <= 0 {
		cfg.MaxSyncDuration = 10 * time.Minute
	}
	if cfg.Trigger == nil {
		cfg.Trigger = IntervalTrigger{Interval: 5 * time.Minute}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "orchestrator").Logger()
	}
	return &Orchestrator{
		engine:  engine,
		locker:  locker,
		store:   store,
		retries: retries,
		events:  publisher,
		clock:   clk,
		cfg:     cfg,
		logger:  l,
	}
}

// Start runs scheduled syncs until ctx is done.
func (o *Orchestrator) Start(ctx context.Context) {
	o.logger.Info().Str("trigger", o.cfg.Trigger.String()).Msg("orchestrator started")
	defer o.logger.Info().Msg("orchestrator stopped")

	if o.cfg.RunOnStart {
		o.runScheduled(ctx)
	}

	for {
		now := o.clock.Now()
		next := o.cfg.Trigger.Next(now)
		o.setNextRun(&next)

		select {
		case <-ctx.Done():
			o.setNextRun(nil)
			return
		case <-o.clock.After(next.Sub(now)):
			o.runScheduled(ctx)
		}
	}
}

func (o *Orchestrator) runScheduled(ctx context.Context) {
	if _, err := o.RunSync(ctx, models.SyncSourceScheduled, nil); err != nil {
		o.logger.Error().Err(err).Msg("scheduled sync could not start")
	}
}

// IsSyncRunning reports whether any process holds a live global lock.
func (o *Orchestrator) IsSyncRunning(ctx context.Context) (bool, error) {
	held, _, err := lock.IsHeld(ctx, o.locker, models.LockScopeGlobal, o.clock.Now())
	return held, err
}

// RunSync performs one guarded run. A held lock skips the run without error.
// The returned error covers failures before the run starts; run failures are
// recorded on the returned SyncRun.
func (o *Orchestrator) RunSync(ctx context.Context, source string, since *time.Time) (*RunResult, error) {
	if source == "" {
		source = models.SyncSourceManual
	}

	held, err := o.IsSyncRunning(ctx)
	if err != nil {
		return nil, fmt.Errorf("read sync lock: %w", err)
	}
	if held {
		return o.skip(source), nil
	}

	owner := lock.NewOwner()
	acquired, err := o.locker.Acquire(ctx, models.LockScopeGlobal, owner, o.cfg.MaxSyncDuration)
	if err != nil {
		return nil, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !acquired {
		return o.skip(source), nil
	}

	o.running.Store(true)
	defer o.running.Store(false)
	defer o.release(ctx, owner)

	run := &models.SyncRun{
		ID:        uuid.NewString(),
		Source:    source,
		Owner:     owner,
		Status:    models.RunStatusRunning,
		StartedAt: o.clock.Now(),
	}
	log := o.logger.With().Str("run_id", run.ID).Str("source", source).Logger()
	if err := o.begin(ctx, run); err != nil {
		return nil, err
	}
	log.Info().Msg("sync run started")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		stats *service.SyncStats
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("sync panicked: %v", r)}
			}
		}()
		stats, err := o.engine.RunFullSync(runCtx, since, source)
		done <- outcome{stats: stats, err: err}
	}()

	var res *RunResult
	select {
	case out := <-done:
		status := models.RunStatusCompleted
		if out.err != nil || (out.stats != nil && out.stats.Failed > 0) {
			status = models.RunStatusFailed
		}
		res = o.finish(ctx, run, out.stats, out.err, status)
	case <-o.clock.After(o.cfg.MaxSyncDuration):
		// In-flight calls are abandoned; the engine stops writing once runCtx is canceled.
		cancel()
		res = o.finish(ctx, run, nil, syncerr.ErrTimeout, models.RunStatusTimedOut)
	case <-ctx.Done():
		res = o.finish(ctx, run, nil, ctx.Err(), models.RunStatusFailed)
	}

	log.Info().Str("status", res.Run.Status).Msg("sync run finished")
	return res, nil
}

func (o *Orchestrator) skip(source string) *RunResult {
	metrics.IncSkipped()
	o.logger.Info().Str("source", source).Msg("sync already in progress, skipping")
	return &RunResult{
		Run:     &models.SyncRun{Source: source, Status: models.RunStatusSkipped, StartedAt: o.clock.Now()},
		Skipped: true,
	}
}

func (o *Orchestrator) begin(ctx context.Context, run *models.SyncRun) error {
	if err := o.store.CreateSyncRun(ctx, run); err != nil {
		return fmt.Errorf("create sync run: %w", err)
	}
	status := models.SyncStatusRunning
	empty := ""
	zero := 0
	err := o.store.UpdateSyncState(ctx, models.SyncStateUpdate{
		Status:           &status,
		RunID:            &run.ID,
		StartedAt:        &run.StartedAt,
		LastError:        &empty,
		OrdersChecked:    &zero,
		OrdersProcessed:  &zero,
		OrdersSuccessful: &zero,
		OrdersFailed:     &zero,
	}, run.StartedAt)
	if err != nil {
		return fmt.Errorf("mark sync running: %w", err)
	}
	return nil
}

// finish closes the run ledger row, state, metrics and events. Writes use a
// context detached from cancellation so shutdown still records the outcome.
func (o *Orchestrator) finish(ctx context.Context, run *models.SyncRun, stats *service.SyncStats, runErr error, status string) *RunResult {
	ctx = context.WithoutCancel(ctx)
	now := o.clock.Now()
	duration := now.Sub(run.StartedAt)
	log := o.logger.With().Str("run_id", run.ID).Logger()

	run.Status = status
	run.FinishedAt = &now
	if stats != nil {
		run.OrdersFetched = stats.Total
		run.OrdersProcessed = stats.Processed
		run.OrdersFailed = stats.Failed
		run.RetriesAttempted = stats.Retried
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	res := &RunResult{Run: run, Stats: stats}
	finished, err := o.store.FinishSyncRun(ctx, run)
	if err != nil {
		log.Error().Err(err).Msg("failed to finish sync run")
	}
	if !finished && err == nil {
		log.Warn().Msg("sync run already finalized")
		return res
	}

	if runErr != nil {
		syncErr := &models.SyncError{
			RunID:      run.ID,
			Category:   string(syncerr.Classify(runErr)),
			Message:    runErr.Error(),
			OccurredAt: now,
		}
		if err := o.store.InsertSyncError(ctx, syncErr); err != nil {
			log.Error().Err(err).Msg("failed to record sync error")
		}
	}

	stateStatus := models.SyncStatusCompleted
	if status != models.RunStatusCompleted {
		stateStatus = models.SyncStatusFailed
	}
	upd := models.SyncStateUpdate{Status: &stateStatus, CompletedAt: &now, LastError: &run.Error}
	if stats != nil {
		upd.OrdersChecked = &stats.Total
		upd.OrdersProcessed = &stats.Processed
		upd.OrdersSuccessful = &stats.Successful
		upd.OrdersFailed = &stats.Failed
	}
	if err := o.store.UpdateSyncState(ctx, upd, now); err != nil {
		log.Error().Err(err).Msg("failed to update sync state")
	}

	delta := models.MetricsDelta{
		Success:  status == models.RunStatusCompleted,
		Duration: duration,
		RunAt:    run.StartedAt,
	}
	if stats != nil {
		delta.Orders = stats.Processed
		delta.FailedOrders = stats.Failed
	}
	if err := o.store.ApplyMetricsDelta(ctx, delta, now); err != nil {
		log.Error().Err(err).Msg("failed to update sync metrics")
	}
	metrics.ObserveRun(status, duration)

	if o.retries != nil {
		if _, err := o.retries.PendingCount(ctx); err != nil {
			log.Warn().Err(err).Msg("failed to refresh retry backlog")
		}
	}

	o.publish(run, stats, duration)
	if stats != nil {
		log.Info().Str("summary", stats.Summary()).Msg("sync summary")
	}
	return res
}

func (o *Orchestrator) publish(run *models.SyncRun, stats *service.SyncStats, duration time.Duration) {
	if o.events == nil {
		return
	}
	payload := events.RunEventPayload{
		RunID:    run.ID,
		Source:   run.Source,
		Status:   run.Status,
		Duration: duration,
		Error:    run.Error,
	}
	if stats != nil {
		payload.Checked = stats.Total
		payload.Successful = stats.Successful
		payload.Failed = stats.Failed
		payload.Skipped = stats.Skipped
		payload.Retried = stats.Retried
	}
	eventType := events.EventSyncCompleted
	if run.Status != models.RunStatusCompleted && run.Error != "" {
		eventType = events.EventSyncFailed
	}
	if err := o.events.PublishJSON(eventType, payload); err != nil {
		o.logger.Warn().Err(err).Str("event", eventType).Msg("failed to publish event")
	}
}

func (o *Orchestrator) release(ctx context.Context, owner string) {
	released, err := o.locker.Release(context.WithoutCancel(ctx), models.LockScopeGlobal, owner)
	if err != nil {
		o.logger.Error().Err(err).Str("owner", owner).Msg("failed to release sync lock")
		return
	}
	if !released {
		o.logger.Warn().Str("owner", owner).Msg("sync lock was no longer ours")
	}
}

func (o *Orchestrator) setNextRun(t *time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.nextRun = t
}

// Status assembles the operator health report.
func (o *Orchestrator) Status(ctx context.Context) (*models.SyncStatus, error) {
	now := o.clock.Now()
	held, lockState, err := lock.IsHeld(ctx, o.locker, models.LockScopeGlobal, now)
	if err != nil {
		return nil, fmt.Errorf("read sync lock: %w", err)
	}
	state, err := o.store.GetSyncState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sync state: %w", err)
	}
	m, err := o.store.GetSyncMetrics(ctx)
	if err != nil {
		return nil, fmt.Errorf("load sync metrics: %w", err)
	}

	status := &models.SyncStatus{
		Health:      Health(m),
		Running:     held || o.running.Load(),
		Lock:        lockState,
		State:       state,
		Metrics:     m,
		SuccessRate: m.SuccessRate(),
	}

	last, err := o.store.GetLastSyncRun(ctx)
	switch {
	case err == nil:
		status.LastRun = last
	case !errors.Is(err, database.ErrNotFound):
		return nil, fmt.Errorf("load last run: %w", err)
	}

	if o.retries != nil {
		n, err := o.retries.PendingCount(ctx)
		if err != nil {
			return nil, fmt.Errorf("count pending retries: %w", err)
		}
		status.PendingRetries = n
	}

	o.mu.Lock()
	if o.nextRun != nil {
		next := *o.nextRun
		status.NextRunAt = &next
	}
	o.mu.Unlock()
	return status, nil
}

// Health grades rolling run success: unknown without runs, then healthy at 90%
// and degraded at 50%.
func Health(m *models.SyncMetrics) string {
	if m == nil {
		return models.HealthUnknown
	}
	rate := m.SuccessRate()
	switch {
	case rate < 0:
		return models.HealthUnknown
	case rate >= 90:
		return models.HealthHealthy
	case rate >= 50:
		return models.HealthDegraded
	default:
		return models.HealthFailing
	}
}
