package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookingsync/internal/clock"
	"bookingsync/internal/domain"
	"bookingsync/internal/lock"
	"bookingsync/internal/models"
	"bookingsync/internal/syncerr"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Retrier is the retry queue as seen by the engine.
type Retrier interface {
	RetryEnqueuer
	DequeueReady(ctx context.Context, limit int) ([]models.RetryEntry, error)
	RecordSuccess(ctx context.Context, orderID string) error
	RecordFailure(ctx context.Context, orderID string, cause error) (*models.RetryEntry, error)
	IsPending(ctx context.Context, orderID string) (bool, error)
	List(ctx context.Context, f models.RetryFilter) ([]models.RetryEntry, error)
}

// Processor processes one order.
type Processor interface {
	ProcessOrder(ctx context.Context, order *models.Order, opts ProcessOptions) (*OrderResult, error)
}

// EngineConfig holds the batch and checkpoint settings.
type EngineConfig struct {
	BatchSize          int
	Overlap            time.Duration
	Lookback           time.Duration
	DelayBetweenOrders time.Duration
	OrderLockTTL       time.Duration
}

// SyncStats summarizes one full sync.
type SyncStats struct {
	Source         string
	Checkpoint     time.Time
	Total          int
	Processed      int
	Successful     int
	Failed         int
	Skipped        int
	Queued         int
	Retried        int
	RetrySucceeded int
	RetryFailed    int
	StartedAt      time.Time
	FinishedAt     time.Time
}

func (s *SyncStats) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Summary is a one-line description for logs and notifications.
func (s *SyncStats) Summary() string {
	return fmt.Sprintf(
		"checked %d, processed %d, synced %d, failed %d, skipped %d, queued %d; retries %d (%d ok, %d failed) in %s",
		s.Total, s.Processed, s.Successful, s.Failed, s.Skipped, s.Queued,
		s.Retried, s.RetrySucceeded, s.RetryFailed, s.Duration().Round(time.Millisecond),
	)
}

// SyncEngine pulls orders from the storefront and pushes bookings to the calendar.
type SyncEngine struct {
	source    domain.OrderSource
	processor Processor
	processed domain.ProcessedOrderStore
	retries   Retrier
	state     domain.SyncStateStore
	locker    lock.Locker
	clock     clock.Clock
	limiter   *rate.Limiter
	cfg       EngineConfig
	logger    zerolog.Logger
}

func NewSyncEngine(
	source domain.OrderSource,
	processor Processor,
	processed domain.ProcessedOrderStore,
	retries Retrier,
	state domain.SyncStateStore,
	locker lock.Locker,
	clk clock.Clock,
	cfg EngineConfig,
	logger *zerolog.Logger,
) *SyncEngine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	if cfg.OrderLockTTL <= 0 {
		cfg.OrderLockTTL = 5 * time.Minute
	}
	if clk == nil {
		clk = clock.Real{}
	}
	limit := rate.Inf
	if cfg.DelayBetweenOrders > 0 {
		limit = rate.Every(cfg.DelayBetweenOrders)
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "sync_engine").Logger()
	}
	return &SyncEngine{
		source:    source,
		processor: processor,
		processed: processed,
		retries:   retries,
		state:     state,
		locker:    locker,
		clock:     clk,
		limiter:   rate.NewLimiter(limit, 1),
		cfg:       cfg,
		logger:    l,
	}
}

// RunFullSync fetches orders changed since the checkpoint, processes them in
// sequential batches, then drains due retries. since overrides the stored checkpoint.
func (e *SyncEngine) RunFullSync(ctx context.Context, since *time.Time, source string) (*SyncStats, error) {
	if source == "" {
		source = models.SyncSourceScheduled
	}
	stats := &SyncStats{Source: source, StartedAt: e.clock.Now()}

	checkpoint, err := e.checkpoint(ctx, since, stats.StartedAt)
	if err != nil {
		return stats, err
	}
	stats.Checkpoint = checkpoint
	log := e.logger.With().Str("source", source).Time("checkpoint", checkpoint).Logger()
	log.Info().Msg("full sync started")

	orders, err := e.source.FetchOrdersSince(ctx, checkpoint, domain.OrderFilter{FinancialStatus: models.FinancialStatusPaid})
	if err != nil {
		stats.FinishedAt = e.clock.Now()
		return stats, fmt.Errorf("fetch orders since %s: %w", checkpoint.Format(time.RFC3339), err)
	}
	stats.Total = len(orders)

	candidates, err := e.filter(ctx, orders, stats)
	if err != nil {
		stats.FinishedAt = e.clock.Now()
		return stats, err
	}

	opts := ProcessOptions{QueueOnFailure: true, Source: source}
	for startIdx := 0; startIdx < len(candidates); startIdx += e.cfg.BatchSize {
		endIdx := min(startIdx+e.cfg.BatchSize, len(candidates))
		batch := candidates[startIdx:endIdx]

		var batchCheckpoint time.Time
		for i := range batch {
			if err := e.pace(ctx); err != nil {
				stats.FinishedAt = e.clock.Now()
				return stats, err
			}
			res, err := e.processLocked(ctx, &batch[i], opts)
			e.count(stats, res, err)
			if batch[i].UpdatedAt.After(batchCheckpoint) {
				batchCheckpoint = batch[i].UpdatedAt
			}
		}

		if !batchCheckpoint.IsZero() {
			e.saveState(ctx, models.SyncStateUpdate{LastSyncTime: &batchCheckpoint})
		}
		log.Debug().Int("batch_start", startIdx).Int("batch_size", len(batch)).Msg("batch processed")
	}

	if err := e.drainRetries(ctx, stats); err != nil {
		stats.FinishedAt = e.clock.Now()
		return stats, err
	}

	stats.FinishedAt = e.clock.Now()
	e.saveState(ctx, models.SyncStateUpdate{
		LastSyncTime:     &stats.StartedAt,
		OrdersChecked:    &stats.Total,
		OrdersProcessed:  &stats.Processed,
		OrdersSuccessful: &stats.Successful,
		OrdersFailed:     &stats.Failed,
	})
	log.Info().Str("summary", stats.Summary()).Msg("full sync finished")
	return stats, nil
}

// SyncOrder fetches and processes one order under its per-order lock.
func (e *SyncEngine) SyncOrder(ctx context.Context, orderID string, opts ProcessOptions) (*OrderResult, error) {
	if orderID == "" {
		return nil, syncerr.Validation("order_id", "is required")
	}
	if opts.Source == "" {
		opts.Source = models.SyncSourceManual
	}

	order, err := e.source.FetchOrder(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("fetch order %s: %w", orderID, err)
	}
	return e.processLocked(ctx, order, opts)
}

// RetryNow retries queued orders at once, ignoring next_retry_at. Without
// orderIDs every entry with attempts left is retried; named entries are
// retried even when exhausted.
func (e *SyncEngine) RetryNow(ctx context.Context, orderIDs []string) (*SyncStats, error) {
	stats := &SyncStats{Source: models.SyncSourceRetry, StartedAt: e.clock.Now()}
	open, err := e.retries.List(ctx, models.RetryFilter{})
	if err != nil {
		return stats, fmt.Errorf("list retry entries: %w", err)
	}

	var selected []models.RetryEntry
	if len(orderIDs) == 0 {
		for _, entry := range open {
			if !entry.Exhausted() {
				selected = append(selected, entry)
			}
		}
	} else {
		byID := make(map[string]models.RetryEntry, len(open))
		for _, entry := range open {
			byID[entry.OrderID] = entry
		}
		for _, id := range orderIDs {
			entry, ok := byID[id]
			if !ok {
				return stats, fmt.Errorf("order %s: %w", id, syncerr.ErrRetryEntryMissing)
			}
			selected = append(selected, entry)
		}
	}

	e.logger.Info().Int("entries", len(selected)).Msg("retrying queued orders now")
	err = e.retryEntries(ctx, selected, stats)
	stats.FinishedAt = e.clock.Now()
	return stats, err
}

// BookingPreview is one booking of a previewed order.
type BookingPreview struct {
	LineItemID  string `json:"line_item_id"`
	ProductName string `json:"product_name"`
	Date        string `json:"date"`
	Time        string `json:"time"`
}

// OrderPreview is a fetched order as the next run would see it.
type OrderPreview struct {
	OrderID     string           `json:"order_id"`
	OrderNumber string           `json:"order_number"`
	Processed   bool             `json:"processed"`
	Queued      bool             `json:"queued"`
	Bookings    []BookingPreview `json:"bookings"`
}

// SyncPreview is the result of a dry run.
type SyncPreview struct {
	Checkpoint   time.Time      `json:"checkpoint"`
	Total        int            `json:"total_orders"`
	WithBookings int            `json:"orders_with_bookings"`
	Orders       []OrderPreview `json:"orders"`
}

// Preview fetches orders like RunFullSync and lists their bookings without
// touching the calendar, the queue or the checkpoint.
func (e *SyncEngine) Preview(ctx context.Context, since *time.Time) (*SyncPreview, error) {
	checkpoint, err := e.checkpoint(ctx, since, e.clock.Now())
	if err != nil {
		return nil, err
	}
	orders, err := e.source.FetchOrdersSince(ctx, checkpoint, domain.OrderFilter{FinancialStatus: models.FinancialStatusPaid})
	if err != nil {
		return nil, fmt.Errorf("fetch orders since %s: %w", checkpoint.Format(time.RFC3339), err)
	}

	out := &SyncPreview{Checkpoint: checkpoint, Total: len(orders), Orders: []OrderPreview{}}
	for i := range orders {
		o := &orders[i]
		if !o.IsPaid() || !IsBookingOrder(o) {
			continue
		}
		p := OrderPreview{OrderID: o.ID.String(), OrderNumber: o.OrderNumber}
		if p.Processed, err = e.processed.IsOrderProcessed(ctx, p.OrderID); err != nil {
			return nil, fmt.Errorf("check processed order %s: %w", p.OrderID, err)
		}
		if p.Queued, err = e.retries.IsPending(ctx, p.OrderID); err != nil {
			return nil, fmt.Errorf("check retry queue for %s: %w", p.OrderID, err)
		}
		for _, b := range ExtractBookings(o) {
			p.Bookings = append(p.Bookings, BookingPreview{
				LineItemID:  b.LineItemID,
				ProductName: b.ProductName,
				Date:        b.Date,
				Time:        b.Time,
			})
		}
		out.Orders = append(out.Orders, p)
	}
	out.WithBookings = len(out.Orders)
	return out, nil
}

// processLocked runs the processor while holding order:<id>.
func (e *SyncEngine) processLocked(ctx context.Context, order *models.Order, opts ProcessOptions) (*OrderResult, error) {
	scope := models.OrderLockScope(order.ID.String())
	owner := lock.NewOwner()
	ok, err := e.locker.Acquire(ctx, scope, owner, e.cfg.OrderLockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", scope, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", scope, syncerr.ErrLockHeld)
	}
	defer func() {
		if _, err := e.locker.Release(context.WithoutCancel(ctx), scope, owner); err != nil {
			e.logger.Warn().Err(err).Str("scope", scope).Msg("failed to release order lock")
		}
	}()

	return e.processor.ProcessOrder(ctx, order, opts)
}

func (e *SyncEngine) checkpoint(ctx context.Context, since *time.Time, now time.Time) (time.Time, error) {
	if since != nil {
		return *since, nil
	}
	st, err := e.state.GetSyncState(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("load sync state: %w", err)
	}
	if st.LastSyncTime != nil && !st.LastSyncTime.IsZero() {
		return st.LastSyncTime.Add(-e.cfg.Overlap), nil
	}
	return now.Add(-e.cfg.Lookback), nil
}

// filter keeps paid booking orders that are neither processed nor owned by the retry queue.
func (e *SyncEngine) filter(ctx context.Context, orders []models.Order, stats *SyncStats) ([]models.Order, error) {
	out := make([]models.Order, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		if !o.IsPaid() || !IsBookingOrder(o) {
			stats.Skipped++
			continue
		}
		done, err := e.processed.IsOrderProcessed(ctx, o.ID.String())
		if err != nil {
			return nil, fmt.Errorf("check processed order %s: %w", o.ID, err)
		}
		if done {
			stats.Skipped++
			continue
		}
		pending, err := e.retries.IsPending(ctx, o.ID.String())
		if err != nil {
			return nil, fmt.Errorf("check retry queue for %s: %w", o.ID, err)
		}
		if pending {
			stats.Skipped++
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (e *SyncEngine) drainRetries(ctx context.Context, stats *SyncStats) error {
	due, err := e.retries.DequeueReady(ctx, e.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("load due retries: %w", err)
	}
	return e.retryEntries(ctx, due, stats)
}

// retryEntries reprocesses entries with force and records each outcome in the queue.
func (e *SyncEngine) retryEntries(ctx context.Context, due []models.RetryEntry, stats *SyncStats) error {
	opts := ProcessOptions{Force: true, Source: models.SyncSourceRetry}
	for i := range due {
		entry := &due[i]
		if err := e.pace(ctx); err != nil {
			return err
		}
		stats.Retried++
		log := e.logger.With().Str("order_id", entry.OrderID).Int("retry_count", entry.RetryCount).Logger()

		res, err := e.retryEntry(ctx, entry, opts)
		if errors.Is(err, syncerr.ErrLockHeld) {
			// Another worker owns the order right now; the entry stays due.
			stats.Retried--
			log.Debug().Msg("order locked, retry deferred")
			continue
		}
		if err == nil && res.Success {
			stats.RetrySucceeded++
			if err := e.retries.RecordSuccess(ctx, entry.OrderID); err != nil {
				log.Error().Err(err).Msg("failed to resolve retry entry")
			}
			continue
		}

		stats.RetryFailed++
		cause := err
		if cause == nil {
			cause = res.Err()
		}
		if _, err := e.retries.RecordFailure(ctx, entry.OrderID, cause); err != nil {
			log.Error().Err(err).Msg("failed to record retry failure")
		}
	}
	return nil
}

func (e *SyncEngine) retryEntry(ctx context.Context, entry *models.RetryEntry, opts ProcessOptions) (*OrderResult, error) {
	order := entry.Order
	if order == nil {
		fetched, err := e.source.FetchOrder(ctx, entry.OrderID)
		if err != nil {
			return nil, fmt.Errorf("fetch order %s: %w", entry.OrderID, err)
		}
		order = fetched
	}
	return e.processLocked(ctx, order, opts)
}

func (e *SyncEngine) count(stats *SyncStats, res *OrderResult, err error) {
	switch {
	case errors.Is(err, syncerr.ErrLockHeld):
		stats.Skipped++
	case err != nil:
		stats.Processed++
		stats.Failed++
		e.logger.Error().Err(err).Msg("order processing aborted")
	case res.Skipped:
		stats.Skipped++
	case res.Success:
		stats.Processed++
		stats.Successful++
	default:
		stats.Processed++
		stats.Failed++
		if res.Queued {
			stats.Queued++
		}
	}
}

func (e *SyncEngine) pace(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.limiter.Wait(ctx)
}

// saveState persists progress unless the run was already abandoned.
func (e *SyncEngine) saveState(ctx context.Context, upd models.SyncStateUpdate) {
	if ctx.Err() != nil {
		return
	}
	if err := e.state.UpdateSyncState(ctx, upd, e.clock.Now()); err != nil {
		e.logger.Error().Err(err).Msg("failed to save sync state")
	}
}
