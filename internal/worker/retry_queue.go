package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookingsync/internal/clock"
	"bookingsync/internal/database"
	"bookingsync/internal/domain"
	"bookingsync/internal/events"
	"bookingsync/internal/metrics"
	"bookingsync/internal/models"
	"bookingsync/internal/syncerr"

	"github.com/rs/zerolog"
)

// RetryQueue schedules failed orders for another attempt with exponential backoff.
type RetryQueue struct {
	store      domain.RetryStore
	policy     RetryPolicy
	clock      clock.Clock
	deadLetter domain.DeadLetterSink
	events     domain.EventPublisher
	logger     zerolog.Logger
}

// NewRetryQueue builds a queue with sane defaults. deadLetter and publisher may be nil.
func NewRetryQueue(
	store domain.RetryStore,
	policy RetryPolicy,
	clk clock.Clock,
	deadLetter domain.DeadLetterSink,
	publisher domain.EventPublisher,
	logger *zerolog.Logger,
) *RetryQueue {
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = 5
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Minute
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 24 * time.Hour
	}
	if clk == nil {
		clk = clock.Real{}
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "retry_queue").Logger()
	}
	return &RetryQueue{
		store:      store,
		policy:     policy,
		clock:      clk,
		deadLetter: deadLetter,
		events:     publisher,
		logger:     l,
	}
}

// Policy returns the backoff policy in effect.
func (q *RetryQueue) Policy() RetryPolicy {
	return q.policy
}

// Enqueue inserts the order or, if already queued, replaces its failure and resets the counter.
func (q *RetryQueue) Enqueue(ctx context.Context, order *models.Order, reason string, category syncerr.Category) (*models.RetryEntry, error) {
	if order == nil || order.ID == "" {
		return nil, errors.New("order with id is required")
	}
	if !category.Retryable() {
		return nil, fmt.Errorf("category %q is not retryable", category)
	}

	now := q.clock.Now()
	next := now.Add(q.policy.NextDelay(0))
	entry := &models.RetryEntry{
		OrderID:         order.ID.String(),
		OrderNumber:     order.OrderNumber,
		Order:           order,
		FailureReason:   reason,
		FailureCategory: string(category),
		MaxRetries:      q.policy.MaxRetries,
		NextRetryAt:     &next,
	}
	if err := q.store.UpsertRetryEntry(ctx, entry, now); err != nil {
		return nil, err
	}

	metrics.IncRetry("enqueued")
	q.logger.Info().
		Str("order_id", entry.OrderID).
		Str("category", entry.FailureCategory).
		Time("next_retry_at", next).
		Msg("order queued for retry")
	return q.store.GetRetryEntry(ctx, entry.OrderID)
}

// DequeueReady returns up to limit unresolved, non-exhausted entries that are due, oldest due first.
// Entries stay in the queue until RecordSuccess or RecordFailure.
func (q *RetryQueue) DequeueReady(ctx context.Context, limit int) ([]models.RetryEntry, error) {
	return q.store.ListReadyRetryEntries(ctx, q.clock.Now(), limit)
}

// RecordFailure counts a failed retry and schedules the next one. When the
// counter reaches MaxRetries the entry stays unresolved for manual review and
// is handed to the dead-letter sink.
func (q *RetryQueue) RecordFailure(ctx context.Context, orderID string, cause error) (*models.RetryEntry, error) {
	entry, err := q.store.GetRetryEntry(ctx, orderID)
	if errors.Is(err, database.ErrNotFound) {
		return nil, syncerr.ErrRetryEntryMissing
	}
	if err != nil {
		return nil, err
	}
	if entry.ResolvedAt != nil {
		return entry, nil
	}

	now := q.clock.Now()
	count := entry.RetryCount + 1
	reason := ""
	category := ""
	if cause != nil {
		reason = cause.Error()
		category = string(syncerr.Classify(cause))
	}
	// Ошибки валидации не исправятся повтором, сразу на ручной разбор
	final := category == string(syncerr.CategoryValidation)
	exhausted := final || count >= entry.MaxRetries

	ok, err := q.store.RecordRetryAttempt(ctx, models.RetryAttempt{
		OrderID:       orderID,
		ExpectedCount: entry.RetryCount,
		Reason:        reason,
		Category:      category,
		NextRetryAt:   now.Add(q.policy.NextDelay(count)),
		Exhausted:     exhausted,
		Final:         final,
		At:            now,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, syncerr.ErrStaleRetryEntry
	}

	updated, err := q.store.GetRetryEntry(ctx, orderID)
	if err != nil {
		return nil, err
	}

	log := q.logger.With().Str("order_id", orderID).Int("retry_count", updated.RetryCount).Logger()
	if !exhausted {
		metrics.IncRetry("failed")
		log.Warn().Str("reason", reason).Msg("retry failed, rescheduled")
		return updated, nil
	}

	metrics.IncRetry("exhausted")
	log.Error().Str("reason", reason).Msg("retries exhausted, manual review required")
	if q.deadLetter != nil {
		if err := q.deadLetter.Push(ctx, updated); err != nil {
			log.Warn().Err(err).Msg("dead-letter push failed")
		}
	}
	if q.events != nil {
		_ = q.events.PublishJSON(events.EventRetryExhausted, events.OrderEventPayload{
			OrderID:     updated.OrderID,
			OrderNumber: updated.OrderNumber,
			Source:      models.SyncSourceRetry,
			Category:    updated.FailureCategory,
			Error:       updated.FailureReason,
			RetryCount:  updated.RetryCount,
			MaxRetries:  updated.MaxRetries,
		})
	}
	return updated, nil
}

// RecordSuccess resolves the entry as synced. Missing or resolved entries are a no-op.
func (q *RetryQueue) RecordSuccess(ctx context.Context, orderID string) error {
	resolved, err := q.store.ResolveRetryEntry(ctx, orderID, models.ResolutionSuccess, q.clock.Now())
	if err != nil {
		return err
	}
	if resolved {
		metrics.IncRetry("resolved")
		q.logger.Info().Str("order_id", orderID).Msg("retry entry resolved")
	}
	return nil
}

// Resolve closes an entry by hand, typically after an exhausted entry was fixed out of band.
func (q *RetryQueue) Resolve(ctx context.Context, orderID, resolution string) error {
	if resolution == "" {
		resolution = models.ResolutionManual
	}
	resolved, err := q.store.ResolveRetryEntry(ctx, orderID, resolution, q.clock.Now())
	if err != nil {
		return err
	}
	if !resolved {
		return syncerr.ErrRetryEntryMissing
	}
	q.logger.Info().Str("order_id", orderID).Str("resolution", resolution).Msg("retry entry resolved manually")
	return nil
}

func (q *RetryQueue) Get(ctx context.Context, orderID string) (*models.RetryEntry, error) {
	return q.store.GetRetryEntry(ctx, orderID)
}

func (q *RetryQueue) List(ctx context.Context, f models.RetryFilter) ([]models.RetryEntry, error) {
	return q.store.ListRetryEntries(ctx, f)
}

// PendingCount returns entries still eligible for retry and refreshes the depth gauge.
func (q *RetryQueue) PendingCount(ctx context.Context) (int, error) {
	n, err := q.store.CountPendingRetries(ctx)
	if err != nil {
		return 0, err
	}
	metrics.SetRetryQueueDepth(n)
	return n, nil
}

// IsPending reports whether the order has an unresolved entry, exhausted or not.
func (q *RetryQueue) IsPending(ctx context.Context, orderID string) (bool, error) {
	return q.store.HasOpenRetryEntry(ctx, orderID)
}
