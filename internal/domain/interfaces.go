package domain

import (
	"context"
	"time"

	"bookingsync/internal/models"
)

// OrderFilter narrows FetchOrdersSince.
type OrderFilter struct {
	FinancialStatus string
	Limit           int
}

// OrderSource is the storefront order API.
type OrderSource interface {
	// FetchOrdersSince returns orders updated at or after since, ascending by update time.
	FetchOrdersSince(ctx context.Context, since time.Time, filter OrderFilter) ([]models.Order, error)
	FetchOrder(ctx context.Context, id string) (*models.Order, error)
}

// CalendarBackend is the booking calendar.
type CalendarBackend interface {
	ListEvents(ctx context.Context, start, end time.Time) ([]models.CalendarEvent, error)
	CreateEvent(ctx context.Context, req models.EventRequest) (*models.CreatedEvent, error)
	UpdateEvent(ctx context.Context, eventID string, req models.EventRequest) error
	DeleteEvent(ctx context.Context, eventID string) error
	// FindEventByOrderID searches around near for events tagged with the order id.
	FindEventByOrderID(ctx context.Context, orderID string, near time.Time) ([]models.CalendarEvent, error)
	Ping(ctx context.Context) error
}

// ProcessedOrderStore is the idempotency ledger.
type ProcessedOrderStore interface {
	IsOrderProcessed(ctx context.Context, orderID string) (bool, error)
	RecordProcessedOrder(ctx context.Context, rec *models.ProcessedOrder) (bool, error)
}

// RetryStore persists retry entries.
type RetryStore interface {
	UpsertRetryEntry(ctx context.Context, e *models.RetryEntry, now time.Time) error
	GetRetryEntry(ctx context.Context, orderID string) (*models.RetryEntry, error)
	ListReadyRetryEntries(ctx context.Context, now time.Time, limit int) ([]models.RetryEntry, error)
	ListRetryEntries(ctx context.Context, f models.RetryFilter) ([]models.RetryEntry, error)
	RecordRetryAttempt(ctx context.Context, a models.RetryAttempt) (bool, error)
	ResolveRetryEntry(ctx context.Context, orderID, resolution string, now time.Time) (bool, error)
	CountPendingRetries(ctx context.Context) (int, error)
	HasOpenRetryEntry(ctx context.Context, orderID string) (bool, error)
}

// SyncStateStore persists run status, aggregate metrics and the run ledger.
type SyncStateStore interface {
	GetSyncState(ctx context.Context) (*models.SyncState, error)
	UpdateSyncState(ctx context.Context, upd models.SyncStateUpdate, now time.Time) error
	GetSyncMetrics(ctx context.Context) (*models.SyncMetrics, error)
	ApplyMetricsDelta(ctx context.Context, d models.MetricsDelta, now time.Time) error
	CreateSyncRun(ctx context.Context, run *models.SyncRun) error
	FinishSyncRun(ctx context.Context, run *models.SyncRun) (bool, error)
	GetLastSyncRun(ctx context.Context) (*models.SyncRun, error)
	InsertSyncError(ctx context.Context, e *models.SyncError) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// DeadLetterSink receives retry entries that exhausted their attempts.
type DeadLetterSink interface {
	Push(ctx context.Context, entry *models.RetryEntry) error
}

// DeadLetterQueue is a sink that can also be inspected by operators.
type DeadLetterQueue interface {
	DeadLetterSink
	List(ctx context.Context, limit int) ([]models.RetryEntry, error)
	Len(ctx context.Context) (int64, error)
}
