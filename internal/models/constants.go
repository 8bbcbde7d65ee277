package models

const (
	RetryStatusPending  = "pending"
	RetryStatusResolved = "resolved"
	RetryStatusFailed   = "failed"
)

const (
	ResolutionSuccess = "success"
	ResolutionManual  = "manual"
)

const (
	SyncSourceScheduled = "scheduled"
	SyncSourceManual    = "manual"
	SyncSourceRetry     = "retry"
	SyncSourceFrontend  = "frontend_trigger"
)

const (
	SyncStatusIdle      = "idle"
	SyncStatusRunning   = "running"
	SyncStatusCompleted = "completed"
	SyncStatusFailed    = "failed"
)

const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
	RunStatusTimedOut  = "timed_out"
	RunStatusSkipped   = "skipped"
)

const (
	HealthUnknown  = "unknown"
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthFailing  = "failing"
)

const (
	// LockScopeGlobal guards whole sync runs.
	LockScopeGlobal = "sync:global"
	// LockScopeOrderPrefix prefixes per-order lock scopes.
	LockScopeOrderPrefix = "order:"

	// DeadLetterKey is the redis list receiving exhausted retry entries.
	DeadLetterKey = "bookingsync:deadletter"

	// EventPropertyOrderID is the private extended property tagging calendar events.
	EventPropertyOrderID    = "orderId"
	EventPropertyLineItemID = "lineItemId"
	EventPropertyOrderNo    = "orderNumber"

	// FindEventWindowDays bounds the duplicate-event search around the booking date.
	FindEventWindowDays = 30
)

// OrderLockScope returns the lock scope serializing work on a single order.
func OrderLockScope(orderID string) string {
	return LockScopeOrderPrefix + orderID
}
