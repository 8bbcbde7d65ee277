package models

import "time"

// RetryEntry is a failed order awaiting another attempt.
type RetryEntry struct {
	ID              int64      `json:"id"`
	OrderID         string     `json:"order_id"`
	OrderNumber     string     `json:"order_number"`
	Order           *Order     `json:"order,omitempty"`
	FailureReason   string     `json:"failure_reason"`
	FailureCategory string     `json:"failure_category"`
	RetryCount      int        `json:"retry_count"`
	MaxRetries      int        `json:"max_retries"`
	Status          string     `json:"status"`
	LastAttemptAt   *time.Time `json:"last_attempt_at,omitempty"`
	NextRetryAt     *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	Resolution      string     `json:"resolution,omitempty"`
}

// Exhausted reports whether the entry has used all attempts.
func (e *RetryEntry) Exhausted() bool {
	return e.RetryCount >= e.MaxRetries
}

// RetryFilter narrows operator listings of the retry queue.
type RetryFilter struct {
	Exhausted       bool
	IncludeResolved bool
	Limit           int
}

// RetryAttempt records one failed retry. The update applies only while the
// stored retry_count still equals ExpectedCount.
type RetryAttempt struct {
	OrderID       string
	ExpectedCount int
	Reason        string
	Category      string
	NextRetryAt   time.Time
	Exhausted     bool
	// Final jumps retry_count to max_retries so the entry leaves rotation now.
	Final bool
	At    time.Time
}

// LockState is the persisted view of a scoped lock.
type LockState struct {
	Scope     string     `json:"scope"`
	Locked    bool       `json:"locked"`
	Owner     string     `json:"owner,omitempty"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Held reports whether the lock is taken and not yet expired at now.
func (l *LockState) Held(now time.Time) bool {
	if l == nil || !l.Locked {
		return false
	}
	return l.ExpiresAt == nil || l.ExpiresAt.After(now)
}

// SyncState is the singleton run status and checkpoint row.
type SyncState struct {
	Status           string     `json:"status"`
	RunID            string     `json:"run_id,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	LastSyncTime     *time.Time `json:"last_sync_time,omitempty"`
	OrdersChecked    int        `json:"orders_checked"`
	OrdersProcessed  int        `json:"orders_processed"`
	OrdersSuccessful int        `json:"orders_successful"`
	OrdersFailed     int        `json:"orders_failed"`
	LastError        string     `json:"last_error,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// SyncStateUpdate carries the fields to change; nil fields are left intact.
type SyncStateUpdate struct {
	Status           *string
	RunID            *string
	StartedAt        *time.Time
	CompletedAt      *time.Time
	LastSyncTime     *time.Time
	OrdersChecked    *int
	OrdersProcessed  *int
	OrdersSuccessful *int
	OrdersFailed     *int
	LastError        *string
}

// SyncMetrics are cumulative counters across all runs.
type SyncMetrics struct {
	TotalSyncs        int        `json:"total_syncs"`
	SuccessfulSyncs   int        `json:"successful_syncs"`
	FailedSyncs       int        `json:"failed_syncs"`
	TotalOrders       int        `json:"total_orders"`
	TotalFailedOrders int        `json:"total_failed_orders"`
	LastRunAt         *time.Time `json:"last_run_at,omitempty"`
	LastDurationMS    int64      `json:"last_duration_ms"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// SuccessRate returns the percentage of successful runs, or -1 with no runs.
func (m *SyncMetrics) SuccessRate() float64 {
	if m.TotalSyncs == 0 {
		return -1
	}
	return float64(m.SuccessfulSyncs) * 100 / float64(m.TotalSyncs)
}

// MetricsDelta is added to SyncMetrics at the end of a run.
type MetricsDelta struct {
	Success      bool
	Orders       int
	FailedOrders int
	Duration     time.Duration
	RunAt        time.Time
}

// SyncRun is one row of the run ledger.
type SyncRun struct {
	ID               string     `json:"id"`
	Source           string     `json:"source"`
	Owner            string     `json:"owner"`
	Status           string     `json:"status"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	OrdersFetched    int        `json:"orders_fetched"`
	OrdersProcessed  int        `json:"orders_processed"`
	OrdersFailed     int        `json:"orders_failed"`
	RetriesAttempted int        `json:"retries_attempted"`
	Error            string     `json:"error,omitempty"`
}

// SyncError is a persisted failure record.
type SyncError struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Category   string    `json:"category"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SyncStatus is the operator-facing health report.
type SyncStatus struct {
	Health         string       `json:"health"`
	Running        bool         `json:"running"`
	Lock           *LockState   `json:"lock,omitempty"`
	State          *SyncState   `json:"state,omitempty"`
	Metrics        *SyncMetrics `json:"metrics,omitempty"`
	SuccessRate    float64      `json:"success_rate"`
	PendingRetries int          `json:"pending_retries"`
	LastRun        *SyncRun     `json:"last_run,omitempty"`
	NextRunAt      *time.Time   `json:"next_run_at,omitempty"`
}
