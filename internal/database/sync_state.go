package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"bookingsync/internal/models"
)

// GetSyncState возвращает строку состояния синхронизации
func (db *DB) GetSyncState(ctx context.Context) (*models.SyncState, error) {
	var s models.SyncState
	var startedAt, completedAt, lastSync sql.NullTime
	err := db.QueryRowContext(ctx, `
        SELECT status, run_id, started_at, completed_at, last_sync_time,
               orders_checked, orders_processed, orders_successful, orders_failed, last_error, updated_at
        FROM sync_state WHERE id = 1`).
		Scan(&s.Status, &s.RunID, &startedAt, &completedAt, &lastSync,
			&s.OrdersChecked, &s.OrdersProcessed, &s.OrdersSuccessful, &s.OrdersFailed, &s.LastError, &s.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	s.StartedAt = nullTimePtr(startedAt)
	s.CompletedAt = nullTimePtr(completedAt)
	s.LastSyncTime = nullTimePtr(lastSync)
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

// UpdateSyncState обновляет только заданные поля состояния
func (db *DB) UpdateSyncState(ctx context.Context, upd models.SyncStateUpdate, now time.Time) error {
	sets := []string{"updated_at = ?"}
	args := []any{utc(now)}

	add := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Status != nil {
		add("status", *upd.Status)
	}
	if upd.RunID != nil {
		add("run_id", *upd.RunID)
	}
	if upd.StartedAt != nil {
		add("started_at", utc(*upd.StartedAt))
	}
	if upd.CompletedAt != nil {
		add("completed_at", utc(*upd.CompletedAt))
	}
	if upd.LastSyncTime != nil {
		add("last_sync_time", utc(*upd.LastSyncTime))
	}
	if upd.OrdersChecked != nil {
		add("orders_checked", *upd.OrdersChecked)
	}
	if upd.OrdersProcessed != nil {
		add("orders_processed", *upd.OrdersProcessed)
	}
	if upd.OrdersSuccessful != nil {
		add("orders_successful", *upd.OrdersSuccessful)
	}
	if upd.OrdersFailed != nil {
		add("orders_failed", *upd.OrdersFailed)
	}
	if upd.LastError != nil {
		add("last_error", *upd.LastError)
	}

	query := "UPDATE sync_state SET " + strings.Join(sets, ", ") + " WHERE id = 1"
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update sync state: %w", err)
	}
	return nil
}

// GetSyncMetrics возвращает накопленные счётчики
func (db *DB) GetSyncMetrics(ctx context.Context) (*models.SyncMetrics, error) {
	var m models.SyncMetrics
	var lastRun sql.NullTime
	err := db.QueryRowContext(ctx, `
        SELECT total_syncs, successful_syncs, failed_syncs, total_orders, total_failed_orders,
               last_run_at, last_duration_ms, updated_at
        FROM sync_metrics WHERE id = 1`).
		Scan(&m.TotalSyncs, &m.SuccessfulSyncs, &m.FailedSyncs, &m.TotalOrders, &m.TotalFailedOrders,
			&lastRun, &m.LastDurationMS, &m.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get sync metrics: %w", err)
	}
	m.LastRunAt = nullTimePtr(lastRun)
	m.UpdatedAt = m.UpdatedAt.UTC()
	return &m, nil
}

// ApplyMetricsDelta прибавляет результат одного запуска к счётчикам
func (db *DB) ApplyMetricsDelta(ctx context.Context, d models.MetricsDelta, now time.Time) error {
	success, failed := 0, 1
	if d.Success {
		success, failed = 1, 0
	}
	_, err := db.ExecContext(ctx, `
        UPDATE sync_metrics SET
            total_syncs = total_syncs + 1,
            successful_syncs = successful_syncs + ?,
            failed_syncs = failed_syncs + ?,
            total_orders = total_orders + ?,
            total_failed_orders = total_failed_orders + ?,
            last_run_at = ?,
            last_duration_ms = ?,
            updated_at = ?
        WHERE id = 1`,
		success, failed, d.Orders, d.FailedOrders, utc(d.RunAt), d.Duration.Milliseconds(), utc(now),
	)
	if err != nil {
		return fmt.Errorf("apply metrics delta: %w", err)
	}
	return nil
}
