package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bookingsync/internal/models"
)

const retryColumns = `id, order_id, order_number, order_data, failure_reason, failure_category, retry_count, max_retries,
        status, last_attempt_at, next_retry_at, created_at, updated_at, resolved_at, resolution`

// UpsertRetryEntry вставляет запись или, если order_id уже в очереди, заменяет причину
// и сбрасывает счётчик попыток. Решённая запись открывается заново.
func (db *DB) UpsertRetryEntry(ctx context.Context, e *models.RetryEntry, now time.Time) error {
	if e.OrderID == "" {
		return errors.New("order id is required")
	}
	if e.NextRetryAt == nil {
		return errors.New("next retry time is required")
	}
	data, err := json.Marshal(e.Order)
	if err != nil {
		return fmt.Errorf("encode order payload: %w", err)
	}

	_, err = db.ExecContext(ctx, `
        INSERT INTO retry_queue (order_id, order_number, order_data, failure_reason, failure_category,
                                 retry_count, max_retries, status, last_attempt_at, next_retry_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, 0, ?, 'pending', ?, ?, ?, ?)
        ON CONFLICT(order_id) DO UPDATE SET
            order_number = excluded.order_number,
            order_data = excluded.order_data,
            failure_reason = excluded.failure_reason,
            failure_category = excluded.failure_category,
            retry_count = 0,
            max_retries = excluded.max_retries,
            status = 'pending',
            last_attempt_at = excluded.last_attempt_at,
            next_retry_at = excluded.next_retry_at,
            updated_at = excluded.updated_at,
            resolved_at = NULL,
            resolution = NULL`,
		e.OrderID, e.OrderNumber, string(data), e.FailureReason, e.FailureCategory,
		e.MaxRetries, utc(now), utc(*e.NextRetryAt), utc(now), utc(now),
	)
	if err != nil {
		return fmt.Errorf("upsert retry entry: %w", err)
	}
	return nil
}

// GetRetryEntry возвращает запись очереди по order_id
func (db *DB) GetRetryEntry(ctx context.Context, orderID string) (*models.RetryEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+retryColumns+` FROM retry_queue WHERE order_id = ?`, orderID)
	e, err := scanRetryEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get retry entry: %w", err)
	}
	return e, nil
}

// ListReadyRetryEntries возвращает записи, готовые к повтору на момент now
func (db *DB) ListReadyRetryEntries(ctx context.Context, now time.Time, limit int) ([]models.RetryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := db.QueryContext(ctx, `SELECT `+retryColumns+`
        FROM retry_queue
        WHERE resolved_at IS NULL AND retry_count < max_retries AND next_retry_at <= ?
        ORDER BY next_retry_at ASC, id ASC
        LIMIT ?`, utc(now), limit)
	if err != nil {
		return nil, fmt.Errorf("list ready retry entries: %w", err)
	}
	return collectRetryEntries(rows)
}

// ListRetryEntries возвращает записи очереди для операторов
func (db *DB) ListRetryEntries(ctx context.Context, f models.RetryFilter) ([]models.RetryEntry, error) {
	var where []string
	if !f.IncludeResolved {
		where = append(where, "resolved_at IS NULL")
	}
	if f.Exhausted {
		where = append(where, "retry_count >= max_retries")
	}
	query := `SELECT ` + retryColumns + ` FROM retry_queue`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY next_retry_at ASC, id ASC"
	var args []any
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list retry entries: %w", err)
	}
	return collectRetryEntries(rows)
}

// RecordRetryAttempt увеличивает retry_count только если он всё ещё равен ExpectedCount.
// Возвращает false, если запись изменена конкурентно или уже решена.
func (db *DB) RecordRetryAttempt(ctx context.Context, a models.RetryAttempt) (bool, error) {
	status := models.RetryStatusPending
	if a.Exhausted || a.Final {
		status = models.RetryStatusFailed
	}
	res, err := db.ExecContext(ctx, `
        UPDATE retry_queue SET
            retry_count = CASE WHEN ? THEN max(max_retries, retry_count + 1) ELSE retry_count + 1 END,
            failure_reason = ?,
            failure_category = CASE WHEN ? = '' THEN failure_category ELSE ? END,
            status = ?,
            last_attempt_at = ?,
            next_retry_at = ?,
            updated_at = ?
        WHERE order_id = ? AND retry_count = ? AND resolved_at IS NULL`,
		a.Final, a.Reason, a.Category, a.Category, status, utc(a.At), utc(a.NextRetryAt), utc(a.At),
		a.OrderID, a.ExpectedCount,
	)
	if err != nil {
		return false, fmt.Errorf("record retry attempt: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ResolveRetryEntry помечает запись решённой; повторное решение не меняет запись
func (db *DB) ResolveRetryEntry(ctx context.Context, orderID, resolution string, now time.Time) (bool, error) {
	res, err := db.ExecContext(ctx, `
        UPDATE retry_queue SET resolved_at = ?, resolution = ?, status = 'resolved', updated_at = ?
        WHERE order_id = ? AND resolved_at IS NULL`,
		utc(now), resolution, utc(now), orderID,
	)
	if err != nil {
		return false, fmt.Errorf("resolve retry entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountPendingRetries считает нерешённые записи, которые ещё будут повторены
func (db *DB) CountPendingRetries(ctx context.Context) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM retry_queue WHERE resolved_at IS NULL AND retry_count < max_retries`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending retries: %w", err)
	}
	return n, nil
}

// HasOpenRetryEntry проверяет, ждёт ли заказ повтора или ручного решения
func (db *DB) HasOpenRetryEntry(ctx context.Context, orderID string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM retry_queue WHERE order_id = ? AND resolved_at IS NULL`, orderID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check retry entry: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRetryEntry(row rowScanner) (*models.RetryEntry, error) {
	var e models.RetryEntry
	var data string
	var lastAttempt, nextRetry, resolvedAt sql.NullTime
	var resolution sql.NullString
	err := row.Scan(&e.ID, &e.OrderID, &e.OrderNumber, &data, &e.FailureReason, &e.FailureCategory,
		&e.RetryCount, &e.MaxRetries, &e.Status, &lastAttempt, &nextRetry, &e.CreatedAt, &e.UpdatedAt,
		&resolvedAt, &resolution)
	if err != nil {
		return nil, err
	}
	if data != "" && data != "null" {
		var order models.Order
		if err := json.Unmarshal([]byte(data), &order); err != nil {
			return nil, fmt.Errorf("decode order payload for %s: %w", e.OrderID, err)
		}
		e.Order = &order
	}
	e.LastAttemptAt = nullTimePtr(lastAttempt)
	e.NextRetryAt = nullTimePtr(nextRetry)
	e.ResolvedAt = nullTimePtr(resolvedAt)
	e.Resolution = resolution.String
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}

func collectRetryEntries(rows *sql.Rows) ([]models.RetryEntry, error) {
	defer rows.Close()
	var out []models.RetryEntry
	for rows.Next() {
		e, err := scanRetryEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan retry entry: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}
