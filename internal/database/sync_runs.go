package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bookingsync/internal/models"
)

const runColumns = `id, source, owner, status, started_at, finished_at, orders_fetched, orders_processed, orders_failed, retries_attempted, error`

// CreateSyncRun записывает начало запуска
func (db *DB) CreateSyncRun(ctx context.Context, run *models.SyncRun) error {
	_, err := db.ExecContext(ctx, `
        INSERT INTO sync_runs (id, source, owner, status, started_at)
        VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Source, run.Owner, run.Status, utc(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("create sync run: %w", err)
	}
	return nil
}

// FinishSyncRun сохраняет итог запуска. Запуск, уже помеченный завершённым, не перезаписывается,
// поэтому поздний результат после таймаута не затирает статус.
func (db *DB) FinishSyncRun(ctx context.Context, run *models.SyncRun) (bool, error) {
	res, err := db.ExecContext(ctx, `
        UPDATE sync_runs SET status = ?, finished_at = ?, orders_fetched = ?, orders_processed = ?,
               orders_failed = ?, retries_attempted = ?, error = ?
        WHERE id = ? AND status = ?`,
		run.Status, utcPtr(run.FinishedAt), run.OrdersFetched, run.OrdersProcessed,
		run.OrdersFailed, run.RetriesAttempted, run.Error, run.ID, models.RunStatusRunning,
	)
	if err != nil {
		return false, fmt.Errorf("finish sync run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetSyncRun возвращает запуск по идентификатору
func (db *DB) GetSyncRun(ctx context.Context, id string) (*models.SyncRun, error) {
	run, err := scanSyncRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// GetLastSyncRun возвращает последний запуск или ErrNotFound
func (db *DB) GetLastSyncRun(ctx context.Context) (*models.SyncRun, error) {
	run, err := scanSyncRun(db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// ListSyncRuns возвращает последние запуски
func (db *DB) ListSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT `+runColumns+` FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncRun
	for rows.Next() {
		run, err := scanSyncRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}

func scanSyncRun(row rowScanner) (*models.SyncRun, error) {
	var run models.SyncRun
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.Source, &run.Owner, &run.Status, &run.StartedAt, &finished,
		&run.OrdersFetched, &run.OrdersProcessed, &run.OrdersFailed, &run.RetriesAttempted, &run.Error)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan sync run: %w", err)
	}
	run.StartedAt = run.StartedAt.UTC()
	run.FinishedAt = nullTimePtr(finished)
	return &run, nil
}

// InsertSyncError сохраняет ошибку в журнал
func (db *DB) InsertSyncError(ctx context.Context, e *models.SyncError) error {
	res, err := db.ExecContext(ctx, `
        INSERT INTO sync_errors (run_id, order_id, category, message, occurred_at)
        VALUES (?, ?, ?, ?, ?)`,
		e.RunID, e.OrderID, e.Category, e.Message, utc(e.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("insert sync error: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	e.ID = id
	return nil
}

// ListSyncErrors возвращает последние ошибки, новые первыми
func (db *DB) ListSyncErrors(ctx context.Context, since time.Time, limit int) ([]models.SyncError, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
        SELECT id, run_id, order_id, category, message, occurred_at
        FROM sync_errors WHERE occurred_at >= ? ORDER BY occurred_at DESC, id DESC LIMIT ?`, utc(since), limit)
	if err != nil {
		return nil, fmt.Errorf("list sync errors: %w", err)
	}
	defer rows.Close()

	var out []models.SyncError
	for rows.Next() {
		var e models.SyncError
		if err := rows.Scan(&e.ID, &e.RunID, &e.OrderID, &e.Category, &e.Message, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan sync error: %w", err)
		}
		e.OccurredAt = e.OccurredAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
