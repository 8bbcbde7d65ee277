package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"bookingsync/internal/models"
)

// RecordProcessedOrder записывает заказ и его бронирования одной транзакцией.
// Возвращает false, если запись для order_id уже существует (запись не изменяется).
func (db *DB) RecordProcessedOrder(ctx context.Context, rec *models.ProcessedOrder) (bool, error) {
	if rec.OrderID == "" {
		return false, errors.New("order id is required")
	}

	snapshot, err := json.Marshal(rec.Bookings)
	if err != nil {
		return false, fmt.Errorf("encode booking snapshot: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `
        INSERT INTO processed_orders (order_id, order_number, payment_status, booking_snapshot, calendar_event_id, sync_source, processed_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(order_id) DO NOTHING`,
		rec.OrderID, rec.OrderNumber, rec.PaymentStatus, string(snapshot), rec.CalendarEventID, rec.SyncSource, utc(rec.ProcessedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert processed order: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	for _, b := range rec.Bookings {
		_, err := tx.ExecContext(ctx, `
            INSERT INTO processed_bookings (order_id, line_item_id, product_name, booking_date, booking_time, customer_name, customer_email, calendar_event_id)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.OrderID, b.LineItemID, b.ProductName, b.BookingDate, b.BookingTime, b.CustomerName, b.CustomerEmail, b.CalendarEventID,
		)
		if err != nil {
			return false, fmt.Errorf("insert processed booking %s: %w", b.LineItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit processed order: %w", err)
	}
	return true, nil
}

// IsOrderProcessed проверяет наличие записи идемпотентности
func (db *DB) IsOrderProcessed(ctx context.Context, orderID string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM processed_orders WHERE order_id = ?`, orderID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check processed order: %w", err)
	}
	return true, nil
}

// GetProcessedOrder возвращает запись заказа вместе с бронированиями
func (db *DB) GetProcessedOrder(ctx context.Context, orderID string) (*models.ProcessedOrder, error) {
	var rec models.ProcessedOrder
	var snapshot string
	err := db.QueryRowContext(ctx, `
        SELECT order_id, order_number, payment_status, booking_snapshot, calendar_event_id, sync_source, processed_at
        FROM processed_orders WHERE order_id = ?`, orderID).
		Scan(&rec.OrderID, &rec.OrderNumber, &rec.PaymentStatus, &snapshot, &rec.CalendarEventID, &rec.SyncSource, &rec.ProcessedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get processed order: %w", err)
	}
	rec.ProcessedAt = rec.ProcessedAt.UTC()

	bookings, err := db.processedBookings(ctx, orderID)
	if err != nil {
		return nil, err
	}
	rec.Bookings = bookings
	return &rec, nil
}

func (db *DB) processedBookings(ctx context.Context, orderID string) ([]models.ProcessedBooking, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT line_item_id, product_name, booking_date, booking_time, customer_name, customer_email, calendar_event_id
        FROM processed_bookings WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("get processed bookings: %w", err)
	}
	defer rows.Close()

	var out []models.ProcessedBooking
	for rows.Next() {
		var b models.ProcessedBooking
		if err := rows.Scan(&b.LineItemID, &b.ProductName, &b.BookingDate, &b.BookingTime, &b.CustomerName, &b.CustomerEmail, &b.CalendarEventID); err != nil {
			return nil, fmt.Errorf("scan processed booking: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListProcessedOrders возвращает последние обработанные заказы (для отчётов)
func (db *DB) ListProcessedOrders(ctx context.Context, limit int) ([]models.ProcessedOrder, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := db.QueryContext(ctx, `
        SELECT order_id, order_number, payment_status, booking_snapshot, calendar_event_id, sync_source, processed_at
        FROM processed_orders ORDER BY processed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list processed orders: %w", err)
	}
	defer rows.Close()

	var out []models.ProcessedOrder
	for rows.Next() {
		var rec models.ProcessedOrder
		var snapshot string
		if err := rows.Scan(&rec.OrderID, &rec.OrderNumber, &rec.PaymentStatus, &snapshot, &rec.CalendarEventID, &rec.SyncSource, &rec.ProcessedAt); err != nil {
			return nil, fmt.Errorf("scan processed order: %w", err)
		}
		rec.ProcessedAt = rec.ProcessedAt.UTC()
		if err := json.Unmarshal([]byte(snapshot), &rec.Bookings); err != nil {
			db.logger.Warn().Err(err).Str("order_id", rec.OrderID).Msg("corrupt booking snapshot")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CountProcessedOrders возвращает количество записей в журнале
func (db *DB) CountProcessedOrders(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_orders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count processed orders: %w", err)
	}
	return n, nil
}
