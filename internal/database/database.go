package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

// ErrNotFound is returned when a keyed row does not exist.
var ErrNotFound = errors.New("record not found")

// DB is the durable store for the sync engine.
type DB struct {
	*sql.DB
	path   string
	logger zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "database").Logger()
	}

	dsn := path
	if path != ":memory:" {
		// Создаем директорию для БД, если её нет
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}

	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Один writer: условные записи блокировок и очереди сериализуются
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	db := &DB{DB: sqlDB, path: path, logger: l}
	if err := db.ensureColumn("sync_runs", "retries_attempted", "INTEGER NOT NULL DEFAULT 0"); err != nil {
		sqlDB.Close()
		return nil, err
	}

	l.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		// Журнал обработанных заказов (append-only)
		`CREATE TABLE IF NOT EXISTS processed_orders (
            order_id TEXT PRIMARY KEY,
            order_number TEXT NOT NULL DEFAULT '',
            payment_status TEXT NOT NULL DEFAULT '',
            booking_snapshot TEXT NOT NULL DEFAULT '[]',
            calendar_event_id TEXT NOT NULL DEFAULT '',
            sync_source TEXT NOT NULL,
            processed_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS processed_bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            order_id TEXT NOT NULL REFERENCES processed_orders(order_id),
            line_item_id TEXT NOT NULL,
            product_name TEXT NOT NULL,
            booking_date TEXT NOT NULL,
            booking_time TEXT NOT NULL,
            customer_name TEXT NOT NULL DEFAULT '',
            customer_email TEXT NOT NULL DEFAULT '',
            calendar_event_id TEXT NOT NULL DEFAULT '',
            UNIQUE(order_id, line_item_id)
        )`,
		// Очередь повторов
		`CREATE TABLE IF NOT EXISTS retry_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            order_id TEXT NOT NULL UNIQUE,
            order_number TEXT NOT NULL DEFAULT '',
            order_data TEXT NOT NULL,
            failure_reason TEXT NOT NULL DEFAULT '',
            failure_category TEXT NOT NULL DEFAULT '',
            retry_count INTEGER NOT NULL DEFAULT 0,
            max_retries INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            last_attempt_at DATETIME,
            next_retry_at DATETIME NOT NULL,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            resolved_at DATETIME,
            resolution TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS sync_lock (
            scope TEXT PRIMARY KEY,
            locked INTEGER NOT NULL DEFAULT 0,
            locked_at DATETIME,
            owner TEXT,
            expires_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS sync_state (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            status TEXT NOT NULL DEFAULT 'idle',
            run_id TEXT NOT NULL DEFAULT '',
            started_at DATETIME,
            completed_at DATETIME,
            last_sync_time DATETIME,
            orders_checked INTEGER NOT NULL DEFAULT 0,
            orders_processed INTEGER NOT NULL DEFAULT 0,
            orders_successful INTEGER NOT NULL DEFAULT 0,
            orders_failed INTEGER NOT NULL DEFAULT 0,
            last_error TEXT NOT NULL DEFAULT '',
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sync_metrics (
            id INTEGER PRIMARY KEY CHECK (id = 1),
            total_syncs INTEGER NOT NULL DEFAULT 0,
            successful_syncs INTEGER NOT NULL DEFAULT 0,
            failed_syncs INTEGER NOT NULL DEFAULT 0,
            total_orders INTEGER NOT NULL DEFAULT 0,
            total_failed_orders INTEGER NOT NULL DEFAULT 0,
            last_run_at DATETIME,
            last_duration_ms INTEGER NOT NULL DEFAULT 0,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
            id TEXT PRIMARY KEY,
            source TEXT NOT NULL,
            owner TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL,
            started_at DATETIME NOT NULL,
            finished_at DATETIME,
            orders_fetched INTEGER NOT NULL DEFAULT 0,
            orders_processed INTEGER NOT NULL DEFAULT 0,
            orders_failed INTEGER NOT NULL DEFAULT 0,
            error TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS sync_errors (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL DEFAULT '',
            order_id TEXT NOT NULL DEFAULT '',
            category TEXT NOT NULL,
            message TEXT NOT NULL,
            occurred_at DATETIME NOT NULL
        )`,

		`INSERT INTO sync_state (id, status, updated_at) VALUES (1, 'idle', CURRENT_TIMESTAMP)
            ON CONFLICT(id) DO NOTHING`,
		`INSERT INTO sync_metrics (id, updated_at) VALUES (1, CURRENT_TIMESTAMP)
            ON CONFLICT(id) DO NOTHING`,

		`CREATE INDEX IF NOT EXISTS idx_retry_queue_ready ON retry_queue(resolved_at, next_retry_at)`,
		`CREATE INDEX IF NOT EXISTS idx_processed_orders_processed_at ON processed_orders(processed_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_errors_occurred_at ON sync_errors(occurred_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// ensureColumn добавляет колонку в существующую таблицу (миграция старых БД)
func (db *DB) ensureColumn(table, column, decl string) error {
	_, err := db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, decl))
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
		return fmt.Errorf("add column %s.%s: %w", table, column, err)
	}
	return nil
}

// utc normalizes times before binding so lexical comparison in SQLite stays chronological.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
