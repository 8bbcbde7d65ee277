package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bookingsync/internal/models"
)

// TryAcquireLock захватывает блокировку scope одним условным оператором:
// строка создаётся, либо перезаписывается только если она свободна или просрочена.
func (db *DB) TryAcquireLock(ctx context.Context, scope, owner string, now, expiresAt time.Time) (bool, error) {
	if scope == "" || owner == "" {
		return false, errors.New("lock scope and owner are required")
	}
	res, err := db.ExecContext(ctx, `
        INSERT INTO sync_lock (scope, locked, locked_at, owner, expires_at)
        VALUES (?, 1, ?, ?, ?)
        ON CONFLICT(scope) DO UPDATE SET
            locked = 1,
            locked_at = excluded.locked_at,
            owner = excluded.owner,
            expires_at = excluded.expires_at
        WHERE sync_lock.locked = 0
           OR sync_lock.expires_at IS NULL
           OR sync_lock.expires_at <= excluded.locked_at`,
		scope, utc(now), owner, utc(expiresAt),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", scope, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseLock снимает блокировку только для текущего владельца
func (db *DB) ReleaseLock(ctx context.Context, scope, owner string) (bool, error) {
	res, err := db.ExecContext(ctx, `
        UPDATE sync_lock SET locked = 0, owner = NULL, locked_at = NULL, expires_at = NULL
        WHERE scope = ? AND owner = ? AND locked = 1`,
		scope, owner,
	)
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", scope, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ForceReleaseLock снимает блокировку независимо от владельца (ручное вмешательство)
func (db *DB) ForceReleaseLock(ctx context.Context, scope string) (bool, error) {
	res, err := db.ExecContext(ctx, `
        UPDATE sync_lock SET locked = 0, owner = NULL, locked_at = NULL, expires_at = NULL
        WHERE scope = ? AND locked = 1`, scope)
	if err != nil {
		return false, fmt.Errorf("force release lock %s: %w", scope, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// GetLockState возвращает состояние блокировки; отсутствующая строка означает свободную
func (db *DB) GetLockState(ctx context.Context, scope string) (*models.LockState, error) {
	state := models.LockState{Scope: scope}
	var locked int
	var owner sql.NullString
	var lockedAt, expiresAt sql.NullTime
	err := db.QueryRowContext(ctx, `SELECT locked, owner, locked_at, expires_at FROM sync_lock WHERE scope = ?`, scope).
		Scan(&locked, &owner, &lockedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return &state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock %s: %w", scope, err)
	}
	state.Locked = locked == 1
	state.Owner = owner.String
	state.LockedAt = nullTimePtr(lockedAt)
	state.ExpiresAt = nullTimePtr(expiresAt)
	return &state, nil
}
