// Package lock provides scoped mutual exclusion shared across processes.
package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"bookingsync/internal/clock"
	"bookingsync/internal/database"
	"bookingsync/internal/models"

	"github.com/google/uuid"
)

// Locker grants exclusive, expiring ownership of a named scope.
type Locker interface {
	// Acquire takes the scope for owner until ttl elapses. A held, unexpired
	// scope yields false without error.
	Acquire(ctx context.Context, scope, owner string, ttl time.Duration) (bool, error)
	// Release frees the scope only if owner still holds it.
	Release(ctx context.Context, scope, owner string) (bool, error)
	Read(ctx context.Context, scope string) (*models.LockState, error)
}

// ForceReleaser clears a scope without the owner token, for operators.
type ForceReleaser interface {
	ForceRelease(ctx context.Context, scope string) (bool, error)
}

// NewOwner returns a unique owner token for this process.
func NewOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d:%s", host, os.Getpid(), uuid.NewString())
}

// DBLocker stores locks in the sync_lock table.
type DBLocker struct {
	db    *database.DB
	clock clock.Clock
}

func NewDBLocker(db *database.DB, clk clock.Clock) *DBLocker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &DBLocker{db: db, clock: clk}
}

func (l *DBLocker) Acquire(ctx context.Context, scope, owner string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}
	now := l.clock.Now()
	return l.db.TryAcquireLock(ctx, scope, owner, now, now.Add(ttl))
}

func (l *DBLocker) Release(ctx context.Context, scope, owner string) (bool, error) {
	return l.db.ReleaseLock(ctx, scope, owner)
}

func (l *DBLocker) Read(ctx context.Context, scope string) (*models.LockState, error) {
	return l.db.GetLockState(ctx, scope)
}

// ForceRelease clears the scope regardless of owner.
func (l *DBLocker) ForceRelease(ctx context.Context, scope string) (bool, error) {
	return l.db.ForceReleaseLock(ctx, scope)
}

// IsHeld reports whether scope is currently held by anyone.
func IsHeld(ctx context.Context, l Locker, scope string, now time.Time) (bool, *models.LockState, error) {
	state, err := l.Read(ctx, scope)
	if err != nil {
		return false, nil, err
	}
	return state.Held(now), state, nil
}
