package database

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquireLock(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	ok, err := db.TryAcquireLock(ctx, "sync:global", "workerX", baseTime, baseTime.Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = db.TryAcquireLock(ctx, "sync:global", "workerY", baseTime.Add(time.Minute), baseTime.Add(11*time.Minute))
	require.NoError(t, err)
	assert.False(t, ok)

	// other scopes are independent
	ok, err = db.TryAcquireLock(ctx, "order:1", "workerY", baseTime, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	state, err := db.GetLockState(ctx, "sync:global")
	require.NoError(t, err)
	assert.True(t, state.Locked)
	assert.Equal(t, "workerX", state.Owner)
	require.NotNil(t, state.ExpiresAt)
	assert.True(t, state.ExpiresAt.Equal(baseTime.Add(10*time.Minute)))
}

func TestTryAcquireLock_StaleReclaim(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	ok, err := db.TryAcquireLock(ctx, "sync:global", "workerX", baseTime, baseTime.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = db.TryAcquireLock(ctx, "sync:global", "workerY", baseTime.Add(2*time.Minute), baseTime.Add(12*time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)

	state, err := db.GetLockState(ctx, "sync:global")
	require.NoError(t, err)
	assert.Equal(t, "workerY", state.Owner)
}

func TestReleaseLock_RequiresOwner(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	_, err := db.TryAcquireLock(ctx, "sync:global", "workerX", baseTime, baseTime.Add(time.Minute))
	require.NoError(t, err)

	released, err := db.ReleaseLock(ctx, "sync:global", "workerY")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = db.ReleaseLock(ctx, "sync:global", "workerX")
	require.NoError(t, err)
	assert.True(t, released)

	state, err := db.GetLockState(ctx, "sync:global")
	require.NoError(t, err)
	assert.False(t, state.Locked)
	assert.Empty(t, state.Owner)

	ok, err := db.TryAcquireLock(ctx, "sync:global", "workerY", baseTime, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestForceReleaseLock(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()
	ctx := context.Background()

	_, err := db.TryAcquireLock(ctx, "sync:global", "workerX", baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)

	released, err := db.ForceReleaseLock(ctx, "sync:global")
	require.NoError(t, err)
	assert.True(t, released)

	released, err = db.ForceReleaseLock(ctx, "sync:global")
	require.NoError(t, err)
	assert.False(t, released)
}

func TestGetLockState_Missing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	state, err := db.GetLockState(context.Background(), "order:404")
	require.NoError(t, err)
	assert.False(t, state.Locked)
	assert.Equal(t, "order:404", state.Scope)

	_, err = db.TryAcquireLock(context.Background(), "", "x", baseTime, baseTime)
	assert.Error(t, err)
}

func TestTryAcquireLock_Concurrent(t *testing.T) {
	logger := zerolog.New(io.Discard)
	dbPath := filepath.Join(t.TempDir(), "lock.db")

	// two handles on the same file behave like two processes
	first, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer first.Close()
	second, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer second.Close()

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan bool, attempts)

	for i := 0; i < attempts; i++ {
		handle := first
		if i%2 == 1 {
			handle = second
		}
		wg.Add(1)
		go func(id int, db *DB) {
			defer wg.Done()
			ok, err := db.TryAcquireLock(context.Background(), "sync:global", fmt.Sprintf("worker%d", id), baseTime, baseTime.Add(time.Minute))
			assert.NoError(t, err)
			results <- ok
		}(i, handle)
	}
	wg.Wait()
	close(results)

	winners := 0
	for ok := range results {
		if ok {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one acquire should succeed")
}
