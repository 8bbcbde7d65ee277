package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookingsync/internal/clock"
	"bookingsync/internal/models"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "bookingsync:lock:"

// compare-and-delete so a late holder cannot free a newer owner's lock
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker keeps locks as expiring redis keys.
type RedisLocker struct {
	client *redis.Client
	clock  clock.Clock
}

func NewRedisLocker(client *redis.Client, clk clock.Clock) *RedisLocker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RedisLocker{client: client, clock: clk}
}

func (l *RedisLocker) key(scope string) string {
	return redisKeyPrefix + scope
}

func (l *RedisLocker) Acquire(ctx context.Context, scope, owner string, ttl time.Duration) (bool, error) {
	if scope == "" || owner == "" {
		return false, errors.New("lock scope and owner are required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("lock ttl must be positive, got %s", ttl)
	}
	ok, err := l.client.SetNX(ctx, l.key(scope), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", scope, err)
	}
	return ok, nil
}

func (l *RedisLocker) Release(ctx context.Context, scope, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key(scope)}, owner).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", scope, err)
	}
	return n == 1, nil
}

func (l *RedisLocker) Read(ctx context.Context, scope string) (*models.LockState, error) {
	state := &models.LockState{Scope: scope}
	owner, err := l.client.Get(ctx, l.key(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lock %s: %w", scope, err)
	}
	state.Locked = true
	state.Owner = owner

	ttl, err := l.client.PTTL(ctx, l.key(scope)).Result()
	if err != nil {
		return nil, fmt.Errorf("read lock ttl %s: %w", scope, err)
	}
	if ttl > 0 {
		exp := l.clock.Now().Add(ttl).UTC()
		state.ExpiresAt = &exp
	}
	return state, nil
}

// ForceRelease deletes the key regardless of owner.
func (l *RedisLocker) ForceRelease(ctx context.Context, scope string) (bool, error) {
	n, err := l.client.Del(ctx, l.key(scope)).Result()
	if err != nil {
		return false, fmt.Errorf("force release lock %s: %w", scope, err)
	}
	return n == 1, nil
}
