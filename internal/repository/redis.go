package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"bookingsync/internal/config"
	"bookingsync/internal/models"

	"github.com/redis/go-redis/v9"
)

// RedisDeadLetter keeps exhausted retry entries in a capped redis list, newest first.
type RedisDeadLetter struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisClient создает новый клиент Redis на основе конфигурации
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	options := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	}

	client := redis.NewClient(options)

	return client
}

func NewRedisDeadLetter(client *redis.Client, key string, maxLen int64) *RedisDeadLetter {
	if key == "" {
		key = models.DeadLetterKey
	}
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RedisDeadLetter{client: client, key: key, maxLen: maxLen}
}

func (r *RedisDeadLetter) Push(ctx context.Context, entry *models.RetryEntry) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	pipe.LTrim(ctx, r.key, 0, r.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter to redis: %w", err)
	}
	return nil
}

func (r *RedisDeadLetter) List(ctx context.Context, limit int) ([]models.RetryEntry, error) {
	if r.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	vals, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read dead letters from redis: %w", err)
	}

	out := make([]models.RetryEntry, 0, len(vals))
	for _, v := range vals {
		var e models.RetryEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisDeadLetter) Len(ctx context.Context) (int64, error) {
	if r.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read dead letter length: %w", err)
	}
	return n, nil
}

// Ping проверяет соединение с Redis
func Ping(ctx context.Context, client *redis.Client) error {
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}
