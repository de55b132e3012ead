package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rowpledge/internal/config"
	"github.com/rowpledge/internal/domain"
)

// SnapshotCache stores computed leaderboards in Redis
type SnapshotCache struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewSnapshotCache connects to Redis and returns a cache
func NewSnapshotCache(cfg *config.RedisConfig, logger *slog.Logger) (*SnapshotCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	// Test connection
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewSnapshotCacheFromClient(client, cfg.KeyPrefix, logger), nil
}

// NewSnapshotCacheFromClient wraps an existing client
func NewSnapshotCacheFromClient(client *redis.Client, prefix string, logger *slog.Logger) *SnapshotCache {
	return &SnapshotCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Close closes the Redis connection
func (c *SnapshotCache) Close() error {
	return c.client.Close()
}

// Ping checks the Redis connection
func (c *SnapshotCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// generationKey holds the counter bumped on every invalidation. It sits
// outside snapshotPattern so invalidation never deletes it.
func (c *SnapshotCache) generationKey() string {
	return fmt.Sprintf("%s:leaderboard-generation", c.prefix)
}

// snapshotKey returns the Redis key for a window's leaderboard at a generation
func (c *SnapshotCache) snapshotKey(window domain.Window, generation int64) string {
	return fmt.Sprintf("%s:leaderboard:%s:%s:%d", c.prefix, window.FirstDay(), window.LastDay(), generation)
}

// snapshotPattern matches every cached leaderboard
func (c *SnapshotCache) snapshotPattern() string {
	return fmt.Sprintf("%s:leaderboard:*", c.prefix)
}

// Generation returns the current snapshot generation, 0 before the first
// invalidation
func (c *SnapshotCache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("getting leaderboard generation: %w", err)
	}
	return gen, nil
}

// Get returns the leaderboard cached for window at generation. The boolean
// is false on a miss.
func (c *SnapshotCache) Get(ctx context.Context, window domain.Window, generation int64) (*domain.Leaderboard, bool, error) {
	data, err := c.client.Get(ctx, c.snapshotKey(window, generation)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting leaderboard snapshot: %w", err)
	}

	var lb domain.Leaderboard
	if err := json.Unmarshal(data, &lb); err != nil {
		return nil, false, fmt.Errorf("decoding leaderboard snapshot: %w", err)
	}
	return &lb, true, nil
}

// Set stores the leaderboard for window under generation with a TTL. A
// snapshot computed before an invalidation lands under a generation no reader
// asks for again.
func (c *SnapshotCache) Set(ctx context.Context, window domain.Window, generation int64, lb *domain.Leaderboard, ttl time.Duration) error {
	data, err := json.Marshal(lb)
	if err != nil {
		return fmt.Errorf("encoding leaderboard snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.snapshotKey(window, generation), data, ttl).Err(); err != nil {
		return fmt.Errorf("setting leaderboard snapshot: %w", err)
	}
	return nil
}

// Invalidate advances the generation and removes cached leaderboards
func (c *SnapshotCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		return fmt.Errorf("advancing leaderboard generation: %w", err)
	}

	var keys []string
	iter := c.client.Scan(ctx, 0, c.snapshotPattern(), 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scanning leaderboard snapshots: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for _, key := range keys {
		pipe.Del(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting leaderboard snapshots: %w", err)
	}

	c.logger.Debug("invalidated leaderboard snapshots", "count", len(keys))
	return nil
}
