package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. All cache operations go through here.
// Implementations must be safe for concurrent use. Nothing stored here is
// authoritative; readers must be able to fall back to the durable store.
type Cache interface {
	Ping(ctx context.Context) error
	SetVideoStatus(ctx context.Context, videoID int64, status string, ttl time.Duration) error
	GetVideoStatus(ctx context.Context, videoID int64) (string, bool, error)
	SetReplacement(ctx context.Context, videoID, replacementID int64, ttl time.Duration) error
	GetReplacement(ctx context.Context, videoID int64) (int64, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

// Client exposes the underlying connection pool so queues can share it.
func (c *RedisCache) Client() *redis.Client {
	return c.client
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) SetVideoStatus(ctx context.Context, videoID int64, status string, ttl time.Duration) error {
	return c.client.Set(ctx, VideoStatusKey(videoID), status, ttl).Err()
}

func (c *RedisCache) GetVideoStatus(ctx context.Context, videoID int64) (string, bool, error) {
	val, err := c.client.Get(ctx, VideoStatusKey(videoID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (c *RedisCache) SetReplacement(ctx context.Context, videoID, replacementID int64, ttl time.Duration) error {
	return c.client.Set(ctx, ReplacementKey(videoID), replacementID, ttl).Err()
}

func (c *RedisCache) GetReplacement(ctx context.Context, videoID int64) (int64, bool, error) {
	val, err := c.client.Get(ctx, ReplacementKey(videoID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse replacement for video %d: %w", videoID, err)
	}
	return id, true, nil
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
