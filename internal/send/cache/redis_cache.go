// Package cache provides the Redis backed cache used by the send pipeline
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	// ErrCacheMiss indicates a cache miss
	ErrCacheMiss = errors.New("cache miss")
)

// RedisCache stores JSON documents under a key prefix
type RedisCache struct {
	client redis.Cmdable
	log    *zap.Logger
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a new Redis-based cache
func NewRedisCache(client redis.Cmdable, log *zap.Logger, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		log:    log.Named("cache"),
		prefix: prefix,
		ttl:    ttl,
	}
}

// GetJSON loads key into dst
func (c *RedisCache) GetJSON(ctx context.Context, key string, dst any) error {
	fullKey := c.key(key)

	data, err := c.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		c.log.Error("failed to get from cache", zap.Error(err), zap.String("key", fullKey))
		return err
	}

	if err := json.Unmarshal(data, dst); err != nil {
		c.log.Error("failed to unmarshal cached value", zap.Error(err), zap.String("key", fullKey))
		return err
	}

	return nil
}

// SetJSON stores value under key. A zero ttl uses the cache default.
func (c *RedisCache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	fullKey := c.key(key)
	if ttl == 0 {
		ttl = c.ttl
	}

	data, err := json.Marshal(value)
	if err != nil {
		c.log.Error("failed to marshal value for cache", zap.Error(err))
		return err
	}

	if err := c.client.Set(ctx, fullKey, data, ttl).Err(); err != nil {
		c.log.Error("failed to set cache", zap.Error(err), zap.String("key", fullKey))
		return err
	}

	return nil
}

// Invalidate removes key
func (c *RedisCache) Invalidate(ctx context.Context, key string) error {
	fullKey := c.key(key)

	if err := c.client.Del(ctx, fullKey).Err(); err != nil {
		c.log.Error("failed to invalidate cache", zap.Error(err), zap.String("key", fullKey))
		return err
	}

	return nil
}

// Ping checks the connection
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) key(key string) string {
	return fmt.Sprintf("%s:%s", c.prefix, key)
}
