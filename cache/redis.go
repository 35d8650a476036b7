package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisCache 基于 Redis 的查询缓存，多进程部署共享。
// TTL 由 Redis 过期机制承担；命中时回写条目但保留剩余 TTL。
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

// NewRedisCache 创建 Redis 缓存。
func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		prefix: "ragforge:query:",
		logger: logger.With(zap.String("component", "redis_query_cache")),
	}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) (*Entry, bool) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", zap.Error(err))
		}
		return nil, false
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		c.logger.Warn("cache entry corrupted, evicting", zap.Error(err))
		_ = c.client.Del(ctx, c.prefix+key).Err()
		return nil, false
	}

	e.HitCount++
	e.LastAccessed = time.Now()
	if updated, err := json.Marshal(&e); err == nil {
		// KeepTTL：命中不延长过期时间
		if err := c.client.Set(ctx, c.prefix+key, updated, redis.KeepTTL).Err(); err != nil {
			c.logger.Warn("cache hit count update failed", zap.Error(err))
		}
	}
	return &e, true
}

// Put implements Cache.
func (c *RedisCache) Put(ctx context.Context, key string, entry *Entry) error {
	cp := *entry
	now := time.Now()
	if cp.ExpiresAt.IsZero() {
		cp.ExpiresAt = now.Add(c.ttl)
	}
	if cp.LastAccessed.IsZero() {
		cp.LastAccessed = now
	}

	data, err := json.Marshal(&cp)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, time.Until(cp.ExpiresAt)).Err()
}

// Evict implements Cache.
func (c *RedisCache) Evict(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}
