package cache

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryCache 进程内 TTL 缓存，后台 janitor 周期清理过期条目。
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	ttl     time.Duration
	stop    chan struct{}
	stopped sync.Once
	logger  *zap.Logger
}

// NewMemoryCache 创建内存缓存并启动 janitor。
// ttl<=0 时使用默认 15 分钟；用完应调用 Close 停止 janitor。
func NewMemoryCache(ttl time.Duration, logger *zap.Logger) *MemoryCache {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &MemoryCache{
		entries: make(map[string]*Entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
		logger:  logger.With(zap.String("component", "query_cache")),
	}
	go c.janitor()
	return c
}

// Get implements Cache. 命中时递增 HitCount 并刷新 LastAccessed。
func (c *MemoryCache) Get(ctx context.Context, key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.ExpiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	e.HitCount++
	e.LastAccessed = time.Now()
	cp := *e
	return &cp, true
}

// Put implements Cache. 覆盖写（last-writer-wins）。
func (c *MemoryCache) Put(ctx context.Context, key string, entry *Entry) error {
	now := time.Now()
	cp := *entry
	if cp.ExpiresAt.IsZero() {
		cp.ExpiresAt = now.Add(c.ttl)
	}
	if cp.LastAccessed.IsZero() {
		cp.LastAccessed = now
	}

	c.mu.Lock()
	c.entries[key] = &cp
	c.mu.Unlock()
	return nil
}

// Evict implements Cache.
func (c *MemoryCache) Evict(ctx context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// Len 返回当前条目数（含未被 janitor 清理的过期条目）。
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close 停止 janitor。
func (c *MemoryCache) Close() {
	c.stopped.Do(func() { close(c.stop) })
}

func (c *MemoryCache) janitor() {
	interval := c.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for k, e := range c.entries {
				if now.After(e.ExpiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		}
	}
}
