// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package cache 提供查询级结果缓存。

缓存键是规范化查询 + 检索参数的 SHA-256。条目在 TTL 到期后被驱逐，
除此之外没有其他删除路径；命中只更新 HitCount 与 LastAccessed。
缓存值是查询+参数的纯函数，并发写采用 last-writer-wins。

作为显式注入的服务（而非包级单例）设计，测试可替换为 NopCache。
*/
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/BaSui01/ragforge/types"
)

// Entry 查询缓存条目。
type Entry struct {
	QueryHash       string                 `json:"query_hash"`
	NormalizedQuery string                 `json:"normalized_query"`
	Response        types.PipelineResponse `json:"response"`
	RetrievalMethod types.RetrievalMethod  `json:"retrieval_method"`
	HitCount        int64                  `json:"hit_count"`
	LastAccessed    time.Time              `json:"last_accessed"`
	ExpiresAt       time.Time              `json:"expires_at"`
}

// Cache 查询缓存接口。Get 命中时实现方负责递增 HitCount。
type Cache interface {
	Get(ctx context.Context, key string) (*Entry, bool)
	Put(ctx context.Context, key string, entry *Entry) error
	Evict(ctx context.Context, key string) error
}

// Normalize 查询文本规范化：小写 + 压缩空白。
func Normalize(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Key 计算缓存键：规范化查询 + 项目 + 检索参数的 SHA-256。
func Key(projectID, query string, method types.RetrievalMethod, topK int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%d", projectID, Normalize(query), method, topK)))
	return hex.EncodeToString(h[:])
}

// NopCache 永不命中的空实现，用于禁用缓存和确定性测试。
type NopCache struct{}

// Get implements Cache.
func (NopCache) Get(ctx context.Context, key string) (*Entry, bool) { return nil, false }

// Put implements Cache.
func (NopCache) Put(ctx context.Context, key string, entry *Entry) error { return nil }

// Evict implements Cache.
func (NopCache) Evict(ctx context.Context, key string) error { return nil }
