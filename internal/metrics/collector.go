// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// 查询管线指标
	queriesTotal  *prometheus.CounterVec
	queryDuration *prometheus.HistogramVec

	// 检索分支指标
	branchDuration   *prometheus.HistogramVec
	branchFailures   *prometheus.CounterVec
	candidatesFused  prometheus.Histogram

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 摄取指标
	ingestTotal    *prometheus.CounterVec
	ingestDuration prometheus.Histogram
	chunksIndexed  prometheus.Counter

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 查询管线指标
	c.queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of pipeline queries",
		},
		[]string{"method", "status"},
	)

	c.queryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "End-to-end query pipeline duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method"},
	)

	// 检索分支指标
	c.branchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_branch_duration_seconds",
			Help:      "Per-branch retrieval duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"branch"},
	)

	c.branchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_branch_failures_total",
			Help:      "Total number of absorbed retrieval branch failures",
		},
		[]string{"branch"},
	)

	c.candidatesFused = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "candidates_fused",
			Help:      "Number of candidates in the fused pool per query",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		},
	)

	// LLM 指标
	c.llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "operation", "status"},
	)

	c.llmRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "operation"},
	)

	// 缓存指标
	c.cacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// 摄取指标
	c.ingestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_ingested_total",
			Help:      "Total number of documents processed by the ingestion pipeline",
		},
		[]string{"status"},
	)

	c.ingestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Per-document ingestion duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	c.chunksIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_indexed_total",
			Help:      "Total number of chunks written to the indexes",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔍 查询指标记录
// =============================================================================

// RecordQuery 记录一次端到端查询
func (c *Collector) RecordQuery(method, status string, duration time.Duration) {
	c.queriesTotal.WithLabelValues(method, status).Inc()
	c.queryDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordBranch 记录单个检索分支
func (c *Collector) RecordBranch(branch string, duration time.Duration, failed bool) {
	c.branchDuration.WithLabelValues(branch).Observe(duration.Seconds())
	if failed {
		c.branchFailures.WithLabelValues(branch).Inc()
	}
}

// RecordFusedPool 记录融合后候选池大小
func (c *Collector) RecordFusedPool(size int) {
	c.candidatesFused.Observe(float64(size))
}

// =============================================================================
// 🤖 LLM 指标记录
// =============================================================================

// RecordLLMRequest 记录 LLM 请求
func (c *Collector) RecordLLMRequest(provider, operation, status string, duration time.Duration) {
	c.llmRequestsTotal.WithLabelValues(provider, operation, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 📥 摄取指标记录
// =============================================================================

// RecordIngest 记录一篇文档的摄取结果
func (c *Collector) RecordIngest(status string, duration time.Duration, chunks int) {
	c.ingestTotal.WithLabelValues(status).Inc()
	c.ingestDuration.Observe(duration.Seconds())
	if chunks > 0 {
		c.chunksIndexed.Add(float64(chunks))
	}
}
