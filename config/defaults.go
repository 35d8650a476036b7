// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

// =============================================================================
// 📦 RAGForge 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Database:  DefaultDatabaseConfig(),
		Redis:     DefaultRedisConfig(),
		LLM:       DefaultLLMConfig(),
		Rerank:    DefaultRerankConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Ingest:    DefaultIngestConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "memory",
		Host:                "localhost",
		Port:                5432,
		User:                "ragforge",
		Password:            "",
		Name:                "ragforge",
		SSLMode:             "disable",
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     5 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		APIKey:              "",
		BaseURL:             "",
		Model:               "gpt-4o-mini",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
		Timeout:             2 * time.Minute,
		MaxRetries:          3,
	}
}

// DefaultRerankConfig 返回默认重排配置
func DefaultRerankConfig() RerankConfig {
	return RerankConfig{
		APIKey:  "",
		BaseURL: "",
		Model:   "jina-reranker-v2-base-multilingual",
		Timeout: 10 * time.Second,
	}
}

// DefaultPipelineConfig 返回默认管线配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TopN:             5,
		CacheTTL:         15 * time.Minute,
		MaxContextTokens: 6000,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:          20,
		BranchTimeout: 2 * time.Second,
		RRFK:          60,
	}
}

// DefaultIngestConfig 返回默认摄取配置
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Workers:      2,
		QueueSize:    64,
		ChunkSize:    1000,
		ChunkOverlap: 200,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:    false,
		Namespace:  "ragforge",
		ListenAddr: "",
	}
}
