package llm

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragforge/internal/metrics"
	"github.com/BaSui01/ragforge/types"
)

// ResilientConfig 超时+重试包装配置。
type ResilientConfig struct {
	Timeout   time.Duration // 单次调用超时
	Retry     RetryPolicy
	Collector *metrics.Collector // 可为 nil 表示不采集指标
	Provider  string             // 指标 provider 标签，默认 "openai"
}

// DefaultResilientConfig 返回默认包装配置。
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		Timeout: 30 * time.Second,
		Retry:   DefaultRetryPolicy(),
	}
}

// recordLLM 记录一次底层模型调用；collector 为 nil 时是空操作。
// 重试的每次尝试都单独计一次请求。
func recordLLM(cfg ResilientConfig, operation string, started time.Time, err error) {
	if cfg.Collector == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	cfg.Collector.RecordLLMRequest(cfg.Provider, operation, status, time.Since(started))
}

// ResilientGenerator 为任意 Generator 附加单次超时与指数退避重试。
// 所有外部模型调用都应经过此包装进入管线。
type ResilientGenerator struct {
	inner   Generator
	cfg     ResilientConfig
	retryer *Retryer
	logger  *zap.Logger
}

// NewResilientGenerator 包装 inner。
func NewResilientGenerator(inner Generator, cfg ResilientConfig, logger *zap.Logger) *ResilientGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	return &ResilientGenerator{
		inner:   inner,
		cfg:     cfg,
		retryer: NewRetryer(cfg.Retry, logger),
		logger:  logger.With(zap.String("component", "resilient_generator")),
	}
}

// Generate implements Generator.
func (g *ResilientGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := g.retryer.Do(ctx, "generate", func() error {
		callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()

		started := time.Now()
		text, err := g.inner.Generate(callCtx, prompt)
		recordLLM(g.cfg, "generate", started, err)
		if err != nil {
			return types.TransientError("generation call failed", err)
		}
		out = text
		return nil
	})
	if err != nil {
		return "", err
	}
	return out, nil
}

// ResilientEmbedder 为任意 EmbeddingProvider 附加单次超时与重试。
type ResilientEmbedder struct {
	inner   EmbeddingProvider
	cfg     ResilientConfig
	retryer *Retryer
}

// NewResilientEmbedder 包装 inner。
func NewResilientEmbedder(inner EmbeddingProvider, cfg ResilientConfig, logger *zap.Logger) *ResilientEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	return &ResilientEmbedder{
		inner:   inner,
		cfg:     cfg,
		retryer: NewRetryer(cfg.Retry, logger.With(zap.String("component", "resilient_embedder"))),
	}
}

// EmbedQuery implements EmbeddingProvider.
func (e *ResilientEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.retryer.Do(ctx, "embed_query", func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		started := time.Now()
		vec, err := e.inner.EmbedQuery(callCtx, text)
		recordLLM(e.cfg, "embed_query", started, err)
		if err != nil {
			return types.TransientError("embedding call failed", err)
		}
		out = vec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// EmbedDocuments implements EmbeddingProvider.
func (e *ResilientEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.retryer.Do(ctx, "embed_documents", func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()

		started := time.Now()
		vecs, err := e.inner.EmbedDocuments(callCtx, texts)
		recordLLM(e.cfg, "embed_documents", started, err)
		if err != nil {
			return types.TransientError("batch embedding call failed", err)
		}
		out = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Dimensions implements EmbeddingProvider.
func (e *ResilientEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}
