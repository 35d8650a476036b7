// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package pipeline 装配端到端 RAG 查询管线。

查询路径：缓存查找 → 查询变换（HyDE/扩展/实体）→ 混合检索
（向量/图/关键词并发 + RRF 融合）→ 重排 → 上下文压缩 → 答案生成
→ 缓存写入。

降级阶梯：变换、重排、压缩失败都在各自阶段内吸收，管线继续以
降级输入推进；检索分支失败收敛为空候选；只有答案生成失败会使
整个查询失败。缓存读写失败同样只降级不报错。
*/
package pipeline

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragforge/cache"
	"github.com/BaSui01/ragforge/compress"
	"github.com/BaSui01/ragforge/generate"
	"github.com/BaSui01/ragforge/ingest"
	"github.com/BaSui01/ragforge/internal/metrics"
	"github.com/BaSui01/ragforge/retrieval"
	"github.com/BaSui01/ragforge/store"
	"github.com/BaSui01/ragforge/transform"
	"github.com/BaSui01/ragforge/types"
)

// Config 查询管线配置。
type Config struct {
	TopN     int           `json:"top_n" yaml:"top_n"`         // 重排后进入生成的候选数
	CacheTTL time.Duration `json:"cache_ttl" yaml:"cache_ttl"` // 查询缓存 TTL
}

// DefaultConfig 返回默认管线配置。
func DefaultConfig() Config {
	return Config{
		TopN:     5,
		CacheTTL: 15 * time.Minute,
	}
}

// QueryRequest 一次查询的输入。
type QueryRequest struct {
	ProjectID string                `json:"project_id"`
	Query     string                `json:"query"`
	Method    types.RetrievalMethod `json:"method,omitempty"` // 为空时默认 hybrid
	TopK      int                   `json:"top_k,omitempty"`
	NoCache   bool                  `json:"no_cache,omitempty"` // 跳过缓存读取，结果仍会写入
}

// Pipeline 端到端 RAG 管线。
type Pipeline struct {
	cfg         Config
	transformer *transform.Transformer
	retriever   *retrieval.HybridRetriever
	reranker    *retrieval.Reranker
	compressor  *compress.Compressor
	generator   *generate.Generator
	ingestor    *ingest.Pipeline
	docs        store.DocumentStore
	queryCache  cache.Cache
	collector   *metrics.Collector
	logger      *zap.Logger
}

// New 装配查询管线。collector 可为 nil 表示不采集指标。
func New(
	cfg Config,
	transformer *transform.Transformer,
	retriever *retrieval.HybridRetriever,
	reranker *retrieval.Reranker,
	compressor *compress.Compressor,
	generator *generate.Generator,
	ingestor *ingest.Pipeline,
	docs store.DocumentStore,
	queryCache cache.Cache,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 5
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 15 * time.Minute
	}
	if queryCache == nil {
		queryCache = cache.NopCache{}
	}
	return &Pipeline{
		cfg:         cfg,
		transformer: transformer,
		retriever:   retriever,
		reranker:    reranker,
		compressor:  compressor,
		generator:   generator,
		ingestor:    ingestor,
		docs:        docs,
		queryCache:  queryCache,
		collector:   collector,
		logger:      logger.With(zap.String("component", "pipeline")),
	}
}

// Query 执行一次端到端查询。
func (p *Pipeline) Query(ctx context.Context, req QueryRequest) (*types.PipelineResponse, error) {
	started := time.Now()

	if strings.TrimSpace(req.Query) == "" {
		return nil, types.ValidationError("query must not be empty")
	}
	if req.ProjectID == "" {
		return nil, types.ValidationError("project_id must not be empty")
	}
	if req.Method == "" {
		req.Method = types.MethodHybrid
	}
	if !req.Method.Valid() {
		return nil, types.ValidationError("unknown retrieval method: " + string(req.Method))
	}

	key := cache.Key(req.ProjectID, req.Query, req.Method, req.TopK)
	if !req.NoCache {
		if entry, ok := p.queryCache.Get(ctx, key); ok {
			p.recordCache(true)
			p.recordQuery(req.Method, "cached", started)
			p.logger.Debug("query cache hit", zap.String("key", key))
			resp := entry.Response
			return &resp, nil
		}
		p.recordCache(false)
	}

	resp, err := p.execute(ctx, req)
	if err != nil {
		p.recordQuery(req.Method, "error", started)
		return nil, err
	}

	entry := &cache.Entry{
		QueryHash:       key,
		NormalizedQuery: cache.Normalize(req.Query),
		Response:        *resp,
		RetrievalMethod: req.Method,
		LastAccessed:    time.Now(),
		ExpiresAt:       time.Now().Add(p.cfg.CacheTTL),
	}
	if err := p.queryCache.Put(ctx, key, entry); err != nil {
		p.logger.Warn("query cache write failed", zap.Error(err))
	}

	p.recordQuery(req.Method, "ok", started)
	return resp, nil
}

// execute 缓存未命中路径上的管线主体。
func (p *Pipeline) execute(ctx context.Context, req QueryRequest) (*types.PipelineResponse, error) {
	// 查询变换，内部自带降级
	tq := p.transformer.Transform(ctx, req.Query)

	candidates, err := p.retriever.Retrieve(ctx, retrieval.Query{
		ProjectID:    req.ProjectID,
		Original:     tq.Original,
		Hypothetical: tq.HypotheticalAnswer,
		Alternatives: tq.Alternatives,
		Entities:     tq.ExtractedEntities,
		Method:       req.Method,
		TopK:         req.TopK,
	})
	if err != nil {
		return nil, err
	}
	if p.collector != nil {
		p.collector.RecordFusedPool(len(candidates))
	}

	reranked := p.reranker.Rerank(ctx, req.Query, candidates, p.cfg.TopN)
	compressed := p.compressor.Compress(ctx, req.Query, reranked)

	answer, citations, err := p.generator.Generate(ctx, req.Query, compressed)
	if err != nil {
		return nil, err
	}

	return &types.PipelineResponse{
		Answer:             answer,
		Sources:            citations,
		RetrievalMethod:    req.Method,
		DocumentsRetrieved: distinctDocuments(compressed),
	}, nil
}

// Ingest 提交一篇文档进入异步摄取队列，立即返回 pending 文档。
func (p *Pipeline) Ingest(ctx context.Context, doc *types.Document) (*types.Document, error) {
	if strings.TrimSpace(doc.RawContent) == "" {
		return nil, types.ValidationError("document content must not be empty")
	}
	if doc.ProjectID == "" {
		return nil, types.ValidationError("project_id must not be empty")
	}
	if strings.TrimSpace(doc.Title) == "" {
		return nil, types.ValidationError("document title must not be empty")
	}
	if err := p.ingestor.Submit(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetDocument 查询文档与摄取状态。
func (p *Pipeline) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	return p.docs.GetDocument(ctx, id)
}

// ListDocuments 分页列出项目内文档。
func (p *Pipeline) ListDocuments(ctx context.Context, projectID string, limit, offset int) ([]types.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	return p.docs.ListDocuments(ctx, projectID, limit, offset)
}

func (p *Pipeline) recordQuery(method types.RetrievalMethod, status string, started time.Time) {
	if p.collector == nil {
		return
	}
	p.collector.RecordQuery(string(method), status, time.Since(started))
}

func (p *Pipeline) recordCache(hit bool) {
	if p.collector == nil {
		return
	}
	if hit {
		p.collector.RecordCacheHit("query")
	} else {
		p.collector.RecordCacheMiss("query")
	}
}

func distinctDocuments(candidates []types.RetrievedCandidate) int {
	seen := make(map[string]struct{}, len(candidates))
	for _, c := range candidates {
		if c.DocumentID != "" {
			seen[c.DocumentID] = struct{}{}
		}
	}
	return len(seen)
}
