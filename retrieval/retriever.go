// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package retrieval 实现混合检索：向量、图、关键词三路并发召回，
RRF 融合与 cross-encoder 重排序。

三个分支在 errgroup 中并发执行并共享取消域，每个分支有独立超时；
慢或失败的后端只产生空结果，绝不阻塞或拖垮其他分支。
*/
package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ragforge/graph"
	"github.com/BaSui01/ragforge/internal/metrics"
	"github.com/BaSui01/ragforge/keyword"
	"github.com/BaSui01/ragforge/llm"
	"github.com/BaSui01/ragforge/store"
	"github.com/BaSui01/ragforge/types"
)

// Query 检索请求。
type Query struct {
	ProjectID    string
	Original     string
	Hypothetical string   // HyDE 文本，空则跳过 HyDE 探针
	Alternatives []string // 同义改写，作为关键词分支的额外探针
	Entities     []string // 图遍历种子实体
	Method       types.RetrievalMethod
	TopK         int
}

// Config 混合检索配置。
type Config struct {
	TopK          int           `json:"top_k" yaml:"top_k"`                   // 融合前每分支候选上限
	BranchTimeout time.Duration `json:"branch_timeout" yaml:"branch_timeout"` // 单分支超时
	RRFK          int           `json:"rrf_k" yaml:"rrf_k"`
	FusedTopK     int           `json:"fused_top_k" yaml:"fused_top_k"` // 融合后候选池大小
}

// DefaultConfig 返回默认检索配置。
func DefaultConfig() Config {
	return Config{
		TopK:          20,
		BranchTimeout: 2 * time.Second,
		RRFK:          DefaultRRFK,
		FusedTopK:     20,
	}
}

// HybridRetriever 混合检索器。
type HybridRetriever struct {
	cfg       Config
	docs      store.DocumentStore
	embedder  llm.EmbeddingProvider
	graph     graph.Store
	keyword   *keyword.Index
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewHybridRetriever 创建混合检索器。collector 可为 nil 表示不采集指标。
func NewHybridRetriever(
	cfg Config,
	docs store.DocumentStore,
	embedder llm.EmbeddingProvider,
	graphStore graph.Store,
	keywordIndex *keyword.Index,
	collector *metrics.Collector,
	logger *zap.Logger,
) *HybridRetriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	if cfg.BranchTimeout <= 0 {
		cfg.BranchTimeout = 2 * time.Second
	}
	if cfg.FusedTopK <= 0 {
		cfg.FusedTopK = cfg.TopK
	}
	return &HybridRetriever{
		cfg:       cfg,
		docs:      docs,
		embedder:  embedder,
		graph:     graphStore,
		keyword:   keywordIndex,
		collector: collector,
		logger:    logger.With(zap.String("component", "hybrid_retriever")),
	}
}

// Retrieve 执行检索并返回 RRF 融合后的候选池。
// hybrid 模式下三个分支并发执行；单分支错误被就地吸收为空结果，
// 只有当调用方 ctx 被取消时才返回错误。
func (r *HybridRetriever) Retrieve(ctx context.Context, q Query) ([]types.RetrievedCandidate, error) {
	if q.TopK <= 0 {
		q.TopK = r.cfg.TopK
	}
	method := q.Method
	if method == "" {
		method = types.MethodHybrid
	}

	var vectorList, graphList, keywordList []types.RetrievedCandidate

	g, gctx := errgroup.WithContext(ctx)

	if method == types.MethodHybrid || method == types.MethodVector {
		g.Go(func() error {
			vectorList = r.runBranch(gctx, types.MethodVector, q, r.vectorSearch)
			return nil
		})
	}
	if method == types.MethodHybrid || method == types.MethodGraph {
		g.Go(func() error {
			graphList = r.runBranch(gctx, types.MethodGraph, q, r.graphSearch)
			return nil
		})
	}
	if method == types.MethodHybrid || method == types.MethodKeyword {
		g.Go(func() error {
			keywordList = r.runBranch(gctx, types.MethodKeyword, q, r.keywordSearch)
			return nil
		})
	}

	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lists := make([][]types.RetrievedCandidate, 0, 3)
	for _, l := range [][]types.RetrievedCandidate{vectorList, graphList, keywordList} {
		if len(l) > 0 {
			lists = append(lists, l)
		}
	}
	fused := FuseRRF(lists, r.cfg.RRFK, r.cfg.FusedTopK)
	if r.collector != nil {
		r.collector.RecordFusedPool(len(fused))
	}

	r.logger.Debug("retrieval complete",
		zap.String("method", string(method)),
		zap.Int("vector", len(vectorList)),
		zap.Int("graph", len(graphList)),
		zap.Int("keyword", len(keywordList)),
		zap.Int("fused", len(fused)))
	return fused, nil
}

// runBranch 带独立超时执行单个检索分支，失败降级为空结果。
func (r *HybridRetriever) runBranch(
	ctx context.Context,
	method types.RetrievalMethod,
	q Query,
	fn func(context.Context, Query) ([]types.RetrievedCandidate, error),
) []types.RetrievedCandidate {
	branchCtx, cancel := context.WithTimeout(ctx, r.cfg.BranchTimeout)
	defer cancel()

	started := time.Now()
	list, err := fn(branchCtx, q)
	if r.collector != nil {
		r.collector.RecordBranch(string(method), time.Since(started), err != nil)
	}
	if err != nil {
		r.logger.Warn("retrieval branch degraded to empty result",
			zap.String("branch", string(method)),
			zap.Error(err))
		return nil
	}
	for i := range list {
		list[i].SourceMethod = method
		list[i].Rank = i
	}
	return list
}

// vectorSearch 向量分支：原查询嵌入与 HyDE 嵌入各检索 topK，
// 按分块 ID 去重求并，再截断到 topK。
func (r *HybridRetriever) vectorSearch(ctx context.Context, q Query) ([]types.RetrievedCandidate, error) {
	probes := []string{q.Original}
	if q.Hypothetical != "" {
		probes = append(probes, q.Hypothetical)
	}

	seen := make(map[string]struct{})
	var out []types.RetrievedCandidate
	for _, probe := range probes {
		vec, err := r.embedder.EmbedQuery(ctx, probe)
		if err != nil {
			// 首个探针失败意味着分支无产出；HyDE 探针失败只损失召回
			if len(out) == 0 {
				return nil, err
			}
			r.logger.Warn("vector probe embedding failed", zap.Error(err))
			continue
		}
		hits, err := r.docs.SearchChunks(ctx, q.ProjectID, vec, q.TopK)
		if err != nil {
			if len(out) == 0 {
				return nil, err
			}
			r.logger.Warn("vector probe search failed", zap.Error(err))
			continue
		}
		for _, h := range hits {
			if _, dup := seen[h.Chunk.ID]; dup {
				continue
			}
			seen[h.Chunk.ID] = struct{}{}
			out = append(out, types.RetrievedCandidate{
				ChunkID:    h.Chunk.ID,
				DocumentID: h.Chunk.DocumentID,
				Title:      h.Title,
				Content:    h.Chunk.Content,
				RawScore:   h.Score,
			})
		}
	}

	if len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}

// graphSearch 图分支：两跳遍历。
// 第一跳：提及任一抽取实体的文档；第二跳：与第一跳文档共同提及
// 相同实体的兄弟文档。整体截断到 topK/2。
func (r *HybridRetriever) graphSearch(ctx context.Context, q Query) ([]types.RetrievedCandidate, error) {
	if len(q.Entities) == 0 {
		return nil, nil
	}
	limit := q.TopK / 2
	if limit < 1 {
		limit = 1
	}

	entities, err := r.graph.FindEntities(ctx, q.Entities)
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, nil
	}
	entityIDs := make([]string, 0, len(entities))
	for _, e := range entities {
		entityIDs = append(entityIDs, e.ID)
	}

	hop1, err := r.graph.DocumentsForEntities(ctx, entityIDs, limit)
	if err != nil {
		return nil, err
	}
	if len(hop1) == 0 {
		return nil, nil
	}

	// 兄弟文档扩展
	docIDs := hop1
	if siblings, err := r.siblingDocuments(ctx, hop1, limit); err == nil {
		docIDs = append(docIDs, siblings...)
	} else {
		r.logger.Warn("sibling expansion failed", zap.Error(err))
	}

	seen := make(map[string]struct{})
	var out []types.RetrievedCandidate
	for _, docID := range docIDs {
		if _, dup := seen[docID]; dup {
			continue
		}
		seen[docID] = struct{}{}

		cand, ok := r.documentCandidate(ctx, q.ProjectID, docID)
		if !ok {
			continue
		}
		out = append(out, cand)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// siblingDocuments 第二跳：第一跳文档的实体 → 共同提及这些实体的其他文档。
func (r *HybridRetriever) siblingDocuments(ctx context.Context, hop1 []string, limit int) ([]string, error) {
	entityIDs, err := r.graph.EntitiesForDocuments(ctx, hop1)
	if err != nil {
		return nil, err
	}
	if len(entityIDs) == 0 {
		return nil, nil
	}
	return r.graph.DocumentsForEntities(ctx, entityIDs, limit*2)
}

// documentCandidate 将图命中的文档转成候选：摘要优先，退化为首个分块。
// 图谱实体跨项目共享，据此命中的文档必须回查归属项目后过滤。
func (r *HybridRetriever) documentCandidate(ctx context.Context, projectID, docID string) (types.RetrievedCandidate, bool) {
	doc, err := r.docs.GetDocument(ctx, docID)
	if err != nil || doc.Status != types.StatusCompleted || doc.ProjectID != projectID {
		return types.RetrievedCandidate{}, false
	}

	cand := types.RetrievedCandidate{
		DocumentID: doc.ID,
		Title:      doc.Title,
		Content:    doc.Summary,
		RawScore:   1.0,
	}
	if cand.Content == "" {
		chunks, err := r.docs.ChunksByDocument(ctx, doc.ID)
		if err != nil || len(chunks) == 0 {
			return types.RetrievedCandidate{}, false
		}
		cand.ChunkID = chunks[0].ID
		cand.Content = chunks[0].Content
	}
	return cand, true
}

// keywordSearch 关键词分支：原查询 + 改写探针的 BM25 检索，
// 按分块 ID 去重求并，截断到 topK。
func (r *HybridRetriever) keywordSearch(ctx context.Context, q Query) ([]types.RetrievedCandidate, error) {
	probes := append([]string{q.Original}, q.Alternatives...)

	seen := make(map[string]struct{})
	var out []types.RetrievedCandidate
	for _, probe := range probes {
		results, err := r.keyword.Search(ctx, q.ProjectID, probe, q.TopK)
		if err != nil {
			if len(out) == 0 {
				return nil, err
			}
			continue
		}
		for _, res := range results {
			if _, dup := seen[res.ChunkID]; dup {
				continue
			}
			seen[res.ChunkID] = struct{}{}
			out = append(out, types.RetrievedCandidate{
				ChunkID:    res.ChunkID,
				DocumentID: res.DocumentID,
				Title:      res.Title,
				Content:    res.Content,
				RawScore:   res.Score,
			})
		}
		if len(out) >= q.TopK {
			break
		}
	}

	if len(out) > q.TopK {
		out = out[:q.TopK]
	}
	return out, nil
}
