package retrieval

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/BaSui01/ragforge/llm"
	"github.com/BaSui01/ragforge/types"
)

// Reranker 用 cross-encoder 风格的提供者对融合后的候选池重排序，
// 输出精度优先的 top-N（N < K）。
//
// 降级契约：提供者不可用或打分失败时，保持 RRF 顺序原样截断，
// 排序质量下降但管线不失败。
type Reranker struct {
	provider llm.RerankProvider
	logger   *zap.Logger
}

// NewReranker 创建重排序器。provider 为 nil 时恒走降级路径。
func NewReranker(provider llm.RerankProvider, logger *zap.Logger) *Reranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{
		provider: provider,
		logger:   logger.With(zap.String("component", "reranker")),
	}
}

// Rerank 对候选重排序并截断到 topN。
func (r *Reranker) Rerank(ctx context.Context, query string, candidates []types.RetrievedCandidate, topN int) []types.RetrievedCandidate {
	if topN <= 0 {
		topN = 5
	}
	if len(candidates) == 0 {
		return candidates
	}

	if r.provider == nil {
		return truncate(candidates, topN)
	}

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Content
	}

	scores, err := r.provider.Score(ctx, query, docs)
	if err != nil || len(scores) != len(candidates) {
		r.logger.Warn("rerank provider unavailable, keeping fusion order", zap.Error(err))
		return truncate(candidates, topN)
	}

	reranked := make([]types.RetrievedCandidate, len(candidates))
	copy(reranked, candidates)
	for i := range reranked {
		reranked[i].RawScore = scores[i]
	}

	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].RawScore > reranked[j].RawScore
	})

	reranked = truncate(reranked, topN)
	for i := range reranked {
		reranked[i].Rank = i
	}
	return reranked
}

func truncate(candidates []types.RetrievedCandidate, n int) []types.RetrievedCandidate {
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	return candidates
}
