// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragforge/types"
)

// scoreFunc 便于在测试里内联 RerankProvider。
type scoreFunc func(ctx context.Context, query string, docs []string) ([]float64, error)

func (f scoreFunc) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	return f(ctx, query, docs)
}

func rerankPool() []types.RetrievedCandidate {
	return []types.RetrievedCandidate{
		{ChunkID: "a", Content: "first", Rank: 0},
		{ChunkID: "b", Content: "second", Rank: 1},
		{ChunkID: "c", Content: "third", Rank: 2},
	}
}

func TestRerank_ReordersByProviderScores(t *testing.T) {
	provider := scoreFunc(func(ctx context.Context, query string, docs []string) ([]float64, error) {
		return []float64{0.1, 0.9, 0.5}, nil
	})
	r := NewReranker(provider, nil)

	out := r.Rerank(context.Background(), "q", rerankPool(), 3)
	require.Len(t, out, 3)
	assert.Equal(t, "b", out[0].ChunkID)
	assert.Equal(t, "c", out[1].ChunkID)
	assert.Equal(t, "a", out[2].ChunkID)
	// Rank 重新赋值，RawScore 为提供者得分
	assert.Equal(t, 0, out[0].Rank)
	assert.Equal(t, 0.9, out[0].RawScore)
}

func TestRerank_TruncatesToTopN(t *testing.T) {
	provider := scoreFunc(func(ctx context.Context, query string, docs []string) ([]float64, error) {
		return []float64{0.3, 0.2, 0.1}, nil
	})
	r := NewReranker(provider, nil)

	out := r.Rerank(context.Background(), "q", rerankPool(), 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ChunkID)
}

func TestRerank_NilProviderKeepsFusionOrder(t *testing.T) {
	r := NewReranker(nil, nil)

	out := r.Rerank(context.Background(), "q", rerankPool(), 2)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)
}

func TestRerank_ProviderErrorFallsBack(t *testing.T) {
	provider := scoreFunc(func(ctx context.Context, query string, docs []string) ([]float64, error) {
		return nil, errors.New("rerank service down")
	})
	r := NewReranker(provider, nil)

	out := r.Rerank(context.Background(), "q", rerankPool(), 3)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ChunkID)
}

func TestRerank_ScoreLengthMismatchFallsBack(t *testing.T) {
	provider := scoreFunc(func(ctx context.Context, query string, docs []string) ([]float64, error) {
		return []float64{0.9}, nil
	})
	r := NewReranker(provider, nil)

	out := r.Rerank(context.Background(), "q", rerankPool(), 3)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ChunkID)
}

func TestRerank_EmptyInput(t *testing.T) {
	r := NewReranker(nil, nil)
	assert.Empty(t, r.Rerank(context.Background(), "q", nil, 5))
}

func TestRerank_StableForEqualScores(t *testing.T) {
	provider := scoreFunc(func(ctx context.Context, query string, docs []string) ([]float64, error) {
		return []float64{0.5, 0.5, 0.5}, nil
	})
	r := NewReranker(provider, nil)

	out := r.Rerank(context.Background(), "q", rerankPool(), 3)
	require.Len(t, out, 3)
	// 得分并列时保持融合顺序
	assert.Equal(t, "a", out[0].ChunkID)
	assert.Equal(t, "b", out[1].ChunkID)
	assert.Equal(t, "c", out[2].ChunkID)
}
