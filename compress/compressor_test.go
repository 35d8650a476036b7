// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

package compress

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragforge/llm"
	"github.com/BaSui01/ragforge/types"
)

const sourceDoc = "Redis is an in-memory data structure store. " +
	"It supports strings, hashes, lists, sets, and sorted sets. " +
	"Redis is often used as a cache in front of a slower database. " +
	"The project was started in 2009 by Salvatore Sanfilippo."

func candidates(contents ...string) []types.RetrievedCandidate {
	out := make([]types.RetrievedCandidate, len(contents))
	for i, c := range contents {
		out[i] = types.RetrievedCandidate{
			ChunkID:    "chunk-" + strings.Repeat("a", i+1),
			DocumentID: "doc-1",
			Content:    c,
		}
	}
	return out
}

func TestContained(t *testing.T) {
	tests := []struct {
		name       string
		compressed string
		want       bool
	}{
		{"verbatim subset", "Redis is often used as a cache in front of a slower database.", true},
		{"multiple verbatim sentences", "Redis is an in-memory data structure store. It supports strings, hashes, lists, sets, and sorted sets.", true},
		{"whitespace changes tolerated", "Redis  is an in-memory data structure  store.", true},
		{"fabricated content rejected", "Redis was invented by Google in 1995 as a replacement for Memcached.", false},
		{"partial fabrication rejected", "Redis is an in-memory data structure store. Redis guarantees strong consistency across replicas.", false},
		{"empty compressed trivially contained", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Contained(tt.compressed, sourceDoc, 0.85))
		})
	}
}

func TestContained_OverlapThreshold(t *testing.T) {
	// 轻微标点改写在高重叠下通过
	rewritten := "Redis is often used as a cache in front of a slower database"
	assert.True(t, Contained(rewritten, sourceDoc, 0.85))

	// 阈值抬高到 1.0 时词集仍完全匹配
	assert.True(t, Contained(rewritten, sourceDoc, 1.0))

	foreign := "Elasticsearch indexes documents into inverted structures for search"
	assert.False(t, Contained(foreign, sourceDoc, 0.5))
}

func TestCompress_ReplacesWithExtraction(t *testing.T) {
	extracted := "Redis is often used as a cache in front of a slower database."
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return extracted, nil
	})
	c := NewCompressor(DefaultConfig(), gen, nil)

	out := c.Compress(context.Background(), "redis caching", candidates(sourceDoc))
	require.Len(t, out, 1)
	assert.Equal(t, extracted, out[0].Content)
}

func TestCompress_KeepsOriginalOnError(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", types.TransientError("llm unavailable", nil)
	})
	c := NewCompressor(DefaultConfig(), gen, nil)

	out := c.Compress(context.Background(), "redis caching", candidates(sourceDoc))
	require.Len(t, out, 1)
	assert.Equal(t, sourceDoc, out[0].Content)
}

func TestCompress_KeepsOriginalOnNone(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "NONE", nil
	})
	c := NewCompressor(DefaultConfig(), gen, nil)

	out := c.Compress(context.Background(), "unrelated query", candidates(sourceDoc))
	require.Len(t, out, 1)
	assert.Equal(t, sourceDoc, out[0].Content)
}

func TestCompress_RejectsFabrication(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "Redis guarantees linearizable writes across all replicas at all times.", nil
	})
	c := NewCompressor(DefaultConfig(), gen, nil)

	out := c.Compress(context.Background(), "redis consistency", candidates(sourceDoc))
	require.Len(t, out, 1)
	assert.Equal(t, sourceDoc, out[0].Content, "源外内容被拒绝，保留原文")
}

func TestCompress_NilGeneratorPassthrough(t *testing.T) {
	c := NewCompressor(DefaultConfig(), nil, nil)

	in := candidates(sourceDoc, "another chunk")
	out := c.Compress(context.Background(), "query", in)
	assert.Equal(t, in, out)
}

func TestCompress_EmptyInput(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		t.Fatal("generator should not be called")
		return "", nil
	})
	c := NewCompressor(DefaultConfig(), gen, nil)

	out := c.Compress(context.Background(), "query", nil)
	assert.Empty(t, out)
}

func TestCompress_PerCandidateIsolation(t *testing.T) {
	extracted := "Redis is often used as a cache in front of a slower database."
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "failing chunk") {
			return "", types.TransientError("boom", nil)
		}
		return extracted, nil
	})
	c := NewCompressor(DefaultConfig(), gen, nil)

	in := candidates(sourceDoc, "failing chunk content goes here")
	out := c.Compress(context.Background(), "redis caching", in)
	require.Len(t, out, 2)
	assert.Equal(t, extracted, out[0].Content)
	assert.Equal(t, "failing chunk content goes here", out[1].Content, "单候选失败不影响其余候选")
}

func TestCompress_InputNotMutated(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "Redis is an in-memory data structure store.", nil
	})
	c := NewCompressor(DefaultConfig(), gen, nil)

	in := candidates(sourceDoc)
	_ = c.Compress(context.Background(), "redis", in)
	assert.Equal(t, sourceDoc, in[0].Content)
}
