// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ragforge/keyword"
	"github.com/BaSui01/ragforge/store"
	"github.com/BaSui01/ragforge/types"
)

func seedCompletedDoc(t *testing.T, docs store.DocumentStore, id, projectID, content string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, docs.CreateDocument(ctx, &types.Document{
		ID: id, ProjectID: projectID, Title: id,
		RawContent: content, Version: 1, Status: types.StatusProcessing,
	}))
	require.NoError(t, docs.SaveChunks(ctx, []types.DocumentChunk{{
		ID: id + "-c0", DocumentID: id, Content: content, Embedding: []float32{1, 0},
	}}))
	require.NoError(t, docs.FinalizeDocument(ctx, id, "summary", 1))
}

func TestRebuildKeywordIndex(t *testing.T) {
	ctx := context.Background()
	docs := store.NewMemoryStore(nil)

	seedCompletedDoc(t, docs, "doc-a", "proj-a", "redis cache eviction policies")
	seedCompletedDoc(t, docs, "doc-b", "proj-b", "kafka consumer group rebalancing")

	// processing 状态的文档不应进入索引
	require.NoError(t, docs.CreateDocument(ctx, &types.Document{
		ID: "doc-pending", ProjectID: "proj-a", Title: "pending",
		RawContent: "redis pending", Version: 1, Status: types.StatusProcessing,
	}))
	require.NoError(t, docs.SaveChunks(ctx, []types.DocumentChunk{{
		ID: "doc-pending-c0", DocumentID: "doc-pending", Content: "redis pending",
	}}))

	idx := keyword.NewIndex(keyword.DefaultConfig(), nil)
	require.NoError(t, rebuildKeywordIndex(ctx, docs, idx, zap.NewNop()))

	// 重建后两个项目的历史文档都可被词法检索，且互不可见
	results, err := idx.Search(ctx, "proj-a", "redis cache", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-a", results[0].DocumentID)

	results, err = idx.Search(ctx, "proj-b", "kafka rebalancing", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-b", results[0].DocumentID)

	results, err = idx.Search(ctx, "proj-a", "kafka", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = idx.Search(ctx, "proj-a", "pending", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRebuildKeywordIndex_EmptyStore(t *testing.T) {
	idx := keyword.NewIndex(keyword.DefaultConfig(), nil)
	require.NoError(t, rebuildKeywordIndex(context.Background(), store.NewMemoryStore(nil), idx, zap.NewNop()))
	assert.Equal(t, 0, idx.Size())
}
