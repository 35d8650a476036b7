// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/ragforge/graph"
	"github.com/BaSui01/ragforge/internal/metrics"
	"github.com/BaSui01/ragforge/keyword"
	"github.com/BaSui01/ragforge/store"
	"github.com/BaSui01/ragforge/types"
)

// fakeEmbedder 依据关键词返回确定性的二维向量。
type fakeEmbedder struct {
	fail bool
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, errors.New("embedding backend down")
	}
	return embed(text), nil
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = embed(t)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 2 }

func embed(text string) []float32 {
	text = strings.ToLower(text)
	switch {
	case strings.Contains(text, "redis"):
		return []float32{1, 0}
	case strings.Contains(text, "kafka"):
		return []float32{0, 1}
	default:
		return []float32{0.5, 0.5}
	}
}

// failingGraph 强制图分支失败。
type failingGraph struct {
	graph.Store
}

func (f *failingGraph) FindEntities(ctx context.Context, names []string) ([]types.Entity, error) {
	return nil, errors.New("graph backend unreachable")
}

type fixture struct {
	docs    *store.MemoryStore
	graph   *graph.MemoryStore
	keyword *keyword.Index
}

// seed 三篇 completed 文档：redis 缓存、kafka 消息、redis+kafka 集成。
func seed(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{
		docs:    store.NewMemoryStore(nil),
		graph:   graph.NewMemoryStore(nil),
		keyword: keyword.NewIndex(keyword.DefaultConfig(), nil),
	}

	type docSpec struct {
		id, title, content string
		entities           []string
	}
	specs := []docSpec{
		{"doc-redis", "Redis Caching", "redis is an in-memory cache used for session storage", []string{"Redis"}},
		{"doc-kafka", "Kafka Streaming", "kafka is a distributed log for event streaming", []string{"Kafka"}},
		{"doc-both", "Redis Kafka Bridge", "bridging redis cache invalidation events into kafka topics", []string{"Redis", "Kafka"}},
	}

	for _, s := range specs {
		doc := &types.Document{
			ID: s.id, ProjectID: "p1", Title: s.title,
			RawContent: s.content, Version: 1, Status: types.StatusProcessing,
		}
		require.NoError(t, f.docs.CreateDocument(ctx, doc))

		chunk := types.DocumentChunk{
			ID:         s.id + "-c0",
			DocumentID: s.id,
			Content:    s.content,
			ChunkIndex: 0,
			Embedding:  embed(s.content),
		}
		require.NoError(t, f.docs.SaveChunks(ctx, []types.DocumentChunk{chunk}))

		var entityIDs []string
		for _, name := range s.entities {
			e, err := f.graph.UpsertEntity(ctx, name, "technology", "")
			require.NoError(t, err)
			entityIDs = append(entityIDs, e.ID)
		}
		require.NoError(t, f.graph.LinkDocument(ctx, s.id, entityIDs))

		require.NoError(t, f.keyword.IndexChunks(ctx, "p1", s.id, s.title, []types.DocumentChunk{chunk}))
		require.NoError(t, f.docs.FinalizeDocument(ctx, s.id, "summary of "+s.title, 1))
	}
	return f
}

func newRetriever(f *fixture, g graph.Store) *HybridRetriever {
	if g == nil {
		g = f.graph
	}
	return NewHybridRetriever(DefaultConfig(), f.docs, &fakeEmbedder{}, g, f.keyword, nil, nil)
}

func TestRetrieve_HybridFindsRelevantDocument(t *testing.T) {
	f := seed(t)
	r := newRetriever(f, nil)

	fused, err := r.Retrieve(context.Background(), Query{
		ProjectID: "p1",
		Original:  "how does redis cache work",
		Entities:  []string{"Redis"},
		Method:    types.MethodHybrid,
		TopK:      10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, fused)

	// redis 文档应当同时被向量、关键词、图三个分支命中并排到最前
	top := fused[0]
	assert.Contains(t, []string{"doc-redis", "doc-both"}, top.DocumentID)

	docIDs := make(map[string]struct{})
	for _, c := range fused {
		docIDs[c.DocumentID] = struct{}{}
	}
	assert.Contains(t, docIDs, "doc-redis")
}

func TestRetrieve_VectorOnly(t *testing.T) {
	f := seed(t)
	r := newRetriever(f, nil)

	fused, err := r.Retrieve(context.Background(), Query{
		ProjectID: "p1",
		Original:  "kafka event log",
		Method:    types.MethodVector,
		TopK:      2,
	})
	require.NoError(t, err)
	require.NotEmpty(t, fused)
	assert.Equal(t, "doc-kafka", fused[0].DocumentID)
	for _, c := range fused {
		assert.Equal(t, types.MethodVector, c.SourceMethod)
	}
}

func TestRetrieve_KeywordOnlyUsesAlternatives(t *testing.T) {
	f := seed(t)
	r := newRetriever(f, nil)

	// 原查询不命中任何词，改写探针"streaming"命中 kafka 文档
	fused, err := r.Retrieve(context.Background(), Query{
		ProjectID:    "p1",
		Original:     "zzzz qqqq",
		Alternatives: []string{"event streaming"},
		Method:       types.MethodKeyword,
		TopK:         10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, fused)
	assert.Equal(t, "doc-kafka", fused[0].DocumentID)
}

func TestRetrieve_GraphTwoHop(t *testing.T) {
	f := seed(t)
	r := newRetriever(f, nil)

	// 种子实体 Kafka：第一跳 doc-kafka/doc-both，
	// 第二跳经 doc-both 的 Redis 实体可达 doc-redis
	fused, err := r.Retrieve(context.Background(), Query{
		ProjectID: "p1",
		Original:  "kafka",
		Entities:  []string{"Kafka"},
		Method:    types.MethodGraph,
		TopK:      10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, fused)
	for _, c := range fused {
		assert.Equal(t, types.MethodGraph, c.SourceMethod)
		// 图候选以摘要呈现
		assert.True(t, strings.HasPrefix(c.Content, "summary of "))
	}
	// 图分支整体截断到 topK/2
	assert.LessOrEqual(t, len(fused), 5)
}

func TestRetrieve_GraphWithoutEntitiesIsEmpty(t *testing.T) {
	f := seed(t)
	r := newRetriever(f, nil)

	fused, err := r.Retrieve(context.Background(), Query{
		ProjectID: "p1",
		Original:  "anything",
		Method:    types.MethodGraph,
		TopK:      10,
	})
	require.NoError(t, err)
	assert.Empty(t, fused)
}

func TestRetrieve_BranchFailureDegradesToPartialResults(t *testing.T) {
	f := seed(t)
	r := newRetriever(f, &failingGraph{Store: f.graph})

	fused, err := r.Retrieve(context.Background(), Query{
		ProjectID: "p1",
		Original:  "redis cache",
		Entities:  []string{"Redis"},
		Method:    types.MethodHybrid,
		TopK:      10,
	})
	// 图分支失败被吸收，向量+关键词仍产出
	require.NoError(t, err)
	require.NotEmpty(t, fused)
	for _, c := range fused {
		assert.NotEqual(t, types.MethodGraph, c.SourceMethod)
	}
}

func TestRetrieve_AllBranchesFailedYieldsEmptyNotError(t *testing.T) {
	f := seed(t)
	r := NewHybridRetriever(DefaultConfig(), f.docs, &fakeEmbedder{fail: true}, &failingGraph{Store: f.graph}, keyword.NewIndex(keyword.DefaultConfig(), nil), nil, nil)

	fused, err := r.Retrieve(context.Background(), Query{
		ProjectID: "p1",
		Original:  "redis",
		Entities:  []string{"Redis"},
		Method:    types.MethodHybrid,
		TopK:      10,
	})
	require.NoError(t, err)
	assert.Empty(t, fused)
}

func TestRetrieve_CancelledContext(t *testing.T) {
	f := seed(t)
	r := newRetriever(f, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Retrieve(ctx, Query{ProjectID: "p1", Original: "redis", TopK: 5})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetrieve_OnlyCompletedDocumentsVisible(t *testing.T) {
	f := seed(t)
	ctx := context.Background()

	// 注入一篇 processing 状态的文档及其分块
	doc := &types.Document{
		ID: "doc-pending", ProjectID: "p1", Title: "Pending Redis Doc",
		RawContent: "redis pending content", Version: 1, Status: types.StatusProcessing,
	}
	require.NoError(t, f.docs.CreateDocument(ctx, doc))
	require.NoError(t, f.docs.SaveChunks(ctx, []types.DocumentChunk{{
		ID: "doc-pending-c0", DocumentID: "doc-pending",
		Content: "redis pending content", Embedding: embed("redis"),
	}}))

	r := newRetriever(f, nil)
	fused, err := r.Retrieve(ctx, Query{
		ProjectID: "p1", Original: "redis cache", Method: types.MethodVector, TopK: 10,
	})
	require.NoError(t, err)
	for _, c := range fused {
		assert.NotEqual(t, "doc-pending", c.DocumentID)
	}
}

func TestRetrieve_BranchesAreProjectScoped(t *testing.T) {
	f := seed(t)
	ctx := context.Background()

	// 另一个项目的文档共享 Redis 实体并进入关键词索引
	doc := &types.Document{
		ID: "doc-other", ProjectID: "p2", Title: "Other Redis Doc",
		RawContent: "redis cluster deployment notes", Version: 1, Status: types.StatusProcessing,
	}
	require.NoError(t, f.docs.CreateDocument(ctx, doc))
	chunk := types.DocumentChunk{
		ID: "doc-other-c0", DocumentID: "doc-other",
		Content: "redis cluster deployment notes", Embedding: embed("redis"),
	}
	require.NoError(t, f.docs.SaveChunks(ctx, []types.DocumentChunk{chunk}))
	e, err := f.graph.UpsertEntity(ctx, "Redis", "technology", "")
	require.NoError(t, err)
	require.NoError(t, f.graph.LinkDocument(ctx, "doc-other", []string{e.ID}))
	require.NoError(t, f.keyword.IndexChunks(ctx, "p2", "doc-other", doc.Title, []types.DocumentChunk{chunk}))
	require.NoError(t, f.docs.FinalizeDocument(ctx, "doc-other", "summary of other redis doc", 1))

	r := newRetriever(f, nil)

	// p1 的关键词与图分支都不得命中 p2 的文档，反向亦然
	for _, method := range []types.RetrievalMethod{types.MethodKeyword, types.MethodGraph} {
		fused, err := r.Retrieve(ctx, Query{
			ProjectID: "p1",
			Original:  "redis cache",
			Entities:  []string{"Redis"},
			Method:    method,
			TopK:      10,
		})
		require.NoError(t, err)
		for _, c := range fused {
			assert.NotEqual(t, "doc-other", c.DocumentID, "method %s", method)
		}

		fused, err = r.Retrieve(ctx, Query{
			ProjectID: "p2",
			Original:  "redis cluster",
			Entities:  []string{"Redis"},
			Method:    method,
			TopK:      10,
		})
		require.NoError(t, err)
		require.NotEmpty(t, fused, "method %s", method)
		for _, c := range fused {
			assert.Equal(t, "doc-other", c.DocumentID, "method %s", method)
		}
	}
}

func TestRetrieve_HyDEProbeWidensRecall(t *testing.T) {
	f := seed(t)
	r := newRetriever(f, nil)

	// 原查询向量是中性的，HyDE 文本把探针拉向 kafka
	withHyde, err := r.Retrieve(context.Background(), Query{
		ProjectID:    "p1",
		Original:     "neutral wording",
		Hypothetical: "kafka is a distributed event streaming platform",
		Method:       types.MethodVector,
		TopK:         1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, withHyde)
}

func TestRetrieve_BranchTimeoutIsEnforced(t *testing.T) {
	f := seed(t)
	cfg := DefaultConfig()
	cfg.BranchTimeout = 10 * time.Millisecond

	r := NewHybridRetriever(cfg, f.docs, &slowEmbedder{delay: 200 * time.Millisecond}, f.graph, f.keyword, nil, nil)

	start := time.Now()
	fused, err := r.Retrieve(context.Background(), Query{
		ProjectID: "p1", Original: "redis", Method: types.MethodVector, TopK: 5,
	})
	require.NoError(t, err)
	assert.Empty(t, fused)
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestRetrieve_RecordsBranchMetrics(t *testing.T) {
	f := seed(t)
	collector := metrics.NewCollector("retrieval_wiring", zap.NewNop())
	r := NewHybridRetriever(DefaultConfig(), f.docs, &fakeEmbedder{}, &failingGraph{Store: f.graph}, f.keyword, collector, nil)

	_, err := r.Retrieve(context.Background(), Query{
		ProjectID: "p1",
		Original:  "redis cache",
		Entities:  []string{"Redis"},
		Method:    types.MethodHybrid,
		TopK:      10,
	})
	require.NoError(t, err)

	// 三个分支各记录一次耗时，失败的图分支额外计入失败数
	for _, branch := range []string{"vector", "keyword", "graph"} {
		count := histogramSamples(t, "retrieval_wiring_retrieval_branch_duration_seconds",
			map[string]string{"branch": branch})
		assert.Equal(t, uint64(1), count, "branch %s", branch)
	}
	assert.Equal(t, float64(1), counterValue(t, "retrieval_wiring_retrieval_branch_failures_total",
		map[string]string{"branch": "graph"}))
	assert.Equal(t, uint64(1), histogramSamples(t, "retrieval_wiring_candidates_fused", nil))
}

// counterValue 从默认注册表按名字和标签读取 counter 当前值。
func counterValue(t *testing.T, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				matched := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						matched = true
						break
					}
				}
				if !matched {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// histogramSamples 从默认注册表按名字和标签读取直方图样本数。
func histogramSamples(t *testing.T, name string, labels map[string]string) uint64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			for k, v := range labels {
				matched := false
				for _, lp := range m.GetLabel() {
					if lp.GetName() == k && lp.GetValue() == v {
						matched = true
						break
					}
				}
				if !matched {
					continue metric
				}
			}
			return m.GetHistogram().GetSampleCount()
		}
	}
	return 0
}

// slowEmbedder 阻塞到 ctx 截止，用于验证分支超时。
type slowEmbedder struct {
	delay time.Duration
}

func (s *slowEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
		return embed(text), nil
	}
}

func (s *slowEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, errors.New("not used")
}

func (s *slowEmbedder) Dimensions() int { return 2 }
