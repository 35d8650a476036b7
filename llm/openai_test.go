// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragforge/types"
)

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultOpenAIConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "test-key"
	cfg.Dimensions = 4
	return NewOpenAIProvider(cfg)
}

func TestOpenAIProvider_Generate(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)
		assert.Equal(t, "What is Redis?", req.Messages[0].Content)

		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": "Redis is a cache."}},
			},
		})
	})

	text, err := p.Generate(context.Background(), "What is Redis?")
	require.NoError(t, err)
	assert.Equal(t, "Redis is a cache.", text)
}

func TestOpenAIProvider_GenerateNoChoices(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []any{}})
	})

	_, err := p.Generate(context.Background(), "query")
	require.Error(t, err)
	assert.Equal(t, types.ErrTransientBackend, types.CodeOf(err))
}

func TestOpenAIProvider_EmbedDocumentsIndexReassembly(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"alpha", "beta"}, req.Input)
		assert.Equal(t, 4, req.Dimensions)

		// 响应顺序故意颠倒，按 index 归位
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"index": 1, "embedding": []float32{0, 1, 0, 0}},
				{"index": 0, "embedding": []float32{1, 0, 0, 0}},
			},
		})
	})

	vecs, err := p.EmbedDocuments(context.Background(), []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)
	assert.Equal(t, []float32{1, 0, 0, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1, 0, 0}, vecs[1])
}

func TestOpenAIProvider_EmbedLengthMismatch(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{1}}},
		})
	})

	_, err := p.EmbedDocuments(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "length mismatch")
}

func TestOpenAIProvider_EmbedQuery(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"index": 0, "embedding": []float32{0.5, 0.5, 0, 0}}},
		})
	})

	vec, err := p.EmbedQuery(context.Background(), "query text")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5, 0, 0}, vec)
}

func TestOpenAIProvider_RateLimitRetryable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	})

	_, err := p.Generate(context.Background(), "query")
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err), "429 可重试")
}

func TestOpenAIProvider_ServerErrorRetryable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	})

	_, err := p.Generate(context.Background(), "query")
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}

func TestOpenAIProvider_BadRequestNotRetryable(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid model"}`, http.StatusBadRequest)
	})

	_, err := p.Generate(context.Background(), "query")
	require.Error(t, err)
	assert.False(t, types.IsRetryable(err), "400 不可重试")
}

func TestOpenAIProvider_Dimensions(t *testing.T) {
	cfg := DefaultOpenAIConfig()
	cfg.Dimensions = 768
	p := NewOpenAIProvider(cfg)
	assert.Equal(t, 768, p.Dimensions())
}
