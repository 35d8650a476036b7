// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/ragforge/llm"
	"github.com/BaSui01/ragforge/types"
)

func TestParseExtraction_CleanJSON(t *testing.T) {
	resp := `{
		"entities": [
			{"name": "Redis", "type": "technology", "description": "in-memory store"},
			{"name": "Kafka", "type": "technology"}
		],
		"relationships": [
			{"source": "Redis", "target": "Kafka", "type": "integrates_with", "strength": 0.8}
		]
	}`

	result, err := parseExtraction(resp)
	require.NoError(t, err)
	require.Len(t, result.Entities, 2)
	assert.Equal(t, "Redis", result.Entities[0].Name)
	assert.Equal(t, "in-memory store", result.Entities[0].Description)
	require.Len(t, result.Relationships, 1)
	assert.Equal(t, 0.8, result.Relationships[0].Strength)
}

func TestParseExtraction_CodeFences(t *testing.T) {
	resp := "Here is the extraction:\n```json\n" +
		`{"entities": [{"name": "Postgres", "type": "technology"}], "relationships": []}` +
		"\n```\nLet me know if you need anything else."

	result, err := parseExtraction(resp)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Postgres", result.Entities[0].Name)
}

func TestParseExtraction_NamelessEntityDropped(t *testing.T) {
	resp := `{"entities": [{"name": "  ", "type": "concept"}, {"name": "Valid", "type": "concept"}], "relationships": []}`

	result, err := parseExtraction(resp)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "Valid", result.Entities[0].Name)
}

func TestParseExtraction_TypeDefaultsToConcept(t *testing.T) {
	resp := `{"entities": [{"name": "Something"}], "relationships": []}`

	result, err := parseExtraction(resp)
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
	assert.Equal(t, "concept", result.Entities[0].Type)
}

func TestParseExtraction_DanglingRelationshipsDropped(t *testing.T) {
	resp := `{
		"entities": [{"name": "Redis", "type": "technology"}],
		"relationships": [
			{"source": "Redis", "target": "Ghost", "type": "uses", "strength": 0.5},
			{"source": "Ghost", "target": "Redis", "type": "uses", "strength": 0.5},
			{"source": "redis", "target": "REDIS", "type": "self_reference", "strength": 0.5}
		]
	}`

	result, err := parseExtraction(resp)
	require.NoError(t, err)
	require.Len(t, result.Relationships, 1, "实体名匹配大小写不敏感，悬空关系被丢弃")
	assert.Equal(t, "self_reference", result.Relationships[0].Type)
}

func TestParseExtraction_StrengthDefaults(t *testing.T) {
	resp := `{
		"entities": [{"name": "A", "type": "concept"}, {"name": "B", "type": "concept"}],
		"relationships": [
			{"source": "A", "target": "B", "type": "x", "strength": 0},
			{"source": "B", "target": "A", "type": "y", "strength": 1.7}
		]
	}`

	result, err := parseExtraction(resp)
	require.NoError(t, err)
	require.Len(t, result.Relationships, 2)
	assert.Equal(t, 0.5, result.Relationships[0].Strength)
	assert.Equal(t, 0.5, result.Relationships[1].Strength)
}

func TestParseExtraction_TypelessRelationshipDropped(t *testing.T) {
	resp := `{
		"entities": [{"name": "A", "type": "concept"}, {"name": "B", "type": "concept"}],
		"relationships": [{"source": "A", "target": "B", "strength": 0.5}]
	}`

	result, err := parseExtraction(resp)
	require.NoError(t, err)
	assert.Empty(t, result.Relationships)
}

func TestParseExtraction_InvalidJSON(t *testing.T) {
	_, err := parseExtraction("the model refused to answer")
	assert.Error(t, err)

	_, err = parseExtraction(`{"entities": [broken`)
	assert.Error(t, err)
}

func TestExtractor_Extract(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		assert.Contains(t, prompt, "Extract the entities and relationships")
		return `{"entities": [{"name": "Redis", "type": "technology"}], "relationships": []}`, nil
	})
	e := NewExtractor(gen, nil)

	result, err := e.Extract(context.Background(), "Redis is an in-memory store.")
	require.NoError(t, err)
	require.Len(t, result.Entities, 1)
}

func TestExtractor_GeneratorFailure(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, prompt string) (string, error) {
		return "", types.TransientError("llm down", nil)
	})
	e := NewExtractor(gen, nil)

	_, err := e.Extract(context.Background(), "some text")
	assert.Error(t, err)
}
