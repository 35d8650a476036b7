// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package generate 实现答案生成：把压缩后的候选组装为编号来源块的
// 提示词，调用一次语言模型，并构造与来源一一对应的引用。
//
// 生成是管线中唯一的硬失败点：重试耗尽后错误上抛给调用方，
// 绝不返回部分或编造的答案。
package generate

import (
	"fmt"
	"strings"

	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/ragforge/llm"
	"github.com/BaSui01/ragforge/types"
)

// Config 生成配置。
type Config struct {
	// MaxContextTokens 来源块的总 token 预算，超出的候选被丢弃。
	MaxContextTokens int `json:"max_context_tokens" yaml:"max_context_tokens"`
	// SnippetLength 引用摘要片段长度（字符）。
	SnippetLength int `json:"snippet_length" yaml:"snippet_length"`
}

// DefaultConfig 返回默认生成配置。
func DefaultConfig() Config {
	return Config{
		MaxContextTokens: 6000,
		SnippetLength:    200,
	}
}

// Tokenizer 估算文本 token 数，用于上下文预算控制。
type Tokenizer interface {
	CountTokens(text string) int
}

// Generator 答案生成器。
type Generator struct {
	cfg       Config
	gen       llm.Generator
	tokenizer Tokenizer
	logger    *zap.Logger
}

// NewGenerator 创建答案生成器。
// gen 应当已经包好超时与重试（llm.ResilientGenerator）。
func NewGenerator(cfg Config, gen llm.Generator, tokenizer Tokenizer, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 6000
	}
	if cfg.SnippetLength <= 0 {
		cfg.SnippetLength = 200
	}
	return &Generator{
		cfg:       cfg,
		gen:       gen,
		tokenizer: tokenizer,
		logger:    logger.With(zap.String("component", "answer_generator")),
	}
}

// Generate 生成答案与引用。
// candidates 为空时直接返回"无法回答"而不调用模型。
// 模型调用失败（已含重试）时返回 ExhaustedRetries 错误。
func (g *Generator) Generate(ctx context.Context, query string, candidates []types.RetrievedCandidate) (string, []types.Citation, error) {
	if len(candidates) == 0 {
		return "I could not find any relevant information to answer this question.", nil, nil
	}

	retained := g.fitBudget(candidates)
	prompt := g.buildPrompt(query, retained)

	answer, err := g.gen.Generate(ctx, prompt)
	if err != nil {
		return "", nil, types.ExhaustedRetriesError("answer generation failed", err)
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", nil, types.ExhaustedRetriesError("answer generation returned empty response", nil)
	}

	citations := make([]types.Citation, 0, len(retained))
	for i, c := range retained {
		citations = append(citations, types.Citation{
			Index:      i + 1,
			DocumentID: c.DocumentID,
			ChunkID:    c.ChunkID,
			Title:      c.Title,
			Snippet:    snippet(c.Content, g.cfg.SnippetLength),
			Score:      c.RawScore,
		})
	}
	return answer, citations, nil
}

// fitBudget 按顺序保留候选直到 token 预算耗尽，至少保留一个。
func (g *Generator) fitBudget(candidates []types.RetrievedCandidate) []types.RetrievedCandidate {
	if g.tokenizer == nil {
		return candidates
	}

	used := 0
	var retained []types.RetrievedCandidate
	for _, c := range candidates {
		tokens := g.tokenizer.CountTokens(c.Content)
		if len(retained) > 0 && used+tokens > g.cfg.MaxContextTokens {
			g.logger.Debug("context budget exhausted, dropping remaining candidates",
				zap.Int("retained", len(retained)),
				zap.Int("dropped", len(candidates)-len(retained)))
			break
		}
		retained = append(retained, c)
		used += tokens
	}
	return retained
}

// buildPrompt 组装编号来源块提示词。
func (g *Generator) buildPrompt(query string, candidates []types.RetrievedCandidate) string {
	var b strings.Builder
	b.WriteString("Answer the question using only the numbered sources below.\n")
	b.WriteString("Cite sources in your answer with their number, e.g. [1].\n")
	b.WriteString("If the sources do not contain the answer, say so explicitly.\n\n")

	for i, c := range candidates {
		title := c.Title
		if title == "" {
			title = "Untitled"
		}
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, title, c.Content)
	}

	fmt.Fprintf(&b, "Question: %s\n\nAnswer:", query)
	return b.String()
}

func snippet(content string, maxLen int) string {
	content = strings.TrimSpace(content)
	if len(content) <= maxLen {
		return content
	}
	cut := content[:maxLen]
	if idx := strings.LastIndexByte(cut, ' '); idx > maxLen/2 {
		cut = cut[:idx]
	}
	return cut + "…"
}
