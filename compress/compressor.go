// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package compress 实现上下文压缩：对每个保留候选抽取与查询相关的
// 片段，压缩在候选间并发执行。
//
// 非虚构保证：压缩输出必须是源文本的子集（逐句包含校验），
// 校验失败或抽取失败时保留原文，绝不丢弃候选、绝不引入源外内容。
package compress

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ragforge/llm"
	"github.com/BaSui01/ragforge/types"
)

// Config 压缩配置。
type Config struct {
	Concurrency int `json:"concurrency" yaml:"concurrency"` // 并发候选数
	// MinOverlap 句级包含校验的词重叠下限（0-1），
	// 容忍模型对空白/标点的轻微改写。
	MinOverlap float64 `json:"min_overlap" yaml:"min_overlap"`
}

// DefaultConfig 返回默认压缩配置。
func DefaultConfig() Config {
	return Config{
		Concurrency: 4,
		MinOverlap:  0.85,
	}
}

// Compressor 上下文压缩器。
type Compressor struct {
	cfg    Config
	gen    llm.Generator
	logger *zap.Logger
}

// NewCompressor 创建压缩器。gen 为 nil 时 Compress 原样返回候选。
func NewCompressor(cfg Config, gen llm.Generator, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MinOverlap <= 0 || cfg.MinOverlap > 1 {
		cfg.MinOverlap = 0.85
	}
	return &Compressor{
		cfg:    cfg,
		gen:    gen,
		logger: logger.With(zap.String("component", "compressor")),
	}
}

// Compress 并发压缩候选。单候选失败时保留其原文。
func (c *Compressor) Compress(ctx context.Context, query string, candidates []types.RetrievedCandidate) []types.RetrievedCandidate {
	if c.gen == nil || len(candidates) == 0 {
		return candidates
	}

	out := make([]types.RetrievedCandidate, len(candidates))
	copy(out, candidates)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)

	for i := range out {
		g.Go(func() error {
			compressed, err := c.extract(gctx, query, out[i].Content)
			if err != nil {
				c.logger.Warn("compression failed, keeping original content",
					zap.String("chunk_id", out[i].ChunkID),
					zap.Error(err))
				return nil
			}
			if !Contained(compressed, out[i].Content, c.cfg.MinOverlap) {
				c.logger.Warn("compression output not contained in source, keeping original",
					zap.String("chunk_id", out[i].ChunkID))
				return nil
			}
			out[i].Content = compressed
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// extract 单候选的抽取式压缩。
func (c *Compressor) extract(ctx context.Context, query, content string) (string, error) {
	prompt := fmt.Sprintf(`Extract only the passages from the following document that are relevant to the query.
Copy the relevant sentences verbatim. Do not rephrase, summarize, or add anything.
If nothing is relevant, return the single word NONE.

Query: %s

Document:
%s

Relevant passages:`, query, content)

	text, err := c.gen.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" || strings.EqualFold(text, "NONE") {
		return "", fmt.Errorf("no relevant passages extracted")
	}
	return text, nil
}

// Contained 逐句校验 compressed 是否为 source 的子集。
// 规范化后做子串匹配，失配句退化为词重叠率校验（阈值 minOverlap）。
func Contained(compressed, source string, minOverlap float64) bool {
	normSource := normalize(source)
	sourceWords := wordSet(normSource)

	for _, sentence := range splitSentences(compressed) {
		norm := normalize(sentence)
		if norm == "" {
			continue
		}
		if strings.Contains(normSource, norm) {
			continue
		}
		if wordOverlap(wordSet(norm), sourceWords) < minOverlap {
			return false
		}
	}
	return true
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n' || r == '。' || r == '！' || r == '？'
	})
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func wordSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[strings.Trim(w, ".,;:!?\"'()[]")] = struct{}{}
	}
	return set
}

// wordOverlap a 中出现在 b 里的词占比。
func wordOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 {
		return 0
	}
	matched := 0
	for w := range a {
		if _, ok := b[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(a))
}
