// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package transform 在检索前对查询做扩展与改写：
// HyDE 假设答案生成、至多 3 条同义改写、轻量实体抽取。
//
// 降级契约：任何 LLM 调用失败或超时都退化为恒等变换
// （仅原始查询，无 HyDE、无扩展），Transform 永不向管线返回错误。
package transform

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/ragforge/cache"
	"github.com/BaSui01/ragforge/llm"
)

// TransformedQuery 变换后的查询。
type TransformedQuery struct {
	Original           string   `json:"original"`
	HypotheticalAnswer string   `json:"hypothetical_answer,omitempty"`
	Alternatives       []string `json:"alternatives,omitempty"`
	ExtractedEntities  []string `json:"extracted_entities,omitempty"`
}

// Config 查询变换配置。
type Config struct {
	EnableHyDE      bool          `json:"enable_hyde" yaml:"enable_hyde"`
	EnableExpansion bool          `json:"enable_expansion" yaml:"enable_expansion"`
	MaxAlternatives int           `json:"max_alternatives" yaml:"max_alternatives"` // ≤3
	EnableEntities  bool          `json:"enable_entities" yaml:"enable_entities"`
	CallTimeout     time.Duration `json:"call_timeout" yaml:"call_timeout"` // 单次 LLM 调用超时
	CacheTTL        time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// DefaultConfig 返回默认变换配置。
func DefaultConfig() Config {
	return Config{
		EnableHyDE:      true,
		EnableExpansion: true,
		MaxAlternatives: 3,
		EnableEntities:  true,
		CallTimeout:     8 * time.Second,
		CacheTTL:        30 * time.Minute,
	}
}

// Transformer 查询变换器。
type Transformer struct {
	cfg     Config
	gen     llm.Generator
	results *gocache.Cache
	logger  *zap.Logger
}

// NewTransformer 创建查询变换器。gen 为 nil 时所有变换退化为恒等。
func NewTransformer(cfg Config, gen llm.Generator, logger *zap.Logger) *Transformer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAlternatives <= 0 || cfg.MaxAlternatives > 3 {
		cfg.MaxAlternatives = 3
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 8 * time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Minute
	}
	return &Transformer{
		cfg:     cfg,
		gen:     gen,
		results: gocache.New(cfg.CacheTTL, cfg.CacheTTL),
		logger:  logger.With(zap.String("component", "query_transformer")),
	}
}

// Transform 变换查询。三个面向（HyDE/扩展/实体）并发执行，
// 各自失败各自降级，整体永不返回错误。
func (t *Transformer) Transform(ctx context.Context, query string) *TransformedQuery {
	query = strings.TrimSpace(query)
	out := &TransformedQuery{Original: query}
	if query == "" || t.gen == nil {
		return out
	}

	cacheKey := cache.Normalize(query)
	if cached, ok := t.results.Get(cacheKey); ok {
		cp := *(cached.(*TransformedQuery))
		return &cp
	}

	g, gctx := errgroup.WithContext(ctx)

	if t.cfg.EnableHyDE {
		g.Go(func() error {
			text, err := t.hyde(gctx, query)
			if err != nil {
				t.logger.Warn("hyde generation failed, degrading", zap.Error(err))
				return nil
			}
			out.HypotheticalAnswer = text
			return nil
		})
	}
	if t.cfg.EnableExpansion {
		g.Go(func() error {
			alts, err := t.expand(gctx, query)
			if err != nil {
				t.logger.Warn("query expansion failed, degrading", zap.Error(err))
				return nil
			}
			out.Alternatives = alts
			return nil
		})
	}
	if t.cfg.EnableEntities {
		g.Go(func() error {
			ents, err := t.entities(gctx, query)
			if err != nil {
				t.logger.Warn("entity extraction failed, degrading", zap.Error(err))
				return nil
			}
			out.ExtractedEntities = ents
			return nil
		})
	}

	// 子任务从不返回 error，Wait 仅同步
	_ = g.Wait()

	cp := *out
	t.results.Set(cacheKey, &cp, gocache.DefaultExpiration)
	return out
}

// hyde 生成查询的假设答案段落（直接嵌入该文本作为额外检索探针）。
func (t *Transformer) hyde(ctx context.Context, query string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.cfg.CallTimeout)
	defer cancel()

	prompt := fmt.Sprintf(`Generate a hypothetical document passage that would perfectly answer the following query.
The passage should be informative, factual, and directly relevant to the query.
Write as if this is an excerpt from a real document.

Query: %s

Hypothetical document passage:`, query)

	text, err := t.gen.Generate(callCtx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// expand 生成至多 MaxAlternatives 条改写/相关问题。
func (t *Transformer) expand(ctx context.Context, query string) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.cfg.CallTimeout)
	defer cancel()

	prompt := fmt.Sprintf(`Generate %d alternative search queries for the following query.
Each alternative should be a paraphrase or closely related question that widens retrieval recall.
Respond with one query per line, no numbering, no extra text.

Query: %s`, t.cfg.MaxAlternatives, query)

	text, err := t.gen.Generate(callCtx, prompt)
	if err != nil {
		return nil, err
	}

	var alts []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" || strings.EqualFold(line, query) {
			continue
		}
		alts = append(alts, line)
		if len(alts) >= t.cfg.MaxAlternatives {
			break
		}
	}
	return alts, nil
}

// entities 轻量 NER，抽取用于图遍历的种子实体。
func (t *Transformer) entities(ctx context.Context, query string) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, t.cfg.CallTimeout)
	defer cancel()

	prompt := fmt.Sprintf(`Extract the named entities (people, organizations, products, technologies, concepts) from the following query.
Respond with one entity per line, no extra text. Respond with an empty line if there are none.

Query: %s`, query)

	text, err := t.gen.Generate(callCtx, prompt)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var ents []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line == "" {
			continue
		}
		key := strings.ToLower(line)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ents = append(ents, line)
	}
	return ents, nil
}
