// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package keyword 提供基于 BM25 的词法全文检索。
//
// 索引按项目分片：每个项目一张独立的倒排表，查询只在自己项目的
// 分片内打分，文档频率等统计也随之按项目隔离。
// 分片以倒排表形式增量维护：摄取管线在文档完成时批量写入分块，
// 查询路径只读。IDF 在查询时按当前文档频率计算，
// 增删文档后无需全量重建统计。
package keyword

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"

	"github.com/BaSui01/ragforge/types"
)

// Config BM25 参数。
type Config struct {
	K1 float64 `json:"k1" yaml:"k1"` // 词频饱和参数 (1.2-2.0)
	B  float64 `json:"b" yaml:"b"`   // 长度归一化参数 (0.75)
}

// DefaultConfig 返回默认 BM25 参数。
func DefaultConfig() Config {
	return Config{K1: 1.5, B: 0.75}
}

// Result 词法检索结果。
type Result struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Content    string  `json:"content"`
	Title      string  `json:"title,omitempty"`
	Score      float64 `json:"score"`
}

type indexedChunk struct {
	documentID string
	title      string
	content    string
	termFreq   map[string]int
	length     int
}

// shard 单个项目的倒排表。
type shard struct {
	chunks   map[string]*indexedChunk       // chunkID -> chunk
	byDoc    map[string][]string            // documentID -> chunkIDs
	postings map[string]map[string]struct{} // term -> set of chunkIDs
	totalLen int
}

func newShard() *shard {
	return &shard{
		chunks:   make(map[string]*indexedChunk),
		byDoc:    make(map[string][]string),
		postings: make(map[string]map[string]struct{}),
	}
}

// Index 内存倒排索引，按项目分片。查询路径读多，摄取路径批量追加，
// 以 RWMutex 保护；同一文档重复写入以最后一次为准（幂等）。
type Index struct {
	cfg        Config
	mu         sync.RWMutex
	shards     map[string]*shard // projectID -> shard
	docProject map[string]string // documentID -> projectID
	logger     *zap.Logger
}

// NewIndex 创建空索引。
func NewIndex(cfg Config, logger *zap.Logger) *Index {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.K1 <= 0 {
		cfg.K1 = 1.5
	}
	if cfg.B <= 0 {
		cfg.B = 0.75
	}
	return &Index{
		cfg:        cfg,
		shards:     make(map[string]*shard),
		docProject: make(map[string]string),
		logger:     logger.With(zap.String("component", "keyword_index")),
	}
}

// IndexChunks 将一个文档的分块批量写入其项目的分片。
// 同一文档再次写入时先移除旧分块，保证重复摄取可交换、幂等。
func (idx *Index) IndexChunks(ctx context.Context, projectID, documentID, title string, chunks []types.DocumentChunk) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(documentID)

	sh, ok := idx.shards[projectID]
	if !ok {
		sh = newShard()
		idx.shards[projectID] = sh
	}
	idx.docProject[documentID] = projectID

	for _, c := range chunks {
		terms := tokenize(c.Content)
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		sh.chunks[c.ID] = &indexedChunk{
			documentID: documentID,
			title:      title,
			content:    c.Content,
			termFreq:   tf,
			length:     len(terms),
		}
		sh.byDoc[documentID] = append(sh.byDoc[documentID], c.ID)
		sh.totalLen += len(terms)
		for t := range tf {
			set, ok := sh.postings[t]
			if !ok {
				set = make(map[string]struct{})
				sh.postings[t] = set
			}
			set[c.ID] = struct{}{}
		}
	}

	idx.logger.Debug("chunks indexed",
		zap.String("project_id", projectID),
		zap.String("document_id", documentID),
		zap.Int("chunks", len(chunks)))
	return nil
}

// RemoveDocument 从索引中移除一个文档的全部分块。
func (idx *Index) RemoveDocument(ctx context.Context, documentID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(documentID)
	return nil
}

func (idx *Index) removeLocked(documentID string) {
	projectID, ok := idx.docProject[documentID]
	if !ok {
		return
	}
	sh := idx.shards[projectID]
	for _, chunkID := range sh.byDoc[documentID] {
		c, ok := sh.chunks[chunkID]
		if !ok {
			continue
		}
		for t := range c.termFreq {
			if set, ok := sh.postings[t]; ok {
				delete(set, chunkID)
				if len(set) == 0 {
					delete(sh.postings, t)
				}
			}
		}
		sh.totalLen -= c.length
		delete(sh.chunks, chunkID)
	}
	delete(sh.byDoc, documentID)
	delete(idx.docProject, documentID)
	if len(sh.chunks) == 0 {
		delete(idx.shards, projectID)
	}
}

// Search BM25 排名检索，只在给定项目的分片内打分，
// 返回得分最高的 topK 个分块。空查询或空分片返回空结果，不报错。
func (idx *Index) Search(ctx context.Context, projectID, query string, topK int) ([]Result, error) {
	queryTerms := tokenize(query)
	if len(queryTerms) == 0 || topK <= 0 {
		return nil, nil
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	sh, ok := idx.shards[projectID]
	if !ok {
		return nil, nil
	}
	n := len(sh.chunks)
	if n == 0 {
		return nil, nil
	}
	avgLen := float64(sh.totalLen) / float64(n)

	// 只为命中至少一个查询词的分块打分
	scores := make(map[string]float64)
	seen := make(map[string]struct{}, len(queryTerms))
	for _, term := range queryTerms {
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}

		set, ok := sh.postings[term]
		if !ok {
			continue
		}
		idf := idfScore(n, len(set))
		for chunkID := range set {
			c := sh.chunks[chunkID]
			tf := float64(c.termFreq[term])
			denom := tf + idx.cfg.K1*(1.0-idx.cfg.B+idx.cfg.B*(float64(c.length)/avgLen))
			scores[chunkID] += idf * (tf * (idx.cfg.K1 + 1.0)) / denom
		}
	}

	results := make([]Result, 0, len(scores))
	for chunkID, score := range scores {
		c := sh.chunks[chunkID]
		results = append(results, Result{
			ChunkID:    chunkID,
			DocumentID: c.documentID,
			Content:    c.content,
			Title:      c.title,
			Score:      score,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Size 返回全部项目已索引的分块总数。
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	total := 0
	for _, sh := range idx.shards {
		total += len(sh.chunks)
	}
	return total
}

// idfScore 带平滑的 IDF，恒为正。
func idfScore(n, df int) float64 {
	return math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
}

// tokenize 小写化并按非字母数字边界切词。
func tokenize(text string) []string {
	text = strings.ToLower(text)
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
