// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package ingest 实现文档摄取管线。

每篇文档的状态机：pending → processing → {completed | failed}。
failed 是终态，只能通过新的摄取请求重试。处理步骤：

 1. 持久化文档行（调用方完成，见 Submit）
 2. 生成摘要（尽力而为，失败退化为截断原文）
 3. 递归字符分块（固定大小 + 重叠，相邻块共享上下文片段）
 4. 批量嵌入全部分块
 5. 持久化带向量的分块
 6. LLM 抽取实体与关系，按 (name, type) 合并写入图谱
 7. 写入关键词索引并标记 completed

原子可见性：关键词索引在第 7 步写入，向量/图检索只命中
completed 文档，因此中途失败不会留下可搜索的半成品。
失败路径清理已写入的分块。

摄取在独立的后台 worker 池中运行，与查询路径无共享可变状态
（索引本身除外）；所有索引写入都是 upsert/merge 语义，
重叠内容的并发摄取可交换。
*/
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/ragforge/graph"
	"github.com/BaSui01/ragforge/internal/metrics"
	"github.com/BaSui01/ragforge/keyword"
	"github.com/BaSui01/ragforge/llm"
	"github.com/BaSui01/ragforge/store"
	"github.com/BaSui01/ragforge/types"
)

// Config 摄取管线配置。
type Config struct {
	Chunker        ChunkerConfig `json:"chunker" yaml:"chunker"`
	Workers        int           `json:"workers" yaml:"workers"`
	QueueSize      int           `json:"queue_size" yaml:"queue_size"`
	SnippetLength  int           `json:"snippet_length" yaml:"snippet_length"`   // 相邻块上下文片段长度
	SummaryLength  int           `json:"summary_length" yaml:"summary_length"`   // 摘要降级时的截断长度
	EmbedBatchSize int           `json:"embed_batch_size" yaml:"embed_batch_size"`
}

// DefaultConfig 返回默认摄取配置。
func DefaultConfig() Config {
	return Config{
		Chunker:        DefaultChunkerConfig(),
		Workers:        2,
		QueueSize:      64,
		SnippetLength:  100,
		SummaryLength:  200,
		EmbedBatchSize: 64,
	}
}

// Pipeline 文档摄取管线。
type Pipeline struct {
	cfg       Config
	docs      store.DocumentStore
	graph     graph.Store
	keyword   *keyword.Index
	embedder  llm.EmbeddingProvider
	gen       llm.Generator
	chunker   *Chunker
	extractor *Extractor
	collector *metrics.Collector

	jobs   chan string // documentID
	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
	logger *zap.Logger
}

// NewPipeline 创建摄取管线。调用 Start 后开始消费队列。
// collector 可为 nil 表示不采集指标。
func NewPipeline(
	cfg Config,
	docs store.DocumentStore,
	graphStore graph.Store,
	keywordIndex *keyword.Index,
	embedder llm.EmbeddingProvider,
	gen llm.Generator,
	collector *metrics.Collector,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.SnippetLength <= 0 {
		cfg.SnippetLength = 100
	}
	if cfg.SummaryLength <= 0 {
		cfg.SummaryLength = 200
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 64
	}
	return &Pipeline{
		cfg:       cfg,
		docs:      docs,
		graph:     graphStore,
		keyword:   keywordIndex,
		embedder:  embedder,
		gen:       gen,
		chunker:   NewChunker(cfg.Chunker),
		extractor: NewExtractor(gen, logger),
		collector: collector,
		jobs:      make(chan string, cfg.QueueSize),
		logger:    logger.With(zap.String("component", "ingest_pipeline")),
	}
}

// Start 启动 worker 池。
func (p *Pipeline) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx)
	}
	p.logger.Info("ingestion workers started", zap.Int("workers", p.cfg.Workers))
}

// Stop 停止接收新任务并等待在途任务完成。
func (p *Pipeline) Stop() {
	p.once.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		close(p.jobs)
	})
	p.wg.Wait()
}

// Submit 持久化 pending 文档行并入队。队列满时返回错误，
// 已写入的文档行保持 pending，可由调用方重新提交。
func (p *Pipeline) Submit(ctx context.Context, doc *types.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	doc.Status = types.StatusPending

	version, err := p.docs.NextVersion(ctx, doc.ProjectID, doc.Title)
	if err != nil {
		return fmt.Errorf("resolve document version: %w", err)
	}
	doc.Version = version

	if err := p.docs.CreateDocument(ctx, doc); err != nil {
		return fmt.Errorf("persist document: %w", err)
	}

	select {
	case p.jobs <- doc.ID:
		return nil
	default:
		return types.TransientError("ingestion queue full", nil)
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case docID, ok := <-p.jobs:
			if !ok {
				return
			}
			p.process(ctx, docID)
		}
	}
}

// process 执行单篇文档的完整摄取。
func (p *Pipeline) process(ctx context.Context, docID string) {
	log := p.logger.With(zap.String("document_id", docID))
	started := time.Now()

	doc, err := p.docs.GetDocument(ctx, docID)
	if err != nil {
		log.Error("document disappeared before processing", zap.Error(err))
		return
	}

	if err := p.docs.SetStatus(ctx, docID, types.StatusProcessing, ""); err != nil {
		log.Error("cannot mark document processing", zap.Error(err))
		return
	}

	chunkCount, err := p.run(ctx, doc)
	if err != nil {
		log.Warn("ingestion failed", zap.Error(err))
		p.cleanup(ctx, docID)
		ingErr := types.IngestionError("ingestion failed", err)
		if setErr := p.docs.SetStatus(ctx, docID, types.StatusFailed, ingErr.Error()); setErr != nil {
			log.Error("cannot mark document failed", zap.Error(setErr))
		}
		if p.collector != nil {
			p.collector.RecordIngest(string(types.StatusFailed), time.Since(started), 0)
		}
		return
	}

	if p.collector != nil {
		p.collector.RecordIngest(string(types.StatusCompleted), time.Since(started), chunkCount)
	}
	log.Info("document ingested", zap.Int("version", doc.Version))
}

// run 摄取主流程，任何一步失败都使文档进入 failed。
// 成功时返回写入的分块数。
func (p *Pipeline) run(ctx context.Context, doc *types.Document) (int, error) {
	// (2) 摘要，尽力而为
	summary := p.summarize(ctx, doc)

	// (3) 分块
	pieces := p.chunker.Split(doc.RawContent)
	if len(pieces) == 0 {
		return 0, fmt.Errorf("document has no content to chunk")
	}
	chunks := p.buildChunks(doc.ID, pieces)

	// (4) 批量嵌入
	if err := p.embedChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}

	// (5) 持久化分块
	if err := p.docs.SaveChunks(ctx, chunks); err != nil {
		return 0, fmt.Errorf("persist chunks: %w", err)
	}

	// (6) 图谱抽取与合并
	if err := p.extractGraph(ctx, doc); err != nil {
		return 0, fmt.Errorf("graph extraction: %w", err)
	}

	// (7) 关键词索引 + 完成标记（可见性开关）
	if err := p.keyword.IndexChunks(ctx, doc.ProjectID, doc.ID, doc.Title, chunks); err != nil {
		return 0, fmt.Errorf("keyword indexing: %w", err)
	}
	if err := p.docs.FinalizeDocument(ctx, doc.ID, summary, len(chunks)); err != nil {
		return 0, fmt.Errorf("finalize document: %w", err)
	}

	p.supersedePriorVersions(ctx, doc)
	return len(chunks), nil
}

// summarize 生成文档摘要，失败退化为原文截断。
func (p *Pipeline) summarize(ctx context.Context, doc *types.Document) string {
	content := doc.RawContent
	if len(content) > 4000 {
		content = content[:4000]
	}
	prompt := fmt.Sprintf(`Write a 2-3 sentence summary of the following document.

Document:
%s

Summary:`, content)

	text, err := p.gen.Generate(ctx, prompt)
	if err != nil || strings.TrimSpace(text) == "" {
		p.logger.Warn("summary generation failed, truncating raw content",
			zap.String("document_id", doc.ID), zap.Error(err))
		return contextSnippet(strings.TrimSpace(doc.RawContent), p.cfg.SummaryLength, false)
	}
	return strings.TrimSpace(text)
}

// buildChunks 构造连续编号的分块并填充相邻上下文片段。
func (p *Pipeline) buildChunks(docID string, pieces []string) []types.DocumentChunk {
	chunks := make([]types.DocumentChunk, len(pieces))
	for i, piece := range pieces {
		c := types.DocumentChunk{
			ID:         uuid.NewString(),
			DocumentID: docID,
			Content:    piece,
			ChunkIndex: i,
		}
		if i > 0 {
			c.PreviousContext = contextSnippet(pieces[i-1], p.cfg.SnippetLength, true)
		}
		if i < len(pieces)-1 {
			c.NextContext = contextSnippet(pieces[i+1], p.cfg.SnippetLength, false)
		}
		chunks[i] = c
	}
	return chunks
}

// embedChunks 分批嵌入并写回向量。
func (p *Pipeline) embedChunks(ctx context.Context, chunks []types.DocumentChunk) error {
	for start := 0; start < len(chunks); start += p.cfg.EmbedBatchSize {
		end := start + p.cfg.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		vecs, err := p.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		if len(vecs) != len(texts) {
			return fmt.Errorf("embedding batch size mismatch: got %d, want %d", len(vecs), len(texts))
		}
		for i := range vecs {
			chunks[start+i].Embedding = vecs[i]
		}
	}
	return nil
}

// extractGraph 抽取实体/关系并合并入图谱，记录文档提及链接。
func (p *Pipeline) extractGraph(ctx context.Context, doc *types.Document) error {
	result, err := p.extractor.Extract(ctx, doc.RawContent)
	if err != nil {
		return err
	}

	idByName := make(map[string]string, len(result.Entities))
	entityIDs := make([]string, 0, len(result.Entities))
	for _, ent := range result.Entities {
		e, err := p.graph.UpsertEntity(ctx, ent.Name, ent.Type, ent.Description)
		if err != nil {
			return fmt.Errorf("upsert entity %q: %w", ent.Name, err)
		}
		idByName[strings.ToLower(ent.Name)] = e.ID
		entityIDs = append(entityIDs, e.ID)
	}

	for _, rel := range result.Relationships {
		srcID := idByName[strings.ToLower(strings.TrimSpace(rel.Source))]
		dstID := idByName[strings.ToLower(strings.TrimSpace(rel.Target))]
		if srcID == "" || dstID == "" {
			continue
		}
		if _, err := p.graph.UpsertRelationship(ctx, srcID, dstID, rel.Type, rel.Strength); err != nil {
			return fmt.Errorf("upsert relationship %s-%s: %w", rel.Source, rel.Target, err)
		}
	}

	return p.graph.LinkDocument(ctx, doc.ID, entityIDs)
}

// supersedePriorVersions 重新摄取完成后下线旧版本的分块与索引。
// 旧文档行保留（历史可查），但不再参与任何检索。
func (p *Pipeline) supersedePriorVersions(ctx context.Context, doc *types.Document) {
	priors, err := p.docs.PriorVersions(ctx, doc.ProjectID, doc.Title, doc.Version)
	if err != nil {
		p.logger.Warn("cannot list prior versions", zap.Error(err))
		return
	}
	for _, prior := range priors {
		if err := p.keyword.RemoveDocument(ctx, prior.ID); err != nil {
			p.logger.Warn("cannot delist prior version from keyword index",
				zap.String("prior_id", prior.ID), zap.Error(err))
		}
		if err := p.graph.UnlinkDocument(ctx, prior.ID); err != nil {
			p.logger.Warn("cannot unlink prior version from graph",
				zap.String("prior_id", prior.ID), zap.Error(err))
		}
		if err := p.docs.DeleteChunks(ctx, prior.ID); err != nil {
			p.logger.Warn("cannot delete prior version chunks",
				zap.String("prior_id", prior.ID), zap.Error(err))
		}
	}
	if len(priors) > 0 {
		p.logger.Info("prior versions superseded",
			zap.String("document_id", doc.ID),
			zap.Int("count", len(priors)))
	}
}

// cleanup 失败路径：回收已写入的分块与索引残留。
func (p *Pipeline) cleanup(ctx context.Context, docID string) {
	if err := p.docs.DeleteChunks(ctx, docID); err != nil {
		p.logger.Warn("failed-ingest chunk cleanup error", zap.Error(err))
	}
	if err := p.keyword.RemoveDocument(ctx, docID); err != nil {
		p.logger.Warn("failed-ingest keyword cleanup error", zap.Error(err))
	}
	if err := p.graph.UnlinkDocument(ctx, docID); err != nil {
		p.logger.Warn("failed-ingest graph cleanup error", zap.Error(err))
	}
}
