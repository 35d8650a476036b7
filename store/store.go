// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package store 提供文档与分块的持久化。

两个实现：

  - MemoryStore — 进程内存储，余弦相似度检索，用于测试与单机部署
  - GormStore — PostgreSQL + pgvector，生产部署

可见性不变量：分块只有在父文档到达 completed 状态后才可被检索到，
摄取中途失败不会留下可搜索的半成品分块。
*/
package store

import (
	"context"

	"github.com/BaSui01/ragforge/types"
)

// ChunkHit 向量检索命中。
type ChunkHit struct {
	Chunk types.DocumentChunk `json:"chunk"`
	Title string              `json:"title,omitempty"`
	Score float64             `json:"score"`
}

// DocumentStore 文档与分块存储接口。
type DocumentStore interface {
	// CreateDocument 持久化新文档（摄取第一步）。
	CreateDocument(ctx context.Context, doc *types.Document) error

	// GetDocument 按 ID 读取文档。不存在时返回 types.ErrNotFound 错误。
	GetDocument(ctx context.Context, id string) (*types.Document, error)

	// ListDocuments 分页列出项目内的文档，按创建时间倒序。
	ListDocuments(ctx context.Context, projectID string, limit, offset int) ([]types.Document, error)

	// CompletedDocuments 列出全部项目中所有 completed 文档，按 ID 升序。
	// 进程启动时用于重建内存关键词索引。
	CompletedDocuments(ctx context.Context) ([]types.Document, error)

	// SetStatus 推进文档状态机；errMsg 仅在 failed 时记录。
	SetStatus(ctx context.Context, id string, status types.DocumentStatus, errMsg string) error

	// FinalizeDocument 写入摘要与分块数并置为 completed（原子可见性开关）。
	FinalizeDocument(ctx context.Context, id, summary string, chunkCount int) error

	// SaveChunks 批量写入分块（含嵌入向量）。
	SaveChunks(ctx context.Context, chunks []types.DocumentChunk) error

	// DeleteChunks 删除文档的全部分块（失败清理与版本替换时使用）。
	DeleteChunks(ctx context.Context, documentID string) error

	// ChunksByDocument 返回文档的分块，按 ChunkIndex 升序。
	ChunksByDocument(ctx context.Context, documentID string) ([]types.DocumentChunk, error)

	// SearchChunks 相似度检索，只命中 completed 文档的分块。
	SearchChunks(ctx context.Context, projectID string, embedding []float32, topK int) ([]ChunkHit, error)

	// NextVersion 返回 (projectID, title) 下一个版本号（首个为 1）。
	NextVersion(ctx context.Context, projectID, title string) (int, error)

	// PriorVersions 返回同 (projectID, title) 下版本号小于 beforeVersion
	// 的已完成文档，用于重新摄取后的旧版本下线。
	PriorVersions(ctx context.Context, projectID, title string, beforeVersion int) ([]types.Document, error)
}
