// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

// Package graph 提供知识图谱存储：实体、带权关系、文档提及链接。
//
// 写入语义面向并发摄取设计：实体按 (name, type) 合并（upsert-by-identity），
// 关系按 (source, target, type) 合并且 Strength 取历史最大值，
// 因此对重叠内容的并发摄取可交换、与顺序无关。
package graph

import (
	"context"

	"github.com/BaSui01/ragforge/types"
)

// Store 知识图谱存储接口。
type Store interface {
	// UpsertEntity 按 (name, type) 合并写入实体。
	// 已存在时补充空缺的 Description 并返回既有节点，绝不产生重复节点。
	UpsertEntity(ctx context.Context, name, entityType, description string) (*types.Entity, error)

	// UpsertRelationship 按 (source, target, relationType) 合并写入有向边。
	// 已存在时 Strength 取 max(旧值, 新值)，不会静默覆盖。
	UpsertRelationship(ctx context.Context, sourceID, targetID, relationType string, strength float64) (*types.Relationship, error)

	// LinkDocument 记录文档提及的实体集合（幂等，整体替换该文档的链接）。
	LinkDocument(ctx context.Context, documentID string, entityIDs []string) error

	// UnlinkDocument 移除文档的全部提及链接。
	UnlinkDocument(ctx context.Context, documentID string) error

	// FindEntities 按名称查找实体（大小写不敏感），用于查询侧实体匹配。
	FindEntities(ctx context.Context, names []string) ([]types.Entity, error)

	// DocumentsForEntities 返回提及任一给定实体的文档 ID，最多 limit 个。
	DocumentsForEntities(ctx context.Context, entityIDs []string, limit int) ([]string, error)

	// EntitiesForDocuments 返回给定文档提及的全部实体 ID（去重）。
	EntitiesForDocuments(ctx context.Context, documentIDs []string) ([]string, error)

	// CountEntities 返回实体总数。
	CountEntities(ctx context.Context) (int, error)
}
