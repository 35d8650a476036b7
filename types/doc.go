// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package types provides unified type definitions for the RAGForge pipeline.

types 是依赖层级最低的包，不依赖仓库内任何其他包，用于承载
检索管线各组件之间共享的领域模型：

  - Document / DocumentChunk — 文档及其分块（含嵌入向量）
  - Entity / Relationship — 知识图谱节点与有向带权边
  - RetrievedCandidate — 检索阶段的临时候选（不落库）
  - PipelineResponse / Citation — 对外唯一可见的查询输出
  - Error / ErrorCode — 统一错误分类（校验、瞬时后端、摄取、重试耗尽）
*/
package types
