// Copyright 2025-2026 RAGForge Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
Package llm 定义管线消费的三类外部模型提供者的窄接口，
以及统一的超时+重试包装。

管线本身不关心模型来自哪个厂商：

  - Generator — prompt → text（HyDE、实体抽取、压缩、答案生成共用）
  - EmbeddingProvider — text → 固定维度向量
  - RerankProvider — (query, document) 对 → 相关性分数

所有接口刻意保持极窄，测试中可以用确定性假实现替换，
使融合、分块、状态机等管线逻辑在无真实模型时保持完全可测。

OpenAIProvider 提供一个 OpenAI 兼容（/v1/chat/completions、
/v1/embeddings）的 HTTP 实现，适配任何兼容网关。
*/
package llm
