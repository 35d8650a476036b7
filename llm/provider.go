package llm

import "context"

// Generator 生成给定 prompt 的补全。
// 这是管线对语言模型的全部要求；HyDE、实体抽取、压缩、
// 答案生成都通过这一个方法完成。
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// EmbeddingProvider 将文本转换为固定维度向量。
type EmbeddingProvider interface {
	// EmbedQuery 嵌入单条查询文本。
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedDocuments 批量嵌入文档文本，返回与输入等长的向量列表。
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions 返回向量维度 D（管线配置时固定）。
	Dimensions() int
}

// RerankProvider 对 (query, document) 对直接打分（cross-encoder 风格），
// 返回与 documents 等长的分数列表。
type RerankProvider interface {
	Score(ctx context.Context, query string, documents []string) ([]float64, error)
}

// GeneratorFunc 将普通函数适配为 Generator，主要用于测试。
type GeneratorFunc func(ctx context.Context, prompt string) (string, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}
