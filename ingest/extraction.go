package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/ragforge/llm"
)

// ExtractedEntity LLM 抽取的实体。
type ExtractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ExtractedRelationship LLM 抽取的实体间关系。
// Source/Target 引用同批次实体的 Name。
type ExtractedRelationship struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

// ExtractionResult 单篇文档的抽取结果。
type ExtractionResult struct {
	Entities      []ExtractedEntity      `json:"entities"`
	Relationships []ExtractedRelationship `json:"relationships"`
}

// Extractor 基于 LLM 的实体/关系抽取器。
type Extractor struct {
	gen    llm.Generator
	logger *zap.Logger
}

// NewExtractor 创建抽取器。
func NewExtractor(gen llm.Generator, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{
		gen:    gen,
		logger: logger.With(zap.String("component", "entity_extractor")),
	}
}

// Extract 从文档文本抽取实体与关系。
// 过长的文本只取前 8000 字符——图谱抽取针对主题实体，
// 靠前的内容已经覆盖绝大多数主题提及。
func (e *Extractor) Extract(ctx context.Context, text string) (*ExtractionResult, error) {
	const maxInput = 8000
	if len(text) > maxInput {
		text = text[:maxInput]
	}

	prompt := fmt.Sprintf(`Extract the entities and relationships from the following document.

Respond with only a JSON object in this exact shape:
{
  "entities": [{"name": "...", "type": "...", "description": "..."}],
  "relationships": [{"source": "...", "target": "...", "type": "...", "strength": 0.8}]
}

Rules:
- "type" is a short category like person, organization, technology, concept, product.
- "source" and "target" must match entity names from the same response.
- "strength" is the relationship confidence in [0,1].
- Return {"entities": [], "relationships": []} if the document has none.

Document:
%s`, text)

	resp, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}

	result, err := parseExtraction(resp)
	if err != nil {
		return nil, fmt.Errorf("parse extraction response: %w", err)
	}
	return result, nil
}

// parseExtraction 解析抽取响应，容忍 Markdown 代码围栏与前后噪声。
func parseExtraction(resp string) (*ExtractionResult, error) {
	resp = strings.TrimSpace(resp)
	if start := strings.Index(resp, "{"); start >= 0 {
		if end := strings.LastIndex(resp, "}"); end > start {
			resp = resp[start : end+1]
		}
	}

	var result ExtractionResult
	if err := json.Unmarshal([]byte(resp), &result); err != nil {
		return nil, err
	}

	// 丢弃无名实体与悬空关系
	valid := make(map[string]struct{})
	entities := result.Entities[:0]
	for _, ent := range result.Entities {
		ent.Name = strings.TrimSpace(ent.Name)
		if ent.Name == "" {
			continue
		}
		if ent.Type == "" {
			ent.Type = "concept"
		}
		entities = append(entities, ent)
		valid[strings.ToLower(ent.Name)] = struct{}{}
	}
	result.Entities = entities

	rels := result.Relationships[:0]
	for _, rel := range result.Relationships {
		_, srcOK := valid[strings.ToLower(strings.TrimSpace(rel.Source))]
		_, dstOK := valid[strings.ToLower(strings.TrimSpace(rel.Target))]
		if !srcOK || !dstOK || rel.Type == "" {
			continue
		}
		if rel.Strength <= 0 || rel.Strength > 1 {
			rel.Strength = 0.5
		}
		rels = append(rels, rel)
	}
	result.Relationships = rels

	return &result, nil
}
