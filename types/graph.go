package types

import "time"

// Entity 知识图谱实体节点，按 (Name, Type) 全局唯一。
// 跨文档的重复提及在摄取时合并到同一节点（upsert-by-identity），
// 可被零个或多个文档引用，无单一属主。
type Entity struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Relationship 两个实体之间的有向带权边。
// 同一对实体之间允许多条不同 RelationType 的边；
// 重复摄取通过合并规则加强 Strength，不会静默覆盖。
type Relationship struct {
	ID             string  `json:"id"`
	SourceEntityID string  `json:"source_entity_id"`
	TargetEntityID string  `json:"target_entity_id"`
	RelationType   string  `json:"relation_type"`
	// Strength ∈ [0,1]。
	Strength  float64   `json:"strength"`
	CreatedAt time.Time `json:"created_at"`
}
