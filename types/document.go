package types

import "time"

// DocumentStatus 文档摄取状态机的状态。
// 状态迁移：pending → processing → {completed | failed}，终态不可逆。
// failed 的文档只能通过新的摄取请求重新处理，不会自动重试。
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Document 摄取管线持有的文档记录。
// 仅由摄取管线修改；一旦 completed，除重新摄取（产生新 Version）外不可变。
type Document struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"project_id"`
	Title       string         `json:"title"`
	Source      string         `json:"source,omitempty"`
	ContentType string         `json:"content_type,omitempty"`
	RawContent  string         `json:"raw_content"`
	Summary     string         `json:"summary,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ChunkCount  int            `json:"chunk_count"`
	Version     int            `json:"version"`
	Status      DocumentStatus `json:"status"`
	// Error 记录摄取失败原因，仅 status=failed 时非空。
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DocumentChunk 文档分块。归属且仅归属一个父文档，随父文档级联删除。
// 不变量：同一文档内 ChunkIndex 从 0 开始连续递增；
// Embedding 维度在管线配置时固定。
type DocumentChunk struct {
	ID         string         `json:"id"`
	DocumentID string         `json:"document_id"`
	Content    string         `json:"content"`
	ChunkIndex int            `json:"chunk_index"`
	Embedding  []float32      `json:"embedding,omitempty"`
	// PreviousContext / NextContext 保存相邻块的边界片段，
	// 用于压缩与生成阶段补齐被切断的上下文。
	PreviousContext string         `json:"previous_context,omitempty"`
	NextContext     string         `json:"next_context,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// RetrievalMethod 检索方式。
type RetrievalMethod string

const (
	MethodVector  RetrievalMethod = "vector"
	MethodGraph   RetrievalMethod = "graph"
	MethodKeyword RetrievalMethod = "keyword"
	MethodHybrid  RetrievalMethod = "hybrid"
)

// Valid reports whether m is a known retrieval method.
func (m RetrievalMethod) Valid() bool {
	switch m {
	case MethodVector, MethodGraph, MethodKeyword, MethodHybrid:
		return true
	}
	return false
}

// RetrievedCandidate 单个检索分支返回的临时候选，不持久化。
type RetrievedCandidate struct {
	ChunkID      string          `json:"chunk_id"`
	DocumentID   string          `json:"document_id"`
	Title        string          `json:"title,omitempty"`
	Content      string          `json:"content"`
	SourceMethod RetrievalMethod `json:"source_method"`
	RawScore     float64         `json:"raw_score"`
	Rank         int             `json:"rank"`
}

// Citation 答案引用，始终可回溯到来源文档。
type Citation struct {
	Index      int     `json:"index"` // 1-based，对应答案中的 [n] 标号
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id,omitempty"`
	Title      string  `json:"title,omitempty"`
	Snippet    string  `json:"snippet,omitempty"`
	Score      float64 `json:"score"`
}

// PipelineResponse 查询管线对外唯一可见的输出。
type PipelineResponse struct {
	Answer             string          `json:"answer"`
	Sources            []Citation      `json:"sources"`
	RetrievalMethod    RetrievalMethod `json:"retrieval_method"`
	DocumentsRetrieved int             `json:"documents_retrieved"`
}
