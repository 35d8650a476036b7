package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/ragforge/types"
)

// documentRow 文档表。
type documentRow struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	ProjectID   string `gorm:"not null;index:idx_documents_project"`
	Title       string `gorm:"not null;index:idx_documents_project"`
	Source      string
	ContentType string
	RawContent  string `gorm:"type:text"`
	Summary     string `gorm:"type:text"`
	Metadata    []byte `gorm:"type:jsonb"`
	ChunkCount  int
	Version     int    `gorm:"default:1"`
	Status      string `gorm:"not null;index"`
	Error       string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (documentRow) TableName() string { return "documents" }

// chunkRow 分块表。嵌入维度与 EmbeddingProvider 的 D 一致，
// 建表前需确认 vector 列维度（默认 1536，见 migrate.sql）。
type chunkRow struct {
	ID              string          `gorm:"type:uuid;primaryKey"`
	DocumentID      string          `gorm:"type:uuid;not null;index"`
	Content         string          `gorm:"type:text"`
	ChunkIndex      int             `gorm:"not null"`
	Embedding       pgvector.Vector `gorm:"type:vector(1536)"`
	PreviousContext string          `gorm:"type:text"`
	NextContext     string          `gorm:"type:text"`
	Metadata        []byte          `gorm:"type:jsonb"`
	CreatedAt       time.Time
}

func (chunkRow) TableName() string { return "document_chunks" }

// GormStore PostgreSQL + pgvector 文档存储。
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore 创建并迁移 GORM 文档存储。
// 调用方需保证数据库已启用 pgvector 扩展（CREATE EXTENSION vector）。
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&documentRow{}, &chunkRow{}); err != nil {
		return nil, err
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_store")),
	}, nil
}

func toDocumentRow(doc *types.Document) (*documentRow, error) {
	var meta []byte
	if doc.Metadata != nil {
		b, err := json.Marshal(doc.Metadata)
		if err != nil {
			return nil, err
		}
		meta = b
	}
	return &documentRow{
		ID:          doc.ID,
		ProjectID:   doc.ProjectID,
		Title:       doc.Title,
		Source:      doc.Source,
		ContentType: doc.ContentType,
		RawContent:  doc.RawContent,
		Summary:     doc.Summary,
		Metadata:    meta,
		ChunkCount:  doc.ChunkCount,
		Version:     doc.Version,
		Status:      string(doc.Status),
		Error:       doc.Error,
	}, nil
}

func fromDocumentRow(row *documentRow) *types.Document {
	doc := &types.Document{
		ID:          row.ID,
		ProjectID:   row.ProjectID,
		Title:       row.Title,
		Source:      row.Source,
		ContentType: row.ContentType,
		RawContent:  row.RawContent,
		Summary:     row.Summary,
		ChunkCount:  row.ChunkCount,
		Version:     row.Version,
		Status:      types.DocumentStatus(row.Status),
		Error:       row.Error,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if len(row.Metadata) > 0 {
		_ = json.Unmarshal(row.Metadata, &doc.Metadata)
	}
	return doc
}

// CreateDocument implements DocumentStore.
func (s *GormStore) CreateDocument(ctx context.Context, doc *types.Document) error {
	row, err := toDocumentRow(doc)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return err
	}
	doc.CreatedAt = row.CreatedAt
	doc.UpdatedAt = row.UpdatedAt
	return nil
}

// GetDocument implements DocumentStore.
func (s *GormStore) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	var row documentRow
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrNotFound, "document not found: "+id)
	}
	if err != nil {
		return nil, err
	}
	return fromDocumentRow(&row), nil
}

// ListDocuments implements DocumentStore.
func (s *GormStore) ListDocuments(ctx context.Context, projectID string, limit, offset int) ([]types.Document, error) {
	q := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC, id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}

	var rows []documentRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.Document, 0, len(rows))
	for i := range rows {
		out = append(out, *fromDocumentRow(&rows[i]))
	}
	return out, nil
}

// CompletedDocuments implements DocumentStore.
func (s *GormStore) CompletedDocuments(ctx context.Context) ([]types.Document, error) {
	var rows []documentRow
	err := s.db.WithContext(ctx).
		Where("status = ?", string(types.StatusCompleted)).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Document, 0, len(rows))
	for i := range rows {
		out = append(out, *fromDocumentRow(&rows[i]))
	}
	return out, nil
}

// SetStatus implements DocumentStore.
func (s *GormStore) SetStatus(ctx context.Context, id string, status types.DocumentStatus, errMsg string) error {
	res := s.db.WithContext(ctx).Model(&documentRow{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": string(status), "error": errMsg})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "document not found: "+id)
	}
	return nil
}

// FinalizeDocument implements DocumentStore.
func (s *GormStore) FinalizeDocument(ctx context.Context, id, summary string, chunkCount int) error {
	res := s.db.WithContext(ctx).Model(&documentRow{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"summary":     summary,
			"chunk_count": chunkCount,
			"status":      string(types.StatusCompleted),
			"error":       "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return types.NewError(types.ErrNotFound, "document not found: "+id)
	}
	return nil
}

// SaveChunks implements DocumentStore.
func (s *GormStore) SaveChunks(ctx context.Context, chunks []types.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	rows := make([]chunkRow, 0, len(chunks))
	for _, c := range chunks {
		var meta []byte
		if c.Metadata != nil {
			b, err := json.Marshal(c.Metadata)
			if err != nil {
				return err
			}
			meta = b
		}
		rows = append(rows, chunkRow{
			ID:              c.ID,
			DocumentID:      c.DocumentID,
			Content:         c.Content,
			ChunkIndex:      c.ChunkIndex,
			Embedding:       pgvector.NewVector(c.Embedding),
			PreviousContext: c.PreviousContext,
			NextContext:     c.NextContext,
			Metadata:        meta,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(&rows, 100).Error
}

// DeleteChunks implements DocumentStore.
func (s *GormStore) DeleteChunks(ctx context.Context, documentID string) error {
	return s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&chunkRow{}).Error
}

// ChunksByDocument implements DocumentStore.
func (s *GormStore) ChunksByDocument(ctx context.Context, documentID string) ([]types.DocumentChunk, error) {
	var rows []chunkRow
	if err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_index").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]types.DocumentChunk, 0, len(rows))
	for i := range rows {
		out = append(out, fromChunkRow(&rows[i]))
	}
	return out, nil
}

func fromChunkRow(row *chunkRow) types.DocumentChunk {
	c := types.DocumentChunk{
		ID:              row.ID,
		DocumentID:      row.DocumentID,
		Content:         row.Content,
		ChunkIndex:      row.ChunkIndex,
		Embedding:       row.Embedding.Slice(),
		PreviousContext: row.PreviousContext,
		NextContext:     row.NextContext,
	}
	if len(row.Metadata) > 0 {
		_ = json.Unmarshal(row.Metadata, &c.Metadata)
	}
	return c
}

// searchRow SearchChunks 的扫描目标。
type searchRow struct {
	chunkRow
	Title      string  `gorm:"column:title"`
	Similarity float64 `gorm:"column:similarity"`
}

// SearchChunks implements DocumentStore.
// pgvector 的 <=> 是余弦距离，相似度 = 1 - 距离。
func (s *GormStore) SearchChunks(ctx context.Context, projectID string, embedding []float32, topK int) ([]ChunkHit, error) {
	if len(embedding) == 0 || topK <= 0 {
		return nil, nil
	}
	vec := pgvector.NewVector(embedding)

	var rows []searchRow
	err := s.db.WithContext(ctx).
		Table("document_chunks").
		Select("document_chunks.*, documents.title AS title, 1 - (document_chunks.embedding <=> ?) AS similarity", vec).
		Joins("JOIN documents ON documents.id = document_chunks.document_id").
		Where("documents.project_id = ? AND documents.status = ?", projectID, string(types.StatusCompleted)).
		Order(gorm.Expr("document_chunks.embedding <=> ?", vec)).
		Limit(topK).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	hits := make([]ChunkHit, 0, len(rows))
	for i := range rows {
		hits = append(hits, ChunkHit{
			Chunk: fromChunkRow(&rows[i].chunkRow),
			Title: rows[i].Title,
			Score: rows[i].Similarity,
		})
	}
	return hits, nil
}

// NextVersion implements DocumentStore.
func (s *GormStore) NextVersion(ctx context.Context, projectID, title string) (int, error) {
	var max *int
	err := s.db.WithContext(ctx).Model(&documentRow{}).
		Where("project_id = ? AND LOWER(title) = LOWER(?)", projectID, title).
		Select("MAX(version)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	if max == nil {
		return 1, nil
	}
	return *max + 1, nil
}

// PriorVersions implements DocumentStore.
func (s *GormStore) PriorVersions(ctx context.Context, projectID, title string, beforeVersion int) ([]types.Document, error) {
	var rows []documentRow
	err := s.db.WithContext(ctx).
		Where("project_id = ? AND LOWER(title) = LOWER(?) AND version < ? AND status = ?",
			projectID, title, beforeVersion, string(types.StatusCompleted)).
		Order("version").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Document, 0, len(rows))
	for i := range rows {
		out = append(out, *fromDocumentRow(&rows[i]))
	}
	return out, nil
}
