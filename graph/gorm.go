package graph

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/ragforge/types"
)

// entityRow 实体表。identity_key 是 (name, type) 的规范化唯一键。
type entityRow struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Name        string `gorm:"not null"`
	Type        string `gorm:"not null"`
	IdentityKey string `gorm:"column:identity_key;not null;uniqueIndex"`
	Description string `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (entityRow) TableName() string { return "graph_entities" }

// relationshipRow 关系表，(source, target, relation_type) 唯一。
type relationshipRow struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	SourceEntityID string `gorm:"type:uuid;not null;uniqueIndex:idx_rel_identity;index"`
	TargetEntityID string `gorm:"type:uuid;not null;uniqueIndex:idx_rel_identity;index"`
	RelationType   string `gorm:"not null;uniqueIndex:idx_rel_identity"`
	Strength       float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (relationshipRow) TableName() string { return "graph_relationships" }

// documentEntityRow 文档-实体提及链接表。
type documentEntityRow struct {
	DocumentID string `gorm:"primaryKey;index"`
	EntityID   string `gorm:"type:uuid;primaryKey;index"`
	CreatedAt  time.Time
}

func (documentEntityRow) TableName() string { return "graph_document_entities" }

// GormStore 基于 GORM 的图存储，生产环境指向 PostgreSQL。
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore 创建并迁移 GORM 图存储。
func NewGormStore(db *gorm.DB, logger *zap.Logger) (*GormStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&entityRow{}, &relationshipRow{}, &documentEntityRow{}); err != nil {
		return nil, err
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "graph_gorm_store")),
	}, nil
}

// UpsertEntity implements Store.
func (s *GormStore) UpsertEntity(ctx context.Context, name, entityType, description string) (*types.Entity, error) {
	key := entityKey(name, entityType)

	var row entityRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("identity_key = ?", key).First(&row).Error
		if err == nil {
			if row.Description == "" && description != "" {
				row.Description = description
				return tx.Model(&row).Update("description", description).Error
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row = entityRow{
			ID:          uuid.NewString(),
			Name:        strings.TrimSpace(name),
			Type:        strings.TrimSpace(entityType),
			IdentityKey: key,
			Description: description,
		}
		// 唯一索引兜底并发摄取：冲突时读回已有行
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "identity_key"}},
			DoNothing: true,
		}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Where("identity_key = ?", key).First(&row).Error
	})
	if err != nil {
		return nil, err
	}

	return &types.Entity{
		ID:          row.ID,
		Name:        row.Name,
		Type:        row.Type,
		Description: row.Description,
		CreatedAt:   row.CreatedAt,
	}, nil
}

// UpsertRelationship implements Store. Strength 合并规则：取最大值。
func (s *GormStore) UpsertRelationship(ctx context.Context, sourceID, targetID, relationType string, strength float64) (*types.Relationship, error) {
	strength = clamp01(strength)

	var row relationshipRow
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("source_entity_id = ? AND target_entity_id = ? AND relation_type = ?",
			sourceID, targetID, relationType).First(&row).Error
		if err == nil {
			if strength > row.Strength {
				row.Strength = strength
				return tx.Model(&row).Update("strength", strength).Error
			}
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		row = relationshipRow{
			ID:             uuid.NewString(),
			SourceEntityID: sourceID,
			TargetEntityID: targetID,
			RelationType:   relationType,
			Strength:       strength,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "source_entity_id"}, {Name: "target_entity_id"}, {Name: "relation_type"},
			},
			DoNothing: true,
		}).Create(&row).Error; err != nil {
			return err
		}
		return tx.Where("source_entity_id = ? AND target_entity_id = ? AND relation_type = ?",
			sourceID, targetID, relationType).First(&row).Error
	})
	if err != nil {
		return nil, err
	}

	return &types.Relationship{
		ID:             row.ID,
		SourceEntityID: row.SourceEntityID,
		TargetEntityID: row.TargetEntityID,
		RelationType:   row.RelationType,
		Strength:       row.Strength,
		CreatedAt:      row.CreatedAt,
	}, nil
}

// LinkDocument implements Store.
func (s *GormStore) LinkDocument(ctx context.Context, documentID string, entityIDs []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", documentID).Delete(&documentEntityRow{}).Error; err != nil {
			return err
		}
		if len(entityIDs) == 0 {
			return nil
		}
		rows := make([]documentEntityRow, 0, len(entityIDs))
		for _, id := range entityIDs {
			rows = append(rows, documentEntityRow{DocumentID: documentID, EntityID: id})
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
}

// UnlinkDocument implements Store.
func (s *GormStore) UnlinkDocument(ctx context.Context, documentID string) error {
	return s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&documentEntityRow{}).Error
}

// FindEntities implements Store.
func (s *GormStore) FindEntities(ctx context.Context, names []string) ([]types.Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	lowered := make([]string, 0, len(names))
	for _, n := range names {
		lowered = append(lowered, strings.ToLower(strings.TrimSpace(n)))
	}

	var rows []entityRow
	if err := s.db.WithContext(ctx).
		Where("LOWER(name) IN ?", lowered).
		Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]types.Entity, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.Entity{
			ID:          r.ID,
			Name:        r.Name,
			Type:        r.Type,
			Description: r.Description,
			CreatedAt:   r.CreatedAt,
		})
	}
	return out, nil
}

// DocumentsForEntities implements Store.
func (s *GormStore) DocumentsForEntities(ctx context.Context, entityIDs []string, limit int) ([]string, error) {
	if len(entityIDs) == 0 {
		return nil, nil
	}
	q := s.db.WithContext(ctx).
		Model(&documentEntityRow{}).
		Distinct("document_id").
		Where("entity_id IN ?", entityIDs).
		Order("document_id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []string
	if err := q.Pluck("document_id", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// EntitiesForDocuments implements Store.
func (s *GormStore) EntitiesForDocuments(ctx context.Context, documentIDs []string) ([]string, error) {
	if len(documentIDs) == 0 {
		return nil, nil
	}
	var out []string
	if err := s.db.WithContext(ctx).
		Model(&documentEntityRow{}).
		Distinct("entity_id").
		Where("document_id IN ?", documentIDs).
		Pluck("entity_id", &out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// CountEntities implements Store.
func (s *GormStore) CountEntities(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&entityRow{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}
