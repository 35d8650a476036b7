package graph

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/ragforge/types"
)

// MemoryStore 内存图存储，用于测试和单机部署。
type MemoryStore struct {
	mu        sync.RWMutex
	entities  map[string]*types.Entity       // id -> entity
	byKey     map[string]string              // name|type -> id
	relations map[string]*types.Relationship // source|target|relType -> relationship
	docLinks  map[string]map[string]struct{} // documentID -> set of entityIDs
	entDocs   map[string]map[string]struct{} // entityID -> set of documentIDs
	logger    *zap.Logger
}

// NewMemoryStore 创建内存图存储。
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		entities:  make(map[string]*types.Entity),
		byKey:     make(map[string]string),
		relations: make(map[string]*types.Relationship),
		docLinks:  make(map[string]map[string]struct{}),
		entDocs:   make(map[string]map[string]struct{}),
		logger:    logger.With(zap.String("component", "graph_memory_store")),
	}
}

// entityKey 实体身份键：名称小写 + 类型小写。
func entityKey(name, entityType string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToLower(strings.TrimSpace(entityType))
}

// UpsertEntity implements Store.
func (s *MemoryStore) UpsertEntity(ctx context.Context, name, entityType, description string) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entityKey(name, entityType)
	if id, ok := s.byKey[key]; ok {
		e := s.entities[id]
		if e.Description == "" && description != "" {
			e.Description = description
		}
		cp := *e
		return &cp, nil
	}

	e := &types.Entity{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(name),
		Type:        strings.TrimSpace(entityType),
		Description: description,
		CreatedAt:   time.Now(),
	}
	s.entities[e.ID] = e
	s.byKey[key] = e.ID
	cp := *e
	return &cp, nil
}

// UpsertRelationship implements Store. Strength 合并规则：取最大值。
func (s *MemoryStore) UpsertRelationship(ctx context.Context, sourceID, targetID, relationType string, strength float64) (*types.Relationship, error) {
	strength = clamp01(strength)

	s.mu.Lock()
	defer s.mu.Unlock()

	key := sourceID + "|" + targetID + "|" + strings.ToLower(relationType)
	if r, ok := s.relations[key]; ok {
		if strength > r.Strength {
			r.Strength = strength
		}
		cp := *r
		return &cp, nil
	}

	r := &types.Relationship{
		ID:             uuid.NewString(),
		SourceEntityID: sourceID,
		TargetEntityID: targetID,
		RelationType:   relationType,
		Strength:       strength,
		CreatedAt:      time.Now(),
	}
	s.relations[key] = r
	cp := *r
	return &cp, nil
}

// LinkDocument implements Store.
func (s *MemoryStore) LinkDocument(ctx context.Context, documentID string, entityIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unlinkLocked(documentID)

	links := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		if _, ok := s.entities[id]; !ok {
			continue
		}
		links[id] = struct{}{}
		docs, ok := s.entDocs[id]
		if !ok {
			docs = make(map[string]struct{})
			s.entDocs[id] = docs
		}
		docs[documentID] = struct{}{}
	}
	s.docLinks[documentID] = links
	return nil
}

// UnlinkDocument implements Store.
func (s *MemoryStore) UnlinkDocument(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unlinkLocked(documentID)
	return nil
}

func (s *MemoryStore) unlinkLocked(documentID string) {
	for entityID := range s.docLinks[documentID] {
		delete(s.entDocs[entityID], documentID)
	}
	delete(s.docLinks, documentID)
}

// FindEntities implements Store.
func (s *MemoryStore) FindEntities(ctx context.Context, names []string) ([]types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(names))
	for _, n := range names {
		wanted[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}

	var out []types.Entity
	for _, e := range s.entities {
		if _, ok := wanted[strings.ToLower(e.Name)]; ok {
			out = append(out, *e)
		}
	}
	return out, nil
}

// DocumentsForEntities implements Store.
// 先收齐全部命中再按文档 ID 排序截断，保证 limit 生效时结果可复现。
func (s *MemoryStore) DocumentsForEntities(ctx context.Context, entityIDs []string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, id := range entityIDs {
		for docID := range s.entDocs[id] {
			if _, dup := seen[docID]; dup {
				continue
			}
			seen[docID] = struct{}{}
			out = append(out, docID)
		}
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// EntitiesForDocuments implements Store.
func (s *MemoryStore) EntitiesForDocuments(ctx context.Context, documentIDs []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, docID := range documentIDs {
		for entityID := range s.docLinks[docID] {
			if _, dup := seen[entityID]; dup {
				continue
			}
			seen[entityID] = struct{}{}
			out = append(out, entityID)
		}
	}
	return out, nil
}

// CountEntities implements Store.
func (s *MemoryStore) CountEntities(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities), nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
