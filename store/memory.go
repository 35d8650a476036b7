package store

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/ragforge/types"
)

// MemoryStore 内存文档存储。
type MemoryStore struct {
	mu     sync.RWMutex
	docs   map[string]*types.Document
	chunks map[string][]types.DocumentChunk // documentID -> chunks（按 ChunkIndex 有序）
	logger *zap.Logger
}

// NewMemoryStore 创建内存文档存储。
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		docs:   make(map[string]*types.Document),
		chunks: make(map[string][]types.DocumentChunk),
		logger: logger.With(zap.String("component", "memory_store")),
	}
}

// CreateDocument implements DocumentStore.
func (s *MemoryStore) CreateDocument(ctx context.Context, doc *types.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now
	cp := *doc
	s.docs[doc.ID] = &cp
	return nil
}

// GetDocument implements DocumentStore.
func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, types.NewError(types.ErrNotFound, "document not found: "+id)
	}
	cp := *doc
	return &cp, nil
}

// ListDocuments implements DocumentStore.
func (s *MemoryStore) ListDocuments(ctx context.Context, projectID string, limit, offset int) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []types.Document
	for _, d := range s.docs {
		if d.ProjectID == projectID {
			all = append(all, *d)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CompletedDocuments implements DocumentStore.
func (s *MemoryStore) CompletedDocuments(ctx context.Context) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Document
	for _, d := range s.docs {
		if d.Status == types.StatusCompleted {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetStatus implements DocumentStore.
func (s *MemoryStore) SetStatus(ctx context.Context, id string, status types.DocumentStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return types.NewError(types.ErrNotFound, "document not found: "+id)
	}
	doc.Status = status
	doc.Error = errMsg
	doc.UpdatedAt = time.Now()
	return nil
}

// FinalizeDocument implements DocumentStore.
func (s *MemoryStore) FinalizeDocument(ctx context.Context, id, summary string, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return types.NewError(types.ErrNotFound, "document not found: "+id)
	}
	doc.Summary = summary
	doc.ChunkCount = chunkCount
	doc.Status = types.StatusCompleted
	doc.Error = ""
	doc.UpdatedAt = time.Now()
	return nil
}

// SaveChunks implements DocumentStore.
func (s *MemoryStore) SaveChunks(ctx context.Context, chunks []types.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byDoc := make(map[string][]types.DocumentChunk)
	for _, c := range chunks {
		byDoc[c.DocumentID] = append(byDoc[c.DocumentID], c)
	}
	for docID, cs := range byDoc {
		merged := append(s.chunks[docID], cs...)
		sort.Slice(merged, func(i, j int) bool { return merged[i].ChunkIndex < merged[j].ChunkIndex })
		s.chunks[docID] = merged
	}
	return nil
}

// DeleteChunks implements DocumentStore.
func (s *MemoryStore) DeleteChunks(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chunks, documentID)
	return nil
}

// ChunksByDocument implements DocumentStore.
func (s *MemoryStore) ChunksByDocument(ctx context.Context, documentID string) ([]types.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.DocumentChunk, len(s.chunks[documentID]))
	copy(out, s.chunks[documentID])
	return out, nil
}

// SearchChunks implements DocumentStore. 只检索 completed 文档的分块。
func (s *MemoryStore) SearchChunks(ctx context.Context, projectID string, embedding []float32, topK int) ([]ChunkHit, error) {
	if len(embedding) == 0 || topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []ChunkHit
	for docID, chunks := range s.chunks {
		doc, ok := s.docs[docID]
		if !ok || doc.Status != types.StatusCompleted || doc.ProjectID != projectID {
			continue
		}
		for _, c := range chunks {
			if len(c.Embedding) == 0 {
				continue
			}
			hits = append(hits, ChunkHit{
				Chunk: c,
				Title: doc.Title,
				Score: cosineSimilarity(embedding, c.Embedding),
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Chunk.ID < hits[j].Chunk.ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// NextVersion implements DocumentStore.
func (s *MemoryStore) NextVersion(ctx context.Context, projectID, title string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	max := 0
	for _, d := range s.docs {
		if d.ProjectID == projectID && strings.EqualFold(d.Title, title) && d.Version > max {
			max = d.Version
		}
	}
	return max + 1, nil
}

// PriorVersions implements DocumentStore.
func (s *MemoryStore) PriorVersions(ctx context.Context, projectID, title string, beforeVersion int) ([]types.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Document
	for _, d := range s.docs {
		if d.ProjectID == projectID && strings.EqualFold(d.Title, title) &&
			d.Version < beforeVersion && d.Status == types.StatusCompleted {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// cosineSimilarity 余弦相似度。维度不一致时返回 0。
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
