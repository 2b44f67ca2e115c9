package storage

import (
	"context"
	"math"
	"sort"
	"sync"

	"hydrocare-rag/internal/models"
)

// VectorStore is the document index. It is written by the offline indexer and
// only read by the request path.
type VectorStore interface {
	// Upsert inserts chunks or replaces chunks with the same ID.
	Upsert(ctx context.Context, chunks []*models.Chunk) error
	// Search returns up to topK chunks nearest to embedding, most similar
	// first, with their stored embeddings populated.
	Search(ctx context.Context, embedding []float32, topK int) ([]models.ScoredChunk, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryVectorStore keeps the index in process memory.
type MemoryVectorStore struct {
	chunks map[string]*models.Chunk
	order  []string
	mu     sync.RWMutex
}

func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{
		chunks: make(map[string]*models.Chunk),
	}
}

func (m *MemoryVectorStore) Upsert(_ context.Context, chunks []*models.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range chunks {
		if _, exists := m.chunks[c.ID]; !exists {
			m.order = append(m.order, c.ID)
		}
		cp := *c
		m.chunks[c.ID] = &cp
	}
	return nil
}

func (m *MemoryVectorStore) Search(_ context.Context, embedding []float32, topK int) ([]models.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.chunks) == 0 || topK <= 0 {
		return []models.ScoredChunk{}, nil
	}

	scores := make([]models.ScoredChunk, 0, len(m.chunks))
	for _, id := range m.order {
		c := m.chunks[id]
		scores = append(scores, models.ScoredChunk{
			Chunk:      *c,
			Similarity: CosineSimilarity(embedding, c.Embedding),
		})
	}

	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Similarity > scores[j].Similarity
	})

	if topK > len(scores) {
		topK = len(scores)
	}
	return scores[:topK], nil
}

func (m *MemoryVectorStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks), nil
}

func (m *MemoryVectorStore) Close() error { return nil }

// CosineSimilarity returns 0 for mismatched or zero vectors.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return float32(dotProduct / (math.Sqrt(normA) * math.Sqrt(normB)))
}
