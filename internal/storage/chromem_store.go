package storage

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"

	"hydrocare-rag/internal/models"
)

const (
	metaSource = "source"
	metaPage   = "page"
)

// ChromemStore keeps the index in a chromem-go collection persisted to a
// directory, the embedded counterpart of a Chroma persist dir.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewChromemStore opens (or creates) the collection under dir. An empty dir
// keeps everything in memory.
func NewChromemStore(dir, collection string) (*ChromemStore, error) {
	var (
		db  *chromem.DB
		err error
	)
	if dir == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem db at %s: %w", dir, err)
		}
	}

	// Embeddings are always computed by the caller, so no embedding func is used.
	col, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", collection, err)
	}

	return &ChromemStore{db: db, collection: col}, nil
}

func (s *ChromemStore) Upsert(ctx context.Context, chunks []*models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ID)
		}
		docs = append(docs, chromem.Document{
			ID:        c.ID,
			Content:   c.Content,
			Embedding: c.Embedding,
			Metadata: map[string]string{
				metaSource: c.Source,
				metaPage:   strconv.Itoa(c.Page),
			},
		})
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

func (s *ChromemStore) Search(ctx context.Context, embedding []float32, topK int) ([]models.ScoredChunk, error) {
	// chromem refuses nResults above the collection size
	n := min(topK, s.collection.Count())
	if n <= 0 {
		return []models.ScoredChunk{}, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query collection: %w", err)
	}

	out := make([]models.ScoredChunk, 0, len(results))
	for _, r := range results {
		page, _ := strconv.Atoi(r.Metadata[metaPage])
		out = append(out, models.ScoredChunk{
			Chunk: models.Chunk{
				ID:        r.ID,
				Source:    r.Metadata[metaSource],
				Page:      page,
				Content:   r.Content,
				Embedding: r.Embedding,
			},
			Similarity: r.Similarity,
		})
	}
	return out, nil
}

func (s *ChromemStore) Count(_ context.Context) (int, error) {
	return s.collection.Count(), nil
}

// Close is a no-op: chromem writes each document to disk as it is added.
func (s *ChromemStore) Close() error { return nil }
