package retrieval

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hydrocare-rag/internal/models"
	"hydrocare-rag/internal/storage"
)

type fixedEmbedder struct {
	vector []float32
	err    error
}

func (f *fixedEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vector, f.err
}

func (f *fixedEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = f.vector
	}
	return out, f.err
}

func scored(id string, page int, emb ...float32) models.ScoredChunk {
	return models.ScoredChunk{Chunk: models.Chunk{ID: id, Page: page, Embedding: emb}}
}

func ids(chunks []models.ScoredChunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.ID
	}
	return out
}

func TestSelectMMRPrefersDiversity(t *testing.T) {
	query := []float32{1, 0}
	candidates := []models.ScoredChunk{
		scored("a", 1, 1, 0),
		scored("a-dup", 1, 0.99, 0.01),
		scored("b", 2, 0.7, 0.7),
	}

	got := SelectMMR(query, candidates, 2, 0.3)
	assert.Equal(t, []string{"a", "b"}, ids(got))

	// With lambda 1 the ranking is pure relevance.
	got = SelectMMR(query, candidates, 2, 1)
	assert.Equal(t, []string{"a", "a-dup"}, ids(got))
}

func TestSelectMMRBounds(t *testing.T) {
	query := []float32{1, 0}
	candidates := []models.ScoredChunk{scored("a", 1, 1, 0)}

	assert.Empty(t, SelectMMR(query, nil, 3, 0.7))
	assert.Empty(t, SelectMMR(query, candidates, 0, 0.7))
	assert.Len(t, SelectMMR(query, candidates, 5, 0.7), 1)
}

func TestRetrieverUsesStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryVectorStore()
	require.NoError(t, store.Upsert(ctx, []*models.Chunk{
		{ID: "ph", Page: 12, Content: "pH", Embedding: []float32{1, 0, 0}},
		{ID: "ec", Page: 14, Content: "EC", Embedding: []float32{0.6, 0.8, 0}},
		{ID: "light", Page: 30, Content: "lumière", Embedding: []float32{0, 0, 1}},
	}))

	r := NewRetriever(&fixedEmbedder{vector: []float32{1, 0, 0}}, store, 2, 3, 0.7)
	got, err := r.Retrieve(ctx, "pH ?")
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "ph", got[0].ID)
	assert.Equal(t, "ec", got[1].ID)
}

func TestRetrieverEmbedError(t *testing.T) {
	r := NewRetriever(&fixedEmbedder{err: errors.New("quota")}, storage.NewMemoryVectorStore(), 6, 20, 0.7)
	_, err := r.Retrieve(context.Background(), "x")
	assert.ErrorContains(t, err, "quota")
}
