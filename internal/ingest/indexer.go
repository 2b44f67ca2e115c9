package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"hydrocare-rag/internal/embeddings"
	"hydrocare-rag/internal/models"
	"hydrocare-rag/internal/storage"
)

// Indexer chunks sources, embeds the chunks and upserts them.
type Indexer struct {
	splitter  *Splitter
	embedder  embeddings.Embedder
	store     storage.VectorStore
	batchSize int
	logger    *zap.Logger
}

func NewIndexer(splitter *Splitter, embedder embeddings.Embedder, store storage.VectorStore, batchSize int, logger *zap.Logger) *Indexer {
	if batchSize <= 0 {
		batchSize = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		splitter:  splitter,
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		logger:    logger,
	}
}

// Stats summarizes one indexing run.
type Stats struct {
	Sources int
	Pages   int
	Chunks  int
}

// IndexSources loads and indexes every path. Chunk IDs are deterministic, so
// running it twice over the same sources replaces rather than duplicates.
func (ix *Indexer) IndexSources(ctx context.Context, paths []string) (Stats, error) {
	var stats Stats
	for _, path := range paths {
		pages, err := Load(path)
		if err != nil {
			return stats, err
		}
		ix.logger.Info("source loaded", zap.String("source", path), zap.Int("pages", len(pages)))

		n, err := ix.IndexPages(ctx, pages)
		if err != nil {
			return stats, fmt.Errorf("indexing %s: %w", path, err)
		}
		stats.Sources++
		stats.Pages += len(pages)
		stats.Chunks += n
	}
	return stats, nil
}

// IndexPages splits pages into chunks and stores them in embedding batches.
func (ix *Indexer) IndexPages(ctx context.Context, pages []Page) (int, error) {
	var chunks []*models.Chunk
	for _, p := range pages {
		for i, text := range ix.splitter.Split(p.Text) {
			chunks = append(chunks, models.NewChunk(p.Source, p.Number, i, text))
		}
	}

	for start := 0; start < len(chunks); start += ix.batchSize {
		if err := ctx.Err(); err != nil {
			return start, err
		}
		end := min(start+ix.batchSize, len(chunks))
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Content
		}
		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return start, fmt.Errorf("embedding batch at %d: %w", start, err)
		}
		if len(vectors) != len(batch) {
			return start, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}
		for i, c := range batch {
			c.Embedding = vectors[i]
		}

		if err := ix.store.Upsert(ctx, batch); err != nil {
			return start, fmt.Errorf("storing batch at %d: %w", start, err)
		}
		ix.logger.Debug("batch indexed", zap.Int("from", start), zap.Int("to", end))
	}

	return len(chunks), nil
}
