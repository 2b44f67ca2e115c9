// Package retrieval selects the passages handed to the answer model.
package retrieval

import (
	"context"
	"fmt"
	"math"

	"hydrocare-rag/internal/embeddings"
	"hydrocare-rag/internal/models"
	"hydrocare-rag/internal/storage"
)

// Retriever fetches FetchK nearest chunks and keeps K of them by maximal
// marginal relevance, trading query similarity against redundancy.
type Retriever struct {
	embedder embeddings.Embedder
	store    storage.VectorStore
	k        int
	fetchK   int
	lambda   float64
}

func NewRetriever(embedder embeddings.Embedder, store storage.VectorStore, k, fetchK int, lambda float64) *Retriever {
	if fetchK < k {
		fetchK = k
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		k:        k,
		fetchK:   fetchK,
		lambda:   lambda,
	}
}

// Retrieve returns up to K passages for query in selection order.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]models.ScoredChunk, error) {
	queryEmbedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}

	candidates, err := r.store.Search(ctx, queryEmbedding, r.fetchK)
	if err != nil {
		return nil, fmt.Errorf("failed to search index: %w", err)
	}

	return SelectMMR(queryEmbedding, candidates, r.k, r.lambda), nil
}

// SelectMMR picks k candidates greedily. The first pick is the candidate most
// similar to the query; each following pick maximizes
// lambda*sim(query, c) - (1-lambda)*max(sim(c, selected)).
func SelectMMR(query []float32, candidates []models.ScoredChunk, k int, lambda float64) []models.ScoredChunk {
	if k <= 0 || len(candidates) == 0 {
		return []models.ScoredChunk{}
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	querySim := make([]float64, len(candidates))
	for i, c := range candidates {
		querySim[i] = float64(storage.CosineSimilarity(query, c.Embedding))
	}

	// maxSelectedSim[i] tracks candidate i's highest similarity to any pick.
	maxSelectedSim := make([]float64, len(candidates))
	for i := range maxSelectedSim {
		maxSelectedSim[i] = math.Inf(-1)
	}
	used := make([]bool, len(candidates))
	selected := make([]models.ScoredChunk, 0, k)

	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range candidates {
			if used[i] {
				continue
			}
			score := querySim[i]
			if len(selected) > 0 {
				score = lambda*querySim[i] - (1-lambda)*maxSelectedSim[i]
			}
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		if best < 0 {
			break
		}

		used[best] = true
		selected = append(selected, candidates[best])
		for i := range candidates {
			if used[i] {
				continue
			}
			sim := float64(storage.CosineSimilarity(candidates[best].Embedding, candidates[i].Embedding))
			if sim > maxSelectedSim[i] {
				maxSelectedSim[i] = sim
			}
		}
	}

	return selected
}
