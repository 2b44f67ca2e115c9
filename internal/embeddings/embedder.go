// Package embeddings turns text into vectors for indexing and retrieval.
package embeddings

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"hydrocare-rag/internal/config"
)

// Embedder produces vectors for queries and for document passages. Some
// providers embed the two differently, hence the separate methods.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// New builds the embedder selected by services.embeddings.provider. The
// Gemini client is only used by the "gemini" provider and may be nil otherwise.
func New(ctx context.Context, cfg config.EmbeddingsConfig, client *genai.Client) (Embedder, error) {
	switch cfg.Provider {
	case "gemini":
		if client == nil {
			return nil, fmt.Errorf("gemini embeddings need a Gemini client")
		}
		return NewGeminiEmbedder(client, cfg.Model), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.BaseURL, cfg.Model), nil
	case "openai":
		return NewOpenAIEmbedder(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Provider)
	}
}
