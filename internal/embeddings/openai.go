package embeddings

import (
	"context"
	"fmt"

	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	einoEmbedding "github.com/cloudwego/eino/components/embedding"

	"hydrocare-rag/internal/config"
)

// EinoEmbedder adapts any eino embedding component.
type EinoEmbedder struct {
	embedder einoEmbedding.Embedder
}

func NewEinoEmbedder(e einoEmbedding.Embedder) *EinoEmbedder {
	return &EinoEmbedder{embedder: e}
}

// NewOpenAIEmbedder targets an OpenAI-compatible embeddings endpoint.
func NewOpenAIEmbedder(ctx context.Context, cfg config.EmbeddingsConfig) (*EinoEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for openai embeddings")
	}

	e, err := openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai embedder: %w", err)
	}
	return NewEinoEmbedder(e), nil
}

func (e *EinoEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *EinoEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("texts cannot be empty")
	}

	vectors, err := e.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(vectors))
	}

	// eino returns float64 vectors
	out := make([][]float32, len(vectors))
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, fmt.Errorf("empty embedding returned for input %d", i)
		}
		out[i] = make([]float32, len(vec))
		for j, v := range vec {
			out[i][j] = float32(v)
		}
	}
	return out, nil
}
