// Package llm wraps the generative model behind a prompt-in, text-out interface.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	geminiModel "github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"hydrocare-rag/internal/config"
)

// Generator returns the model's text completion for a single-turn prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// NewGeminiClient creates the shared Gemini API client.
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig) (*genai.Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY not found in environment variables")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// ChatGenerator sends prompts to an eino chat model.
type ChatGenerator struct {
	model   model.BaseChatModel
	timeout time.Duration
}

// NewChatGenerator wraps an eino chat model. A zero timeout means no limit
// beyond the caller's context.
func NewChatGenerator(m model.BaseChatModel, timeout time.Duration) *ChatGenerator {
	return &ChatGenerator{model: m, timeout: timeout}
}

// NewGeminiGenerator builds a Gemini chat model with the given sampling temperature.
func NewGeminiGenerator(ctx context.Context, client *genai.Client, cfg config.GeminiConfig, temperature float64) (*ChatGenerator, error) {
	temp := float32(temperature)
	cm, err := geminiModel.NewChatModel(ctx, &geminiModel.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &temp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini chat model: %w", err)
	}
	return NewChatGenerator(cm, time.Duration(cfg.Timeout)*time.Second), nil
}

func (g *ChatGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	msg, err := g.model.Generate(ctx, []*schema.Message{schema.UserMessage(prompt)})
	if err != nil {
		return "", fmt.Errorf("model generation failed: %w", err)
	}
	if msg == nil {
		return "", fmt.Errorf("model returned no message")
	}
	return strings.TrimSpace(msg.Content), nil
}
