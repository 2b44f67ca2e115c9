package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hydrocare-rag/internal/config"
	"hydrocare-rag/internal/metrics"
	"hydrocare-rag/internal/session"
)

func offlineConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "memory"},
		Services: config.ServicesConfig{
			Gemini: config.GeminiConfig{
				APIKey:           "test-key",
				Model:            "gemini-2.5-flash",
				Temperature:      0.5,
				JudgeTemperature: 0.1,
				Timeout:          5,
			},
			Embeddings: config.EmbeddingsConfig{Provider: "ollama", Model: "nomic-embed-text", BaseURL: "http://127.0.0.1:1"},
			Disease:    config.DiseaseConfig{Enabled: true, Model: "gemini-2.5-flash"},
		},
		RAG: config.RAGConfig{
			K: 6, FetchK: 20, LambdaMult: 0.7,
			MaxContextChars: 4000, SnippetChars: 800, HistoryWindow: 10,
			JudgeEnabled: true, FaithfulnessMin: 4, CompletenessMin: 4,
		},
		Session: config.SessionConfig{Backend: "memory", TTL: 60},
	}
}

func TestNewWiresPipeline(t *testing.T) {
	a, err := New(context.Background(), offlineConfig(), zap.NewNop(), metrics.New())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.Pipeline)
	assert.NotNil(t, a.Gemini)
	require.NotNil(t, a.Analyzer)
	assert.True(t, a.Analyzer.Loaded())
	assert.IsType(t, &session.MemoryStore{}, a.Sessions)
}

func TestNewWithoutAnalyzer(t *testing.T) {
	cfg := offlineConfig()
	cfg.Services.Disease.Enabled = false
	cfg.RAG.JudgeEnabled = false

	a, err := New(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Nil(t, a.Analyzer)
}

func TestNewRequiresAPIKey(t *testing.T) {
	cfg := offlineConfig()
	cfg.Services.Gemini.APIKey = ""

	_, err := New(context.Background(), cfg, zap.NewNop(), nil)
	assert.ErrorContains(t, err, "GOOGLE_API_KEY")
}

func TestNewRedisSessions(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := offlineConfig()
	cfg.Session.Backend = "redis"
	cfg.Services.Redis.Addr = mr.Addr()

	a, err := New(context.Background(), cfg, zap.NewNop(), nil)
	require.NoError(t, err)
	assert.IsType(t, &session.RedisStore{}, a.Sessions)
	require.NoError(t, a.Close())

	mr.Close()
	_, err = New(context.Background(), cfg, zap.NewNop(), nil)
	assert.ErrorContains(t, err, "redis unavailable")
}

func TestNewIndexingSkipsGeminiForOtherProviders(t *testing.T) {
	cfg := offlineConfig()
	cfg.Services.Gemini.APIKey = ""

	a, err := NewIndexing(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	assert.Nil(t, a.Gemini)
	assert.NotNil(t, a.Embedder)
}
