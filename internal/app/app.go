// Package app wires configuration into the components shared by the server
// and the command line tools.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"hydrocare-rag/internal/config"
	"hydrocare-rag/internal/disease"
	"hydrocare-rag/internal/embeddings"
	"hydrocare-rag/internal/judge"
	"hydrocare-rag/internal/llm"
	"hydrocare-rag/internal/metrics"
	"hydrocare-rag/internal/rag"
	"hydrocare-rag/internal/retrieval"
	"hydrocare-rag/internal/session"
	"hydrocare-rag/internal/storage"
)

// App holds the long-lived components. Close releases them.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Metrics  *metrics.Metrics
	Gemini   *genai.Client
	Embedder embeddings.Embedder
	Index    storage.VectorStore
	Sessions session.Store
	Pipeline *rag.Pipeline
	// Analyzer is nil unless services.disease.enabled is set.
	Analyzer disease.Analyzer
}

// NewIndexing builds only what the indexer needs: the embedder and the index.
func NewIndexing(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.Services.Embeddings.Provider == "gemini" {
		client, err := llm.NewGeminiClient(ctx, cfg.Services.Gemini)
		if err != nil {
			return nil, err
		}
		a.Gemini = client
	}

	emb, err := embeddings.New(ctx, cfg.Services.Embeddings, a.Gemini)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	a.Embedder = emb

	index, err := storage.Open(cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	a.Index = index
	return a, nil
}

// New builds the full question answering stack.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, m *metrics.Metrics) (*App, error) {
	if err := cfg.RequireGemini(); err != nil {
		return nil, err
	}

	a, err := NewIndexing(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.Metrics = m

	if a.Gemini == nil {
		if a.Gemini, err = llm.NewGeminiClient(ctx, cfg.Services.Gemini); err != nil {
			return nil, errors.Join(err, a.Close())
		}
	}

	if n, err := a.Index.Count(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to read index: %w", err), a.Close())
	} else if n == 0 {
		logger.Warn("document index is empty, run the indexer first", zap.String("driver", cfg.Database.Driver))
	} else {
		logger.Info("document index loaded", zap.Int("chunks", n))
	}

	answerModel, err := llm.NewGeminiGenerator(ctx, a.Gemini, cfg.Services.Gemini, cfg.Services.Gemini.Temperature)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	var evaluator rag.Evaluator
	if cfg.RAG.JudgeEnabled {
		judgeModel, err := llm.NewGeminiGenerator(ctx, a.Gemini, cfg.Services.Gemini, cfg.Services.Gemini.JudgeTemperature)
		if err != nil {
			return nil, errors.Join(err, a.Close())
		}
		evaluator = judge.New(judgeModel, cfg.RAG.FaithfulnessMin, cfg.RAG.CompletenessMin)
	}

	a.Sessions, err = session.New(cfg.Session, cfg.Services.Redis)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}
	if rs, ok := a.Sessions.(*session.RedisStore); ok {
		if err := rs.Ping(ctx); err != nil {
			return nil, errors.Join(fmt.Errorf("redis unavailable at %s: %w", cfg.Services.Redis.Addr, err), a.Close())
		}
	}

	a.Pipeline = rag.New(
		retrieval.NewRetriever(a.Embedder, a.Index, cfg.RAG.K, cfg.RAG.FetchK, cfg.RAG.LambdaMult),
		answerModel,
		evaluator,
		a.Sessions,
		rag.Options{
			MaxContextChars: cfg.RAG.MaxContextChars,
			SnippetChars:    cfg.RAG.SnippetChars,
			HistoryWindow:   cfg.RAG.HistoryWindow,
		},
		m,
		logger.Named("rag"),
	)

	if cfg.Services.Disease.Enabled {
		a.Analyzer = disease.NewGeminiAnalyzer(a.Gemini, cfg.Services.Disease.Model, analysisTimeout(cfg))
		logger.Info("image analysis enabled", zap.String("model", cfg.Services.Disease.Model))
	}

	return a, nil
}

// Close releases the index and the session backend.
func (a *App) Close() error {
	var errs []error
	if a.Index != nil {
		errs = append(errs, a.Index.Close())
	}
	if rs, ok := a.Sessions.(*session.RedisStore); ok {
		errs = append(errs, rs.Close())
	}
	return errors.Join(errs...)
}

func analysisTimeout(cfg *config.Config) time.Duration {
	if cfg.Services.Gemini.Timeout <= 0 {
		return 0
	}
	return time.Duration(cfg.Services.Gemini.Timeout) * time.Second
}
