// Package rag answers agronomy questions from the indexed guide: retrieve,
// build a grounded prompt, generate, judge and optionally revise.
package rag

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "hydrocare-rag/internal/errors"
	"hydrocare-rag/internal/llm"
	"hydrocare-rag/internal/metrics"
	"hydrocare-rag/internal/models"
	"hydrocare-rag/internal/session"
	"hydrocare-rag/internal/tracing"
)

// Retriever returns the passages used as context for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]models.ScoredChunk, error)
}

// Evaluator grades an answer against its context.
type Evaluator interface {
	Evaluate(ctx context.Context, question, answer, context string) (*models.Verdict, error)
}

// Options tune prompt construction.
type Options struct {
	MaxContextChars int
	SnippetChars    int
	HistoryWindow   int
}

// DefaultOptions match the deployed service.
func DefaultOptions() Options {
	return Options{MaxContextChars: 4000, SnippetChars: 800, HistoryWindow: 10}
}

// Pipeline is safe for concurrent use when its dependencies are.
type Pipeline struct {
	retriever Retriever
	generator llm.Generator
	judge     Evaluator
	sessions  session.Store
	opts      Options
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New wires a pipeline. judge and m may be nil.
func New(retriever Retriever, generator llm.Generator, judge Evaluator, sessions session.Store, opts Options, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		retriever: retriever,
		generator: generator,
		judge:     judge,
		sessions:  sessions,
		opts:      opts,
		metrics:   m,
		logger:    logger,
	}
}

// Ask answers question within sessionID, opening a new session when the ID is
// empty or unknown. The returned response always carries the effective ID.
func (p *Pipeline) Ask(ctx context.Context, question, sessionID string) (*models.ChatResponse, error) {
	ctx, span := tracing.Tracer().Start(ctx, "rag.Ask")
	defer span.End()
	start := time.Now()

	sid, created, err := p.sessions.Resolve(ctx, sessionID)
	if err != nil {
		return nil, p.fail(span, apperrors.ErrSession.WithCause(err))
	}
	if created && p.metrics != nil {
		p.metrics.SessionsCreated.Inc()
	}
	span.SetAttributes(attribute.String("session.id", sid), attribute.Bool("session.created", created))
	logger := p.logger.With(zap.String("session_id", sid))

	passages, err := p.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, p.fail(span, apperrors.ErrRetrieval.WithCause(err))
	}
	contextSnippet := BuildContextSnippet(passages, p.opts.MaxContextChars, p.opts.SnippetChars)
	span.SetAttributes(attribute.Int("retrieval.passages", len(passages)))

	repeated, err := p.sessions.RecordQuestion(ctx, sid, NormalizeQuestion(question))
	if err != nil {
		return nil, p.fail(span, apperrors.ErrSession.WithCause(err))
	}
	finalQuestion := question
	if repeated {
		finalQuestion = WithRepeatInstruction(question)
		if p.metrics != nil {
			p.metrics.RepeatedQuestion.Inc()
		}
	}

	history, err := p.sessions.History(ctx, sid, p.opts.HistoryWindow)
	if err != nil {
		logger.Warn("session history unavailable", zap.Error(err))
		history = nil
	}

	answer, err := p.generator.Generate(ctx, BuildPrompt(finalQuestion, contextSnippet, history))
	if err != nil {
		return nil, p.fail(span, apperrors.ErrGeneration.WithCause(err))
	}

	resp := &models.ChatResponse{
		Answer:    answer,
		SessionID: sid,
		Sources:   SourcePages(passages),
	}

	if p.judge != nil {
		p.applyVerdict(ctx, logger, resp, question, contextSnippet)
	}

	turn := models.Turn{Question: question, Answer: resp.Answer, Sources: resp.Sources}
	if err := p.sessions.AppendTurn(ctx, sid, turn); err != nil {
		logger.Warn("failed to record turn", zap.Error(err))
	}

	if p.metrics != nil {
		p.metrics.ChatDuration.Observe(time.Since(start).Seconds())
	}
	logger.Info("question answered",
		zap.Bool("repeated", repeated),
		zap.Ints("sources", resp.Sources),
		zap.String("decision", resp.Decision),
		zap.Duration("elapsed", time.Since(start)),
	)
	return resp, nil
}

// applyVerdict never fails the request: judge errors only leave the scores empty.
func (p *Pipeline) applyVerdict(ctx context.Context, logger *zap.Logger, resp *models.ChatResponse, question, contextSnippet string) {
	ctx, span := tracing.Tracer().Start(ctx, "rag.Judge")
	defer span.End()

	verdict, err := p.judge.Evaluate(ctx, question, resp.Answer, contextSnippet)
	if err != nil {
		logger.Warn("judge failed", zap.Error(err))
		span.RecordError(err)
		if p.metrics != nil {
			p.metrics.JudgeDecisions.WithLabelValues("error").Inc()
		}
		return
	}

	if verdict.Decision == models.DecisionRevise && verdict.RevisedAnswer != "" {
		resp.Answer = verdict.RevisedAnswer
	}
	resp.Faithfulness = verdict.Faithfulness
	resp.Completeness = verdict.Completeness
	resp.Decision = verdict.Decision
	resp.Issues = verdict.Issues

	if len(verdict.Issues) > 0 {
		logger.Debug("judge issues", zap.Strings("issues", verdict.Issues))
	}
	span.SetAttributes(attribute.String("judge.decision", verdict.Decision))
	if p.metrics != nil {
		p.metrics.JudgeDecisions.WithLabelValues(verdict.Decision).Inc()
	}
}

// Reset forgets the session's memory. Unknown IDs are accepted.
func (p *Pipeline) Reset(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := p.sessions.Reset(ctx, sessionID); err != nil {
		return apperrors.ErrSession.WithCause(err)
	}
	p.logger.Info("session reset", zap.String("session_id", sessionID))
	return nil
}

func (p *Pipeline) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
