// Command indexer builds the document index from PDF guides and JSONL article
// exports.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hydrocare-rag/internal/app"
	"hydrocare-rag/internal/config"
	"hydrocare-rag/internal/ingest"
	"hydrocare-rag/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		chunkSize    int
		chunkOverlap int
		batchSize    int
	)

	cmd := &cobra.Command{
		Use:   "indexer [SOURCE...]",
		Short: "Chunk, embed and store HydroCare sources",
		Long: `Indexer loads each source page by page (PDF or JSONL), splits the pages
into chunks, embeds them and upserts them into the configured index.

Sources default to ingest.sources from the configuration. Chunk identifiers
are derived from source, page and position, so re-running over the same
files replaces chunks instead of duplicating them.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("chunk-size") {
				cfg.Ingest.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("chunk-overlap") {
				cfg.Ingest.ChunkOverlap = chunkOverlap
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.Services.Embeddings.BatchSize = batchSize
			}
			if len(args) > 0 {
				cfg.Ingest.Sources = args
			}
			return run(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVar(&chunkSize, "chunk-size", 512, "chunk size in characters")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "overlap between consecutive chunks")
	cmd.Flags().IntVar(&batchSize, "batch-size", 32, "chunks per embedding request")
	return cmd
}

func run(ctx context.Context, cfg *config.Config) error {
	if len(cfg.Ingest.Sources) == 0 {
		return errors.New("no sources given and ingest.sources is empty")
	}
	if cfg.Ingest.ChunkSize <= 0 || cfg.Ingest.ChunkOverlap < 0 || cfg.Ingest.ChunkOverlap >= cfg.Ingest.ChunkSize {
		return fmt.Errorf("invalid chunking: size %d, overlap %d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}

	logger, err := logging.New(cfg.App)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := app.NewIndexing(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("error closing index", zap.Error(err))
		}
	}()

	ix := ingest.NewIndexer(
		ingest.NewSplitter(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap),
		a.Embedder,
		a.Index,
		cfg.Services.Embeddings.BatchSize,
		logger.Named("ingest"),
	)

	start := time.Now()
	stats, err := ix.IndexSources(ctx, cfg.Ingest.Sources)
	if err != nil {
		return err
	}

	total, err := a.Index.Count(ctx)
	if err != nil {
		return err
	}
	logger.Info("indexing complete",
		zap.Int("sources", stats.Sources),
		zap.Int("pages", stats.Pages),
		zap.Int("chunks", stats.Chunks),
		zap.Int("index_size", total),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
