// HydroCare RAG answers hydroponics questions from an indexed growing guide
// and diagnoses plant diseases from photos.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"hydrocare-rag/internal/api"
	"hydrocare-rag/internal/app"
	"hydrocare-rag/internal/config"
	"hydrocare-rag/internal/logging"
	"hydrocare-rag/internal/metrics"
	"hydrocare-rag/internal/tracing"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "hydrocare:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.App)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting HydroCare API", zap.String("environment", cfg.App.Environment))

	shutdownTracing, err := tracing.Init(ctx, cfg.Services.Tracing, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	m := metrics.New()
	a, err := app.New(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("error closing resources", zap.Error(err))
		}
	}()

	server := api.NewServer(cfg, a.Pipeline, a.Analyzer, m, logger.Named("api"))
	return server.Run(ctx)
}
