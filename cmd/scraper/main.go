// Command scraper collects hydroponics articles into a JSONL file the indexer
// can load.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"hydrocare-rag/internal/config"
	"hydrocare-rag/internal/logging"
	"hydrocare-rag/internal/scrape"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := scrape.DefaultOptions()
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "scraper",
		Short: "Crawl hydroponics articles into a JSONL export",
		Long: `Scraper walks the paginated article listing, fetches each article, converts
its content to Markdown and appends one JSON record per article.

Progress is saved after every listing page. With --resume, articles already
seen are skipped; with --versioning, changed articles get a new version.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.App)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			s := scrape.New(opts, &http.Client{Timeout: timeout}, logger.Named("scrape"))
			sum, err := s.Run(cmd.Context())
			logger.Info("scrape finished",
				zap.Int("pages", sum.Pages),
				zap.Int("new", sum.New),
				zap.Int("updated", sum.Updated),
				zap.Int("skipped", sum.Skipped),
				zap.Int("failed", sum.Failed),
				zap.String("output", opts.OutputDir),
			)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.BaseURL, "base-url", opts.BaseURL, "category listing URL")
	f.IntVar(&opts.MaxPages, "max-pages", opts.MaxPages, "listing pages to walk")
	f.IntVar(&opts.Limit, "limit", opts.Limit, "stop after this many articles, 0 for no limit")
	f.DurationVar(&opts.Delay, "delay", opts.Delay, "pause between requests")
	f.IntVar(&opts.Retries, "retries", opts.Retries, "retries on 429 and 5xx")
	f.DurationVar(&opts.RetryInterval, "retry-interval", opts.RetryInterval, "initial retry interval")
	f.StringVarP(&opts.OutputDir, "out", "o", opts.OutputDir, "output directory")
	f.BoolVar(&opts.Resume, "resume", opts.Resume, "skip articles recorded in the state file")
	f.BoolVar(&opts.Versioning, "versioning", opts.Versioning, "re-fetch known articles and version changes")
	f.StringVar(&opts.UserAgent, "user-agent", opts.UserAgent, "User-Agent header")
	f.DurationVar(&timeout, "timeout", 30*time.Second, "per request timeout")
	return cmd
}
