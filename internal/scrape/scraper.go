// Package scrape collects hydroponics articles from a WordPress category and
// exports them as JSONL records for the indexer.
package scrape

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"hydrocare-rag/internal/models"
)

const (
	DefaultBaseURL   = "https://www.croquepousse.com/hydroponie/"
	DefaultUserAgent = "HydroCareResearchBot/1.0"

	ArticlesFile = "hydroponie_articles.jsonl"
	StateFile    = "state_hydroponie.json"

	maxBodyBytes = 10 << 20
)

// Options control one crawl.
type Options struct {
	BaseURL       string
	MaxPages      int
	Limit         int // 0 means no limit
	Delay         time.Duration
	Retries       int
	RetryInterval time.Duration
	OutputDir     string
	Resume        bool
	// Versioning appends a new record when a known article's content changed;
	// without it known URLs are skipped.
	Versioning bool
	UserAgent  string
}

// DefaultOptions mirror a polite crawl of the default category.
func DefaultOptions() Options {
	return Options{
		BaseURL:       DefaultBaseURL,
		MaxPages:      40,
		Delay:         1200 * time.Millisecond,
		Retries:       3,
		RetryInterval: 700 * time.Millisecond,
		OutputDir:     "hydro_data",
		UserAgent:     DefaultUserAgent,
	}
}

// Summary counts what a crawl wrote.
type Summary struct {
	Pages   int
	New     int
	Updated int
	Skipped int
	Failed  int
}

// Written is the number of records appended.
func (s Summary) Written() int { return s.New + s.Updated }

// Scraper is not safe for concurrent crawls.
type Scraper struct {
	opts   Options
	client *http.Client
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
}

func New(opts Options, client *http.Client, logger *zap.Logger) *Scraper {
	if client == nil {
		client = &http.Client{Timeout: 25 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	return &Scraper{opts: opts, client: client, logger: logger, sleep: sleepCtx}
}

// Run crawls listing pages until MaxPages, an empty page, a listing error or
// Limit is reached. State is saved after every page.
func (s *Scraper) Run(ctx context.Context) (Summary, error) {
	var sum Summary

	base, err := url.Parse(s.opts.BaseURL)
	if err != nil {
		return sum, fmt.Errorf("invalid base URL: %w", err)
	}
	if err := os.MkdirAll(s.opts.OutputDir, 0o755); err != nil {
		return sum, fmt.Errorf("failed to create output dir: %w", err)
	}

	statePath := filepath.Join(s.opts.OutputDir, StateFile)
	state := NewState()
	if s.opts.Resume {
		if state, err = LoadState(statePath); err != nil {
			return sum, err
		}
	}

	out, err := os.OpenFile(filepath.Join(s.opts.OutputDir, ArticlesFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return sum, fmt.Errorf("failed to open output: %w", err)
	}
	defer out.Close()
	enc := json.NewEncoder(out)

	for page := 1; page <= s.opts.MaxPages; page++ {
		pageURL := PageURL(base.String(), page)
		body, err := s.fetch(ctx, pageURL)
		if err != nil {
			if ctx.Err() != nil {
				return sum, ctx.Err()
			}
			s.logger.Warn("listing unavailable, stopping", zap.String("url", pageURL), zap.Error(err))
			break
		}

		cards, err := ParseListing(body, base)
		if err != nil {
			return sum, err
		}
		if len(cards) == 0 {
			s.logger.Info("no articles on page, stopping", zap.Int("page", page))
			break
		}
		sum.Pages++
		s.logger.Info("listing page parsed", zap.Int("page", page), zap.Int("articles", len(cards)))

		limitReached := false
		for _, card := range cards {
			if s.opts.Limit > 0 && sum.Written() >= s.opts.Limit {
				limitReached = true
				break
			}

			written, err := s.processCard(ctx, card, state, enc, &sum)
			if err != nil {
				if ctx.Err() != nil {
					return sum, ctx.Err()
				}
				sum.Failed++
				s.logger.Warn("article failed", zap.String("url", card.URL), zap.Error(err))
				continue
			}
			if !written {
				sum.Skipped++
			}
		}

		if err := state.Save(statePath); err != nil {
			return sum, err
		}
		if limitReached {
			s.logger.Info("article limit reached", zap.Int("limit", s.opts.Limit))
			break
		}
	}

	s.logger.Info("crawl finished",
		zap.Int("new", sum.New),
		zap.Int("updated", sum.Updated),
		zap.Int("skipped", sum.Skipped),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

func (s *Scraper) processCard(ctx context.Context, card Card, state *State, enc *json.Encoder, sum *Summary) (bool, error) {
	old, known := state.Articles[card.URL]
	if known && !s.opts.Versioning {
		return false, nil
	}

	body, err := s.fetch(ctx, card.URL)
	if err != nil {
		return false, err
	}
	pageURL, err := url.Parse(card.URL)
	if err != nil {
		return false, err
	}
	article, err := ParseDetail(body, pageURL)
	if err != nil {
		return false, err
	}

	article.Version = 1
	if known {
		if old.Hash == article.Hash {
			return false, nil
		}
		article.PreviousHash = old.Hash
		article.Version = old.Version + 1
	}
	article.ListingTitle = card.Title
	article.ListingExcerpt = card.Excerpt
	article.ListingDate = card.Date
	article.ListingCategory = card.Category
	article.ListingImage = card.Image
	article.ScrapedAt = time.Now().UTC()

	if err := enc.Encode(article); err != nil {
		return false, fmt.Errorf("failed to write record: %w", err)
	}
	state.Articles[card.URL] = ArticleState{Hash: article.Hash, Version: article.Version}

	if known {
		sum.Updated++
		s.logger.Info("article updated", zap.String("title", displayTitle(article)), zap.Int("version", article.Version))
	} else {
		sum.New++
		s.logger.Info("article saved", zap.String("title", displayTitle(article)), zap.Int("words", article.WordCount))
	}
	return true, nil
}

// fetch waits the polite delay, then GETs rawURL, retrying transport errors,
// 429 and 5xx with exponential backoff.
func (s *Scraper) fetch(ctx context.Context, rawURL string) (string, error) {
	if s.opts.Delay > 0 {
		jitter := time.Duration(rand.Float64() * 0.3 * float64(s.opts.Delay))
		if err := s.sleep(ctx, s.opts.Delay+jitter); err != nil {
			return "", err
		}
	}

	operation := func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return "", backoff.Permanent(err)
		}
		req.Header.Set("User-Agent", s.opts.UserAgent)

		resp, err := s.client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return "", backoff.Permanent(fmt.Errorf("GET %s: status %d", rawURL, resp.StatusCode))
		}

		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	eb := backoff.NewExponentialBackOff()
	if s.opts.RetryInterval > 0 {
		eb.InitialInterval = s.opts.RetryInterval
	}
	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(max(s.opts.Retries, 0)+1)),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func displayTitle(a *models.Article) string {
	if a.Title != "" {
		return a.Title
	}
	return a.URL
}
