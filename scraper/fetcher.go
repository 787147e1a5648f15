package scraper

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
	"github.com/aluiziolira/go-scrape-catalog/stealth"
)

// Fetcher resolves the specifications of one product page.
type Fetcher interface {
	Fetch(ctx context.Context, productURL string) models.FetchOutcome
}

// FetcherOptions tune a DetailFetcher.
type FetcherOptions struct {
	// Timeout bounds a single attempt, session start included.
	Timeout time.Duration
	// MaxRetries applies to navigation timeouts only.
	MaxRetries      int
	RetryBackoff    time.Duration
	RetryBackoffMax time.Duration
}

// DetailFetcher fetches a product page in a session it owns for the
// duration of the call.
type DetailFetcher struct {
	opener  browser.Opener
	parser  *parser.Parser
	policy  *stealth.Policy
	metrics *Metrics
	opts    FetcherOptions

	retries atomic.Int64
}

// NewDetailFetcher builds a fetcher. metrics may be nil.
func NewDetailFetcher(opener browser.Opener, p *parser.Parser, policy *stealth.Policy, metrics *Metrics, opts FetcherOptions) *DetailFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	return &DetailFetcher{
		opener:  opener,
		parser:  p,
		policy:  policy,
		metrics: metrics,
		opts:    opts,
	}
}

// Fetch never fails: every error ends up in the returned outcome.
func (f *DetailFetcher) Fetch(ctx context.Context, productURL string) models.FetchOutcome {
	start := time.Now()

	var outcome models.FetchOutcome
	for attempt := 0; ; attempt++ {
		outcome = f.fetchOnce(ctx, productURL)
		if !f.shouldRetry(ctx, outcome, attempt) {
			break
		}

		delay := f.backoff(attempt + 1)
		f.retries.Add(1)
		f.metrics.IncRetries()
		slog.Debug("retrying detail fetch",
			slog.String("url", productURL),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
		)
		if err := sleepContext(ctx, delay); err != nil {
			break
		}
	}

	f.metrics.ObserveDetail(outcome.Kind.String(), time.Since(start))
	switch outcome.Kind {
	case models.OutcomeFailure:
		category := errorTypeLabel(outcome.Err)
		f.metrics.IncError(category)
		slog.Error("detail fetch failed",
			slog.String("url", productURL),
			slog.String("category", category),
			slog.Any("error", outcome.Err),
		)
	case models.OutcomeEmpty:
		slog.Warn("detail page has no specifications", slog.String("url", productURL))
	default:
		slog.Debug("detail fetched",
			slog.String("url", productURL),
			slog.Int("specs", outcome.Specs.Len()),
		)
	}
	return outcome
}

// Retries reports how many retries have been scheduled so far.
func (f *DetailFetcher) Retries() int {
	return int(f.retries.Load())
}

func (f *DetailFetcher) fetchOnce(ctx context.Context, productURL string) (outcome models.FetchOutcome) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	var session browser.Session
	defer func() {
		if r := recover(); r != nil {
			outcome = models.Failure(ErrFetchPanic{Value: r})
		}
		if session == nil {
			return
		}
		if err := session.Close(); err != nil {
			slog.Warn("close detail session", slog.String("url", productURL), slog.Any("error", err))
		}
		f.metrics.SessionClosed()
	}()

	session, err := f.opener.Open(ctx, f.policy.Identity())
	if err != nil {
		session = nil
		return models.Failure(err)
	}
	f.metrics.SessionOpened()

	markup, err := session.Navigate(ctx, productURL, f.parser.Selectors().DetailReady)
	if err != nil {
		return models.Failure(err)
	}
	if err := f.policy.DetailPause(ctx); err != nil {
		return models.Failure(err)
	}
	return models.Success(f.parser.ParseDetail(markup))
}

func (f *DetailFetcher) shouldRetry(ctx context.Context, outcome models.FetchOutcome, attempt int) bool {
	if outcome.Kind != models.OutcomeFailure || attempt >= f.opts.MaxRetries {
		return false
	}
	if ctx.Err() != nil {
		return false
	}
	return errors.Is(outcome.Err, browser.ErrNavigationTimeout)
}

func (f *DetailFetcher) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := f.opts.RetryBackoff
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	delay := base * time.Duration(1<<(attempt-1))
	if ceiling := f.opts.RetryBackoffMax; ceiling > 0 && delay > ceiling {
		delay = ceiling
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
