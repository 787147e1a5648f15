package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
	"github.com/aluiziolira/go-scrape-catalog/stealth"
)

// State is a step of the pagination state machine.
type State int

const (
	StateFetchingListing State = iota
	StateDispatchingDetails
	StateAdvancingPage
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFetchingListing:
		return "fetching_listing"
	case StateDispatchingDetails:
		return "dispatching_details"
	case StateAdvancingPage:
		return "advancing_page"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options tune a Crawler.
type Options struct {
	// Workers bounds the detail fetches in flight for one page.
	Workers int
	// SpecCacheSize is the number of product URLs whose specs are kept
	// across pages. Zero disables the cache.
	SpecCacheSize int
	Fetcher       FetcherOptions
}

// Crawler walks a paginated catalog, enriching every listing with the
// specifications found on its product page.
type Crawler struct {
	opener  browser.Opener
	parser  *parser.Parser
	policy  *stealth.Policy
	fetcher *DetailFetcher
	workers int
	cache   *lru.Cache[string, models.SpecificationMap]
	Metrics *Metrics
}

// New builds a crawler. Listing and detail sessions come from opener.
func New(opener browser.Opener, p *parser.Parser, policy *stealth.Policy, opts Options) (*Crawler, error) {
	if opener == nil {
		return nil, errors.New("opener is required")
	}
	if p == nil {
		return nil, errors.New("parser is required")
	}
	if policy == nil {
		return nil, errors.New("policy is required")
	}
	if opts.Workers < 1 {
		return nil, fmt.Errorf("workers must be >= 1, got %d", opts.Workers)
	}

	c := &Crawler{
		opener:  opener,
		parser:  p,
		policy:  policy,
		workers: opts.Workers,
		Metrics: NewMetrics(),
	}
	if opts.SpecCacheSize > 0 {
		cache, err := lru.New[string, models.SpecificationMap](opts.SpecCacheSize)
		if err != nil {
			return nil, fmt.Errorf("create spec cache: %w", err)
		}
		c.cache = cache
	}
	c.fetcher = NewDetailFetcher(opener, p, policy, c.Metrics, opts.Fetcher)
	return c, nil
}

type detailResult struct {
	productURL string
	outcome    models.FetchOutcome
}

type crawlRun struct {
	state       *models.CrawlState
	session     browser.Session
	pages       int
	interrupted bool
	cacheHits   int
	misses      int
	byOutcome   map[string]int
	errors      map[string]int
	failedURLs  []string
}

// Crawl runs the state machine from startURL for at most maxPages listing
// pages. The result is never nil; on a fatal session error it carries the
// items accumulated so far and the returned error wraps
// browser.ErrSessionUnavailable.
func (c *Crawler) Crawl(ctx context.Context, startURL string, maxPages int) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if maxPages < 1 {
		return nil, fmt.Errorf("max pages must be >= 1, got %d", maxPages)
	}

	start := time.Now()
	run := &crawlRun{
		state: &models.CrawlState{
			CurrentPage: 1,
			CurrentURL:  startURL,
			SpecKeys:    models.KeySet{},
		},
		byOutcome: make(map[string]int),
		errors:    make(map[string]int),
	}
	defer c.closeListing(run)

	slog.Info("starting crawl",
		slog.String("url", startURL),
		slog.Int("max_pages", maxPages),
		slog.Int("workers", c.workers),
	)

	var (
		page     parser.ListingPage
		reopened bool
		abortErr error
	)

	state := StateFetchingListing
	for state != StateDone && state != StateFailed {
		switch state {
		case StateFetchingListing:
			if ctx.Err() != nil {
				run.interrupted = true
				state = StateDone
				continue
			}
			if run.session == nil {
				if err := c.openListing(ctx, run); err != nil {
					abortErr = err
					state = StateFailed
					continue
				}
			}

			markup, err := run.session.Navigate(ctx, run.state.CurrentURL, c.parser.Selectors().ListingReady)
			c.Metrics.IncListingPage()
			run.pages++
			if err != nil {
				state = c.listingFailure(ctx, run, err, &reopened, maxPages)
				continue
			}
			reopened = false

			if err := c.policy.ListingPause(ctx); err != nil {
				run.interrupted = true
				state = StateDone
				continue
			}

			page = c.parser.ParseListing(markup, run.state.CurrentURL)
			if page.Duplicates > 0 || page.Skipped > 0 {
				slog.Warn("listing cards dropped",
					slog.String("url", run.state.CurrentURL),
					slog.Int("duplicates", page.Duplicates),
					slog.Int("without_link", page.Skipped),
				)
			}
			page.Summaries = c.validSummaries(run, page.Summaries)
			if len(page.Summaries) == 0 {
				slog.Info("listing page has no products, stopping",
					slog.Int("page", run.state.CurrentPage),
					slog.String("url", run.state.CurrentURL),
				)
				state = StateDone
				continue
			}
			state = StateDispatchingDetails

		case StateDispatchingDetails:
			results := c.dispatch(ctx, page.Summaries, run)
			items, orphans := correlate(page.Summaries, results)
			for _, orphan := range orphans {
				run.misses++
				c.Metrics.IncError(errorTypeLabel(ErrCorrelationMiss))
				slog.Warn("discarding detail result without listing",
					slog.String("url", orphan),
					slog.Any("error", ErrCorrelationMiss),
				)
			}
			c.accumulate(run, items, results)
			slog.Info("page complete",
				slog.Int("page", run.state.CurrentPage),
				slog.Int("items", len(items)),
				slog.Int("total_items", len(run.state.Items)),
			)
			state = StateAdvancingPage

		case StateAdvancingPage:
			if page.NextURL == "" || run.state.CurrentPage >= maxPages || run.pages >= maxPages {
				state = StateDone
				continue
			}
			if err := c.policy.PagePause(ctx); err != nil {
				run.interrupted = true
				state = StateDone
				continue
			}
			run.state.CurrentPage++
			run.state.CurrentURL = page.NextURL
			state = StateFetchingListing
		}
	}

	result := &models.ScraperResult{
		Items:             run.state.Items,
		SpecKeys:          run.state.SpecKeys,
		StartTime:         start,
		EndTime:           time.Now(),
		PageCount:         run.pages,
		FinalState:        state.String(),
		Interrupted:       run.interrupted,
		DetailsByOutcome:  run.byOutcome,
		CorrelationMisses: run.misses,
		CacheHits:         run.cacheHits,
		RetryCount:        c.fetcher.Retries(),
		ErrorsByType:      run.errors,
		FailedURLs:        run.failedURLs,
	}

	if state == StateFailed {
		slog.Error("crawl aborted",
			slog.Int("items", len(result.Items)),
			slog.Any("error", abortErr),
		)
		return result, abortErr
	}

	slog.Info("crawl finished",
		slog.Int("pages", result.PageCount),
		slog.Int("items", len(result.Items)),
		slog.Bool("interrupted", result.Interrupted),
	)
	return result, nil
}

func (c *Crawler) openListing(ctx context.Context, run *crawlRun) error {
	session, err := c.opener.Open(ctx, c.policy.Identity())
	if err != nil {
		run.errors[errorTypeLabel(err)]++
		c.Metrics.IncError(errorTypeLabel(err))
		if !errors.Is(err, browser.ErrSessionUnavailable) {
			err = fmt.Errorf("%w: %w", browser.ErrSessionUnavailable, err)
		}
		return fmt.Errorf("open listing session: %w", err)
	}
	c.Metrics.SessionOpened()
	run.session = session
	return nil
}

func (c *Crawler) closeListing(run *crawlRun) {
	if run.session == nil {
		return
	}
	if err := run.session.Close(); err != nil {
		slog.Warn("close listing session", slog.Any("error", err))
	}
	c.Metrics.SessionClosed()
	run.session = nil
}

// listingFailure decides where a failed listing navigation leads. A timeout
// means the catalog ran out of pages. Any other error gets one fresh session
// before the crawl gives up on further pages, provided the retry still fits
// within maxPages listing fetches.
func (c *Crawler) listingFailure(ctx context.Context, run *crawlRun, err error, reopened *bool, maxPages int) State {
	category := errorTypeLabel(err)
	run.errors[category]++
	c.Metrics.IncError(category)

	switch {
	case ctx.Err() != nil:
		run.interrupted = true
		return StateDone
	case errors.Is(err, browser.ErrNavigationTimeout):
		slog.Info("listing markers never appeared, treating as end of results",
			slog.Int("page", run.state.CurrentPage),
			slog.String("url", run.state.CurrentURL),
		)
		return StateDone
	case !*reopened && run.pages < maxPages:
		slog.Warn("listing navigation failed, reopening session",
			slog.String("url", run.state.CurrentURL),
			slog.Any("error", err),
		)
		*reopened = true
		c.closeListing(run)
		return StateFetchingListing
	default:
		run.failedURLs = append(run.failedURLs, run.state.CurrentURL)
		slog.Error("listing navigation failed, stopping",
			slog.String("url", run.state.CurrentURL),
			slog.Any("error", err),
		)
		return StateDone
	}
}

// validSummaries drops cards whose product URL cannot be fetched.
func (c *Crawler) validSummaries(run *crawlRun, summaries []models.ListingSummary) []models.ListingSummary {
	valid := summaries[:0]
	for _, summary := range summaries {
		if err := parser.ValidateListing(summary); err != nil {
			err = fmt.Errorf("%w: %w", ErrParseMismatch, err)
			category := errorTypeLabel(err)
			run.errors[category]++
			c.Metrics.IncError(category)
			slog.Warn("skipping listing", slog.Any("error", err))
			continue
		}
		valid = append(valid, summary)
	}
	return valid
}

// dispatch fetches the details for one page and waits for all of them.
func (c *Crawler) dispatch(ctx context.Context, summaries []models.ListingSummary, run *crawlRun) []detailResult {
	results := make(chan detailResult, len(summaries))

	var g errgroup.Group
	g.SetLimit(c.workers)
	for _, summary := range summaries {
		productURL := summary.ProductURL
		if c.cache != nil {
			if specs, ok := c.cache.Get(productURL); ok {
				run.cacheHits++
				c.Metrics.IncCacheHit()
				results <- detailResult{productURL: productURL, outcome: models.Success(specs)}
				continue
			}
		}
		g.Go(func() error {
			results <- detailResult{productURL: productURL, outcome: c.fetcher.Fetch(ctx, productURL)}
			return nil
		})
	}
	_ = g.Wait()
	close(results)

	collected := make([]detailResult, 0, len(summaries))
	for r := range results {
		collected = append(collected, r)
	}
	return collected
}

func (c *Crawler) accumulate(run *crawlRun, items []models.EnrichedItem, results []detailResult) {
	for _, r := range results {
		run.byOutcome[r.outcome.Kind.String()]++
		switch r.outcome.Kind {
		case models.OutcomeSuccess:
			if c.cache != nil {
				c.cache.Add(r.productURL, r.outcome.Specs)
			}
		case models.OutcomeFailure:
			run.errors[errorTypeLabel(r.outcome.Err)]++
			run.failedURLs = append(run.failedURLs, r.productURL)
		}
	}
	for _, item := range items {
		run.state.SpecKeys.Add(item.Specs)
	}
	run.state.Items = append(run.state.Items, items...)
	c.Metrics.AddItems(len(items))
}

// correlate joins detail results to summaries by exact product URL. Items
// come back in listing order; a summary without a result gets an empty
// failed item. Results matching no summary are returned as orphans.
func correlate(summaries []models.ListingSummary, results []detailResult) ([]models.EnrichedItem, []string) {
	byURL := make(map[string]models.FetchOutcome, len(results))
	for _, r := range results {
		if _, ok := byURL[r.productURL]; ok {
			continue
		}
		byURL[r.productURL] = r.outcome
	}

	items := make([]models.EnrichedItem, 0, len(summaries))
	for _, summary := range summaries {
		outcome, ok := byURL[summary.ProductURL]
		if !ok {
			outcome = models.Failure(fmt.Errorf("no detail result for %s", summary.ProductURL))
		}
		delete(byURL, summary.ProductURL)
		items = append(items, models.EnrichedItem{
			Listing: summary,
			Specs:   outcome.Specs,
			Outcome: outcome.Kind,
		})
	}

	orphans := make([]string, 0, len(byURL))
	for u := range byURL {
		orphans = append(orphans, u)
	}
	sort.Strings(orphans)
	return items, orphans
}
