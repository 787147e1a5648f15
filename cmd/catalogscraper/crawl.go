package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aluiziolira/go-scrape-catalog/browser"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
)

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	d := config.DefaultConfig()

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl a catalog category and write a snapshot",
		Long: `Crawl walks the listing pages of one category, fetches every product page
for its specifications and writes a numbered snapshot into the output
directory, e.g. laptops_2024_01_01_scrape3.csv. A crawl that finds no
products writes no snapshot.

Settings are layered: defaults, then the config file (--config), then
CATALOG_* environment variables (a .env file is honoured), then flags.

Examples:
  # Three pages of the default category with headless Chrome
  catalogscraper crawl

  # A server-rendered catalog over plain HTTP, CSV plus JSONL
  catalogscraper crawl --backend http --url https://shop.example/laptops --format dual`,
		Args: cobra.NoArgs,
		RunE: runCrawlCmd,
	}

	cmd.Flags().StringP("config", "c", "", "Config file (yaml, json or toml)")
	cmd.Flags().String("category", d.Category, "Category name used in snapshot file names")
	cmd.Flags().StringP("url", "u", d.StartURL, "First listing page of the category")
	cmd.Flags().IntP("pages", "p", d.MaxPages, "Maximum listing pages to crawl")
	cmd.Flags().IntP("workers", "w", d.Workers, "Concurrent detail page fetches")
	cmd.Flags().String("backend", d.Backend, "Rendering backend: chrome or http")
	cmd.Flags().StringP("output-dir", "o", d.OutputDir, "Snapshot output directory")
	cmd.Flags().String("format", d.OutputFormat, "Output format: csv, json, or dual")
	cmd.Flags().String("selectors", d.SelectorsFile, "YAML selector profile")
	cmd.Flags().String("metrics-addr", d.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	cmd.Flags().String("allocator", d.Allocator, "Sequence allocator: scan or bolt")
	cmd.Flags().Int("max-retries", d.MaxRetries, "Retries per detail page after a navigation timeout")
	cmd.Flags().Bool("no-delays", d.DisableDelays, "Disable randomized anti-detection delays")

	return cmd
}

func runCrawlCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadCrawlConfig(cmd)
	if err != nil {
		return err
	}

	logger, _ := newLogger(os.Stdout, cfg.Verbose)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing the current page")
	}()

	return crawl(ctx, cfg, newOpener(cfg), cmd.OutOrStdout())
}

// crawl runs one crawl and persists whatever it accumulated.
func crawl(ctx context.Context, cfg *config.Config, opener browser.Opener, out io.Writer) error {
	sel := parser.DefaultSelectors()
	if cfg.SelectorsFile != "" {
		loaded, err := parser.LoadSelectors(cfg.SelectorsFile)
		if err != nil {
			return fmt.Errorf("load selectors: %w", err)
		}
		sel = loaded
	}

	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	crawler, err := scraper.New(opener, parser.New(sel), policy, scraper.Options{
		Workers:       cfg.Workers,
		SpecCacheSize: cfg.SpecCacheSize,
		Fetcher: scraper.FetcherOptions{
			Timeout:         cfg.DetailTimeout,
			MaxRetries:      cfg.MaxRetries,
			RetryBackoff:    cfg.RetryBackoff,
			RetryBackoffMax: cfg.RetryBackoffMax,
		},
	})
	if err != nil {
		return fmt.Errorf("initialising crawler: %w", err)
	}

	stopMetrics := startMetricsServer(cfg.MetricsAddr, crawler.Metrics)
	defer stopMetrics()

	result, crawlErr := crawler.Crawl(ctx, cfg.StartURL, cfg.MaxPages)
	if crawlErr != nil {
		if result == nil || len(result.Items) == 0 {
			return fmt.Errorf("crawl failed: %w", crawlErr)
		}
		slog.Warn("crawl aborted, persisting partial results",
			slog.Int("items", len(result.Items)),
			slog.Any("error", crawlErr),
		)
	}

	if len(result.Items) == 0 {
		slog.Info("no items scraped, skipping snapshot", slog.String("category", cfg.Category))
		printSummary(out, result, "")
		return nil
	}

	writer, closeWriter, err := newCatalogWriter(cfg)
	if err != nil {
		return err
	}
	defer closeWriter()

	path, err := writer.Write(result.Items, cfg.Category, result.SpecKeys.Sorted())
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	printSummary(out, result, path)
	return nil
}

func loadCrawlConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("category") {
		cfg.Category, _ = flags.GetString("category")
	}
	if flags.Changed("url") {
		cfg.StartURL, _ = flags.GetString("url")
	}
	if flags.Changed("pages") {
		cfg.MaxPages, _ = flags.GetInt("pages")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("backend") {
		backend, _ := flags.GetString("backend")
		cfg.Backend = strings.ToLower(backend)
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir, _ = flags.GetString("output-dir")
	}
	if flags.Changed("format") {
		format, _ := flags.GetString("format")
		cfg.OutputFormat = strings.ToLower(format)
	}
	if flags.Changed("selectors") {
		cfg.SelectorsFile, _ = flags.GetString("selectors")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("allocator") {
		cfg.Allocator, _ = flags.GetString("allocator")
	}
	if flags.Changed("max-retries") {
		cfg.MaxRetries, _ = flags.GetInt("max-retries")
	}
	if flags.Changed("no-delays") {
		cfg.DisableDelays, _ = flags.GetBool("no-delays")
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.Verbose = true
	}
	return cfg, nil
}

func newOpener(cfg *config.Config) browser.Opener {
	if cfg.Backend == "http" {
		return browser.NewCollyOpener(browser.HTTPOptions{Timeout: cfg.NavigationTimeout})
	}
	return browser.NewChromeOpener(browser.ChromeOptions{
		Headless:          cfg.Headless,
		ExecPath:          cfg.ChromePath,
		NavigationTimeout: cfg.NavigationTimeout,
	})
}

func newCatalogWriter(cfg *config.Config) (*pipeline.CatalogWriter, func(), error) {
	opts := []pipeline.WriterOption{pipeline.WithFormat(pipeline.Format(cfg.OutputFormat))}
	closeFn := func() {}

	if cfg.Allocator == "bolt" {
		alloc, err := pipeline.OpenBoltAllocator(cfg.AllocatorDB)
		if err != nil {
			return nil, nil, fmt.Errorf("open sequence allocator: %w", err)
		}
		opts = append(opts, pipeline.WithAllocator(alloc))
		closeFn = func() {
			if err := alloc.Close(); err != nil {
				slog.Error("close sequence allocator", slog.Any("error", err))
			}
		}
	}
	return pipeline.NewCatalogWriter(cfg.OutputDir, opts...), closeFn, nil
}

func startMetricsServer(addr string, metrics *scraper.Metrics) func() {
	if addr == "" || metrics == nil {
		return func() {}
	}

	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func printSummary(w io.Writer, result *models.ScraperResult, path string) {
	separator := "--------------------------------------------------"
	duration := result.EndTime.Sub(result.StartTime)

	fmt.Fprintln(w, "\n"+separator)
	if result.Interrupted {
		fmt.Fprintln(w, "Crawl interrupted")
	} else {
		fmt.Fprintln(w, "Crawl complete")
	}
	fmt.Fprintf(w, "  Final state:   %s\n", result.FinalState)
	fmt.Fprintf(w, "  Pages:         %d\n", result.PageCount)
	fmt.Fprintf(w, "  Items:         %d\n", len(result.Items))
	fmt.Fprintf(w, "  Spec columns:  %d\n", len(result.SpecKeys))
	if len(result.DetailsByOutcome) > 0 {
		fmt.Fprintf(w, "  Details:       %v\n", result.DetailsByOutcome)
	}
	fmt.Fprintf(w, "  Cache hits:    %d\n", result.CacheHits)
	fmt.Fprintf(w, "  Retries:       %d\n", result.RetryCount)
	fmt.Fprintf(w, "  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Fprintf(w, "  Error types:   %v\n", result.ErrorsByType)
	}
	if result.CorrelationMisses > 0 {
		fmt.Fprintf(w, "  Unmatched:     %d\n", result.CorrelationMisses)
	}
	fmt.Fprintf(w, "  Duration:      %v\n", duration.Round(time.Millisecond))
	if path == "" {
		path = "(none, nothing scraped)"
	}
	fmt.Fprintf(w, "  Output file:   %s\n", path)
	fmt.Fprintln(w, separator)
}
