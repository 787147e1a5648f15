package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/stealth"
)

// Config holds scraper configuration.
type Config struct {
	Category string `mapstructure:"category"`
	StartURL string `mapstructure:"start_url"`
	MaxPages int    `mapstructure:"max_pages"`
	Workers  int    `mapstructure:"workers"`

	Backend           string        `mapstructure:"backend"` // chrome or http
	Headless          bool          `mapstructure:"headless"`
	ChromePath        string        `mapstructure:"chrome_path"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	DetailTimeout     time.Duration `mapstructure:"detail_timeout"`

	MaxRetries      int           `mapstructure:"max_retries"`
	RetryBackoff    time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax time.Duration `mapstructure:"retry_backoff_max"`

	UserAgents      []string      `mapstructure:"user_agents"`
	DisableDelays   bool          `mapstructure:"disable_delays"`
	ListingDelayMin time.Duration `mapstructure:"listing_delay_min"`
	ListingDelayMax time.Duration `mapstructure:"listing_delay_max"`
	DetailDelayMin  time.Duration `mapstructure:"detail_delay_min"`
	DetailDelayMax  time.Duration `mapstructure:"detail_delay_max"`
	PageDelayMin    time.Duration `mapstructure:"page_delay_min"`
	PageDelayMax    time.Duration `mapstructure:"page_delay_max"`

	SelectorsFile string `mapstructure:"selectors_file"`
	SpecCacheSize int    `mapstructure:"spec_cache_size"`

	OutputDir    string `mapstructure:"output_dir"`
	OutputFormat string `mapstructure:"output_format"` // csv, json, or dual
	Allocator    string `mapstructure:"allocator"`     // scan or bolt
	AllocatorDB  string `mapstructure:"allocator_db"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	Verbose     bool   `mapstructure:"verbose"`
}

// DefaultConfig returns conservative defaults for the reference catalog.
func DefaultConfig() *Config {
	return &Config{
		Category: "laptops",
		StartURL: "https://www.ubuy.ma/en/category/laptops-21457",
		MaxPages: 3,
		Workers:  5,

		Backend:           "chrome",
		Headless:          true,
		NavigationTimeout: 10 * time.Second,
		DetailTimeout:     45 * time.Second,

		MaxRetries:      0,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 5 * time.Second,

		UserAgents:      append([]string(nil), stealth.DefaultIdentities...),
		ListingDelayMin: 3 * time.Second,
		ListingDelayMax: 6 * time.Second,
		DetailDelayMin:  2 * time.Second,
		DetailDelayMax:  5 * time.Second,
		PageDelayMin:    3 * time.Second,
		PageDelayMax:    7 * time.Second,

		SpecCacheSize: 1024,

		OutputDir:    "data/raw/ubuy",
		OutputFormat: "csv",
		Allocator:    "scan",
		AllocatorDB:  "data/snapshots.db",
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Category) == "" {
		return fmt.Errorf("category cannot be empty")
	}
	if strings.ContainsAny(c.Category, `/\`) {
		return fmt.Errorf("category %q cannot contain path separators", c.Category)
	}
	if c.StartURL == "" {
		return fmt.Errorf("start URL cannot be empty")
	}
	parsedURL, err := url.Parse(c.StartURL)
	if err != nil {
		return fmt.Errorf("invalid start URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("start URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Backend != "chrome" && c.Backend != "http" {
		return fmt.Errorf("backend must be chrome or http")
	}
	if c.NavigationTimeout <= 0 {
		return fmt.Errorf("navigation timeout must be positive")
	}
	if c.DetailTimeout <= 0 {
		return fmt.Errorf("detail timeout must be positive")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}

	if !c.DisableDelays {
		if _, err := c.Policy(); err != nil {
			return err
		}
		if c.DetailTimeout <= c.DetailDelayMax {
			return fmt.Errorf("detail timeout (%s) must exceed detail delay max (%s)", c.DetailTimeout, c.DetailDelayMax)
		}
	}

	if c.SpecCacheSize < 0 {
		return fmt.Errorf("spec cache size cannot be negative")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output dir cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.Allocator != "scan" && c.Allocator != "bolt" {
		return fmt.Errorf("allocator must be scan or bolt")
	}
	if c.Allocator == "bolt" && c.AllocatorDB == "" {
		return fmt.Errorf("bolt allocator requires allocator db path")
	}

	return nil
}

// Policy builds the anti-detection policy described by the config.
func (c *Config) Policy(opts ...stealth.Option) (*stealth.Policy, error) {
	if c.DisableDelays {
		return stealth.Disabled(opts...), nil
	}
	policy, err := stealth.NewPolicy(c.UserAgents,
		stealth.Range{Min: c.ListingDelayMin, Max: c.ListingDelayMax},
		stealth.Range{Min: c.DetailDelayMin, Max: c.DetailDelayMax},
		stealth.Range{Min: c.PageDelayMin, Max: c.PageDelayMax},
		opts...,
	)
	if err != nil {
		return nil, fmt.Errorf("anti-detection policy: %w", err)
	}
	return policy, nil
}
