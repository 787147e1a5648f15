package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. CATALOG_MAX_PAGES.
const EnvPrefix = "CATALOG"

// Load layers defaults, an optional config file and environment variables.
// A .env file in the working directory is read first when present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("category", d.Category)
	v.SetDefault("start_url", d.StartURL)
	v.SetDefault("max_pages", d.MaxPages)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("backend", d.Backend)
	v.SetDefault("headless", d.Headless)
	v.SetDefault("chrome_path", d.ChromePath)
	v.SetDefault("navigation_timeout", d.NavigationTimeout)
	v.SetDefault("detail_timeout", d.DetailTimeout)
	v.SetDefault("max_retries", d.MaxRetries)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("retry_backoff_max", d.RetryBackoffMax)
	v.SetDefault("user_agents", d.UserAgents)
	v.SetDefault("disable_delays", d.DisableDelays)
	v.SetDefault("listing_delay_min", d.ListingDelayMin)
	v.SetDefault("listing_delay_max", d.ListingDelayMax)
	v.SetDefault("detail_delay_min", d.DetailDelayMin)
	v.SetDefault("detail_delay_max", d.DetailDelayMax)
	v.SetDefault("page_delay_min", d.PageDelayMin)
	v.SetDefault("page_delay_max", d.PageDelayMax)
	v.SetDefault("selectors_file", d.SelectorsFile)
	v.SetDefault("spec_cache_size", d.SpecCacheSize)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("output_format", d.OutputFormat)
	v.SetDefault("allocator", d.Allocator)
	v.SetDefault("allocator_db", d.AllocatorDB)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("verbose", d.Verbose)
}
