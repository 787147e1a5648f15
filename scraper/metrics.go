package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the crawler.
type Metrics struct {
	Registry            *prometheus.Registry
	ListingPagesTotal   prometheus.Counter
	DetailFetchesTotal  *prometheus.CounterVec
	DetailFetchDuration prometheus.Histogram
	ItemsTotal          prometheus.Counter
	RetriesTotal        prometheus.Counter
	CacheHitsTotal      prometheus.Counter
	ErrorsTotal         *prometheus.CounterVec
	SessionsOpen        prometheus.Gauge
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	listingPages := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_listing_pages_total",
			Help: "Total listing pages requested by the crawler.",
		},
	)
	detailFetches := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_detail_fetches_total",
			Help: "Total detail page fetches by outcome.",
		},
		[]string{"outcome"},
	)
	detailDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "catalog_detail_fetch_duration_seconds",
			Help:    "Wall time of a detail fetch including delays and retries.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120},
		},
	)
	items := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_items_total",
			Help: "Total enriched items accumulated.",
		},
	)
	retries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_retries_total",
			Help: "Total number of detail fetch retries scheduled.",
		},
	)
	cacheHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "catalog_spec_cache_hits_total",
			Help: "Detail fetches answered from the spec cache.",
		},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_errors_total",
			Help: "Total number of crawler errors by type.",
		},
		[]string{"error_type"},
	)
	sessionsOpen := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_sessions_open",
			Help: "Browser sessions currently open.",
		},
	)

	registry.MustRegister(listingPages, detailFetches, detailDuration, items, retries, cacheHits, errorsTotal, sessionsOpen)

	return &Metrics{
		Registry:            registry,
		ListingPagesTotal:   listingPages,
		DetailFetchesTotal:  detailFetches,
		DetailFetchDuration: detailDuration,
		ItemsTotal:          items,
		RetriesTotal:        retries,
		CacheHitsTotal:      cacheHits,
		ErrorsTotal:         errorsTotal,
		SessionsOpen:        sessionsOpen,
	}
}

// IncListingPage increments the listing page counter.
func (m *Metrics) IncListingPage() {
	if m == nil {
		return
	}
	m.ListingPagesTotal.Inc()
}

// ObserveDetail records one finished detail fetch.
func (m *Metrics) ObserveDetail(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.DetailFetchesTotal.WithLabelValues(outcome).Inc()
	m.DetailFetchDuration.Observe(d.Seconds())
}

// AddItems adds n items to the accumulated counter.
func (m *Metrics) AddItems(n int) {
	if m == nil {
		return
	}
	m.ItemsTotal.Add(float64(n))
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.RetriesTotal.Inc()
}

// IncCacheHit increments the spec cache hit counter.
func (m *Metrics) IncCacheHit() {
	if m == nil {
		return
	}
	m.CacheHitsTotal.Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}

// SessionOpened tracks a newly opened browser session.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.SessionsOpen.Inc()
}

// SessionClosed tracks a released browser session.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.SessionsOpen.Dec()
}
