// Package models defines data structures for the scraper.
package models

import (
	"sort"
	"time"
)

// ListingSummary is one product card taken from a catalog listing page.
type ListingSummary struct {
	Title      string `json:"title"`
	Price      string `json:"price"`
	ImageURL   string `json:"image_url"`
	ProductURL string `json:"product_url"`
}

// SpecificationMap holds the technical specifications of a single product.
// Names are site-defined, so the map keeps insertion order instead of
// binding them to a struct.
type SpecificationMap struct {
	keys   []string
	values map[string]string
}

// NewSpecificationMap returns an empty map ready for use.
func NewSpecificationMap() SpecificationMap {
	return SpecificationMap{values: make(map[string]string)}
}

// Set stores value under name. The first value seen for a name wins.
func (m *SpecificationMap) Set(name, value string) {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	if _, ok := m.values[name]; ok {
		return
	}
	m.keys = append(m.keys, name)
	m.values[name] = value
}

// Get returns the value stored under name.
func (m SpecificationMap) Get(name string) (string, bool) {
	v, ok := m.values[name]
	return v, ok
}

// Keys returns the spec names in insertion order.
func (m SpecificationMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Len reports the number of specs.
func (m SpecificationMap) Len() int {
	return len(m.keys)
}

// AsMap returns a copy of the specs as a plain map.
func (m SpecificationMap) AsMap() map[string]string {
	out := make(map[string]string, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}

// OutcomeKind tells apart the ways a detail fetch can end.
type OutcomeKind int

const (
	// OutcomeSuccess means the detail page produced at least one spec.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeEmpty means the page loaded but carried no specs.
	OutcomeEmpty
	// OutcomeFailure means the page could not be fetched or parsed.
	OutcomeFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailure:
		return "failure"
	default:
		return "unknown"
	}
}

// FetchOutcome is the result of fetching one product detail page.
type FetchOutcome struct {
	Kind  OutcomeKind
	Specs SpecificationMap
	Err   error
}

// Success wraps a non-empty spec map.
func Success(specs SpecificationMap) FetchOutcome {
	if specs.Len() == 0 {
		return Empty()
	}
	return FetchOutcome{Kind: OutcomeSuccess, Specs: specs}
}

// Empty reports a page without specs.
func Empty() FetchOutcome {
	return FetchOutcome{Kind: OutcomeEmpty, Specs: NewSpecificationMap()}
}

// Failure reports a fetch that did not complete.
func Failure(err error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeFailure, Specs: NewSpecificationMap(), Err: err}
}

// EnrichedItem is a listing joined with its specifications by product URL.
type EnrichedItem struct {
	Listing ListingSummary
	Specs   SpecificationMap
	Outcome OutcomeKind
}

// KeySet accumulates every spec name seen during a crawl.
type KeySet map[string]struct{}

// Add records all keys of specs.
func (s KeySet) Add(specs SpecificationMap) {
	for _, k := range specs.keys {
		s[k] = struct{}{}
	}
}

// Sorted returns the keys in lexical order.
func (s KeySet) Sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// CrawlState is the pagination cursor and accumulator of a crawl.
type CrawlState struct {
	CurrentPage int
	CurrentURL  string
	Items       []EnrichedItem
	SpecKeys    KeySet
}

// ScraperResult holds the overall result of a crawl.
type ScraperResult struct {
	Items             []EnrichedItem
	SpecKeys          KeySet
	StartTime         time.Time
	EndTime           time.Time
	PageCount         int
	FinalState        string
	Interrupted       bool
	DetailsByOutcome  map[string]int
	CorrelationMisses int
	CacheHits         int
	RetryCount        int
	ErrorsByType      map[string]int
	FailedURLs        []string
}
