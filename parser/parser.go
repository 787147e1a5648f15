// Package parser extracts listing summaries and product specifications from
// rendered catalog markup. Parsing never fails hard: markup that does not
// match the selectors yields empty results.
package parser

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// Placeholders written when a listing card lacks a field.
const (
	MissingTitle = "No title"
	MissingPrice = "No price"
	MissingImage = "No image"
)

// ListingPage is what a listing page yields.
type ListingPage struct {
	Summaries []models.ListingSummary
	// NextURL is empty on the last page.
	NextURL string
	// Skipped counts cards without a usable product link.
	Skipped int
	// Duplicates counts cards repeating a product URL already on the page.
	Duplicates int
}

// Parser applies a selector profile to markup.
type Parser struct {
	sel Selectors
}

// New returns a parser for sel.
func New(sel Selectors) *Parser {
	return &Parser{sel: sel}
}

// Selectors returns the profile in use.
func (p *Parser) Selectors() Selectors {
	return p.sel
}

// ParseListing extracts product cards and the next page link. Relative
// links are resolved against pageURL.
func (p *Parser) ParseListing(markup, pageURL string) ListingPage {
	var page ListingPage

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return page
	}

	seen := make(map[string]struct{})
	doc.Find(p.sel.ListingItem).Each(func(_ int, card *goquery.Selection) {
		href, ok := card.Find(p.sel.ItemLink).First().Attr("href")
		productURL := resolveURL(strings.TrimSpace(href), pageURL)
		if !ok || productURL == "" {
			page.Skipped++
			return
		}
		if _, dup := seen[productURL]; dup {
			page.Duplicates++
			return
		}
		seen[productURL] = struct{}{}

		summary := models.ListingSummary{
			Title:      firstNonEmpty(NormalizeText(card.Find(p.sel.ItemTitle).First().Text()), MissingTitle),
			Price:      firstNonEmpty(NormalizeText(card.Find(p.sel.ItemPrice).First().Text()), MissingPrice),
			ImageURL:   MissingImage,
			ProductURL: productURL,
		}
		if img := card.Find(p.sel.ItemImage).First(); img.Length() > 0 {
			src, _ := img.Attr("src")
			summary.ImageURL = firstNonEmpty(resolveURL(strings.TrimSpace(src), pageURL), MissingImage)
		}
		page.Summaries = append(page.Summaries, summary)
	})

	if p.sel.NextPage != "" {
		if href, ok := doc.Find(p.sel.NextPage).First().Attr("href"); ok {
			page.NextURL = resolveURL(strings.TrimSpace(href), pageURL)
		}
	}
	return page
}

// ParseDetail extracts name/value rows from every spec table. Rows must have
// exactly two cells; the first occurrence of a name wins.
func (p *Parser) ParseDetail(markup string) models.SpecificationMap {
	specs := models.NewSpecificationMap()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return specs
	}

	doc.Find(p.sel.SpecTable).Each(func(_ int, table *goquery.Selection) {
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.ChildrenFiltered("th, td")
			if cells.Length() != 2 {
				return
			}
			name := NormalizeText(cells.Eq(0).Text())
			if name == "" {
				return
			}
			specs.Set(name, NormalizeText(cells.Eq(1).Text()))
		})
	})
	return specs
}

// ValidateListing ensures a summary can be correlated with its detail page.
func ValidateListing(s models.ListingSummary) error {
	if strings.TrimSpace(s.ProductURL) == "" {
		return fmt.Errorf("listing %q missing product url", s.Title)
	}
	u, err := url.Parse(s.ProductURL)
	if err != nil {
		return fmt.Errorf("listing %q has invalid product url: %w", s.Title, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return fmt.Errorf("listing %q product url %q is not an absolute http url", s.Title, s.ProductURL)
	}
	return nil
}

// NormalizeText trims the text and collapses inner whitespace.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func resolveURL(href, base string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil || !baseURL.IsAbs() {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
