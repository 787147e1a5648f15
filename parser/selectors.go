package parser

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrSelectorsNotFound is returned when a selector profile file does not exist.
var ErrSelectorsNotFound = errors.New("selector profile not found")

// Selectors describe where a catalog keeps each field. They are site
// specific, so they load from a YAML profile rather than living in code.
type Selectors struct {
	// ListingReady must match before a listing page counts as loaded.
	ListingReady string `yaml:"listing_ready"`
	// ListingItem matches one product card.
	ListingItem string `yaml:"listing_item"`
	ItemLink    string `yaml:"item_link"`
	ItemTitle   string `yaml:"item_title"`
	ItemPrice   string `yaml:"item_price"`
	ItemImage   string `yaml:"item_image"`
	NextPage    string `yaml:"next_page"`

	// DetailReady must match before a detail page counts as loaded.
	DetailReady string `yaml:"detail_ready"`
	// SpecTable matches tables holding name/value rows.
	SpecTable string `yaml:"spec_table"`
}

// DefaultSelectors match the reference catalog layout.
func DefaultSelectors() Selectors {
	return Selectors{
		ListingReady: "div.product-card",
		ListingItem:  "div.product-card",
		ItemLink:     "a.product-img",
		ItemTitle:    "h3.product-title",
		ItemPrice:    "p.product-price",
		ItemImage:    "img",
		NextPage:     "a.next-page",
		DetailReady:  "div#additional-info table, div#technical-info table",
		SpecTable:    "div#additional-info table, div#technical-info table",
	}
}

// Validate ensures the selectors needed for correlation are present.
func (s Selectors) Validate() error {
	required := map[string]string{
		"listing_ready": s.ListingReady,
		"listing_item":  s.ListingItem,
		"item_link":     s.ItemLink,
		"spec_table":    s.SpecTable,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("selector %s cannot be empty", name)
		}
	}
	return nil
}

// LoadSelectors reads a YAML profile. Fields missing from the file keep
// their default value.
func LoadSelectors(path string) (Selectors, error) {
	sel := DefaultSelectors()

	data, err := os.ReadFile(path) //nolint:gosec // profile path comes from the operator
	if err != nil {
		if os.IsNotExist(err) {
			return sel, ErrSelectorsNotFound
		}
		return sel, fmt.Errorf("read selector profile: %w", err)
	}
	if err := yaml.Unmarshal(data, &sel); err != nil {
		return sel, fmt.Errorf("parse selector profile: %w", err)
	}
	if err := sel.Validate(); err != nil {
		return sel, err
	}
	return sel, nil
}
