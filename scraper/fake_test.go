package scraper

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/browser"
)

const testBase = "https://shop.test"

type fakePage struct {
	markup string
	err    error
	// failures is how many navigations return err before markup is served.
	failures int
	delay    time.Duration
	panics   bool
}

// fakeBrowser serves canned markup per URL and tracks session lifecycles.
// URLs without a page behave like a page whose ready marker never shows.
type fakeBrowser struct {
	mu          sync.Mutex
	pages       map[string]*fakePage
	navigations map[string]int
	sessions    []*fakeSession
	// events records "start <url>" and "end <url>" per navigation, in order.
	events []string
	active int
	peak   int

	// openLimit makes every open past this count fail. Negative means never.
	openLimit int
	opened    atomic.Int64
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		pages:       make(map[string]*fakePage),
		navigations: make(map[string]int),
		openLimit:   -1,
	}
}

func (fb *fakeBrowser) serve(url string, page fakePage) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.pages[url] = &page
}

func (fb *fakeBrowser) Open(ctx context.Context, identity string) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", browser.ErrSessionUnavailable, err)
	}
	n := fb.opened.Add(1)
	if fb.openLimit >= 0 && n > int64(fb.openLimit) {
		return nil, fmt.Errorf("%w: backend gone", browser.ErrSessionUnavailable)
	}
	s := &fakeSession{fb: fb, identity: identity}
	fb.mu.Lock()
	fb.sessions = append(fb.sessions, s)
	fb.mu.Unlock()
	return s, nil
}

func (fb *fakeBrowser) navigationsOf(url string) int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.navigations[url]
}

func (fb *fakeBrowser) listingNavigations() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	total := 0
	for url, n := range fb.navigations {
		if strings.Contains(url, "/list") {
			total += n
		}
	}
	return total
}

// peakNavigations reports the most navigations that were in flight at once.
func (fb *fakeBrowser) peakNavigations() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.peak
}

func (fb *fakeBrowser) eventLog() []string {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]string(nil), fb.events...)
}

// unbalancedSessions lists sessions not closed exactly once.
func (fb *fakeBrowser) unbalancedSessions() []int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var bad []int
	for i, s := range fb.sessions {
		if s.closes.Load() != 1 {
			bad = append(bad, i)
		}
	}
	return bad
}

type fakeSession struct {
	fb       *fakeBrowser
	identity string
	closes   atomic.Int64
}

func (s *fakeSession) Navigate(ctx context.Context, url, _ string) (string, error) {
	if s.closes.Load() > 0 {
		return "", browser.ErrSessionClosed
	}

	s.fb.mu.Lock()
	s.fb.navigations[url]++
	s.fb.events = append(s.fb.events, "start "+url)
	s.fb.active++
	if s.fb.active > s.fb.peak {
		s.fb.peak = s.fb.active
	}
	defer func() {
		s.fb.mu.Lock()
		s.fb.active--
		s.fb.events = append(s.fb.events, "end "+url)
		s.fb.mu.Unlock()
	}()
	page, ok := s.fb.pages[url]
	var (
		failing bool
		p       fakePage
	)
	if ok {
		p = *page
		if page.failures > 0 {
			page.failures--
			failing = true
		}
	}
	s.fb.mu.Unlock()

	if !ok {
		return "", fmt.Errorf("navigate %s: %w", url, browser.ErrNavigationTimeout)
	}
	if p.panics {
		panic("renderer crashed")
	}
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("navigate %s: %w: %w", url, browser.ErrNavigationTimeout, ctx.Err())
		case <-time.After(p.delay):
		}
	}
	if failing {
		return "", p.err
	}
	if p.markup == "" && p.err != nil {
		return "", p.err
	}
	return p.markup, nil
}

func (s *fakeSession) Close() error {
	s.closes.Add(1)
	return nil
}

type product struct {
	slug  string
	specs [][2]string
}

func productURL(slug string) string {
	return testBase + "/en/product/" + slug
}

func listingURL(page int) string {
	return fmt.Sprintf("%s/list?page=%d", testBase, page)
}

func listingMarkup(products []product, next string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, p := range products {
		fmt.Fprintf(&b, `<div class="product-card"><a class="product-img" href="/en/product/%s"><img src="/img/%s.jpg"></a>`, p.slug, p.slug)
		fmt.Fprintf(&b, `<h3 class="product-title">%s</h3><p class="product-price">MAD 100</p></div>`, strings.ToUpper(p.slug))
	}
	if next != "" {
		fmt.Fprintf(&b, `<a class="next-page" href="%s">Next</a>`, next)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func detailMarkup(specs [][2]string) string {
	var b strings.Builder
	b.WriteString(`<html><body><div id="technical-info"><table>`)
	for _, kv := range specs {
		fmt.Fprintf(&b, "<tr><td>%s</td><td>%s</td></tr>", kv[0], kv[1])
	}
	b.WriteString("</table></div></body></html>")
	return b.String()
}

// serveCatalog registers listing pages and the detail page of every product.
func (fb *fakeBrowser) serveCatalog(pages [][]product) {
	for i, products := range pages {
		next := ""
		if i+1 < len(pages) {
			next = fmt.Sprintf("/list?page=%d", i+2)
		}
		fb.serve(listingURL(i+1), fakePage{markup: listingMarkup(products, next)})
		for _, p := range products {
			fb.serve(productURL(p.slug), fakePage{markup: detailMarkup(p.specs)})
		}
	}
}
