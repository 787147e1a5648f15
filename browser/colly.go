package browser

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
)

// HTTPOptions configures the static HTTP backend.
type HTTPOptions struct {
	Timeout   time.Duration
	Transport http.RoundTripper
}

// CollyOpener fetches pages over plain HTTP without running scripts. It is
// the lightweight backend for catalogs that render server side.
type CollyOpener struct {
	opts HTTPOptions
}

// NewCollyOpener returns an Opener backed by a colly collector per session.
func NewCollyOpener(opts HTTPOptions) *CollyOpener {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &CollyOpener{opts: opts}
}

// Open builds a collector presenting identity as its user agent.
func (o *CollyOpener) Open(ctx context.Context, identity string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable(err)
	}
	if identity == "" {
		return nil, unavailable(fmt.Errorf("empty client identity"))
	}

	collector := colly.NewCollector(
		colly.UserAgent(identity),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(o.opts.Timeout)
	collector.IgnoreRobotsTxt = true

	transport := o.opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   o.opts.Timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		}
	}
	collector.WithTransport(transport)

	return &collySession{collector: collector}, nil
}

type collySession struct {
	collector *colly.Collector

	mu     sync.Mutex
	closed bool
}

func (s *collySession) Navigate(ctx context.Context, url, readySelector string) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrSessionClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// A clone shares configuration but not callbacks, so every navigation
	// gets its own capture state.
	c := s.collector.Clone()

	var (
		markup string
		ready  = readySelector == ""
	)
	c.OnResponse(func(r *colly.Response) {
		markup = string(r.Body)
	})
	if readySelector != "" {
		c.OnHTML(readySelector, func(*colly.HTMLElement) {
			ready = true
		})
	}

	if err := c.Visit(url); err != nil {
		return "", navigationError(url, err)
	}
	if !ready {
		return "", fmt.Errorf("navigate %s: %w: selector %q not found", url, ErrNavigationTimeout, readySelector)
	}
	return markup, nil
}

func (s *collySession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
