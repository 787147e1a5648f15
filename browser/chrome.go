package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// ChromeOptions configures headless Chrome sessions.
type ChromeOptions struct {
	Headless          bool
	ExecPath          string
	WindowWidth       int
	WindowHeight      int
	NavigationTimeout time.Duration
}

// ChromeOpener starts one Chrome process per session.
type ChromeOpener struct {
	opts ChromeOptions
}

// NewChromeOpener returns an Opener backed by chromedp.
func NewChromeOpener(opts ChromeOptions) *ChromeOpener {
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = 1920, 1080
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 10 * time.Second
	}
	return &ChromeOpener{opts: opts}
}

// Open launches Chrome with identity as its user agent.
func (o *ChromeOpener) Open(ctx context.Context, identity string) (Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.opts.Headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.UserAgent(identity),
		chromedp.WindowSize(o.opts.WindowWidth, o.opts.WindowHeight),
	)
	if o.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(o.opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	// An empty Run starts the browser so launch failures surface here.
	if err := chromedp.Run(tabCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, unavailable(fmt.Errorf("start chrome: %w", err))
	}

	return &chromeSession{
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		timeout:     o.opts.NavigationTimeout,
	}, nil
}

type chromeSession struct {
	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	timeout     time.Duration

	mu     sync.Mutex
	closed bool
}

func (s *chromeSession) Navigate(ctx context.Context, url, readySelector string) (string, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return "", ErrSessionClosed
	}

	navCtx, cancel := context.WithTimeout(s.tabCtx, s.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	actions := []chromedp.Action{chromedp.Navigate(url)}
	if readySelector != "" {
		actions = append(actions, chromedp.WaitReady(readySelector, chromedp.ByQuery))
	}
	var markup string
	actions = append(actions, chromedp.OuterHTML("html", &markup, chromedp.ByQuery))

	if err := chromedp.Run(navCtx, actions...); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return "", navigationError(url, err)
	}
	return markup, nil
}

func (s *chromeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	err := chromedp.Cancel(s.tabCtx)
	s.cancelTab()
	s.cancelAlloc()
	if err != nil {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}
