// Package stealth holds the anti-detection policy shared by session
// creation and the crawler: which client identity a browser presents and
// how long to pause after each navigation.
package stealth

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// DefaultIdentities are realistic desktop browser user agents.
var DefaultIdentities = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36",
}

// Range is an inclusive bounded uniform delay distribution.
type Range struct {
	Min time.Duration
	Max time.Duration
}

// Validate rejects empty or inverted ranges.
func (r Range) Validate() error {
	if r.Min <= 0 {
		return fmt.Errorf("minimum delay must be positive, got %s", r.Min)
	}
	if r.Max < r.Min {
		return fmt.Errorf("maximum delay %s is below minimum %s", r.Max, r.Min)
	}
	return nil
}

func (r Range) String() string {
	return fmt.Sprintf("%s-%s", r.Min, r.Max)
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy draws identities and delays. It is safe for concurrent use.
type Policy struct {
	identities []string
	listing    Range
	detail     Range
	page       Range
	enabled    bool

	mu    sync.Mutex
	rnd   *rand.Rand
	sleep Sleeper
}

// Option configures a Policy.
type Option func(*Policy)

// WithRand replaces the randomness source.
func WithRand(r *rand.Rand) Option {
	return func(p *Policy) {
		p.rnd = r
	}
}

// WithSleeper replaces the function used to wait out delays.
func WithSleeper(s Sleeper) Option {
	return func(p *Policy) {
		p.sleep = s
	}
}

// NewPolicy builds an enabled policy. An empty identity pool falls back to
// DefaultIdentities.
func NewPolicy(identities []string, listing, detail, page Range, opts ...Option) (*Policy, error) {
	for name, r := range map[string]Range{"listing": listing, "detail": detail, "page": page} {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%s delay: %w", name, err)
		}
	}
	p := newPolicy(identities, opts...)
	p.listing, p.detail, p.page = listing, detail, page
	p.enabled = true
	return p, nil
}

// Disabled returns a policy that still rotates identities but never waits.
func Disabled(opts ...Option) *Policy {
	return newPolicy(nil, opts...)
}

func newPolicy(identities []string, opts ...Option) *Policy {
	if len(identities) == 0 {
		identities = DefaultIdentities
	}
	pool := make([]string, len(identities))
	copy(pool, identities)

	p := &Policy{
		identities: pool,
		rnd:        rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Enabled reports whether delays are applied.
func (p *Policy) Enabled() bool {
	return p.enabled
}

// Identity picks a client identity uniformly at random.
func (p *Policy) Identity() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.identities[p.rnd.IntN(len(p.identities))]
}

// ListingPause waits after a listing page navigation.
func (p *Policy) ListingPause(ctx context.Context) error {
	return p.pause(ctx, p.listing)
}

// DetailPause waits after a detail page navigation.
func (p *Policy) DetailPause(ctx context.Context) error {
	return p.pause(ctx, p.detail)
}

// PagePause waits between two listing pages.
func (p *Policy) PagePause(ctx context.Context) error {
	return p.pause(ctx, p.page)
}

// Draw returns a delay from r, or zero when the policy is disabled.
func (p *Policy) Draw(r Range) time.Duration {
	if !p.enabled {
		return 0
	}
	if r.Max <= r.Min {
		return r.Min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return r.Min + time.Duration(p.rnd.Int64N(int64(r.Max-r.Min)+1))
}

func (p *Policy) pause(ctx context.Context, r Range) error {
	d := p.Draw(r)
	if d <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
