// Package discovery produces the bounded list of URLs a crawl job visits,
// either by reading sitemaps or by following links breadth-first.
package discovery

import (
	"context"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/discovery/filter"
)

// Skip reasons reported through SkipFunc.
const (
	SkipReasonRobots = "robots"
	SkipReasonDomain = "domain"
)

// Strategy yields discovered URLs for one seed. A Strategy is single use:
// a second Discover call yields nothing.
type Strategy interface {
	Discover(ctx context.Context, seed string) iter.Seq[crawler.DiscoveredURL]
}

// RobotsChecker answers robots.txt questions; *robots.Engine implements it.
type RobotsChecker interface {
	IsAllowed(ctx context.Context, rawURL string) bool
	CrawlDelay(ctx context.Context, rawURL string) time.Duration
	Sitemaps(ctx context.Context, origin string) []string
}

// HostLimiter paces requests per host; *ratelimit.Limiter implements it.
type HostLimiter interface {
	Wait(ctx context.Context, rawURL string) error
	SetHostDelay(rawURL string, delay time.Duration)
}

// SkipFunc is told about every URL dropped by robots or domain filtering.
type SkipFunc func(rawURL, reason string)

// Options bounds a discovery run.
type Options struct {
	MaxPages       int
	MaxDepth       int
	SameDomainOnly bool
	BlockedDomains []string
}

// Deps are the collaborators shared by both strategies.
type Deps struct {
	Fetcher crawler.Fetcher
	Robots  RobotsChecker
	Limiter HostLimiter
	OnSkip  SkipFunc
	Logger  *zap.Logger
}

// New returns the strategy registered for sourceType.
func New(sourceType crawler.SourceType, opts Options, deps Deps) (Strategy, error) {
	if deps.Fetcher == nil {
		return nil, fmt.Errorf("discovery requires a fetcher")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if opts.MaxPages <= 0 {
		return nil, fmt.Errorf("max_pages must be positive, got %d", opts.MaxPages)
	}
	switch sourceType {
	case crawler.SourceSitemap:
		return &SitemapStrategy{opts: opts, deps: deps}, nil
	case crawler.SourceURL:
		return &LinkStrategy{opts: opts, deps: deps}, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", sourceType)
	}
}

// base carries the filtering shared by both strategies.
type base struct {
	used atomic.Bool
}

func (b *base) claim(logger *zap.Logger) bool {
	if b.used.Swap(true) {
		logger.Warn("discovery strategy reused; create a new one per run")
		return false
	}
	return true
}

// admit applies robots then domain filtering, reporting skips.
func admit(ctx context.Context, deps Deps, domain *filter.Domain, rawURL string) bool {
	if !domain.Allow(rawURL) {
		skip(deps, rawURL, SkipReasonDomain)
		return false
	}
	if deps.Robots != nil && !deps.Robots.IsAllowed(ctx, rawURL) {
		skip(deps, rawURL, SkipReasonRobots)
		return false
	}
	return true
}

func skip(deps Deps, rawURL, reason string) {
	deps.Logger.Debug("url skipped", zap.String("url", rawURL), zap.String("reason", reason))
	if deps.OnSkip != nil {
		deps.OnSkip(rawURL, reason)
	}
}

// fetch performs a politeness-limited GET.
func fetch(ctx context.Context, deps Deps, rawURL string) (crawler.FetchResponse, error) {
	if deps.Limiter != nil {
		if deps.Robots != nil {
			deps.Limiter.SetHostDelay(rawURL, deps.Robots.CrawlDelay(ctx, rawURL))
		}
		if err := deps.Limiter.Wait(ctx, rawURL); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
	resp, err := deps.Fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL})
	if err != nil {
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	return resp, nil
}
