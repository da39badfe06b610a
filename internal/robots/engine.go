package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

const maxRobotsBytes = 512 * 1024

// Config controls how robots.txt files are fetched.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Transport overrides the HTTP transport; nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// Engine fetches robots.txt once per origin and answers permission queries
// from the cached policy. An Engine is scoped to one job execution.
type Engine struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger

	mu    sync.Mutex
	cache map[string]*Policy
}

// NewEngine constructs an Engine.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Engine{
		client: &http.Client{
			Timeout:   timeout,
			Transport: newRetryTransport(cfg.Transport),
		},
		userAgent: cfg.UserAgent,
		logger:    logger,
		cache:     make(map[string]*Policy),
	}
}

// FetchAndParse returns the policy for origin, fetching {origin}/robots.txt on
// first use. A missing file, a non-200 status, or any network failure yields
// an empty policy that allows everything.
func (e *Engine) FetchAndParse(ctx context.Context, origin string) *Policy {
	e.mu.Lock()
	if policy, ok := e.cache[origin]; ok {
		e.mu.Unlock()
		return policy
	}
	e.mu.Unlock()

	policy, err := e.fetch(ctx, origin)
	if err != nil {
		e.logger.Debug("robots unavailable, allowing all", zap.String("origin", origin), zap.Error(err))
		policy = &Policy{}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if cached, ok := e.cache[origin]; ok {
		return cached
	}
	e.cache[origin] = policy
	return policy
}

func (e *Engine) fetch(ctx context.Context, origin string) (*Policy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Debug("robots body close failed", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("robots status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots: %w", err)
	}
	return Parse(string(body), e.userAgent), nil
}

// IsAllowed reports whether rawURL may be fetched under its origin's policy.
// URLs that cannot be parsed are allowed and left to the fetcher to reject.
func (e *Engine) IsAllowed(ctx context.Context, rawURL string) bool {
	origin, err := crawler.Origin(rawURL)
	if err != nil {
		return true
	}
	return e.FetchAndParse(ctx, origin).Allowed(rawURL)
}

// CrawlDelay returns the crawl-delay declared for rawURL's origin, if any.
func (e *Engine) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	origin, err := crawler.Origin(rawURL)
	if err != nil {
		return 0
	}
	return e.FetchAndParse(ctx, origin).CrawlDelay
}

// Sitemaps returns the sitemap URLs advertised by origin's robots.txt.
func (e *Engine) Sitemaps(ctx context.Context, origin string) []string {
	return e.FetchAndParse(ctx, origin).Sitemaps
}
