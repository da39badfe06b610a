package discovery

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"iter"
	"net/url"
	"strings"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/discovery/filter"
)

const (
	maxSitemapDepth    = 10
	maxSitemapBodySize = 50 << 20
)

// SitemapStrategy reads sitemap indexes and urlsets recursively.
type SitemapStrategy struct {
	base
	opts Options
	deps Deps
}

type sitemapWalk struct {
	ctx      context.Context
	deps     Deps
	domain   *filter.Domain
	maxPages int
	visited  map[string]struct{}
	seen     map[string]struct{}
	yielded  int
	stopped  bool
	yield    func(crawler.DiscoveredURL) bool
}

// Discover yields the page URLs listed by the sitemap at seed. When seed is
// not an XML document, sitemaps are located through robots.txt and then
// {origin}/sitemap.xml.
func (s *SitemapStrategy) Discover(ctx context.Context, seed string) iter.Seq[crawler.DiscoveredURL] {
	return func(yield func(crawler.DiscoveredURL) bool) {
		if !s.claim(s.deps.Logger) {
			return
		}
		walk := &sitemapWalk{
			ctx:      ctx,
			deps:     s.deps,
			domain:   filter.NewDomain(seed, s.opts.SameDomainOnly, s.opts.BlockedDomains),
			maxPages: s.opts.MaxPages,
			visited:  make(map[string]struct{}),
			seen:     make(map[string]struct{}),
			yield:    yield,
		}
		for _, sitemapURL := range s.locate(ctx, seed) {
			walk.visit(sitemapURL, 0)
			if walk.stopped {
				return
			}
		}
	}
}

func (s *SitemapStrategy) locate(ctx context.Context, seed string) []string {
	if looksLikeSitemap(seed) {
		return []string{seed}
	}
	origin, err := crawler.Origin(seed)
	if err != nil {
		s.deps.Logger.Warn("invalid sitemap seed", zap.String("seed", seed), zap.Error(err))
		return nil
	}
	if s.deps.Robots != nil {
		if sitemaps := s.deps.Robots.Sitemaps(ctx, origin); len(sitemaps) > 0 {
			return sitemaps
		}
	}
	return []string{origin + "/sitemap.xml"}
}

func looksLikeSitemap(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	path := strings.ToLower(u.Path)
	return strings.HasSuffix(path, ".xml") || strings.HasSuffix(path, ".xml.gz") || strings.HasSuffix(path, ".gz")
}

func (w *sitemapWalk) visit(sitemapURL string, depth int) {
	if w.stopped || w.ctx.Err() != nil {
		w.stopped = true
		return
	}
	if depth > maxSitemapDepth {
		w.deps.Logger.Warn("sitemap depth limit reached", zap.String("sitemap", sitemapURL))
		return
	}
	if _, ok := w.visited[sitemapURL]; ok {
		return
	}
	w.visited[sitemapURL] = struct{}{}

	doc, err := w.load(sitemapURL)
	if err != nil {
		w.deps.Logger.Warn("sitemap unavailable", zap.String("sitemap", sitemapURL), zap.Error(err))
		return
	}

	children, pages := parseSitemap(doc)
	for _, child := range children {
		w.visit(child, depth+1)
		if w.stopped {
			return
		}
	}
	for _, page := range pages {
		if w.yielded >= w.maxPages {
			w.stopped = true
			return
		}
		if _, dup := w.seen[page]; dup {
			continue
		}
		w.seen[page] = struct{}{}
		if !admit(w.ctx, w.deps, w.domain, page) {
			continue
		}
		w.yielded++
		if !w.yield(crawler.DiscoveredURL{URL: page, Depth: depth, Source: crawler.DiscoveredBySitemap}) {
			w.stopped = true
			return
		}
	}
	if w.yielded >= w.maxPages {
		w.stopped = true
	}
}

func (w *sitemapWalk) load(sitemapURL string) (*xmlquery.Node, error) {
	resp, err := fetch(w.ctx, w.deps, sitemapURL)
	if err != nil {
		return nil, err
	}
	body := resp.Body
	if len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		body, err = gunzip(body)
		if err != nil {
			return nil, err
		}
	}
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap xml: %w", err)
	}
	return doc, nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip sitemap: %w", err)
	}
	defer func() { _ = zr.Close() }()
	out, err := io.ReadAll(io.LimitReader(zr, maxSitemapBodySize))
	if err != nil {
		return nil, fmt.Errorf("read gzip sitemap: %w", err)
	}
	return out, nil
}

// parseSitemap splits a sitemap document into child sitemap URLs and page
// URLs. Namespace-free <loc> lookups cover feeds that do not match the
// protocol structure.
func parseSitemap(doc *xmlquery.Node) (children, pages []string) {
	children = locs(xmlquery.Find(doc, "//sitemapindex/sitemap/loc"))
	pages = locs(xmlquery.Find(doc, "//urlset/url/loc"))
	if len(children) > 0 || len(pages) > 0 {
		return children, pages
	}
	for _, node := range xmlquery.Find(doc, "//*[local-name()='loc']") {
		loc := strings.TrimSpace(node.InnerText())
		if loc == "" {
			continue
		}
		if node.Parent != nil && strings.EqualFold(node.Parent.Data, "sitemap") {
			children = append(children, loc)
		} else {
			pages = append(pages, loc)
		}
	}
	return children, pages
}

func locs(nodes []*xmlquery.Node) []string {
	out := make([]string, 0, len(nodes))
	for _, node := range nodes {
		if loc := strings.TrimSpace(node.InnerText()); loc != "" {
			out = append(out, loc)
		}
	}
	return out
}
