package discovery

import (
	"bytes"
	"context"
	"iter"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
	"github.com/JakeFAU/kb-crawler/internal/discovery/filter"
)

// LinkStrategy follows anchors breadth-first from a seed page.
type LinkStrategy struct {
	base
	opts Options
	deps Deps
}

type queued struct {
	url   string
	depth int
}

// Discover walks the site from seed with a FIFO queue. Links pass the
// domain and robots filters before they are enqueued, so only admitted URLs
// count toward MaxPages.
func (s *LinkStrategy) Discover(ctx context.Context, seed string) iter.Seq[crawler.DiscoveredURL] {
	return func(yield func(crawler.DiscoveredURL) bool) {
		if !s.claim(s.deps.Logger) {
			return
		}
		start, err := crawler.NormalizeURL(seed)
		if err != nil {
			s.deps.Logger.Warn("invalid crawl seed", zap.String("seed", seed), zap.Error(err))
			return
		}
		domain := filter.NewDomain(start, s.opts.SameDomainOnly, s.opts.BlockedDomains)
		if !admit(ctx, s.deps, domain, start) {
			return
		}
		seen := map[string]struct{}{start: {}}
		rejected := make(map[string]struct{})
		queue := []queued{{url: start}}

		for len(queue) > 0 {
			if ctx.Err() != nil {
				return
			}
			next := queue[0]
			queue = queue[1:]

			if !yield(crawler.DiscoveredURL{URL: next.url, Depth: next.depth, Source: crawler.DiscoveredByCrawl}) {
				return
			}
			if next.depth >= s.opts.MaxDepth || len(seen) >= s.opts.MaxPages {
				continue
			}

			for _, link := range s.links(ctx, next.url) {
				if len(seen) >= s.opts.MaxPages || ctx.Err() != nil {
					break
				}
				if _, ok := seen[link]; ok {
					continue
				}
				if _, ok := rejected[link]; ok {
					continue
				}
				if !admit(ctx, s.deps, domain, link) {
					rejected[link] = struct{}{}
					continue
				}
				seen[link] = struct{}{}
				queue = append(queue, queued{url: link, depth: next.depth + 1})
			}
		}
	}
}

// links fetches pageURL and returns its normalized outbound http(s) links in
// document order. Fetch and parse failures yield no links.
func (s *LinkStrategy) links(ctx context.Context, pageURL string) []string {
	resp, err := fetch(ctx, s.deps, pageURL)
	if err != nil {
		s.deps.Logger.Debug("link fetch failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	if !isHTML(resp.ContentType) {
		return nil
	}
	pageBase := resp.URL
	if pageBase == "" {
		pageBase = pageURL
	}
	links, err := ExtractLinks(pageBase, resp.Body)
	if err != nil {
		s.deps.Logger.Debug("link extraction failed", zap.String("url", pageURL), zap.Error(err))
		return nil
	}
	return links
}

// ExtractLinks resolves every a[href] in body against pageURL (or the
// document's <base href>) and returns unique normalized http(s) URLs.
func ExtractLinks(pageURL string, body []byte) ([]string, error) {
	baseURL, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if ref, perr := baseURL.Parse(strings.TrimSpace(href)); perr == nil {
			baseURL = ref
		}
	}

	var out []string
	unique := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		ref, perr := baseURL.Parse(href)
		if perr != nil {
			return
		}
		if ref.Scheme != "http" && ref.Scheme != "https" {
			return
		}
		normalized := crawler.NormalizeParsed(ref)
		if _, dup := unique[normalized]; dup {
			return
		}
		unique[normalized] = struct{}{}
		out = append(out, normalized)
	})
	return out, nil
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
