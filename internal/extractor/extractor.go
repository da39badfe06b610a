// Package extractor reduces fetched HTML pages to a title, a description,
// and heading-delimited sections of markdown-like text.
package extractor

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

// Extractor turns fetch responses into ExtractedContent.
type Extractor struct {
	fetcher crawler.Fetcher
	logger  *zap.Logger
}

// New constructs an Extractor. fetcher is only needed by FetchAndExtract.
func New(fetcher crawler.Fetcher, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{fetcher: fetcher, logger: logger}
}

// FetchAndExtract fetches rawURL and extracts it. Fetch errors propagate;
// non-HTML responses produce empty content.
func (e *Extractor) FetchAndExtract(ctx context.Context, rawURL string) (crawler.ExtractedContent, error) {
	if e.fetcher == nil {
		return crawler.ExtractedContent{}, fmt.Errorf("extractor has no fetcher")
	}
	resp, err := e.fetcher.Fetch(ctx, crawler.FetchRequest{URL: rawURL})
	if err != nil {
		return crawler.ExtractedContent{}, fmt.Errorf("fetch page: %w", err)
	}
	return e.Extract(resp)
}

// Extract parses an already fetched response.
func (e *Extractor) Extract(resp crawler.FetchResponse) (crawler.ExtractedContent, error) {
	content := crawler.ExtractedContent{URL: resp.URL}
	if !IsHTML(resp.ContentType) {
		e.logger.Debug("skipping non-html response",
			zap.String("url", resp.URL),
			zap.String("content_type", resp.ContentType),
		)
		return content, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
	if err != nil {
		return content, fmt.Errorf("parse html: %w", err)
	}

	content.Title = extractTitle(doc)
	content.Description = extractDescription(doc)

	removeBoilerplate(doc)
	root := contentRoot(doc)
	sections := splitSections(root.Nodes)
	content.Sections = sections
	content.Text = renderText(sections)
	return content, nil
}

// IsHTML reports whether a Content-Type header names an HTML document.
func IsHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

func extractTitle(doc *goquery.Document) string {
	if title := cleanInline(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og := cleanInline(doc.Find(`meta[property="og:title"]`).First().AttrOr("content", "")); og != "" {
		return og
	}
	return cleanInline(doc.Find("h1").First().Text())
}

func extractDescription(doc *goquery.Document) string {
	var description string
	doc.Find("meta[name]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if strings.EqualFold(strings.TrimSpace(sel.AttrOr("name", "")), "description") {
			description = cleanInline(sel.AttrOr("content", ""))
			return description == ""
		}
		return true
	})
	if description != "" {
		return description
	}
	return cleanInline(doc.Find(`meta[property="og:description"]`).First().AttrOr("content", ""))
}

func renderText(sections []crawler.ExtractedSection) string {
	parts := make([]string, 0, len(sections))
	for _, section := range sections {
		if section.Heading != "" && section.Level > 0 {
			parts = append(parts, strings.Repeat("#", section.Level)+" "+section.Heading+"\n\n"+section.Content)
			continue
		}
		parts = append(parts, section.Content)
	}
	return strings.Join(parts, "\n\n")
}
