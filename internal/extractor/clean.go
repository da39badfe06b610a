package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var removedTags = []string{
	"script", "style", "noscript", "template",
	"nav", "footer", "header", "aside",
	"form", "button", "input", "select", "textarea", "label",
	"iframe", "svg", "canvas",
}

// boilerplateTokens are matched against individual class/id tokens, so
// "ad" matches class="ad-slot" but not class="heading".
var boilerplateTokens = map[string]struct{}{
	"nav": {}, "navbar": {}, "navigation": {}, "menu": {}, "sidebar": {},
	"footer": {}, "breadcrumb": {}, "breadcrumbs": {}, "ad": {}, "ads": {},
	"advert": {}, "advertisement": {}, "promo": {}, "banner": {}, "cookie": {},
	"cookies": {}, "consent": {}, "social": {}, "share": {}, "sharing": {},
	"related": {}, "comments": {}, "comment": {}, "newsletter": {}, "subscribe": {},
	"popup": {}, "modal": {}, "toc": {}, "skip": {},
}

var protectedTags = map[string]struct{}{
	"html": {}, "body": {}, "main": {}, "article": {},
}

var contentTokens = []string{
	"content", "main-content", "maincontent", "post", "entry",
	"article", "markdown-body", "markdown", "docs", "documentation", "prose",
}

func removeBoilerplate(doc *goquery.Document) {
	doc.Find(strings.Join(removedTags, ",")).Remove()
	doc.Find("[class],[id]").Each(func(_ int, sel *goquery.Selection) {
		if _, keep := protectedTags[goquery.NodeName(sel)]; keep {
			return
		}
		if hasBoilerplateToken(sel.AttrOr("class", "")) || hasBoilerplateToken(sel.AttrOr("id", "")) {
			sel.Remove()
		}
	})
}

func hasBoilerplateToken(attr string) bool {
	for _, token := range tokens(attr) {
		if _, ok := boilerplateTokens[token]; ok {
			return true
		}
	}
	return false
}

func tokens(attr string) []string {
	return strings.FieldsFunc(strings.ToLower(attr), func(r rune) bool {
		return (r < 'a' || r > 'z') && (r < '0' || r > '9')
	})
}

// contentRoot picks the element most likely to hold the page's primary text.
func contentRoot(doc *goquery.Document) *goquery.Selection {
	if main := doc.Find("main").First(); main.Length() > 0 {
		return main
	}
	if article := doc.Find("article").First(); article.Length() > 0 {
		return article
	}
	if role := doc.Find(`[role="main"]`).First(); role.Length() > 0 {
		return role
	}
	var found *goquery.Selection
	doc.Find("div[class],div[id],section[class],section[id]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		attrs := strings.ToLower(sel.AttrOr("class", "") + " " + sel.AttrOr("id", ""))
		for _, token := range contentTokens {
			if strings.Contains(attrs, token) {
				found = sel
				return false
			}
		}
		return true
	})
	if found != nil {
		return found
	}
	if body := doc.Find("body").First(); body.Length() > 0 {
		return body
	}
	return doc.Selection
}
