package extractor

import (
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	blankLines    = regexp.MustCompile(`\n{3,}`)
)

var paragraphBlocks = map[string]struct{}{
	"p": {}, "blockquote": {}, "ul": {}, "ol": {}, "table": {}, "dl": {},
	"figure": {}, "section": {}, "article": {}, "main": {}, "hr": {},
}

var lineBlocks = map[string]struct{}{
	"div": {}, "dt": {}, "dd": {}, "figcaption": {}, "address": {},
	"caption": {}, "details": {}, "summary": {},
}

type sectionWriter struct {
	sections []crawler.ExtractedSection
	heading  string
	level    int
	buf      strings.Builder
}

// splitSections walks roots depth-first and starts a new section at every
// h1-h6. Sections whose body is empty after normalization are dropped.
func splitSections(roots []*html.Node) []crawler.ExtractedSection {
	w := &sectionWriter{}
	for _, root := range roots {
		w.walk(root)
	}
	w.flush()
	return w.sections
}

func (w *sectionWriter) flush() {
	body := normalizeText(w.buf.String())
	w.buf.Reset()
	if body == "" {
		return
	}
	w.sections = append(w.sections, crawler.ExtractedSection{
		Heading:   w.heading,
		Level:     w.level,
		Content:   body,
		WordCount: len(strings.Fields(body)),
	})
}

func (w *sectionWriter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		w.buf.WriteString(whitespaceRun.ReplaceAllString(n.Data, " "))
		return
	case html.ElementNode:
	case html.DocumentNode:
		w.walkChildren(n)
		return
	default:
		return
	}

	tag := strings.ToLower(n.Data)
	if level := headingLevel(tag); level > 0 {
		w.flush()
		w.heading = cleanInline(textOf(n))
		w.level = level
		return
	}

	switch tag {
	case "br":
		w.buf.WriteString("\n")
	case "pre":
		w.buf.WriteString("\n\n```\n")
		w.buf.WriteString(strings.Trim(textOf(n), "\n"))
		w.buf.WriteString("\n```\n\n")
	case "ul", "ol":
		w.buf.WriteString("\n\n")
		w.writeList(n, tag == "ol")
		w.buf.WriteString("\n\n")
	case "tr":
		w.writeRow(n)
	default:
		_, para := paragraphBlocks[tag]
		_, line := lineBlocks[tag]
		switch {
		case para:
			w.buf.WriteString("\n\n")
			w.walkChildren(n)
			w.buf.WriteString("\n\n")
		case line:
			w.buf.WriteString("\n")
			w.walkChildren(n)
			w.buf.WriteString("\n")
		default:
			w.walkChildren(n)
		}
	}
}

func (w *sectionWriter) walkChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
}

func (w *sectionWriter) writeList(list *html.Node, ordered bool) {
	index := 0
	for c := list.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || !strings.EqualFold(c.Data, "li") {
			w.walk(c)
			continue
		}
		index++
		prefix := "- "
		if ordered {
			prefix = strconv.Itoa(index) + ". "
		}
		w.buf.WriteString("\n" + prefix)
		w.walkChildren(c)
	}
}

func (w *sectionWriter) writeRow(row *html.Node) {
	var cells []string
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && (c.Data == "td" || c.Data == "th") {
			cells = append(cells, cleanInline(textOf(c)))
		}
	}
	if len(cells) == 0 {
		return
	}
	w.buf.WriteString("\n| " + strings.Join(cells, " | ") + " |")
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}

func cleanInline(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// normalizeText trims every line, collapses runs of spaces outside code
// fences, and collapses three or more newlines to two.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	inFence := false
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			lines[i] = trimmed
			continue
		}
		if inFence {
			lines[i] = strings.TrimRight(line, " \t\r")
			continue
		}
		lines[i] = strings.Join(strings.Fields(trimmed), " ")
	}
	out := blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	return strings.TrimSpace(out)
}
