package chunker

import (
	"strings"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

// Hierarchical emits a three-level tree: an optional document overview
// (level 0), one chunk per section (level 1), and overlapping paragraph
// windows (level 2). Each section's windows follow its section chunk.
type Hierarchical struct {
	cfg Config
}

// Name implements Strategy.
func (h *Hierarchical) Name() string { return StrategyHierarchical }

// Chunk implements Strategy.
func (h *Hierarchical) Chunk(content crawler.ExtractedContent) []crawler.ChunkData {
	sections := usableSections(content)
	if len(sections) == 0 {
		return nil
	}
	e := &emitter{content: content}

	docID := ""
	if h.cfg.IncludeDocument {
		docID = e.emit(crawler.ChunkData{
			Level:   crawler.LevelDocument,
			Content: h.documentText(content.Title, sections),
		})
	}

	for _, section := range sections {
		parentID := docID
		if h.cfg.IncludeSections {
			parentID = e.emit(crawler.ChunkData{
				Level:    crawler.LevelSection,
				ParentID: docID,
				Heading:  section.Heading,
				Content:  h.sectionText(section),
			})
		}
		h.emitWindows(e, section, parentID)
	}
	return e.chunks
}

func (h *Hierarchical) documentText(title string, sections []crawler.ExtractedSection) string {
	bodies := make([]string, 0, len(sections))
	for _, s := range sections {
		bodies = append(bodies, s.Content)
	}
	summary := overview(strings.Join(bodies, "\n\n"), h.cfg.DocumentSummaryWords)
	if title == "" {
		return summary
	}
	return title + "\n\n" + summary
}

func (h *Hierarchical) sectionText(section crawler.ExtractedSection) string {
	body := section.Content
	if wordCount(body) > h.cfg.SectionMaxWords {
		body = overview(body, h.cfg.SectionMaxWords)
	}
	if section.Heading == "" {
		return body
	}
	return section.Heading + "\n\n" + body
}

func (h *Hierarchical) emitWindows(e *emitter, section crawler.ExtractedSection, parentID string) {
	paragraphs := normalizeParagraphs(splitBlocks(section.Content), h.cfg.ParagraphMinWords, h.cfg.ParagraphMaxWords)
	windows := pack(paragraphs, h.cfg.ParagraphMinWords, h.cfg.ParagraphMaxWords)
	previous := ""
	for _, w := range windows {
		text := w.text()
		chunk := crawler.ChunkData{
			Level:      crawler.LevelParagraph,
			ParentID:   parentID,
			Heading:    section.Heading,
			Content:    text,
			TopicShift: w.topicShift,
		}
		if overlap, words := smartOverlap(previous, h.cfg.OverlapWords); words > 0 {
			chunk.Content = overlap + "\n\n" + text
			chunk.OverlapWords = words
		}
		e.emit(chunk)
		previous = text
	}
}

// usableSections returns the content's non-empty sections, falling back to
// a single untitled section holding the full text.
func usableSections(content crawler.ExtractedContent) []crawler.ExtractedSection {
	out := make([]crawler.ExtractedSection, 0, len(content.Sections))
	for _, s := range content.Sections {
		s.Content = strings.TrimSpace(s.Content)
		if s.Content == "" {
			continue
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		if text := strings.TrimSpace(content.Text); text != "" {
			out = append(out, crawler.ExtractedSection{Content: text, WordCount: wordCount(text)})
		}
	}
	return out
}
