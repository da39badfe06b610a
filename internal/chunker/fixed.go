package chunker

import (
	"strings"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

// Fixed slides a window of ParagraphMaxWords words across the page text,
// stepping by ParagraphMaxWords minus OverlapWords. Every chunk is level 2.
type Fixed struct {
	cfg Config
}

// Name implements Strategy.
func (f *Fixed) Name() string { return StrategyFixed }

// Chunk implements Strategy.
func (f *Fixed) Chunk(content crawler.ExtractedContent) []crawler.ChunkData {
	var parts []string
	for _, s := range usableSections(content) {
		if s.Heading != "" {
			parts = append(parts, s.Heading)
		}
		parts = append(parts, s.Content)
	}
	words := strings.Fields(strings.Join(parts, "\n\n"))
	if len(words) == 0 {
		return nil
	}
	size := f.cfg.ParagraphMaxWords
	step := size - f.cfg.OverlapWords
	if step <= 0 {
		step = size
	}

	e := &emitter{content: content}
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		chunk := crawler.ChunkData{
			Level:   crawler.LevelParagraph,
			Content: strings.Join(words[start:end], " "),
		}
		if start > 0 {
			chunk.OverlapWords = min(f.cfg.OverlapWords, end-start)
		}
		e.emit(chunk)
		if end == len(words) {
			break
		}
	}
	return e.chunks
}
