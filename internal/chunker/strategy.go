package chunker

import (
	"fmt"
	"sort"
	"strings"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

// Strategy turns one page's content into ordered chunks. Output is a pure
// function of the input.
type Strategy interface {
	Name() string
	Chunk(content crawler.ExtractedContent) []crawler.ChunkData
}

// Strategy names accepted by New.
const (
	StrategyHierarchical = "hierarchical"
	StrategyFixed        = "fixed"
)

var registry = map[string]func(Config) Strategy{
	StrategyHierarchical: func(cfg Config) Strategy { return &Hierarchical{cfg: cfg} },
	StrategyFixed:        func(cfg Config) Strategy { return &Fixed{cfg: cfg} },
}

// New returns the strategy registered under name. An empty name selects
// the hierarchical strategy.
func New(name string, opts ...Option) (Strategy, error) {
	if name == "" {
		name = StrategyHierarchical
	}
	build, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown chunking strategy %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return build(buildConfig(opts)), nil
}

// Names lists the registered strategies.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// emitter assigns increasing chunk indexes and transient ids.
type emitter struct {
	content crawler.ExtractedContent
	chunks  []crawler.ChunkData
}

func (e *emitter) emit(chunk crawler.ChunkData) string {
	chunk.ChunkIndex = len(e.chunks)
	chunk.ChunkID = fmt.Sprintf("tmp-%d-%d", chunk.Level, chunk.ChunkIndex)
	chunk.SourceURL = e.content.URL
	chunk.PageTitle = e.content.Title
	chunk.WordCount = wordCount(chunk.Content)
	e.chunks = append(e.chunks, chunk)
	return chunk.ChunkID
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}
