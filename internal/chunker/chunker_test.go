package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/kb-crawler/internal/crawler"
)

func numberedSentences(n int) string {
	parts := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		parts = append(parts, fmt.Sprintf("Sentence number %d talks about crawling topic %d.", i, i))
	}
	return strings.Join(parts, " ")
}

func byLevel(chunks []crawler.ChunkData, level int) []crawler.ChunkData {
	var out []crawler.ChunkData
	for _, c := range chunks {
		if c.Level == level {
			out = append(out, c)
		}
	}
	return out
}

func mustNew(t *testing.T, name string, opts ...Option) Strategy {
	t.Helper()
	s, err := New(name, opts...)
	require.NoError(t, err)
	return s
}

func TestTwoSectionScenario(t *testing.T) {
	t.Parallel()

	content := crawler.ExtractedContent{
		URL:   "https://example.com/doc",
		Title: "Doc",
		Text:  "## Intro\n\nHello world. This is a test.\n\n## Body\n\nMore content here.",
		Sections: []crawler.ExtractedSection{
			{Heading: "Intro", Level: 2, Content: "Hello world. This is a test.", WordCount: 6},
			{Heading: "Body", Level: 2, Content: "More content here.", WordCount: 3},
		},
	}
	chunks := mustNew(t, StrategyHierarchical).Chunk(content)

	sections := byLevel(chunks, crawler.LevelSection)
	require.Len(t, sections, 2)
	require.Equal(t, "Intro", sections[0].Heading)
	require.Equal(t, "Body", sections[1].Heading)
	require.Equal(t, "Intro\n\nHello world. This is a test.", sections[0].Content)

	for _, section := range sections {
		var children []crawler.ChunkData
		for _, c := range chunks {
			if c.Level == crawler.LevelParagraph && c.ParentID == section.ChunkID {
				children = append(children, c)
			}
		}
		require.Len(t, children, 1, section.Heading)
		require.NotEmpty(t, children[0].Content)
	}

	doc := byLevel(chunks, crawler.LevelDocument)
	require.Len(t, doc, 1)
	require.Equal(t, 0, doc[0].ChunkIndex)
	require.True(t, strings.HasPrefix(doc[0].Content, "Doc\n\n"))
	require.Equal(t, doc[0].ChunkID, sections[0].ParentID)

	levels := make([]int, 0, len(chunks))
	for _, c := range chunks {
		levels = append(levels, c.Level)
		require.Equal(t, "https://example.com/doc", c.SourceURL)
		require.Equal(t, "Doc", c.PageTitle)
	}
	require.Equal(t, []int{0, 1, 2, 1, 2}, levels)
}

func TestChunkIndexesAndParentsAreOrdered(t *testing.T) {
	t.Parallel()

	content := crawler.ExtractedContent{
		URL: "https://example.com/long",
		Sections: []crawler.ExtractedSection{
			{Heading: "One", Level: 2, Content: numberedSentences(40)},
			{Heading: "Two", Level: 2, Content: numberedSentences(25)},
		},
	}
	chunks := mustNew(t, StrategyHierarchical, WithParagraphWords(10, 60), WithOverlapWords(15)).Chunk(content)
	require.NotEmpty(t, chunks)

	seen := make(map[string]int)
	for i, c := range chunks {
		require.Equal(t, i, c.ChunkIndex)
		if c.ParentID != "" {
			parentIndex, ok := seen[c.ParentID]
			require.True(t, ok, "parent of chunk %d must come first", i)
			require.Less(t, chunks[parentIndex].Level, c.Level)
		}
		seen[c.ChunkID] = i
	}
}

func TestChunkingIsDeterministic(t *testing.T) {
	t.Parallel()

	content := crawler.ExtractedContent{
		URL:   "https://example.com/a",
		Title: "A",
		Sections: []crawler.ExtractedSection{
			{Heading: "Setup", Level: 2, Content: numberedSentences(50)},
		},
	}
	s := mustNew(t, StrategyHierarchical, WithParagraphWords(10, 60))
	require.Equal(t, s.Chunk(content), s.Chunk(content))
}

func TestOverlapEndsOnSentenceBoundary(t *testing.T) {
	t.Parallel()

	content := crawler.ExtractedContent{
		URL:      "https://example.com/overlap",
		Sections: []crawler.ExtractedSection{{Heading: "Body", Level: 2, Content: numberedSentences(30)}},
	}
	chunks := mustNew(t, StrategyHierarchical, WithParagraphWords(10, 60), WithOverlapWords(15)).Chunk(content)
	paragraphs := byLevel(chunks, crawler.LevelParagraph)
	require.Len(t, paragraphs, 5)

	overlapped := 0
	for i, c := range paragraphs {
		if c.OverlapWords == 0 {
			continue
		}
		overlapped++
		prefix := strings.SplitN(c.Content, "\n\n", 2)[0]
		require.True(t, endsSentence(prefix), prefix)
		require.Equal(t, c.OverlapWords, wordCount(prefix))
		require.GreaterOrEqual(t, c.OverlapWords, 12)
		require.LessOrEqual(t, c.OverlapWords, 18)
		require.True(t, strings.HasSuffix(paragraphs[i-1].Content, prefix))
	}
	require.Equal(t, 4, overlapped)
	require.Zero(t, paragraphs[0].OverlapWords)
}

func TestNoOverlapAfterCodeBlock(t *testing.T) {
	t.Parallel()

	code := "```\n" + strings.Repeat("x := 1\n", 20) + "```"
	section := "Intro sentence that is long enough to stand on its own here.\n\n" + code + "\n\n" + numberedSentences(3)
	content := crawler.ExtractedContent{
		Sections: []crawler.ExtractedSection{{Heading: "Code", Level: 2, Content: section}},
	}
	chunks := mustNew(t, StrategyHierarchical, WithParagraphWords(5, 45), WithOverlapWords(10), WithDocumentChunk(false)).Chunk(content)
	paragraphs := byLevel(chunks, crawler.LevelParagraph)
	require.GreaterOrEqual(t, len(paragraphs), 2)

	for i, c := range paragraphs {
		if i > 0 && strings.HasSuffix(strings.TrimSpace(paragraphs[i-1].Content), "```") {
			require.Zero(t, c.OverlapWords)
		}
	}
}

func TestSpecialBlocksPreservedVerbatim(t *testing.T) {
	t.Parallel()

	fence := "```\ncode line one\n\ncode line two\n```"
	list := "- item one\n- item two"
	table := "| a | b |\n| 1 | 2 |"
	section := "Intro paragraph words here.\n\n" + fence + "\n\n" + list + "\n\n" + table + "\n\nTail text here."

	blocks := splitBlocks(section)
	require.Len(t, blocks, 5)
	require.Equal(t, []bool{false, true, true, true, false},
		[]bool{blocks[0].special, blocks[1].special, blocks[2].special, blocks[3].special, blocks[4].special})
	require.Equal(t, fence, blocks[1].text)

	content := crawler.ExtractedContent{
		Sections: []crawler.ExtractedSection{{Heading: "Mixed", Level: 2, Content: section}},
	}
	chunks := mustNew(t, StrategyHierarchical).Chunk(content)
	paragraphs := byLevel(chunks, crawler.LevelParagraph)
	require.Len(t, paragraphs, 1)
	require.Contains(t, paragraphs[0].Content, fence)
	require.Contains(t, paragraphs[0].Content, list)
	require.Contains(t, paragraphs[0].Content, table)
}

func TestShortParagraphsMergeForward(t *testing.T) {
	t.Parallel()

	blocks := []block{
		{text: "one two"},
		{text: "three four five"},
		{text: "- a\n- b", special: true},
		{text: "six"},
	}
	out := normalizeParagraphs(blocks, 4, 100)
	require.Equal(t, []block{
		{text: "one two\n\nthree four five"},
		{text: "- a\n- b", special: true},
		{text: "six"},
	}, out)
}

func TestOversizedParagraphSplitAtSentences(t *testing.T) {
	t.Parallel()

	out := normalizeParagraphs([]block{{text: numberedSentences(10)}}, 1, 20)
	require.Len(t, out, 5)
	for _, b := range out {
		require.True(t, endsSentence(b.text))
		require.LessOrEqual(t, b.words(), 20)
	}
}

func TestTrailingRemainderMergesIntoPrevious(t *testing.T) {
	t.Parallel()

	words := func(n int) string { return strings.TrimSpace(strings.Repeat("word ", n)) }
	windows := pack([]block{{text: words(45)}, {text: words(45)}, {text: words(8)}}, 10, 50)
	require.Len(t, windows, 2)
	require.Equal(t, 45, windows[0].words)
	require.Equal(t, 53, windows[1].words)
	require.Len(t, windows[1].paragraphs, 2)
}

func TestSectionCompressedWhenTooLong(t *testing.T) {
	t.Parallel()

	content := crawler.ExtractedContent{
		Sections: []crawler.ExtractedSection{{Heading: "Long", Level: 2, Content: numberedSentences(30)}},
	}
	chunks := mustNew(t, StrategyHierarchical, WithSectionMaxWords(40)).Chunk(content)
	sections := byLevel(chunks, crawler.LevelSection)
	require.Len(t, sections, 1)
	require.True(t, strings.HasPrefix(sections[0].Content, "Long\n\n"))
	require.LessOrEqual(t, sections[0].WordCount, 41)
}

func TestSectionCompressionNeverCutsASentence(t *testing.T) {
	t.Parallel()

	long := "The deployment guide " + strings.TrimSpace(strings.Repeat("covers another detail ", 20)) + "."
	content := crawler.ExtractedContent{
		Sections: []crawler.ExtractedSection{{Heading: "Deploy", Level: 2, Content: long + " Then restart."}},
	}
	chunks := mustNew(t, StrategyHierarchical, WithSectionMaxWords(20)).Chunk(content)
	sections := byLevel(chunks, crawler.LevelSection)
	require.Len(t, sections, 1)
	require.Equal(t, "Deploy\n\n"+long, sections[0].Content)
}

func TestTogglesRemoveUpperLevels(t *testing.T) {
	t.Parallel()

	content := crawler.ExtractedContent{
		Sections: []crawler.ExtractedSection{{Heading: "Only", Level: 2, Content: "Some text here."}},
	}
	chunks := mustNew(t, StrategyHierarchical, WithDocumentChunk(false), WithSectionChunks(false)).Chunk(content)
	require.Len(t, chunks, 1)
	require.Equal(t, crawler.LevelParagraph, chunks[0].Level)
	require.Empty(t, chunks[0].ParentID)
	require.Equal(t, "Only", chunks[0].Heading)
}

func TestFallsBackToTextWithoutSections(t *testing.T) {
	t.Parallel()

	chunks := mustNew(t, StrategyHierarchical).Chunk(crawler.ExtractedContent{Text: "Plain text only."})
	require.Equal(t, []int{0, 1, 2}, []int{chunks[0].Level, chunks[1].Level, chunks[2].Level})

	require.Empty(t, mustNew(t, StrategyHierarchical).Chunk(crawler.ExtractedContent{}))
}

func TestFixedStrategyWindows(t *testing.T) {
	t.Parallel()

	words := make([]string, 25)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	content := crawler.ExtractedContent{Text: strings.Join(words, " ")}
	chunks := mustNew(t, StrategyFixed, WithParagraphWords(1, 10), WithOverlapWords(2)).Chunk(content)

	require.Len(t, chunks, 3)
	require.Equal(t, strings.Join(words[0:10], " "), chunks[0].Content)
	require.Equal(t, strings.Join(words[8:18], " "), chunks[1].Content)
	require.Equal(t, strings.Join(words[16:25], " "), chunks[2].Content)
	require.Equal(t, 2, chunks[1].OverlapWords)
	for i, c := range chunks {
		require.Equal(t, i, c.ChunkIndex)
		require.Equal(t, crawler.LevelParagraph, c.Level)
	}
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	s, err := New("")
	require.NoError(t, err)
	require.Equal(t, StrategyHierarchical, s.Name())

	s, err = New("FIXED")
	require.NoError(t, err)
	require.Equal(t, StrategyFixed, s.Name())

	_, err = New("semantic")
	require.ErrorContains(t, err, "fixed, hierarchical")
}

func TestBuildConfigClampsBudgets(t *testing.T) {
	t.Parallel()

	cfg := buildConfig([]Option{WithParagraphWords(100, 80), WithOverlapWords(90)})
	require.Equal(t, 80, cfg.ParagraphMaxWords)
	require.Equal(t, 20, cfg.ParagraphMinWords)
	require.Equal(t, 20, cfg.OverlapWords)

	cfg = buildConfig([]Option{WithConfig(Config{ParagraphMaxWords: 200, IncludeSections: true})})
	require.Equal(t, 200, cfg.ParagraphMaxWords)
	require.Equal(t, DefaultParagraphMinWords, cfg.ParagraphMinWords)
	require.False(t, cfg.IncludeDocument)
	require.True(t, cfg.IncludeSections)
}
