package chunker

import (
	"regexp"
	"strings"
)

var listLine = regexp.MustCompile(`^(\s*)([-*+•]|\d+[.)])\s+\S`)

// block is a paragraph candidate. Special blocks (code fences, lists,
// tables) are kept verbatim: never merged, never split.
type block struct {
	text    string
	special bool
}

func (b block) words() int { return wordCount(b.text) }

func isListLine(line string) bool {
	return listLine.MatchString(line)
}

func isTableLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	return strings.HasPrefix(trimmed, "|") && strings.Count(trimmed, "|") >= 2
}

// splitBlocks cuts text at blank lines, keeping fenced code intact even
// when it contains blank lines.
func splitBlocks(text string) []block {
	var (
		blocks  []block
		current []string
		inFence bool
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		blocks = append(blocks, classify(current))
		current = nil
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if !inFence {
				flush()
				inFence = true
				current = append(current, line)
				continue
			}
			current = append(current, line)
			blocks = append(blocks, block{text: strings.Join(current, "\n"), special: true})
			current = nil
			inFence = false
			continue
		}
		if inFence {
			current = append(current, line)
			continue
		}
		if trimmed == "" {
			flush()
			continue
		}
		current = append(current, trimmed)
	}
	if inFence && len(current) > 0 {
		// unterminated fence: keep what we have verbatim
		blocks = append(blocks, block{text: strings.Join(current, "\n"), special: true})
		current = nil
	}
	flush()
	return blocks
}

func classify(lines []string) block {
	text := strings.Join(lines, "\n")
	tableLines := 0
	run, maxRun := 0, 0
	for _, line := range lines {
		if isTableLine(line) {
			tableLines++
		}
		if isListLine(line) {
			run++
			if run > maxRun {
				maxRun = run
			}
		} else {
			run = 0
		}
	}
	special := maxRun >= 2 || tableLines == len(lines)
	return block{text: text, special: special}
}

// normalizeParagraphs merges short paragraphs forward until they reach
// minWords and splits paragraphs over twice maxWords at sentence
// boundaries. Special blocks pass through and stop any pending merge.
func normalizeParagraphs(blocks []block, minWords, maxWords int) []block {
	var (
		out     []block
		pending string
	)
	flush := func() {
		if pending != "" {
			out = append(out, block{text: pending})
			pending = ""
		}
	}
	for _, b := range blocks {
		if b.special {
			flush()
			out = append(out, b)
			continue
		}
		pieces := []string{b.text}
		if b.words() > 2*maxWords {
			pieces = splitAtSentences(b.text, maxWords)
		}
		for _, piece := range pieces {
			if pending == "" {
				pending = piece
			} else {
				pending += "\n\n" + piece
			}
			if wordCount(pending) >= minWords {
				flush()
			}
		}
	}
	flush()
	return out
}

// splitAtSentences packs whole sentences into pieces of at most maxWords.
// A single sentence longer than maxWords becomes its own piece.
func splitAtSentences(text string, maxWords int) []string {
	var (
		pieces []string
		buf    []string
		count  int
	)
	for _, s := range splitSentences(text) {
		wc := wordCount(s)
		if count > 0 && count+wc > maxWords {
			pieces = append(pieces, strings.Join(buf, " "))
			buf, count = nil, 0
		}
		buf = append(buf, s)
		count += wc
	}
	if len(buf) > 0 {
		pieces = append(pieces, strings.Join(buf, " "))
	}
	return pieces
}

// window is one level-2 chunk before overlap is applied.
type window struct {
	paragraphs []string
	words      int
	topicShift bool
}

func (w window) text() string { return strings.Join(w.paragraphs, "\n\n") }

// pack fills windows greedily up to maxWords. A trailing window below
// minWords is folded into the one before it.
func pack(paragraphs []block, minWords, maxWords int) []window {
	var (
		windows []window
		current window
	)
	for _, p := range paragraphs {
		wc := p.words()
		if current.words > 0 && current.words+wc > maxWords {
			windows = append(windows, current)
			current = window{}
		}
		current.paragraphs = append(current.paragraphs, p.text)
		current.words += wc
	}
	if current.words > 0 {
		if len(windows) > 0 && current.words < minWords {
			last := &windows[len(windows)-1]
			last.paragraphs = append(last.paragraphs, current.paragraphs...)
			last.words += current.words
		} else {
			windows = append(windows, current)
		}
	}
	for i := 1; i < len(windows); i++ {
		prev := windows[i-1].paragraphs
		windows[i].topicShift = topicShift(prev[len(prev)-1], windows[i].paragraphs[0])
	}
	return windows
}

// smartOverlap returns complete trailing sentences of prev totalling about
// target words. It stops once 80% of the target is reached and never goes
// past 120%. No overlap is produced when prev does not end on a sentence
// boundary.
func smartOverlap(prev string, target int) (string, int) {
	if target <= 0 || !endsSentence(prev) {
		return "", 0
	}
	sentences := splitSentences(prev)
	ceiling := target + target/5
	floor := target * 4 / 5
	var picked []string
	total := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		wc := wordCount(sentences[i])
		if total+wc > ceiling {
			break
		}
		picked = append([]string{sentences[i]}, picked...)
		total += wc
		if total >= floor {
			break
		}
	}
	if total == 0 {
		return "", 0
	}
	return strings.Join(picked, " "), total
}
