package chunker

import (
	"sort"
	"strings"
	"unicode"
)

const (
	keyPointScanWords = 1500
	maxKeyPoints      = 3
	topWordCount      = 20
)

var stopwords = map[string]struct{}{
	"about": {}, "above": {}, "after": {}, "again": {}, "against": {}, "among": {},
	"being": {}, "below": {}, "between": {}, "could": {}, "doing": {}, "during": {},
	"every": {}, "first": {}, "further": {}, "having": {}, "other": {}, "should": {},
	"since": {}, "still": {}, "their": {}, "there": {}, "these": {}, "those": {},
	"through": {}, "under": {}, "until": {}, "using": {}, "where": {}, "which": {},
	"while": {}, "would": {}, "your": {}, "yours": {}, "what": {}, "when": {},
	"because": {}, "before": {}, "however": {}, "might": {}, "often": {}, "shall": {},
	"something": {}, "within": {}, "without": {}, "across": {}, "around": {},
}

// overview compresses text to roughly budget words: a lead of complete
// sentences filling about half the budget (at least the first sentence), followed by up to three
// high-scoring sentences from the first part of the document that are not
// near-duplicates of anything already chosen. Text within budget is
// returned unchanged.
func overview(text string, budget int) string {
	text = strings.TrimSpace(text)
	if budget <= 0 || wordCount(text) <= budget {
		return text
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}

	leadBudget := budget / 2
	seen := make(map[string]struct{})
	var lead []string
	leadWords := 0
	next := 0
	for ; next < len(sentences); next++ {
		wc := wordCount(sentences[next])
		if leadWords+wc > leadBudget {
			break
		}
		lead = append(lead, sentences[next])
		leadWords += wc
		seen[sentencePattern(sentences[next])] = struct{}{}
	}
	if len(lead) == 0 {
		// The opening sentence alone exceeds the lead budget. Keep it whole;
		// only text with no sentence boundary is cut at the word budget.
		if endsSentence(sentences[0]) {
			return sentences[0]
		}
		return truncateWords(sentences[0], budget)
	}

	remaining := budget - leadWords
	points := keyPoints(sentences, next, remaining, seen)
	if len(points) == 0 {
		return strings.Join(lead, " ")
	}
	return strings.Join(lead, " ") + "\n\n" + strings.Join(points, " ")
}

type scored struct {
	index int
	text  string
	score float64
}

// keyPoints picks up to maxKeyPoints sentences from sentences[from:] that
// fall inside the first keyPointScanWords words, returned in document order.
func keyPoints(sentences []string, from, budget int, seen map[string]struct{}) []string {
	if budget <= 0 || from >= len(sentences) {
		return nil
	}
	scanned := 0
	limit := len(sentences)
	for i, s := range sentences {
		scanned += wordCount(s)
		if scanned > keyPointScanWords {
			limit = i
			break
		}
	}
	if from >= limit {
		return nil
	}

	top := topWords(strings.Join(sentences[:limit], " "))
	candidates := make([]scored, 0, limit-from)
	for i := from; i < limit; i++ {
		candidates = append(candidates, scored{
			index: i,
			text:  sentences[i],
			score: scoreSentence(sentences[i], i, limit, top),
		})
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	var picked []scored
	used := 0
	for _, c := range candidates {
		if len(picked) == maxKeyPoints {
			break
		}
		wc := wordCount(c.text)
		if used+wc > budget {
			continue
		}
		pattern := sentencePattern(c.text)
		if _, dup := seen[pattern]; dup {
			continue
		}
		seen[pattern] = struct{}{}
		picked = append(picked, c)
		used += wc
	}
	sort.Slice(picked, func(a, b int) bool { return picked[a].index < picked[b].index })
	out := make([]string, 0, len(picked))
	for _, p := range picked {
		out = append(out, p.text)
	}
	return out
}

func scoreSentence(sentence string, index, total int, top map[string]struct{}) float64 {
	words := strings.Fields(sentence)
	if len(words) == 0 {
		return 0
	}
	score := 1.0 - float64(index)/float64(total)

	entities := 0
	for i, w := range words {
		first := []rune(w)[0]
		if unicode.IsDigit(first) || (i > 0 && unicode.IsUpper(first)) {
			entities++
		}
	}
	score += float64(entities) / float64(len(words))

	switch n := len(words); {
	case n >= 15 && n <= 30:
		score += 1.0
	case n >= 10 && n <= 40:
		score += 0.5
	}

	if len(top) > 0 {
		hits := 0
		for _, w := range words {
			if _, ok := top[normalizeWord(w)]; ok {
				hits++
			}
		}
		score += 2.0 * float64(hits) / float64(len(words))
	}

	trimmed := strings.TrimSpace(sentence)
	if strings.Contains(trimmed, ":") || isListLine(trimmed) {
		score += 0.3
	}
	return score
}

// topWords returns the most frequent significant words (five letters or
// more, not stopwords).
func topWords(text string) map[string]struct{} {
	counts := make(map[string]int)
	for _, w := range strings.Fields(text) {
		word := normalizeWord(w)
		if len([]rune(word)) < 5 {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		counts[word]++
	}
	words := make([]string, 0, len(counts))
	for w := range counts {
		words = append(words, w)
	}
	sort.Slice(words, func(a, b int) bool {
		if counts[words[a]] != counts[words[b]] {
			return counts[words[a]] > counts[words[b]]
		}
		return words[a] < words[b]
	})
	if len(words) > topWordCount {
		words = words[:topWordCount]
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		out[w] = struct{}{}
	}
	return out
}

func normalizeWord(w string) string {
	return strings.ToLower(strings.TrimFunc(w, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
}

// sentencePattern is a near-duplicate key: lowercase letters, digits
// collapsed to '#', everything else dropped.
func sentencePattern(s string) string {
	var b strings.Builder
	lastDigit := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsDigit(r):
			if !lastDigit {
				b.WriteRune('#')
			}
			lastDigit = true
		case unicode.IsLetter(r):
			b.WriteRune(r)
			lastDigit = false
		default:
			lastDigit = false
		}
	}
	return b.String()
}

func truncateWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[:n], " ")
}
