package chunker

import "strings"

const topicShiftThreshold = 0.15

// topicShift reports whether two paragraphs share few significant words
// (Jaccard similarity below the threshold). It annotates chunks only.
func topicShift(a, b string) bool {
	setA, setB := significantWords(a), significantWords(b)
	if len(setA) == 0 || len(setB) == 0 {
		return false
	}
	inter := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter)/float64(union) < topicShiftThreshold
}

func significantWords(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(text) {
		word := normalizeWord(w)
		if len([]rune(word)) < 4 {
			continue
		}
		if _, stop := stopwords[word]; stop {
			continue
		}
		out[word] = struct{}{}
	}
	return out
}
