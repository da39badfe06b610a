package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var abbreviations = map[string]struct{}{
	"e.g.": {}, "i.e.": {}, "etc.": {}, "vs.": {}, "mr.": {}, "mrs.": {}, "ms.": {},
	"dr.": {}, "prof.": {}, "st.": {}, "no.": {}, "fig.": {}, "approx.": {},
	"inc.": {}, "ltd.": {}, "co.": {}, "jr.": {}, "sr.": {}, "cf.": {},
}

// splitSentences splits text into sentences. Line breaks always end a
// sentence, so list items and table rows come back as their own entries.
func splitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, splitLine(line)...)
	}
	return out
}

func splitLine(line string) []string {
	var out []string
	start := 0
	for i := 0; i < len(line); {
		r, size := utf8.DecodeRuneInString(line[i:])
		i += size
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		end := i
		for end < len(line) && strings.IndexByte(`"')]`, line[end]) >= 0 {
			end++
		}
		if end < len(line) && line[end] != ' ' && line[end] != '\t' {
			continue
		}
		if r == '.' && isAbbreviation(line[start:end]) {
			continue
		}
		if next := nextRune(line[end:]); next != 0 && unicode.IsLower(next) {
			continue
		}
		if s := strings.TrimSpace(line[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
		i = end
	}
	if s := strings.TrimSpace(line[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func isAbbreviation(segment string) bool {
	fields := strings.Fields(segment)
	if len(fields) == 0 {
		return false
	}
	last := strings.ToLower(fields[len(fields)-1])
	if _, ok := abbreviations[last]; ok {
		return true
	}
	// single initials such as "J."
	return utf8.RuneCountInString(last) == 2 && unicode.IsLetter([]rune(last)[0])
}

func nextRune(s string) rune {
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return r
		}
	}
	return 0
}

// endsSentence reports whether s finishes with terminal punctuation,
// ignoring closing quotes and brackets.
func endsSentence(s string) bool {
	s = strings.TrimRight(strings.TrimSpace(s), `"')]”’`)
	if s == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(s)
	return last == '.' || last == '!' || last == '?'
}
