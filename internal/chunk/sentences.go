package chunk

import (
	"strings"
	"unicode"
)

// abbreviations that end with a period but do not terminate a sentence.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "sr": {}, "jr": {},
	"st": {}, "vs": {}, "etc": {}, "e.g": {}, "i.e": {}, "cf": {},
	"fig": {}, "no": {}, "vol": {}, "pp": {}, "approx": {}, "dept": {},
	"inc": {}, "ltd": {}, "co": {}, "corp": {}, "u.s": {}, "u.k": {},
}

// SplitSentences splits prose into sentences on terminal punctuation,
// keeping common abbreviations, initials, and decimal numbers intact.
// Whitespace inside each sentence is collapsed to single spaces.
func SplitSentences(text string) []string {
	runes := []rune(text)
	var sentences []string
	var current strings.Builder

	flush := func() {
		s := normalizeSpace(current.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}

	for pos := 0; pos < len(runes); pos++ {
		r := runes[pos]
		current.WriteRune(r)

		if r != '.' && r != '!' && r != '?' {
			continue
		}

		// Consume trailing closers like quotes and parens.
		end := pos
		for end+1 < len(runes) && isCloser(runes[end+1]) {
			end++
			current.WriteRune(runes[end])
		}

		if !boundaryAfter(runes, end) {
			pos = end
			continue
		}
		if r == '.' && isAbbreviation(current.String()) {
			pos = end
			continue
		}

		flush()
		pos = end
	}
	flush()
	return sentences
}

// boundaryAfter reports whether position end is followed by whitespace and a
// plausible sentence opener, or by end of text.
func boundaryAfter(runes []rune, end int) bool {
	next := end + 1
	if next >= len(runes) {
		return true
	}
	if !unicode.IsSpace(runes[next]) {
		return false
	}
	for next < len(runes) && unicode.IsSpace(runes[next]) {
		next++
	}
	if next >= len(runes) {
		return true
	}
	r := runes[next]
	return unicode.IsUpper(r) || unicode.IsDigit(r) || r == '"' || r == '\'' || r == '(' || r == '[' || r == '“'
}

// isAbbreviation reports whether the text ends in a known abbreviation or a
// single-letter initial, so its period is not a sentence boundary.
func isAbbreviation(text string) bool {
	trimmed := strings.TrimRight(text, ".!?\"')]”")
	if trimmed == "" {
		return false
	}
	idx := strings.LastIndexFunc(trimmed, unicode.IsSpace)
	word := strings.ToLower(trimmed[idx+1:])
	if len([]rune(word)) == 1 {
		return true // initials like "J. Smith"
	}
	_, ok := abbreviations[word]
	return ok
}

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”'
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
