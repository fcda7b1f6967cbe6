package chunk

import (
	"strings"
	"unicode/utf8"
)

// charsPerToken is the rough subword ratio for English prose.
const charsPerToken = 4

// EstimateTokens estimates the model token count for text. Each whitespace
// word costs at least one token, long words proportionally more.
func EstimateTokens(text string) int {
	total := 0
	for _, w := range strings.Fields(text) {
		total += wordTokens(w)
	}
	return total
}

func wordTokens(word string) int {
	n := utf8.RuneCountInString(word)
	if n == 0 {
		return 0
	}
	return (n + charsPerToken - 1) / charsPerToken
}
