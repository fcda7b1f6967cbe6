package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitSentencesBasic(t *testing.T) {
	got := SplitSentences("The cache warmed up. Latency dropped sharply! Did throughput hold?")

	assert.Equal(t, []string{
		"The cache warmed up.",
		"Latency dropped sharply!",
		"Did throughput hold?",
	}, got)
}

func TestSplitSentencesKeepsAbbreviations(t *testing.T) {
	got := SplitSentences("Dr. Smith reviewed the draft. Mr. Jones signed off.")

	assert.Equal(t, []string{
		"Dr. Smith reviewed the draft.",
		"Mr. Jones signed off.",
	}, got)
}

func TestSplitSentencesKeepsInitialsAndDecimals(t *testing.T) {
	got := SplitSentences("J. Doe measured 3.14 seconds per request. The result was stable.")

	assert.Equal(t, []string{
		"J. Doe measured 3.14 seconds per request.",
		"The result was stable.",
	}, got)
}

func TestSplitSentencesCollapsesWhitespace(t *testing.T) {
	got := SplitSentences("First  line\ncontinues here.   Second\tone.")

	assert.Equal(t, []string{
		"First line continues here.",
		"Second one.",
	}, got)
}

func TestSplitSentencesHandlesClosingQuote(t *testing.T) {
	got := SplitSentences(`She said "ship it." The team agreed.`)

	assert.Equal(t, []string{
		`She said "ship it."`,
		"The team agreed.",
	}, got)
}

func TestSplitSentencesEmptyInput(t *testing.T) {
	assert.Empty(t, SplitSentences(""))
	assert.Empty(t, SplitSentences("   \n\t  "))
}

func TestSplitSentencesNoTerminalPunctuation(t *testing.T) {
	got := SplitSentences("a bare fragment without punctuation")
	assert.Equal(t, []string{"a bare fragment without punctuation"}, got)
}

func TestEstimateTokens(t *testing.T) {
	assert.Zero(t, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("hi"))
	assert.Equal(t, 2, EstimateTokens("hi there"))
	// 12 runes rounds up to 3 tokens.
	assert.Equal(t, 3, EstimateTokens("abcdefghijkl"))
}
