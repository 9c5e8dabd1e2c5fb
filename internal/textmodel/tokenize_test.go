package textmodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitJoinSentencesRoundTrip(t *testing.T) {
	cases := []string{
		"",
		"Hello world.",
		"A. B. C.",
		"Roses.",
		"Multiple sentences! With different? Delimiters.",
		"Trailing delimiter run...",
	}
	for _, s := range cases {
		got := JoinSentences(SplitSentences(s))
		assert.Equal(t, s, got, "round trip for %q", s)
	}
}

func TestSplitSentencesCount(t *testing.T) {
	sentences := SplitSentences("A. B. C.")
	require.Len(t, sentences, 3)
	assert.Equal(t, "A.", sentences[0])
	assert.Equal(t, " B.", sentences[1])
	assert.Equal(t, " C.", sentences[2])
}

func TestSplitSentencesTrailingNoDelimiter(t *testing.T) {
	sentences := SplitSentences("A. incomplete tail")
	require.Len(t, sentences, 2)
	assert.Equal(t, "A.", sentences[0])
	assert.Equal(t, " incomplete tail", sentences[1])
}

func TestEndsWithDelimiter(t *testing.T) {
	assert.True(t, EndsWithDelimiter("Hello world."))
	assert.False(t, EndsWithDelimiter("Hello world"))
	assert.False(t, EndsWithDelimiter(""))
}

func TestWordsRoundTripCanonical(t *testing.T) {
	cases := map[string]string{
		"Hello world.":             "Hello world.",
		"Hello   world.":           "Hello world.",
		"  leading and trailing  ": "leading and trailing",
		"No delimiter here":        "No delimiter here",
	}
	for in, want := range cases {
		words := SplitWords(in)
		got := JoinWords(words)
		assert.Equal(t, want, got, "canonical(%q)", in)
		assert.Equal(t, got, Canonical(in))
	}
}

func TestSplitWordsDelimiterIsOwnToken(t *testing.T) {
	words := SplitWords("big.")
	assert.Equal(t, []string{"big", "."}, words)
}

func TestInsertWords(t *testing.T) {
	words := []string{"A", "B", "C"}
	got := InsertWords(words, 1, []string{"X", "Y"})
	assert.Equal(t, []string{"A", "X", "Y", "B", "C"}, got)
	// original untouched
	assert.Equal(t, []string{"A", "B", "C"}, words)
}
