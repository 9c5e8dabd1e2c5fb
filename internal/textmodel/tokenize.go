// Package textmodel implements the sentence/word tokenization that backs the
// storage node's write-transaction protocol: splitting a file's bytes into
// sentences, splitting a sentence into words, and rejoining both losslessly.
package textmodel

import "unicode"

// delimiters are the three sentence-terminating runes. Each is also a
// standalone one-token word when encountered mid-sentence.
const delimiters = ".!?"

// IsDelimiter reports whether r is one of the three sentence delimiters.
func IsDelimiter(r rune) bool {
	for _, d := range delimiters {
		if r == d {
			return true
		}
	}
	return false
}

// SplitSentences splits s into sentences. Every sentence except possibly the
// last ends in a delimiter rune, which is retained as the sentence's final
// byte(s). A non-empty trailing run of text with no delimiter becomes its
// own final, delimiter-less "sentence"; an empty s yields nil. Either way
// JoinSentences(SplitSentences(s)) == s holds byte-for-byte.
func SplitSentences(s string) []string {
	if s == "" {
		return nil
	}
	var sentences []string
	start := 0
	runes := []rune(s)
	for i, r := range runes {
		if IsDelimiter(r) {
			sentences = append(sentences, string(runes[start:i+1]))
			start = i + 1
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

// JoinSentences concatenates sentences back into the original byte sequence.
// Because SplitSentences never trims or rewrites bytes, this is a plain
// concatenation.
func JoinSentences(sentences []string) string {
	total := 0
	for _, s := range sentences {
		total += len(s)
	}
	buf := make([]byte, 0, total)
	for _, s := range sentences {
		buf = append(buf, s...)
	}
	return string(buf)
}

// EndsWithDelimiter reports whether s's last rune is a sentence delimiter.
// Used by the write transaction's append rule: appending past the last
// sentence is only legal when the file is empty or the current last
// sentence is already terminated.
func EndsWithDelimiter(s string) bool {
	if s == "" {
		return false
	}
	runes := []rune(s)
	return IsDelimiter(runes[len(runes)-1])
}

// SplitWords splits a sentence into words: whitespace separates words, and
// each delimiter rune is itself a standalone one-token word regardless of
// surrounding whitespace.
func SplitWords(sentence string) []string {
	var words []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}
	for _, r := range sentence {
		switch {
		case unicode.IsSpace(r):
			flush()
		case IsDelimiter(r):
			flush()
			words = append(words, string(r))
		default:
			cur = append(cur, r)
		}
	}
	flush()
	return words
}

// JoinWords rejoins words into a sentence, inserting a single space between
// adjacent non-delimiter tokens and no space before a delimiter token. This
// is the canonical form a round trip through SplitWords/JoinWords always
// produces, regardless of the original whitespace.
func JoinWords(words []string) string {
	var out []byte
	for i, w := range words {
		isDelim := len(w) == 1 && IsDelimiter(rune(w[0]))
		if i > 0 && !isDelim {
			out = append(out, ' ')
		}
		out = append(out, w...)
	}
	return string(out)
}

// Canonical returns the canonical form of a sentence: whitespace runs
// collapsed to single spaces, no space before a delimiter. It is exactly
// JoinWords(SplitWords(sentence)), exposed separately for readability at
// call sites that want to assert round-trip equivalence.
func Canonical(sentence string) string {
	return JoinWords(SplitWords(sentence))
}

// InsertWords returns a copy of words with insertion inserted starting at
// index idx (0 <= idx <= len(words)), shifting the tail to the right. It
// does not mutate words.
func InsertWords(words []string, idx int, insertion []string) []string {
	result := make([]string, 0, len(words)+len(insertion))
	result = append(result, words[:idx]...)
	result = append(result, insertion...)
	result = append(result, words[idx:]...)
	return result
}

// WordCount returns the number of words in a sentence's canonical form.
func WordCount(sentence string) int {
	return len(SplitWords(sentence))
}

// CharCount returns the number of bytes in s; exposed here so that metadata
// computation (size/word/char counts) lives next to the tokenizer that
// derives word counts. These are always recomputed from content at commit
// time, never persisted as an independent source of truth.
func CharCount(s string) int {
	return len(s)
}
