package markov

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Tokenizer splits corpus lines into lowercase word tokens. It is not safe
// for concurrent use; give each goroutine its own.
type Tokenizer struct {
	lower cases.Caser
	buf   strings.Builder
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{lower: cases.Lower(language.Und)}
}

// Tokenize lowercases line, drops every rune that is not a word character,
// whitespace, apostrophe or hyphen, splits on whitespace and trims apostrophe
// and hyphen runs from both ends of each token. Apostrophes inside a token
// are dropped as well, so "It's" becomes "its".
func (t *Tokenizer) Tokenize(line string) []string {
	lowered := t.lower.String(line)

	t.buf.Reset()
	t.buf.Grow(len(lowered))
	for _, r := range lowered {
		if keepRune(r) {
			t.buf.WriteRune(r)
		}
	}

	fields := strings.Fields(t.buf.String())
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "'-")
		f = strings.ReplaceAll(f, "'", "")
		if f == "" {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// Tokenize is a convenience wrapper around a fresh Tokenizer.
func Tokenize(line string) []string {
	return NewTokenizer().Tokenize(line)
}

func keepRune(r rune) bool {
	switch {
	case r == '_', r == '\'', r == '-':
		return true
	case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r):
		return true
	case unicode.IsSpace(r):
		return true
	default:
		return false
	}
}
