// Package textutil provides text normalization shared by the NL pipeline.
// All matching downstream (intent patterns, entity extraction, selector
// scoring) operates on normalized text: lower case, no diacritics, single
// spaces.
package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

var (
	spaceRx = regexp.MustCompile(`\s+`)
	wordRx  = regexp.MustCompile(`[a-z0-9_]+`)
	camelRx = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	acronRx = regexp.MustCompile(`([A-Z])([A-Z][a-z])`)
	splitRx = regexp.MustCompile(`[^a-z0-9]+`)
)

// StripAccents removes combining marks after NFKD decomposition, so
// "Cuántas" and "cuantas" compare equal once lower-cased. Punctuation like
// "¿" is not a combining mark and survives; tokenization discards it.
func StripAccents(s string) string {
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Normalize case-folds, strips accents and collapses whitespace.
func Normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = StripAccents(text)
	return spaceRx.ReplaceAllString(text, " ")
}

// Tokenize returns the word tokens of the normalized text.
func Tokenize(text string) []string {
	return wordRx.FindAllString(Normalize(text), -1)
}

// SplitIdent splits a SQL identifier into lower-cased tokens. Dots,
// underscores and camel-case boundaries all cut: "dbo.FechaCita" yields
// ["dbo", "fecha", "cita"].
func SplitIdent(ident string) []string {
	ident = StripAccents(strings.TrimSpace(ident))
	var tokens []string
	for _, part := range strings.FieldsFunc(ident, func(r rune) bool { return r == '.' || r == '_' }) {
		cut := camelRx.ReplaceAllString(part, "$1 $2")
		cut = acronRx.ReplaceAllString(cut, "$1 $2")
		for _, t := range splitRx.Split(strings.ToLower(cut), -1) {
			if t != "" {
				tokens = append(tokens, t)
			}
		}
	}
	return tokens
}
