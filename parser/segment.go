// Package parser turns a vision model narrative into an ordered sequence of
// sentence fragments. The rule is deliberately dumb: a fixed character
// allow-list and a literal ". " split. Downstream prompt composition depends
// on this exact behavior, so do not swap in a smarter tokenizer.
package parser

import (
	"strings"
	"unicode"
)

// Normalize collapses all whitespace runs to single spaces and strips every
// character outside letters, digits, '.', ',', '-' and space.
func Normalize(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")

	var b strings.Builder
	b.Grow(len(collapsed))
	for _, r := range collapsed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) ||
			r == '.' || r == ',' || r == '-' || r == ' ' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Segment normalizes the narrative and splits it on ". " into sentence
// fragments. A trailing period is trimmed from each fragment and empty
// fragments are dropped. Abbreviations and decimal numbers split wrong and
// that is accepted.
func Segment(text string) []string {
	normalized := Normalize(text)
	if normalized == "" {
		return nil
	}

	parts := strings.Split(normalized, ". ")
	var sentences []string
	for _, p := range parts {
		p = strings.TrimSuffix(strings.TrimSpace(p), ".")
		p = strings.TrimSpace(p)
		if p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}
