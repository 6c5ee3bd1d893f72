// Package hebrew holds script detection and text helpers shared by the
// translation and style components.
package hebrew

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Threshold is the minimum share of Hebrew letters for text to count as Hebrew.
const Threshold = 0.5

// isHebrewLetter reports whether r falls in the Hebrew block (U+0590–U+05FF).
func isHebrewLetter(r rune) bool {
	return r >= 0x0590 && r <= 0x05FF
}

// Counts returns the number of Hebrew letters and the number of letters overall.
// Digits, punctuation and emoji are not letters and do not count either way.
func Counts(text string) (hebrew, letters int) {
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if isHebrewLetter(r) {
			hebrew++
		}
	}
	return hebrew, letters
}

// Ratio returns the share of letters in text that are Hebrew, or 0 when
// text has no letters.
func Ratio(text string) float64 {
	h, total := Counts(text)
	if total == 0 {
		return 0
	}
	return float64(h) / float64(total)
}

// IsHebrew reports whether at least half of the letters in text are Hebrew.
func IsHebrew(text string) bool {
	return Ratio(text) >= Threshold
}

// Normalize applies NFC and trims surrounding whitespace. Captured DOM text
// can arrive decomposed, which breaks exact matching against glossary keys.
func Normalize(text string) string {
	return strings.TrimSpace(norm.NFC.String(text))
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
