package translate

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/itai-hania/HFI/internal/hebrew"
)

// ValidationError explains why a completion was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid translation: " + e.Reason
}

var (
	// Digit runs joined by slashes: "1/", "2/5", "12/05/2024".
	slashNumRe = regexp.MustCompile(`\d+(?:/\d*)+`)
	// Runs of three or more dashes, equals signs or asterisks.
	separatorRe = regexp.MustCompile(`-{3,}|={3,}|\*{3,}`)
)

// Common expressions that look like thread numbering but are not.
var allowedRatios = map[string]bool{
	"24/7":   true,
	"365/24": true,
}

const threadEmoji = "🧵"

// Validate accepts text when at least half of its letters are Hebrew and it
// carries no thread numbering or separators.
func Validate(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return &ValidationError{Reason: "empty output"}
	}
	he, letters := hebrew.Counts(text)
	if letters == 0 {
		return &ValidationError{Reason: "no letters"}
	}
	if ratio := float64(he) / float64(letters); ratio < hebrew.Threshold {
		return &ValidationError{Reason: fmt.Sprintf("Hebrew ratio too low: %.0f%%", ratio*100)}
	}
	if m := findMarker(text); m != "" {
		return &ValidationError{Reason: fmt.Sprintf("positional marker %q", m)}
	}
	if m := separatorRe.FindString(text); m != "" {
		return &ValidationError{Reason: fmt.Sprintf("separator %q", m)}
	}
	if strings.Contains(text, threadEmoji) {
		return &ValidationError{Reason: "thread emoji"}
	}
	return nil
}

// findMarker returns the first thread numbering in text, such as "1/" or
// "2/5", anywhere in a line. URLs, full dates and allowedRatios are skipped.
func findMarker(text string) string {
	text = urlRe.ReplaceAllString(text, " ")
	for _, loc := range slashNumRe.FindAllStringIndex(text, -1) {
		m := text[loc[0]:loc[1]]
		if loc[0] > 0 {
			if prev := text[loc[0]-1]; prev == '/' || isASCIIAlnum(prev) {
				continue
			}
		}
		if allowedRatios[m] {
			continue
		}
		parts := strings.Split(m, "/")
		if len(parts) > 2 {
			if parts[len(parts)-1] != "" {
				continue // a full date
			}
			return m
		}
		if len(parts[0]) > 3 || len(parts[1]) > 3 {
			continue
		}
		return m
	}
	return ""
}

func isASCIIAlnum(b byte) bool {
	return b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
