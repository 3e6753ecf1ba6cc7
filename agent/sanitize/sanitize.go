// Package sanitize normalizes raw model output before it is surfaced
// to a customer.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxOutputRunes bounds how much text ever leaves the system.
	MaxOutputRunes = 2000
	minOutputRunes = 3
	ellipsis       = "…"
)

var (
	// An internal-note tag swallows its own line and every following
	// line that still starts with a bracketed tag.
	internalNotePattern = regexp.MustCompile(`(?i)\[nota interna\][^\n]*(?:\n\[[^\n]*)*`)
	// A debug tag swallows the rest of its line.
	debugPattern = regexp.MustCompile(`(?i)\[debug\][^\n]*`)
	// Bare markers are removed in place.
	bareMarkerPattern = regexp.MustCompile(`(?i)\[(?:interno|sistema|fim)\]`)

	newlineRunPattern = regexp.MustCompile(`\n{3,}`)
	spaceRunPattern   = regexp.MustCompile(` {2,}`)
)

// Clean trims, strips internal-only markers, collapses whitespace and
// bounds the text. The second return is false when nothing presentable
// remains. Clean is idempotent over its own output.
func Clean(raw string) (string, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", false
	}

	text = internalNotePattern.ReplaceAllString(text, "")
	text = debugPattern.ReplaceAllString(text, "")
	text = bareMarkerPattern.ReplaceAllString(text, "")

	text = newlineRunPattern.ReplaceAllString(text, "\n\n")
	text = spaceRunPattern.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) < minOutputRunes {
		return "", false
	}

	if utf8.RuneCountInString(text) > MaxOutputRunes {
		runes := []rune(text)
		head := strings.TrimRight(string(runes[:MaxOutputRunes-1]), " \n\t")
		text = head + ellipsis
	}

	return text, true
}
