// Package sanitize reduces raw model completions to clean replies. The
// stages run in a fixed order; each one narrows the candidate text, so
// reordering them changes behavior.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MinReplyRunes is the inclusive acceptance threshold: a cleaned reply of
// 4 runes is rejected, 5 runes is accepted.
const MinReplyRunes = 5

// Apology is the canned reply sent when a completion is rejected as
// empty or degenerate.
const Apology = "Sorry, I didn't get that, please try again."

// trailingFragment matches a trailing run with no sentence-terminal
// punctuation. Removing it keeps text only up to and including the last
// of . ! ? or :.
var trailingFragment = regexp.MustCompile(`[^.!?:]+$`)

// Clean runs the sanitation pipeline over a raw completion. userLabel and
// charLabel are the display names the model was prompted with; markers
// are additional stop strings to scrub wherever they appear. The second
// return value is false when the remainder is too short to send.
//
// Clean is a pure function: identical arguments always produce identical
// results.
func Clean(raw, userLabel, charLabel string, markers []string) (string, bool) {
	// Stage 1: drop anything that is not valid UTF-8 rather than failing
	// the whole response.
	text := strings.ToValidUTF8(raw, "")

	// Stage 2: the model continuing the dialogue as the user is cut off.
	text, _, _ = strings.Cut(text, userLabel+":")

	// Stage 3: the model often opens by restating its own label.
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, charLabel+":")
	text = strings.TrimSpace(text)

	// Stage 4: scrub leftover separator and stop markers.
	for _, marker := range markers {
		text = strings.ReplaceAll(text, marker, "")
	}
	text = strings.TrimSpace(text)

	// Stage 5: drop a trailing incomplete sentence. Text with no terminal
	// punctuation at all disappears entirely.
	text = trailingFragment.ReplaceAllString(text, "")

	if utf8.RuneCountInString(text) < MinReplyRunes {
		return "", false
	}

	return text, true
}
