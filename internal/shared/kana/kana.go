// Package kana canonicalizes Japanese text for comparison.
package kana

import (
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Spacing (non-combining) sound marks become combining so NFC can compose
// them with the preceding kana.
var soundMarks = strings.NewReplacer(
	"\u309B", "\u3099",
	"\u309C", "\u309A",
)

// Fold maps half-width katakana to full width and full-width ASCII to
// ASCII, then composes dakuten and handakuten. Kanji and hiragana pass
// through unchanged.
func Fold(s string) string {
	return norm.NFC.String(soundMarks.Replace(width.Fold.String(s)))
}
