package reconciliation

import (
	"strings"
	"unicode"

	"github.com/clinicops/platform/internal/shared/kana"
)

// NormalizeName canonicalizes a payer name for comparison: quotes and
// whitespace are removed, and widths and sound marks are folded by
// kana.Fold.
func NormalizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '"' || r == '\'' || r == '\u201C' || r == '\u201D' {
			return -1
		}
		return r
	}, kana.Fold(s))
}
