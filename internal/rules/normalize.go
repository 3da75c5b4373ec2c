// Package rules implements the ordered decision chains applied to undecided
// tickets. Rules are pure predicates over a ticket's snapshot and detection
// fields; the evaluator walks them in priority order and the first match
// wins. Vietnamese place names are compared after case and diacritic
// folding, so "Hồ Chí Minh" and "ho chi minh" are the same token.
package rules

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Fold lowercases s, strips combining diacritic marks and trims whitespace.
// The đ/Đ letters are not combining marks under NFD, so they are mapped by
// hand.
func Fold(s string) string {
	out, _, err := transform.String(foldTransformer, s)
	if err != nil {
		out = s
	}
	out = strings.Map(func(r rune) rune {
		switch r {
		case 'đ', 'Đ':
			return 'd'
		}
		return r
	}, out)
	return strings.ToLower(strings.TrimSpace(out))
}

// xorContains reports whether exactly one of the folded strings contains the
// other. Equal strings contain each other both ways and therefore do not
// match; empty strings are contained by everything and are rejected the same
// way. This keeps trivial containment from approving an address change.
func xorContains(a, b string) bool {
	a, b = Fold(a), Fold(b)
	if a == "" || b == "" {
		return false
	}
	ab := strings.Contains(a, b)
	ba := strings.Contains(b, a)
	return ab != ba
}

// foldedContains reports whether the folded haystack contains the folded
// needle. Unlike xorContains this is one-directional and accepts equality.
func foldedContains(haystack, needle string) bool {
	h, n := Fold(haystack), Fold(needle)
	if h == "" || n == "" {
		return false
	}
	return strings.Contains(h, n)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
