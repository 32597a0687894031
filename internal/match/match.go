// Package match decides whether two free-text person records refer to the same
// person. It is the shared equivalence test used by the orphan promoter and the
// CSV importer's contact resolution caches.
package match

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"insight_backoffice_backend/platform/phone"
)

// Normalize lowercases the input, strips diacritics, removes every character
// that is not a letter, digit or space, and collapses runs of whitespace.
func Normalize(s string) string {
	lowered := strings.ToLower(strings.TrimSpace(s))
	if lowered == "" {
		return ""
	}

	// NFD + mark removal turns "joão" into "joao". The chain carries internal
	// buffers, so build it per call rather than sharing a package value.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripMarks, lowered)
	if err != nil {
		folded = lowered
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Names reports whether two free-text names refer to the same person.
// Exact normalized equality matches; otherwise the first and last tokens of
// each name must both be equal. Middle tokens are deliberately ignored: a
// swapped or abbreviated middle name still matches, and a three-part name with
// a different middle token matches too. Callers rely on this exact behavior to
// decide which records are promoted or skipped.
func Names(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}

	ta := strings.Fields(na)
	tb := strings.Fields(nb)
	return ta[0] == tb[0] && ta[len(ta)-1] == tb[len(tb)-1]
}

// Emails reports whether two email addresses are equal, case-insensitively.
// Either side being empty is never a match.
func Emails(a, b string) bool {
	ea := strings.ToLower(strings.TrimSpace(a))
	eb := strings.ToLower(strings.TrimSpace(b))
	if ea == "" || eb == "" {
		return false
	}
	return ea == eb
}

// Phones reports whether two phone numbers share the same trailing digits.
// Comparing only the tail accommodates leading country and area code
// variation. Either side having no digits is never a match.
func Phones(a, b string) bool {
	ta := phone.Tail(a)
	tb := phone.Tail(b)
	if ta == "" || tb == "" {
		return false
	}
	return ta == tb
}
