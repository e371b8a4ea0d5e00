// Package normalize provides the text-cleaning functions shared by the
// aggregator, scorer and resolver. Every function is pure and total: a
// malformed value degrades to "" or false instead of returning an error.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// officePattern bounds the code by any rune that is not a letter or digit of
// some script, so '_' separates and "ÉCA010" holds no code.
var officePattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])([a-z]{2})[\s-]?(\d{3})(?:$|[^\p{L}\p{N}])`)

// fold applies NFKC and Unicode lower-casing. A Caser keeps state, so one is
// created per call.
func fold(text string) string {
	return cases.Lower(language.Und).String(norm.NFKC.String(text))
}

// OfficeCode extracts the first two-letter/three-digit office code from free
// text ("Office ca-010 (Main)" -> "CA010"). It returns "" when none is present.
func OfficeCode(text string) string {
	m := officePattern.FindStringSubmatch(norm.NFKC.String(text))
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1]) + m[2]
}

// Name lower-cases a person name, drops punctuation other than hyphen and
// apostrophe and collapses whitespace. Letters of any script are kept.
func Name(text string) string {
	folded := fold(text)

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.Is(unicode.Mn, r):
		case r == '-' || r == '\'':
		case r == '’' || r == 'ʼ':
			r = '\''
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
			continue
		default:
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SplitCustomerName splits a customer name into normalized first and last
// names. "Last, First" is honoured when a comma is present; otherwise the
// first token is the first name and the rest is the last name. A single token
// is treated as the last name.
func SplitCustomerName(text string) (first, last string) {
	if before, after, ok := strings.Cut(text, ","); ok {
		return Name(after), Name(before)
	}

	fields := strings.Fields(Name(text))
	switch len(fields) {
	case 0:
		return "", ""
	case 1:
		return "", fields[0]
	default:
		return fields[0], strings.Join(fields[1:], " ")
	}
}

// Initial returns the first rune of a normalized name, or "" when empty
func Initial(name string) string {
	for _, r := range name {
		return string(r)
	}
	return ""
}

// Status folds a free-text status for comparison: lower-case, underscores
// and hyphens treated as spaces, whitespace collapsed
func Status(text string) string {
	folded := strings.NewReplacer("_", " ", "-", " ").Replace(fold(text))
	return strings.Join(strings.Fields(folded), " ")
}

// Category folds a fee category the same way as a status
func Category(text string) string {
	return Status(text)
}

// Fold lower-cases text for case-insensitive search and collapses whitespace.
// Punctuation is kept.
func Fold(text string) string {
	return strings.Join(strings.Fields(fold(text)), " ")
}
