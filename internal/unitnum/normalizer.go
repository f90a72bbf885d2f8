// Package unitnum canonicalizes free-form unit/room designators into the
// token stored as a unit's normalized number and used for equality lookup.
package unitnum

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// descriptorPrefixRe strips a leading descriptor word (apartment, office,
// basement style prefixes, "№") with optional trailing punctuation.
var descriptorPrefixRe = regexp.MustCompile(`(?i)^\s*(кв|пом|оф|№|подвал)(\s*[.:]\s*|\s+)?`)

// romanRe matches a Roman numeral candidate; standalone-ness and the I–XXX
// range are checked separately.
var romanRe = regexp.MustCompile(`(?i)[ivx]+`)

// arabicRe matches a digit run optionally fused with one leading or trailing
// letter, possibly separated by spaces or hyphens ("5б", "5-Б", "05 Б").
var arabicRe = regexp.MustCompile(`(?i)\d+(?:[\s-]*[a-zа-яё])?|[a-zа-яё]?\d+`)

// romanValues covers I–XXX; larger numerals are not unit numbers in this
// domain and fall through to the arabic pattern.
var romanValues = map[string]int{
	"i": 1, "ii": 2, "iii": 3, "iv": 4, "v": 5, "vi": 6, "vii": 7, "viii": 8, "ix": 9,
	"x": 10, "xi": 11, "xii": 12, "xiii": 13, "xiv": 14, "xv": 15, "xvi": 16, "xvii": 17,
	"xviii": 18, "xix": 19, "xx": 20, "xxi": 21, "xxii": 22, "xxiii": 23, "xxiv": 24,
	"xxv": 25, "xxvi": 26, "xxvii": 27, "xxviii": 28, "xxix": 29, "xxx": 30,
}

// confusableFold maps the three Cyrillic letters visually confusable with
// Latin ones in this dataset. The set is deliberately narrow; widening it is
// a data change here, not new logic.
var confusableFold = map[rune]rune{'а': 'a', 'б': 'b', 'в': 'b'}

// Normalize canonicalizes a raw unit number designator. It is pure and
// idempotent: Normalize(Normalize(x)) == Normalize(x). Unparseable input
// returns ""; the caller decides the fallback.
func Normalize(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	s = descriptorPrefixRe.ReplaceAllString(s, "")

	token := firstRoman(s)
	if token == "" {
		token = firstStandalone(s, arabicRe)
	}
	if token == "" {
		return ""
	}

	token = strings.ToLower(token)
	token = strings.NewReplacer(" ", "", "-", "").Replace(token)
	return strings.Map(func(r rune) rune {
		if folded, ok := confusableFold[r]; ok {
			return folded
		}
		return r
	}, token)
}

// firstRoman returns the decimal string for the first standalone Roman
// numeral candidate, or "". A candidate outside the I–XXX range does not
// resolve and does not keep scanning: "XXXX" falls through to the arabic
// pattern, it does not yield a later numeral.
func firstRoman(s string) string {
	token := firstStandalone(s, romanRe)
	if token == "" {
		return ""
	}
	if v, ok := romanValues[strings.ToLower(token)]; ok {
		return strconv.Itoa(v)
	}
	return ""
}

// firstStandalone returns the first match whose neighbors are neither
// letters nor digits. Go's \b is ASCII-only, so the Unicode-aware boundary
// check is done by hand.
func firstStandalone(s string, re *regexp.Regexp) string {
	for _, loc := range re.FindAllStringIndex(s, -1) {
		if standalone(s, loc[0], loc[1]) {
			return s[loc[0]:loc[1]]
		}
	}
	return ""
}

func standalone(s string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:start])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	if end < len(s) {
		r, _ := utf8.DecodeRuneInString(s[end:])
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return false
		}
	}
	return true
}
