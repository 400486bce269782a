// Package normalizer implements the three-stage text canonicalizer used to
// collapse the adversarial space of semantically-equal inputs before
// embedding: invisible-character stripping and homoglyph folding, encoding
// decode, and final canonicalization (lower-case, whitespace collapse).
//
// Normalize is a pure function: utf8 -> utf8, deterministic, and tolerant of
// malformed input — partial decodes are left as-is rather than erroring.
package normalizer

import (
	"encoding/base64"
	"strconv"
	"strings"
	"unicode"

	"github.com/dlclark/regexp2"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// invisible runes stripped outright in stage 1: zero-width space/joiner/
// non-joiner, BOM, soft hyphen, word joiner.
var invisibleRunes = map[rune]bool{
	'​': true, // zero-width space
	'‌': true, // zero-width non-joiner
	'‍': true, // zero-width joiner
	'﻿': true, // BOM
	'­': true, // soft hyphen
	'⁠': true, // word joiner
}

// homoglyphFold maps common Cyrillic/Greek look-alikes to Latin equivalents.
var homoglyphFold = map[rune]rune{
	'а': 'a', 'А': 'A', // Cyrillic a
	'с': 'c', 'С': 'C', // Cyrillic es
	'е': 'e', 'Е': 'E', // Cyrillic ie
	'о': 'o', 'О': 'O', // Cyrillic o
	'р': 'p', 'Р': 'P', // Cyrillic er
	'х': 'x', 'Х': 'X', // Cyrillic ha
	'у': 'y', // Cyrillic u
	'і': 'i', 'І': 'I', // Cyrillic dotted i
	'ѕ': 's', // Cyrillic dze
	'ј': 'j', // Cyrillic je
	'Α': 'A', 'Β': 'B', 'Ε': 'E', 'Ζ': 'Z', 'Η': 'H', // Greek capitals
	'Ι': 'I', 'Κ': 'K', 'Μ': 'M', 'Ν': 'N', 'Ο': 'O',
	'Ρ': 'P', 'Τ': 'T', 'Υ': 'Y', 'Χ': 'X',
}

// base64Run matches contiguous runs of >= 20 base64-alphabet characters.
var base64Run = regexp2.MustCompile(`[A-Za-z0-9+/]{20,}={0,2}`, regexp2.None)

// hexEscape matches \xHH escapes.
var hexEscape = regexp2.MustCompile(`\\x([0-9A-Fa-f]{2})`, regexp2.None)

// percentEscape matches %HH percent-encoding.
var percentEscape = regexp2.MustCompile(`%([0-9A-Fa-f]{2})`, regexp2.None)

// htmlEntity matches numeric HTML entities &#N;.
var htmlEntity = regexp2.MustCompile(`&#(\d+);`, regexp2.None)

var lowerCaser = cases.Lower(language.Und)

// Normalize runs the three canonicalization stages in order and returns the
// result. It is idempotent: Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string) string {
	s = stripInvisiblesAndFoldHomoglyphs(s)
	s = decodeEncodings(s)
	s = canonicalize(s)
	return s
}

// stripInvisiblesAndFoldHomoglyphs is stage 1: remove invisible characters
// and combining diacritical marks, apply compatibility decomposition +
// composition (NFKC-equivalent via golang.org/x/text/unicode/norm), and fold
// common Cyrillic/Greek look-alikes to their Latin equivalents.
func stripInvisiblesAndFoldHomoglyphs(s string) string {
	decomposed := norm.NFKD.String(s)

	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if invisibleRunes[r] {
			continue
		}
		if unicode.Is(unicode.Mn, r) { // combining diacritical marks
			continue
		}
		if folded, ok := homoglyphFold[r]; ok {
			b.WriteRune(folded)
			continue
		}
		b.WriteRune(r)
	}
	return norm.NFKC.String(b.String())
}

// decodeEncodings is stage 2: in one pass over the string, heuristically
// detect and decode base64 runs, hex escapes, percent-encoding, and numeric
// HTML entities. Decoded text is appended as an addendum after the original
// token rather than replacing it — per the spec's Open Question, the source
// treats the decode as additive so downstream layers see both forms.
// Invalid decodes are left as-is.
func decodeEncodings(s string) string {
	s = appendDecodedMatches(s, base64Run, decodeBase64Addendum)
	s = appendDecodedMatches(s, hexEscape, decodeHexAddendum)
	s = appendDecodedMatches(s, percentEscape, decodePercentAddendum)
	s = appendDecodedMatches(s, htmlEntity, decodeHTMLEntityAddendum)
	return s
}

// appendDecodedMatches finds every match of re in s and, for each one where
// decode succeeds, appends " <decoded>" immediately after the matched token —
// unless that addendum is already present (case-insensitively, since stage 3
// lower-cases the whole string on every pass), in which case it is left
// alone. That check is what keeps a second Normalize call a no-op: without
// it, the original escape token is never consumed, so re-running the decode
// against its own output would append the addendum a second time.
func appendDecodedMatches(s string, re *regexp2.Regexp, decode func(match string) (string, bool)) string {
	m, err := re.FindStringMatch(s)
	if err != nil || m == nil {
		return s
	}

	var b strings.Builder
	last := 0
	for m != nil {
		start := m.Index
		end := start + m.Length
		b.WriteString(s[last:end])
		if decoded, ok := decode(m.String()); ok && decoded != "" {
			addendum := " " + decoded
			rest := s[end:]
			if len(rest) < len(addendum) || !strings.EqualFold(rest[:len(addendum)], addendum) {
				b.WriteString(addendum)
			}
		}
		last = end
		m, err = re.FindNextMatch(m)
		if err != nil {
			break
		}
	}
	b.WriteString(s[last:])
	return b.String()
}

func decodeBase64Addendum(match string) (string, bool) {
	trimmed := strings.TrimRight(match, "=")
	for _, enc := range []*base64.Encoding{base64.RawStdEncoding, base64.StdEncoding} {
		if decoded, err := enc.DecodeString(match); err == nil && isMostlyPrintable(decoded) {
			return string(decoded), true
		}
		if decoded, err := enc.DecodeString(trimmed); err == nil && isMostlyPrintable(decoded) {
			return string(decoded), true
		}
	}
	return "", false
}

func decodeHexAddendum(match string) (string, bool) {
	hexDigits := match[2:] // strip leading \x
	n, err := strconv.ParseUint(hexDigits, 16, 8)
	if err != nil {
		return "", false
	}
	return string(rune(n)), true
}

func decodePercentAddendum(match string) (string, bool) {
	hexDigits := match[1:] // strip leading %
	n, err := strconv.ParseUint(hexDigits, 16, 8)
	if err != nil {
		return "", false
	}
	return string(rune(n)), true
}

func decodeHTMLEntityAddendum(match string) (string, bool) {
	digits := match[2 : len(match)-1] // strip &# and ;
	n, err := strconv.ParseUint(digits, 10, 32)
	if err != nil || n == 0 || n > unicode.MaxRune {
		return "", false
	}
	return string(rune(n)), true
}

// isMostlyPrintable rejects base64 decodes that are mostly binary garbage,
// which keeps long opaque identifiers that happen to be base64-legal from
// polluting the addendum with noise.
func isMostlyPrintable(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	printable := 0
	for _, c := range b {
		if c == '\t' || c == '\n' || c == '\r' || (c >= 0x20 && c < 0x7f) {
			printable++
		}
	}
	return float64(printable)/float64(len(b)) >= 0.85
}

// canonicalize is stage 3: lower-case, collapse whitespace to single spaces,
// trim leading/trailing whitespace.
func canonicalize(s string) string {
	s = lowerCaser.String(s)
	s = collapseWhitespace(s)
	return strings.TrimSpace(s)
}

func collapseWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteByte(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
