// Package pii detects and redacts personally identifiable information,
// replacing each match with a sentinel token of the form
// [REDACTED:<KIND>]. Detection is deterministic for a fixed rule set and
// idempotent: redacting already-redacted text is a no-op, since sentinel
// tokens never match any pattern in the table.
package pii

import (
	"sort"
	"strings"

	"github.com/dlclark/regexp2"
)

// Kind classifies the type of PII a pattern detects.
type Kind string

const (
	KindEmail      Kind = "EMAIL"
	KindAPIKey     Kind = "API_KEY"
	KindSSN        Kind = "SSN"
	KindCreditCard Kind = "CREDIT_CARD"
	KindIPAddress  Kind = "IP_ADDRESS"
	KindPhone      Kind = "PHONE"
)

// pattern pairs a compiled regex with the PII kind it detects and a
// confidence score reflecting how specifically the regex identifies that
// kind: high confidence means low false-positive risk.
type pattern struct {
	re         *regexp2.Regexp
	kind       Kind
	confidence float64
}

// minConfidence is the floor below which a pattern is excluded from the
// table entirely — broad patterns like bare 5-digit ZIP codes match too
// much incidental numeric text to be worth carrying.
const minConfidence = 0.60

// Result is the outcome of redacting one piece of text.
type Result struct {
	HasPII        bool
	EntitiesFound []Kind
	RedactedText  string
}

// Redactor holds the compiled pattern table. The zero value is not usable;
// construct with New.
type Redactor struct {
	patterns []pattern
}

// New constructs a Redactor with the default pattern table.
func New() *Redactor {
	r := &Redactor{}
	r.compilePatterns()
	return r
}

func (r *Redactor) compilePatterns() {
	specs := []struct {
		expr       string
		kind       Kind
		confidence float64
	}{
		// Email: unambiguous structural markers (@, domain, TLD).
		{`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`, KindEmail, 0.95},
		// API key / secret / token: keyword prefix plus a long opaque token.
		{`(?i)(?:api[_\-]?key|access[_\-]?token|secret|bearer)[\s"':=]+([a-zA-Z0-9_\-.]{20,})`, KindAPIKey, 0.90},
		// SSN: structured hyphenated or bare 9-digit format.
		{`\b(?:\d{3}-\d{2}-\d{4}|\d{9})\b`, KindSSN, 0.85},
		// Credit card: 16-digit block pattern, optionally grouped.
		{`\b(?:\d{4}[\-\s]?){3}\d{4}\b`, KindCreditCard, 0.85},
		// IPv4: four dot-separated octets.
		{`\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`, KindIPAddress, 0.70},
		// Phone: NANP-style, optionally with country code and separators.
		{`(\+?1?[\-.\s]?)?\(?[0-9]{3}\)?[\-.\s]?[0-9]{3}[\-.\s]?[0-9]{4}`, KindPhone, 0.65},
	}

	for _, s := range specs {
		if s.confidence < minConfidence {
			continue
		}
		re := regexp2.MustCompile(s.expr, regexp2.None)
		r.patterns = append(r.patterns, pattern{re: re, kind: s.kind, confidence: s.confidence})
	}
}

// Redact replaces every detected PII span in text with a sentinel token
// [REDACTED:<KIND>]. Patterns are applied in table order; a span already
// consumed by an earlier pattern is not reconsidered by a later one.
func (r *Redactor) Redact(text string) Result {
	found := map[Kind]bool{}
	out := text

	for _, p := range r.patterns {
		var matched bool
		out, matched = redactPattern(out, p)
		if matched {
			found[p.kind] = true
		}
	}

	kinds := make([]Kind, 0, len(found))
	for k := range found {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	return Result{
		HasPII:        len(kinds) > 0,
		EntitiesFound: kinds,
		RedactedText:  out,
	}
}

func redactPattern(s string, p pattern) (string, bool) {
	m, err := p.re.FindStringMatch(s)
	if err != nil || m == nil {
		return s, false
	}

	var b strings.Builder
	last := 0
	matched := false
	token := "[REDACTED:" + string(p.kind) + "]"

	for m != nil {
		start := m.Index
		end := start + m.Length
		b.WriteString(s[last:start])
		b.WriteString(token)
		last = end
		matched = true

		m, err = p.re.FindNextMatch(m)
		if err != nil {
			break
		}
	}
	b.WriteString(s[last:])
	return b.String(), matched
}
