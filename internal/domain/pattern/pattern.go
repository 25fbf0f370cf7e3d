// Package pattern holds the locale-aware matchers shared by local extraction and
// reconciliation: VAT numbers, IBANs, phone numbers, dates, currency codes and amounts.
// Everything here is a pure function over strings.
package pattern

import (
	"regexp"
	"sort"
	"strings"
)

// Matcher is a named, compiled pattern.
type Matcher struct {
	name string
	re   *regexp.Regexp
}

func newMatcher(name, expr string) *Matcher {
	return &Matcher{name: name, re: regexp.MustCompile(expr)}
}

// Name returns the matcher name used for lookup.
func (m *Matcher) Name() string { return m.name }

// Regexp exposes the compiled expression for composition into larger patterns.
func (m *Matcher) Regexp() *regexp.Regexp { return m.re }

// First returns the first match in text.
func (m *Matcher) First(text string) (string, bool) {
	loc := m.re.FindStringIndex(text)
	if loc == nil {
		return "", false
	}
	return strings.TrimSpace(text[loc[0]:loc[1]]), true
}

// Last returns the last match in text.
func (m *Matcher) Last(text string) (string, bool) {
	all := m.All(text)
	if len(all) == 0 {
		return "", false
	}
	return all[len(all)-1], true
}

// All returns every non-overlapping match in text order.
func (m *Matcher) All(text string) []string {
	found := m.re.FindAllString(text, -1)
	out := make([]string, 0, len(found))
	for _, f := range found {
		if s := strings.TrimSpace(f); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// amountExpr matches 9'188.50, 9 188,50, 1.234,56, 1,234.56 and plain 9188.50.
// Grouped form is tried first so thousands separators are consumed whole.
const amountExpr = `[-+]?(?:\d{1,3}(?:['’\x{00A0}\x{202F} .,]\d{3})+|\d+)(?:[.,]\d{1,2})?`

var (
	// VATNumber matches Swiss UID/VAT (CHE-123.456.789 [TVA|MWST|IVA]) and the common EU formats.
	VATNumber = newMatcher("vat_number",
		`(?i)\bCHE[-\s]?\d{3}[.\s]?\d{3}[.\s]?\d{3}(?:\s*(?:TVA|MWST|IVA|VAT))?\b|`+
			`\b(?:ATU\d{8}|BE0?\d{9,10}|DE\d{9}|ES[A-Z0-9]\d{7}[A-Z0-9]|FR[A-HJ-NP-Z0-9]{2}\d{9}|`+
			`IT\d{11}|LU\d{8}|NL\d{9}B\d{2}|PT\d{9})\b`)

	// IBAN matches an IBAN with optional single spaces between groups of four.
	IBAN = newMatcher("iban", `\b[A-Z]{2}\d{2}(?: ?[A-Z0-9]{4}){2,7}(?: ?[A-Z0-9]{1,3})?\b`)

	// SwissPhone matches +41 / 0041 / 0 prefixed Swiss numbers.
	SwissPhone = newMatcher("swiss_phone",
		`(?:\+41|0041|\b0)\s?(?:\(0\)\s?)?\d{2}[\s.]?\d{3}[\s.]?\d{2}[\s.]?\d{2}\b`)

	// Phone matches generic international numbers.
	Phone = newMatcher("phone", `\+\d{1,3}[\s\-.]?(?:\(\d{1,4}\)[\s\-.]?)?\d{2,4}(?:[\s\-.]?\d{2,4}){1,4}\b`)

	// Date matches day.month.year with a 2- or 4-digit year (also / or - separated).
	Date = newMatcher("date", `\b(\d{1,2})[./-](\d{1,2})[./-](\d{4}|\d{2})\b`)

	// ISODate matches YYYY-MM-DD.
	ISODate = newMatcher("iso_date", `\b(\d{4})-(\d{2})-(\d{2})\b`)

	// Currency matches the supported ISO currency codes.
	Currency = newMatcher("currency", `\b(?:CHF|EUR|USD)\b`)

	// Amount matches a locale-formatted number.
	Amount = newMatcher("amount", amountExpr)
)

var library = map[string]*Matcher{}

func init() {
	for _, m := range []*Matcher{VATNumber, IBAN, SwissPhone, Phone, Date, ISODate, Currency, Amount} {
		library[m.name] = m
	}
}

// Lookup returns a matcher by name.
func Lookup(name string) (*Matcher, bool) {
	m, ok := library[name]
	return m, ok
}

// Names lists every registered matcher, sorted.
func Names() []string {
	names := make([]string, 0, len(library))
	for n := range library {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AmountExpr returns the raw amount expression for embedding in labelled patterns.
func AmountExpr() string { return amountExpr }

// NormalizeIBAN strips spaces and upper-cases.
func NormalizeIBAN(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// ValidIBAN checks the ISO 13616 mod-97 checksum.
func ValidIBAN(s string) bool {
	iban := NormalizeIBAN(s)
	if len(iban) < 15 || len(iban) > 34 {
		return false
	}
	rearranged := iban[4:] + iban[:4]
	rem := 0
	for _, r := range rearranged {
		switch {
		case r >= '0' && r <= '9':
			rem = (rem*10 + int(r-'0')) % 97
		case r >= 'A' && r <= 'Z':
			v := int(r-'A') + 10
			rem = (rem*100 + v) % 97
		default:
			return false
		}
	}
	return rem == 1
}

// FindIBAN returns the first checksum-valid IBAN in text, normalized.
func FindIBAN(text string) (string, bool) {
	for _, m := range IBAN.All(text) {
		if ValidIBAN(m) {
			return NormalizeIBAN(m), true
		}
	}
	return "", false
}

// FindPhone prefers a Swiss number, then any international one.
func FindPhone(text string) (string, bool) {
	if p, ok := SwissPhone.First(text); ok {
		return p, true
	}
	return Phone.First(text)
}

// NormalizeVAT collapses whitespace in a VAT number and upper-cases it.
func NormalizeVAT(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), " "))
}
