// Package localextract pulls financial fields out of plain text with the pattern library.
// It never blocks and never fails: fields it cannot find stay absent.
package localextract

import (
	"regexp"
	"strings"

	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/domain/pattern"
)

// DefaultCurrency is assumed when the text names none.
const DefaultCurrency = "CHF"

const dateExpr = `(\d{4}-\d{2}-\d{2}|\d{1,2}[./-]\d{1,2}[./-](?:\d{4}|\d{2}))`

var amountGroup = `(` + pattern.AmountExpr() + `)`

// currencyPrefix tolerates a currency marker between label and figure.
const currencyPrefix = `[ \t:.]*(?:CHF|EUR|USD|Fr\.|€|\$)?[ \t:.]*`

// Invoice number patterns, most specific first. The first match wins.
var invoiceNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:n[°ºo]\s*(?:de\s+)?facture|rechnungs?[- ]?(?:nr|nummer)|invoice\s+(?:no|number|nr)|numero\s+fattura|n[°ºo]\s*fattura)\.?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/._]{1,30})`),
	regexp.MustCompile(`(?i)\b(?:facture|rechnung|invoice|fattura|factura)\s*(?:n[°º]|(?:nr|no)\b|#)\.?\s*[:#]?\s*([A-Z0-9][A-Z0-9\-/._]{1,30})`),
	regexp.MustCompile(`\b((?:INV|FAC|FA|RE|RG|F)[-/]?\d{2,4}[-/]?\d{1,6})\b`),
}

// Date contexts by priority. Issue date labels come before the bare fallback.
var (
	issueDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:date\s+(?:de\s+)?(?:la\s+)?facture|date\s+d['’]?[ée]mission|invoice\s+date|rechnungsdatum|data\s+(?:della\s+)?fattura|fecha\s+(?:de\s+)?factura)\s*[:.]?\s*` + dateExpr),
		regexp.MustCompile(`(?i)\b(?:date|datum|data|fecha)\s*[:.]\s*` + dateExpr),
	}
	dueDatePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(?:[ée]ch[ée]ance|due\s+date|payable\s+(?:until|by|jusqu['’]?au)|f[äa]llig(?:\s+am)?|zahlbar\s+bis|scadenza|vencimiento)\s*[:.]?\s*` + dateExpr),
	}
)

// Amount labels. Every match is collected and the last one wins.
var (
	grossPattern = regexp.MustCompile(`(?im)(?:^|[^\w-])(?:total\s*(?:ttc|g[ée]n[ée]ral|[àa]\s+payer|due|amount|inkl\.?\s*mwst)?|montant\s+(?:total|ttc|d[ûu])|net\s+[àa]\s+payer|gesamtbetrag|endbetrag|rechnungsbetrag|totale(?:\s+fattura)?|importe\s+total|amount\s+due|grand\s+total)` + currencyPrefix + amountGroup)
	netPattern   = regexp.MustCompile(`(?im)(?:sous[- ]total|sub[- ]?total|total\s*(?:ht|hors\s+taxes?|exkl\.?\s*mwst|net)|montant\s+ht|nettobetrag|zwischensumme|imponibile|base\s+imponible)` + currencyPrefix + amountGroup)
	taxPattern   = regexp.MustCompile(`(?i)\b(?:tva|mwst|mws|vat|iva|ust)\b\.?[ \t]*\(?[ \t]*(?:(\d{1,2}(?:[.,]\d{1,2})?)[ \t]*%)?[ \t]*\)?[ \t]*(?:de|sur|on|auf|von)?` + currencyPrefix + amountGroup)
	ratePattern  = regexp.MustCompile(`(?i)\b(?:tva|mwst|mws|vat|iva|ust)\b[^\n%]{0,20}?(\d{1,2}(?:[.,]\d{1,2})?)\s*%`)

	// totalQualifier marks a tax keyword that only qualifies a total ("Total inkl. MwSt").
	totalQualifier = regexp.MustCompile(`(?i)\b(?:total|inkl|exkl|incl|excl|zzgl|ohne|hors|sans)`)
)

// Option configures an Extractor.
type Option func(*Extractor)

// WithLocale selects the amount disambiguation rules.
func WithLocale(l pattern.Locale) Option {
	return func(e *Extractor) { e.locale = l }
}

// WithDefaultCurrency overrides DefaultCurrency.
func WithDefaultCurrency(code string) Option {
	return func(e *Extractor) {
		if code = strings.ToUpper(strings.TrimSpace(code)); code != "" {
			e.defaultCurrency = code
		}
	}
}

// Extractor is stateless and safe for concurrent use.
type Extractor struct {
	locale          pattern.Locale
	defaultCurrency string
}

// New creates an extractor.
func New(opts ...Option) *Extractor {
	e := &Extractor{locale: pattern.LocaleCH, defaultCurrency: DefaultCurrency}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract returns a partial candidate for text presumed to be of docType.
// Confidence is the weighted score of the fields found.
func (e *Extractor) Extract(text string, docType document.Type) candidate.Candidate {
	c := candidate.Candidate{DocumentType: docType}

	c.InvoiceNumber = firstGroup(invoiceNumberPatterns, text)
	if d := firstGroup(issueDatePatterns, text); d != "" {
		c.IssueDate = isoOrRaw(d)
	} else if d, ok := pattern.Date.First(text); ok {
		c.IssueDate = isoOrRaw(d)
	}
	if d := firstGroup(dueDatePatterns, text); d != "" {
		c.DueDate = isoOrRaw(d)
	}

	if cur, ok := pattern.Currency.First(text); ok {
		c.Currency = cur
		c.CurrencyExplicit = true
	} else {
		c.Currency = e.defaultCurrency
	}

	c.Amounts.Gross = e.lastAmount(grossPattern, text, 1, nil)
	c.Amounts.Net = e.lastAmount(netPattern, text, 1, nil)
	c.Amounts.TaxAmount = e.lastAmount(taxPattern, text, 2, totalQualifier)
	if m := lastMatch(ratePattern, text); m != nil {
		c.Amounts.TaxRate = e.parse(m[1])
	}
	if !c.Amounts.Net.Present() {
		c.Amounts.Net = deriveNet(c.Amounts)
	}

	if vat, ok := pattern.VATNumber.First(text); ok {
		c.Emitter.TaxID = pattern.NormalizeVAT(vat)
	}
	if iban, ok := pattern.FindIBAN(text); ok {
		c.Emitter.IBAN = iban
	}
	if phone, ok := pattern.FindPhone(text); ok {
		c.Emitter.Phone = phone
	}

	c.Confidence = candidate.Score(c)
	return c
}

// deriveNet returns gross - tax when both parsed.
func deriveNet(a candidate.Amounts) candidate.Amount {
	gross, okG := a.Gross.Decimal()
	tax, okT := a.TaxAmount.Decimal()
	if !okG || !okT {
		return candidate.Amount{}
	}
	return candidate.NewAmount(gross.Sub(tax))
}

// lastAmount parses the capture of the last match whose figure is not a percentage.
// A match is skipped when exclude matches the same line before it.
func (e *Extractor) lastAmount(re *regexp.Regexp, text string, group int, exclude *regexp.Regexp) candidate.Amount {
	all := re.FindAllStringSubmatchIndex(text, -1)
	for i := len(all) - 1; i >= 0; i-- {
		start, end := all[i][2*group], all[i][2*group+1]
		if start < 0 || strings.HasPrefix(strings.TrimLeft(text[end:], " \t"), "%") {
			continue
		}
		if exclude != nil && exclude.MatchString(linePrefix(text, all[i][0])) {
			continue
		}
		return e.parse(text[start:end])
	}
	return candidate.Amount{}
}

// linePrefix returns the text between the start of the line holding pos and pos.
func linePrefix(text string, pos int) string {
	return text[strings.LastIndexByte(text[:pos], '\n')+1 : pos]
}

// parse keeps the raw string when it cannot be read so the validator can flag it.
func (e *Extractor) parse(s string) candidate.Amount {
	d, err := pattern.ParseAmountLocale(s, e.locale)
	if err != nil {
		return candidate.RawAmount(strings.TrimSpace(s))
	}
	return candidate.NewAmount(d)
}

func firstGroup(patterns []*regexp.Regexp, text string) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return strings.TrimRight(strings.TrimSpace(m[1]), ".,;")
		}
	}
	return ""
}

func lastMatch(re *regexp.Regexp, text string) []string {
	all := re.FindAllStringSubmatch(text, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func isoOrRaw(s string) string {
	if iso, err := pattern.ParseSwissDate(s); err == nil {
		return iso
	}
	return s
}
