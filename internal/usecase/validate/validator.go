// Package validate coerces candidate field types and reconciles amounts.
// Normalization never fails: inconsistencies become annotations on the result.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/pattern"
)

// DefaultTolerance is one minor currency unit.
var DefaultTolerance = decimal.RequireFromString("0.01")

// Annotated field names.
const (
	FieldNet       = "net"
	FieldTaxRate   = "tax_rate"
	FieldTaxAmount = "tax_amount"
	FieldGross     = "gross"
	FieldIssueDate = "issue_date"
	FieldDueDate   = "due_date"
	FieldCurrency  = "currency"
)

// Annotation messages.
const (
	MsgInconsistentTotal = "inconsistent total"
	MsgInconsistentTax   = "tax amount inconsistent with net × rate"
	MsgUnparseableAmount = "unparseable amount"
	MsgUnparseableDate   = "unparseable date"
	MsgDueBeforeIssue    = "due date before issue date"
	MsgNegativeAmount    = "negative amount"
	MsgRateOutOfRange    = "tax rate outside [0, 100]"
	MsgCurrencyCode      = "not an ISO 4217 currency code"
)

const places = 2

var (
	hundred = decimal.NewFromInt(100)
	isoCode = regexp.MustCompile(`^[A-Z]{3}$`)
)

// Validator normalizes candidates.
type Validator struct {
	tolerance decimal.Decimal
	locale    pattern.Locale
}

// Option configures a Validator.
type Option func(*Validator)

// WithTolerance sets the reconciliation tolerance. Negative values are ignored.
func WithTolerance(t decimal.Decimal) Option {
	return func(v *Validator) {
		if !t.IsNegative() {
			v.tolerance = t
		}
	}
}

// WithLocale selects how raw amount strings are parsed.
func WithLocale(l pattern.Locale) Option {
	return func(v *Validator) { v.locale = l }
}

// New creates a validator with the default tolerance and Swiss amount parsing.
func New(opts ...Option) *Validator {
	v := &Validator{tolerance: DefaultTolerance, locale: pattern.LocaleCH}
	for _, o := range opts {
		o(v)
	}
	return v
}

// Tolerance returns the configured reconciliation tolerance.
func (v *Validator) Tolerance() decimal.Decimal { return v.tolerance }

// Normalize returns a normalized copy of c and its annotations.
//
// Raw amounts and dates are coerced, a missing tax amount or rate is derived from the
// other known amounts, and a missing net or gross is filled from the other two. Gross is
// never overwritten: a disagreement with net + tax yields one "gross" annotation whose
// suggested fix is the recomputed total.
func (v *Validator) Normalize(c candidate.Candidate) (candidate.Candidate, []candidate.ValidationError) {
	n := &normalizer{v: v, c: c}

	a := &n.c.Amounts
	a.Net = n.coerce(FieldNet, a.Net)
	a.TaxRate = n.coerce(FieldTaxRate, a.TaxRate)
	a.TaxAmount = n.coerce(FieldTaxAmount, a.TaxAmount)
	a.Gross = n.coerce(FieldGross, a.Gross)
	n.coerceLineItems()

	n.c.IssueDate = n.date(FieldIssueDate, n.c.IssueDate)
	n.c.DueDate = n.date(FieldDueDate, n.c.DueDate)
	n.c.Currency = strings.ToUpper(strings.TrimSpace(n.c.Currency))

	statedRate := a.TaxRate.IsParsed() && a.TaxAmount.IsParsed()
	n.derive()
	n.reconcile()
	n.checkTax(statedRate)
	n.checkRanges()
	n.c.Confidence = candidate.ClampConfidence(n.c.Confidence)

	return n.c, n.errs
}

type normalizer struct {
	v    *Validator
	c    candidate.Candidate
	errs []candidate.ValidationError
}

func (n *normalizer) annotate(field, msg string) {
	n.errs = append(n.errs, candidate.ValidationError{Field: field, Message: msg})
}

func (n *normalizer) coerce(field string, a candidate.Amount) candidate.Amount {
	if a.IsParsed() || a.IsZero() {
		return a
	}
	d, err := pattern.ParseAmountLocale(a.Raw(), n.v.locale)
	if err != nil {
		n.annotate(field, fmt.Sprintf("%s: %q", MsgUnparseableAmount, a.Raw()))
		return candidate.Amount{}
	}
	return candidate.NewAmount(d)
}

func (n *normalizer) coerceLineItems() {
	if len(n.c.LineItems) == 0 {
		return
	}
	items := make([]candidate.LineItem, len(n.c.LineItems))
	for i, li := range n.c.LineItems {
		prefix := fmt.Sprintf("line_items[%d].", i)
		li.Quantity = n.coerce(prefix+"quantity", li.Quantity)
		li.UnitPrice = n.coerce(prefix+"unit_price", li.UnitPrice)
		li.Total = n.coerce(prefix+"total", li.Total)
		items[i] = li
	}
	n.c.LineItems = items
}

func (n *normalizer) date(field, s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	iso, err := pattern.ParseSwissDate(s)
	if err != nil {
		n.annotate(field, fmt.Sprintf("%s: %q", MsgUnparseableDate, s))
		return ""
	}
	return iso
}

// derive fills gaps; it never annotates.
func (n *normalizer) derive() {
	a := &n.c.Amounts
	net, hasNet := a.Net.Decimal()
	rate, hasRate := a.TaxRate.Decimal()
	tax, hasTax := a.TaxAmount.Decimal()
	gross, hasGross := a.Gross.Decimal()

	switch {
	case hasRate && !hasTax && hasNet:
		tax, hasTax = net.Mul(rate).Div(hundred).Round(places), true
		a.TaxAmount = candidate.NewAmount(tax)
	case hasRate && !hasTax && hasGross && !rate.Equal(hundred.Neg()):
		tax, hasTax = gross.Mul(rate).Div(hundred.Add(rate)).Round(places), true
		a.TaxAmount = candidate.NewAmount(tax)
	case hasTax && !hasRate:
		base, ok := net, hasNet
		if !ok && hasGross {
			base, ok = gross.Sub(tax), true
		}
		if ok && !base.IsZero() {
			a.TaxRate = candidate.NewAmount(tax.Div(base).Mul(hundred).Round(places))
		}
	}

	switch {
	case !hasNet && hasGross && hasTax:
		a.Net = candidate.NewAmount(gross.Sub(tax))
	case hasNet && hasTax && !hasGross:
		a.Gross = candidate.NewAmount(net.Add(tax))
	}
}

func (n *normalizer) reconcile() {
	a := n.c.Amounts
	net, hasNet := a.Net.Decimal()
	tax, hasTax := a.TaxAmount.Decimal()
	gross, hasGross := a.Gross.Decimal()
	if !hasNet || !hasTax || !hasGross {
		return
	}
	expected := net.Add(tax)
	if gross.Sub(expected).Abs().GreaterThan(n.v.tolerance) {
		n.errs = append(n.errs, candidate.ValidationError{
			Field:        FieldGross,
			Message:      MsgInconsistentTotal,
			SuggestedFix: candidate.NewAmount(expected),
		})
	}
}

// checkTax compares a stated tax amount against net × rate.
func (n *normalizer) checkTax(stated bool) {
	if !stated {
		return
	}
	a := n.c.Amounts
	net, hasNet := a.Net.Decimal()
	rate, _ := a.TaxRate.Decimal()
	tax, _ := a.TaxAmount.Decimal()
	if !hasNet {
		return
	}
	expected := net.Mul(rate).Div(hundred).Round(places)
	if tax.Sub(expected).Abs().GreaterThan(n.v.tolerance) {
		n.errs = append(n.errs, candidate.ValidationError{
			Field:        FieldTaxAmount,
			Message:      MsgInconsistentTax,
			SuggestedFix: candidate.NewAmount(expected),
		})
	}
}

func (n *normalizer) checkRanges() {
	a := n.c.Amounts
	for _, f := range []struct {
		name string
		amt  candidate.Amount
	}{
		{FieldNet, a.Net},
		{FieldTaxAmount, a.TaxAmount},
		{FieldGross, a.Gross},
	} {
		if d, ok := f.amt.Decimal(); ok && d.IsNegative() {
			n.annotate(f.name, MsgNegativeAmount)
		}
	}
	if rate, ok := a.TaxRate.Decimal(); ok && (rate.IsNegative() || rate.GreaterThan(hundred)) {
		n.annotate(FieldTaxRate, MsgRateOutOfRange)
	}

	if n.c.IssueDate != "" && n.c.DueDate != "" {
		issue, err1 := time.Parse(time.DateOnly, n.c.IssueDate)
		due, err2 := time.Parse(time.DateOnly, n.c.DueDate)
		if err1 == nil && err2 == nil && due.Before(issue) {
			n.annotate(FieldDueDate, MsgDueBeforeIssue)
		}
	}

	if n.c.Currency != "" && !isoCode.MatchString(n.c.Currency) {
		n.annotate(FieldCurrency, MsgCurrencyCode)
	}
}
