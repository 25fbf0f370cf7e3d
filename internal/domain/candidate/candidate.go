// Package candidate holds the extraction result shared by both extraction paths,
// the validation annotations attached to it, and the confidence weights.
package candidate

import (
	"math"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kailas-cloud/docextract/internal/domain/document"
)

// Role names the counterparty relative to the owning organization.
type Role string

// Counterparty roles.
const (
	RoleClient   Role = "client"
	RoleSupplier Role = "supplier"
)

// Party is an emitter or counterparty.
type Party struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	TaxID   string `json:"tax_id,omitempty"`
	IBAN    string `json:"iban,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Country string `json:"country,omitempty"`
}

// IsZero reports an entirely empty party.
func (p Party) IsZero() bool { return p == Party{} }

// LineItem is one row of the line-items table.
type LineItem struct {
	Description string `json:"description,omitempty"`
	Quantity    Amount `json:"quantity,omitzero"`
	UnitPrice   Amount `json:"unit_price,omitzero"`
	Total       Amount `json:"total,omitzero"`
}

// Amounts groups the reconciled totals. TaxRate is a percentage (8.1 means 8.1%).
type Amounts struct {
	Net       Amount `json:"net,omitzero"`
	TaxRate   Amount `json:"tax_rate,omitzero"`
	TaxAmount Amount `json:"tax_amount,omitzero"`
	Gross     Amount `json:"gross,omitzero"`
}

// Candidate is a (possibly partial) structured extraction result.
type Candidate struct {
	DocumentType     document.Type `json:"document_type"`
	Confidence       float64       `json:"confidence"`
	LowConfidence    bool          `json:"low_confidence,omitempty"`
	InvoiceNumber    string        `json:"invoice_number,omitempty"`
	Emitter          Party         `json:"emitter,omitzero"`
	Counterparty     Party         `json:"counterparty,omitzero"`
	CounterpartyRole Role          `json:"counterparty_role,omitempty"`
	IssueDate        string        `json:"issue_date,omitempty"`
	DueDate          string        `json:"due_date,omitempty"`
	Currency         string        `json:"currency,omitempty"`
	LineItems        []LineItem    `json:"line_items,omitempty"`
	Amounts          Amounts       `json:"amounts"`

	// CurrencyExplicit is false when Currency was defaulted rather than read.
	CurrencyExplicit bool `json:"-"`
	// MappingHint is the model's own guess at target properties (notion_mapping).
	MappingHint map[string]string `json:"-"`
}

// ValidationError annotates a candidate; it never blocks emission of the result.
type ValidationError struct {
	Field        string `json:"field"`
	Message      string `json:"message"`
	SuggestedFix Amount `json:"suggested_fix,omitzero"`
}

// Per-field confidence weights. They sum to 1.
const (
	WeightInvoiceNumber = 0.20
	WeightIssueDate     = 0.15
	WeightDueDate       = 0.05
	WeightCurrency      = 0.05
	WeightGross         = 0.25
	WeightTaxAmount     = 0.10
	WeightNet           = 0.10
	WeightEmitter       = 0.05
	WeightCounterparty  = 0.05
)

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

func isISODate(s string) bool {
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

// Score sums the weights of every field found present and well-formed, capped at 1.
func Score(c Candidate) float64 {
	score := 0.0
	add := func(ok bool, w float64) {
		if ok {
			score += w
		}
	}
	add(c.InvoiceNumber != "", WeightInvoiceNumber)
	add(isISODate(c.IssueDate), WeightIssueDate)
	add(isISODate(c.DueDate), WeightDueDate)
	add(c.CurrencyExplicit && currencyCode.MatchString(c.Currency), WeightCurrency)
	add(c.Amounts.Gross.IsParsed(), WeightGross)
	add(c.Amounts.TaxAmount.IsParsed(), WeightTaxAmount)
	add(c.Amounts.Net.IsParsed(), WeightNet)
	add(c.Emitter.Name != "", WeightEmitter)
	add(c.Counterparty.Name != "", WeightCounterparty)
	return ClampConfidence(math.Round(score*100) / 100)
}

// ClampConfidence bounds v to [0,1]; NaN becomes 0.
func ClampConfidence(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Canonical source field keys consumed by the schema mapper.
const (
	FieldNumber          = "numero"
	FieldIssueDate       = "date_emission"
	FieldDueDate         = "date_echeance"
	FieldCurrency        = "devise"
	FieldNet             = "montant_ht"
	FieldTaxRate         = "taux_tva"
	FieldTaxAmount       = "montant_tva"
	FieldGross           = "montant_ttc"
	FieldEmitter         = "emetteur"
	FieldEmitterTaxID    = "tva_emetteur"
	FieldEmitterIBAN     = "iban"
	FieldCounterparty    = "contrepartie"
	FieldCounterpartyCty = "pays"
)

// Fields flattens the candidate into canonical keys. Only present values are included.
// Values are string or decimal.Decimal.
func (c Candidate) Fields() map[string]any {
	out := make(map[string]any)
	putS := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	putA := func(k string, a Amount) {
		if d, ok := a.Decimal(); ok {
			out[k] = d
		}
	}
	putS(FieldNumber, c.InvoiceNumber)
	putS(FieldIssueDate, c.IssueDate)
	putS(FieldDueDate, c.DueDate)
	putS(FieldCurrency, c.Currency)
	putA(FieldNet, c.Amounts.Net)
	putA(FieldTaxRate, c.Amounts.TaxRate)
	putA(FieldTaxAmount, c.Amounts.TaxAmount)
	putA(FieldGross, c.Amounts.Gross)
	putS(FieldEmitter, c.Emitter.Name)
	putS(FieldEmitterTaxID, c.Emitter.TaxID)
	putS(FieldEmitterIBAN, c.Emitter.IBAN)
	putS(FieldCounterparty, c.Counterparty.Name)
	putS(FieldCounterpartyCty, c.Counterparty.Country)
	return out
}

// FieldsFromMap builds a candidate from canonical keys. Used by callers that already
// hold a flat field set (record store re-imports, tests).
func FieldsFromMap(m map[string]any) Candidate {
	var c Candidate
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	amt := func(k string) Amount {
		switch v := m[k].(type) {
		case decimal.Decimal:
			return NewAmount(v)
		case float64:
			return NewAmount(decimal.NewFromFloat(v))
		case int:
			return NewAmount(decimal.NewFromInt(int64(v)))
		case string:
			return RawAmount(v)
		}
		return Amount{}
	}
	c.InvoiceNumber = str(FieldNumber)
	c.IssueDate = str(FieldIssueDate)
	c.DueDate = str(FieldDueDate)
	c.Currency = str(FieldCurrency)
	c.CurrencyExplicit = c.Currency != ""
	c.Amounts = Amounts{
		Net:       amt(FieldNet),
		TaxRate:   amt(FieldTaxRate),
		TaxAmount: amt(FieldTaxAmount),
		Gross:     amt(FieldGross),
	}
	c.Emitter.Name = str(FieldEmitter)
	c.Emitter.TaxID = str(FieldEmitterTaxID)
	c.Emitter.IBAN = str(FieldEmitterIBAN)
	c.Counterparty.Name = str(FieldCounterparty)
	c.Counterparty.Country = str(FieldCounterpartyCty)
	return c
}

// Extraction is a vision model result: the candidate plus the usage of the call that produced it.
type Extraction struct {
	Candidate        Candidate
	PromptTokens     int
	CompletionTokens int
	Model            string
}
