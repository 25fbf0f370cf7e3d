package docextract

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/domain/schema"
	"github.com/kailas-cloud/docextract/internal/usecase/pipeline"
)

// DocumentType is the business category of a document.
type DocumentType string

// Document types.
const (
	ClientInvoice   DocumentType = DocumentType(document.ClientInvoice)
	SupplierInvoice DocumentType = DocumentType(document.SupplierInvoice)
	Contract        DocumentType = DocumentType(document.Contract)
	ExpenseNote     DocumentType = DocumentType(document.ExpenseNote)
)

// Party is an emitter or counterparty.
type Party struct {
	Name    string
	Address string
	TaxID   string
	IBAN    string
	Phone   string
	Country string
}

// LineItem is one row of the line-items table. Nil amounts were not found.
type LineItem struct {
	Description string
	Quantity    *decimal.Decimal
	UnitPrice   *decimal.Decimal
	Total       *decimal.Decimal
}

// ValidationError annotates a result; the result is still returned.
type ValidationError struct {
	Field        string
	Message      string
	SuggestedFix *decimal.Decimal
}

// Property is one typed target property. Value holds a string, decimal.Decimal,
// bool or []string depending on Type.
type Property struct {
	Type  string
	Value any
}

// Result is a successfully processed document.
type Result struct {
	DocumentType     DocumentType
	Confidence       float64
	LowConfidence    bool
	InvoiceNumber    string
	Emitter          Party
	Counterparty     Party
	IssueDate        string
	DueDate          string
	Currency         string
	LineItems        []LineItem
	Net              *decimal.Decimal
	TaxRate          *decimal.Decimal
	TaxAmount        *decimal.Decimal
	Gross            *decimal.Decimal
	ValidationErrors []ValidationError
	Collection       string
	Properties       map[string]Property
	ExtractionPath   string
	ProcessingTime   time.Duration

	// Cache is "hit", "miss" or "bypass".
	Cache  string
	Digest string
	// JSON is the serialized result exactly as cached.
	JSON []byte
}

func resultFromOutput(out pipeline.Output) (Result, error) {
	r, err := out.Decode()
	if err != nil {
		return Result{}, err //nolint:wrapcheck // already wrapped by Decode
	}
	c := r.ExtractedData
	res := Result{
		DocumentType:     DocumentType(r.DocumentType),
		Confidence:       r.Confidence,
		LowConfidence:    c.LowConfidence,
		InvoiceNumber:    c.InvoiceNumber,
		Emitter:          partyFrom(c.Emitter),
		Counterparty:     partyFrom(c.Counterparty),
		IssueDate:        c.IssueDate,
		DueDate:          c.DueDate,
		Currency:         c.Currency,
		Net:              decimalPtr(c.Amounts.Net),
		TaxRate:          decimalPtr(c.Amounts.TaxRate),
		TaxAmount:        decimalPtr(c.Amounts.TaxAmount),
		Gross:            decimalPtr(c.Amounts.Gross),
		Collection:       r.SchemaMapping.TargetCollection,
		Properties:       propertiesFrom(r.SchemaMapping.Properties),
		ExtractionPath:   r.ExtractionPath,
		ProcessingTime:   time.Duration(r.ProcessingTimeMS) * time.Millisecond,
		Cache:            string(out.Cache),
		Digest:           out.Digest,
		JSON:             out.Body,
	}
	for _, li := range c.LineItems {
		res.LineItems = append(res.LineItems, LineItem{
			Description: li.Description,
			Quantity:    decimalPtr(li.Quantity),
			UnitPrice:   decimalPtr(li.UnitPrice),
			Total:       decimalPtr(li.Total),
		})
	}
	for _, ve := range r.ValidationErrors {
		res.ValidationErrors = append(res.ValidationErrors, ValidationError{
			Field:        ve.Field,
			Message:      ve.Message,
			SuggestedFix: decimalPtr(ve.SuggestedFix),
		})
	}
	return res, nil
}

func partyFrom(p candidate.Party) Party {
	return Party{p.Name, p.Address, p.TaxID, p.IBAN, p.Phone, p.Country}
}

func decimalPtr(a candidate.Amount) *decimal.Decimal {
	d, ok := a.Decimal()
	if !ok {
		return nil
	}
	return &d
}

func propertiesFrom(in map[string]schema.Value) map[string]Property {
	out := make(map[string]Property, len(in))
	for label, v := range in {
		p := Property{Type: string(v.Kind)}
		switch v.Kind {
		case schema.KindNumber:
			p.Value = v.Number
		case schema.KindCheckbox:
			p.Value = v.Bool
		case schema.KindMultiSelect, schema.KindRelation:
			p.Value = v.Items
		default:
			p.Value = v.Text
		}
		out[label] = p
	}
	return out
}
