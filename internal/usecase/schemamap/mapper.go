// Package schemamap converts normalized candidates into record store properties.
// It is a pure transform and never talks to the network.
package schemamap

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/domain/pattern"
	"github.com/kailas-cloud/docextract/internal/domain/schema"
)

// Metadata property labels. LabelReview and LabelRemarks are only set when
// review flags are enabled.
const (
	LabelImported   = "Importé par pipeline"
	LabelImportDate = "Date d'import"
	LabelReview     = "À vérifier"
	LabelRemarks    = "Remarques"
)

// ErrUnknownCollection is returned for a document type without a field table.
var ErrUnknownCollection = errors.New("no target collection for document type")

// Property maps one canonical source field onto a labelled, typed property.
type Property struct {
	Label string
	Kind  schema.Kind
}

// Table is the field table of one target collection.
type Table struct {
	Collection string
	Fields     map[string]Property
}

// DefaultTables returns the field tables of the four target collections.
func DefaultTables() map[document.Type]Table {
	return map[document.Type]Table{
		document.ClientInvoice: {
			Collection: "Factures clients",
			Fields: map[string]Property{
				candidate.FieldNumber:          {"Numéro", schema.KindTitle},
				candidate.FieldIssueDate:       {"Date d'émission", schema.KindDate},
				candidate.FieldDueDate:         {"Date d'échéance", schema.KindDate},
				candidate.FieldCurrency:        {"Devise", schema.KindSelect},
				candidate.FieldNet:             {"Montant HT", schema.KindNumber},
				candidate.FieldTaxRate:         {"Taux TVA", schema.KindNumber},
				candidate.FieldTaxAmount:       {"Montant TVA", schema.KindNumber},
				candidate.FieldGross:           {"Montant TTC", schema.KindNumber},
				candidate.FieldCounterparty:    {"Client", schema.KindRelation},
				candidate.FieldCounterpartyCty: {"Pays", schema.KindSelect},
			},
		},
		document.SupplierInvoice: {
			Collection: "Factures fournisseurs",
			Fields: map[string]Property{
				candidate.FieldNumber:       {"Numéro", schema.KindTitle},
				candidate.FieldIssueDate:    {"Date de facture", schema.KindDate},
				candidate.FieldDueDate:      {"Échéance", schema.KindDate},
				candidate.FieldCurrency:     {"Devise", schema.KindSelect},
				candidate.FieldNet:          {"Montant HT", schema.KindNumber},
				candidate.FieldTaxRate:      {"Taux TVA", schema.KindNumber},
				candidate.FieldTaxAmount:    {"Montant TVA", schema.KindNumber},
				candidate.FieldGross:        {"Montant TTC", schema.KindNumber},
				candidate.FieldEmitter:      {"Fournisseur", schema.KindRelation},
				candidate.FieldEmitterTaxID: {"N° TVA fournisseur", schema.KindRichText},
				candidate.FieldEmitterIBAN:  {"IBAN", schema.KindRichText},
			},
		},
		document.Contract: {
			Collection: "Contrats",
			Fields: map[string]Property{
				candidate.FieldNumber:       {"Référence", schema.KindTitle},
				candidate.FieldIssueDate:    {"Date de signature", schema.KindDate},
				candidate.FieldDueDate:      {"Date de fin", schema.KindDate},
				candidate.FieldCurrency:     {"Devise", schema.KindSelect},
				candidate.FieldGross:        {"Montant", schema.KindNumber},
				candidate.FieldCounterparty: {"Partenaire", schema.KindRelation},
			},
		},
		document.ExpenseNote: {
			Collection: "Notes de frais",
			Fields: map[string]Property{
				candidate.FieldNumber:    {"Libellé", schema.KindTitle},
				candidate.FieldIssueDate: {"Date", schema.KindDate},
				candidate.FieldCurrency:  {"Devise", schema.KindSelect},
				candidate.FieldTaxAmount: {"TVA", schema.KindNumber},
				candidate.FieldGross:     {"Montant", schema.KindNumber},
				candidate.FieldEmitter:   {"Commerçant", schema.KindRichText},
			},
		},
	}
}

// Mapper builds schema mappings from per-collection tables.
type Mapper struct {
	tables map[document.Type]Table
	now    func() time.Time
	review bool
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithClock sets the clock used for the import date.
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) { m.now = now }
}

// WithReviewFlags marks mappings that carry validation errors for review and
// lists the errors as remarks.
func WithReviewFlags(on bool) Option {
	return func(m *Mapper) { m.review = on }
}

// WithTables replaces the field tables.
func WithTables(tables map[document.Type]Table) Option {
	return func(m *Mapper) { m.tables = tables }
}

// WithCollectionNames overrides target collection names per document type.
func WithCollectionNames(names map[document.Type]string) Option {
	return func(m *Mapper) {
		for t, name := range names {
			if tbl, ok := m.tables[t]; ok && name != "" {
				tbl.Collection = name
				m.tables[t] = tbl
			}
		}
	}
}

// New creates a mapper with the default tables.
func New(opts ...Option) *Mapper {
	m := &Mapper{tables: DefaultTables(), now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Collection returns the target collection name for t.
func (m *Mapper) Collection(t document.Type) (string, bool) {
	tbl, ok := m.tables[t]
	return tbl.Collection, ok
}

// Map converts c into the properties of its document type's collection.
// Absent fields are omitted. The model's mapping hint fills labels the candidate
// left empty when the hinted value coerces to the property kind.
func (m *Mapper) Map(c candidate.Candidate, errs []candidate.ValidationError) (schema.Mapping, error) {
	tbl, ok := m.tables[c.DocumentType]
	if !ok {
		return schema.Mapping{}, fmt.Errorf("%q: %w", c.DocumentType, ErrUnknownCollection)
	}

	props := make(map[string]schema.Value)
	for key, v := range c.Fields() {
		p, ok := tbl.Fields[key]
		if !ok {
			continue
		}
		if val, ok := toValue(p.Kind, v); ok {
			props[p.Label] = val
		}
	}

	for label, hint := range c.MappingHint {
		if _, set := props[label]; set {
			continue
		}
		p, ok := tbl.property(label)
		if !ok {
			continue
		}
		if val, ok := toValue(p.Kind, hint); ok {
			props[label] = val
		}
	}

	props[LabelImported] = schema.Checkbox(true)
	props[LabelImportDate] = schema.Date(m.now().Format(time.DateOnly))
	if m.review && len(errs) > 0 {
		props[LabelReview] = schema.Checkbox(true)
		props[LabelRemarks] = schema.RichText(remarks(errs))
	}

	return schema.Mapping{TargetCollection: tbl.Collection, Properties: props}, nil
}

func (t Table) property(label string) (Property, bool) {
	for _, p := range t.Fields {
		if p.Label == label {
			return p, true
		}
	}
	return Property{}, false
}

// toValue coerces a flattened field (string or decimal) into kind.
func toValue(kind schema.Kind, v any) (schema.Value, bool) {
	switch kind {
	case schema.KindNumber:
		switch x := v.(type) {
		case decimal.Decimal:
			return schema.Number(x), true
		case string:
			d, err := pattern.ParseAmount(x)
			if err != nil {
				return schema.Value{}, false
			}
			return schema.Number(d), true
		}
		return schema.Value{}, false
	case schema.KindDate:
		s, ok := v.(string)
		if !ok {
			return schema.Value{}, false
		}
		iso, err := pattern.ParseSwissDate(s)
		if err != nil {
			return schema.Value{}, false
		}
		return schema.Date(iso), true
	}

	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return schema.Value{}, false
	}
	switch kind {
	case schema.KindTitle:
		return schema.Title(s), true
	case schema.KindSelect:
		return schema.Select(s), true
	case schema.KindRelation:
		return schema.Relation(s), true
	case schema.KindMultiSelect:
		return schema.MultiSelect(s), true
	case schema.KindEmail:
		return schema.Email(s), true
	case schema.KindPhone:
		return schema.Phone(s), true
	case schema.KindURL:
		return schema.URL(s), true
	default:
		return schema.RichText(s), true
	}
}

func remarks(errs []candidate.ValidationError) string {
	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		line := e.Field + ": " + e.Message
		if e.SuggestedFix.Present() {
			line += " (suggested: " + e.SuggestedFix.String() + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
