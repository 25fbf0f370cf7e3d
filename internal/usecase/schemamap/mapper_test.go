package schemamap

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kailas-cloud/docextract/internal/domain/candidate"
	"github.com/kailas-cloud/docextract/internal/domain/document"
	"github.com/kailas-cloud/docextract/internal/domain/schema"
)

func fixedClock() time.Time { return time.Date(2024, 3, 20, 9, 30, 0, 0, time.UTC) }

func TestMap_OnlyPresentFieldsPlusMetadata(t *testing.T) {
	m := New(WithClock(fixedClock))
	c := candidate.FieldsFromMap(map[string]any{
		candidate.FieldNumber: "FAC-1",
		candidate.FieldGross:  100,
	})
	c.DocumentType = document.ClientInvoice

	got, err := m.Map(c, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.Properties) != 4 {
		t.Fatalf("expected 2 mapped + 2 metadata properties, got %d: %v", len(got.Properties), got.Properties)
	}
	if got.TargetCollection != "Factures clients" {
		t.Errorf("unexpected collection %q", got.TargetCollection)
	}
	if v := got.Properties["Numéro"]; v.Kind != schema.KindTitle || v.Text != "FAC-1" {
		t.Errorf("unexpected Numéro %+v", v)
	}
	if v := got.Properties["Montant TTC"]; v.Kind != schema.KindNumber || !v.Number.Equal(decimal.NewFromInt(100)) {
		t.Errorf("unexpected Montant TTC %+v", v)
	}
	if v := got.Properties[LabelImported]; v.Kind != schema.KindCheckbox || !v.Bool {
		t.Errorf("unexpected import flag %+v", v)
	}
	if v := got.Properties[LabelImportDate]; v.Kind != schema.KindDate || v.Text != "2024-03-20" {
		t.Errorf("unexpected import date %+v", v)
	}
}

func TestMap_SupplierInvoiceUsesEmitter(t *testing.T) {
	m := New(WithClock(fixedClock))
	c := candidate.Candidate{
		DocumentType: document.SupplierInvoice,
		Emitter:      candidate.Party{Name: "Swisscom AG", IBAN: "CH9300762011623852957"},
		Counterparty: candidate.Party{Name: "HMF Corporation SA"},
	}

	got, err := m.Map(c, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := got.Properties["Fournisseur"]; v.Kind != schema.KindRelation || len(v.Items) != 1 || v.Items[0] != "Swisscom AG" {
		t.Errorf("unexpected Fournisseur %+v", v)
	}
	if _, ok := got.Properties["Client"]; ok {
		t.Error("supplier invoice must not map the counterparty as client")
	}
	if v := got.Properties["IBAN"]; v.Text != "CH9300762011623852957" {
		t.Errorf("unexpected IBAN %+v", v)
	}
}

func TestMap_ValidationErrorsFlagReview(t *testing.T) {
	c := candidate.Candidate{DocumentType: document.ClientInvoice, InvoiceNumber: "FAC-2"}
	errs := []candidate.ValidationError{{
		Field:        "gross",
		Message:      "inconsistent total",
		SuggestedFix: candidate.MustAmount("1081"),
	}}

	got, err := New(WithClock(fixedClock), WithReviewFlags(true)).Map(c, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v := got.Properties[LabelReview]; !v.Bool {
		t.Error("expected review flag")
	}
	if v := got.Properties[LabelRemarks]; v.Text != "gross: inconsistent total (suggested: 1081)" {
		t.Errorf("unexpected remarks %q", v.Text)
	}
}

func TestMap_OnlyFixedMetadataByDefault(t *testing.T) {
	c := candidate.Candidate{DocumentType: document.ClientInvoice, InvoiceNumber: "FAC-2"}
	errs := []candidate.ValidationError{{Field: "gross", Message: "inconsistent total"}}

	got, err := New(WithClock(fixedClock)).Map(c, errs)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, label := range []string{LabelReview, LabelRemarks} {
		if _, ok := got.Properties[label]; ok {
			t.Errorf("unexpected %q property without review flags", label)
		}
	}
	if len(got.Properties) != 3 {
		t.Errorf("expected Numéro plus two metadata properties, got %v", got.Properties)
	}
}

func TestMap_HintFillsMissingLabels(t *testing.T) {
	m := New(WithClock(fixedClock))
	c := candidate.Candidate{
		DocumentType:  document.ClientInvoice,
		InvoiceNumber: "FAC-3",
		MappingHint: map[string]string{
			"Numéro":          "ignored",
			"Date d'échéance": "30.04.2024",
			"Montant TVA":     "not a number",
			"Inconnu":         "x",
		},
	}

	got, err := m.Map(c, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Properties["Numéro"].Text != "FAC-3" {
		t.Error("hint must not override extracted values")
	}
	if got.Properties["Date d'échéance"].Text != "2024-04-30" {
		t.Errorf("expected hinted due date, got %+v", got.Properties["Date d'échéance"])
	}
	if _, ok := got.Properties["Montant TVA"]; ok {
		t.Error("uncoercible hint must be dropped")
	}
	if _, ok := got.Properties["Inconnu"]; ok {
		t.Error("unknown labels must be dropped")
	}
}

func TestMap_UnknownCollection(t *testing.T) {
	m := New()
	_, err := m.Map(candidate.Candidate{DocumentType: "receipt"}, nil)
	if !errors.Is(err, ErrUnknownCollection) {
		t.Fatalf("expected ErrUnknownCollection, got %v", err)
	}
}

func TestWithCollectionNames(t *testing.T) {
	m := New(WithCollectionNames(map[document.Type]string{document.Contract: "Contracts DB"}))
	if name, _ := m.Collection(document.Contract); name != "Contracts DB" {
		t.Fatalf("expected override, got %q", name)
	}
	if name, _ := m.Collection(document.ExpenseNote); name != "Notes de frais" {
		t.Fatalf("expected default, got %q", name)
	}
}
