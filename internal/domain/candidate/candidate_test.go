package candidate

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestScore_Empty(t *testing.T) {
	if got := Score(Candidate{}); got != 0 {
		t.Errorf("Score(empty) = %v, want 0", got)
	}
}

func TestScore_Full(t *testing.T) {
	c := Candidate{
		InvoiceNumber:    "FAC-1",
		IssueDate:        "2024-03-15",
		DueDate:          "2024-04-15",
		Currency:         "CHF",
		CurrencyExplicit: true,
		Emitter:          Party{Name: "HMF Corporation SA"},
		Counterparty:     Party{Name: "PUBLIGRAMA ADVERTISING S.L."},
		Amounts: Amounts{
			Net:       MustAmount("1000"),
			TaxAmount: MustAmount("81"),
			Gross:     MustAmount("1081"),
		},
	}
	if got := Score(c); got != 1 {
		t.Errorf("Score(full) = %v, want 1", got)
	}
}

func TestScore_IgnoresMalformed(t *testing.T) {
	c := Candidate{
		IssueDate: "15.03.2024",
		Currency:  "CHF", // defaulted, not read
		Amounts:   Amounts{Gross: RawAmount("12 fr")},
	}
	if got := Score(c); got != 0 {
		t.Errorf("Score(malformed) = %v, want 0", got)
	}
}

func TestScore_Partial(t *testing.T) {
	c := Candidate{InvoiceNumber: "FAC-1", Amounts: Amounts{Gross: MustAmount("100")}}
	if got := Score(c); got != 0.45 {
		t.Errorf("Score(partial) = %v, want 0.45", got)
	}
}

func TestClampConfidence(t *testing.T) {
	cases := []struct{ in, want float64 }{{-0.2, 0}, {0.4, 0.4}, {1.7, 1}, {math.NaN(), 0}}
	for _, tc := range cases {
		if got := ClampConfidence(tc.in); got != tc.want {
			t.Errorf("ClampConfidence(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestAmount_JSON(t *testing.T) {
	c := Candidate{Amounts: Amounts{Net: MustAmount("1000.50"), Gross: RawAmount("1'081.-")}}
	b, err := json.Marshal(c.Amounts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"net":1000.5,"gross":"1'081.-"}` {
		t.Errorf("marshal = %s", b)
	}

	var back Amounts
	if err := json.Unmarshal([]byte(`{"net":1000.50,"tax_rate":"8,1","gross":null}`), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if d, ok := back.Net.Decimal(); !ok || !d.Equal(decimal.RequireFromString("1000.5")) {
		t.Errorf("net = %v", back.Net)
	}
	if back.TaxRate.IsParsed() || back.TaxRate.Raw() != "8,1" {
		t.Errorf("tax_rate = %v", back.TaxRate)
	}
	if back.Gross.Present() {
		t.Errorf("gross = %v, want absent", back.Gross)
	}
}

func TestValidationError_OmitsEmptyFix(t *testing.T) {
	b, _ := json.Marshal(ValidationError{Field: "issue_date", Message: "unparseable date"})
	if strings.Contains(string(b), "suggested_fix") {
		t.Errorf("marshal = %s", b)
	}
	b, _ = json.Marshal(ValidationError{Field: "gross", Message: "inconsistent total", SuggestedFix: MustAmount("1081")})
	if !strings.Contains(string(b), `"suggested_fix":1081`) {
		t.Errorf("marshal = %s", b)
	}
}

func TestFields_OnlyPresent(t *testing.T) {
	c := FieldsFromMap(map[string]any{FieldNumber: "FAC-1", FieldGross: 100})
	f := c.Fields()
	if len(f) != 2 {
		t.Fatalf("Fields() = %v, want 2 keys", f)
	}
	if f[FieldNumber] != "FAC-1" {
		t.Errorf("numero = %v", f[FieldNumber])
	}
	if d, ok := f[FieldGross].(decimal.Decimal); !ok || !d.Equal(decimal.NewFromInt(100)) {
		t.Errorf("montant_ttc = %v", f[FieldGross])
	}
}
