package schema

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
)

func TestValue_WireShape(t *testing.T) {
	m := Mapping{
		TargetCollection: "client-invoice",
		Properties: map[string]Value{
			"Numéro":      Title("FAC-1"),
			"Montant TTC": Number(decimal.RequireFromString("1081.00")),
			"Importé":     Checkbox(true),
			"Client":      Relation(),
		},
	}
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"target_collection":"client-invoice","properties":{` +
		`"Client":{"type":"relation","value":[]},` +
		`"Importé":{"type":"checkbox","value":true},` +
		`"Montant TTC":{"type":"number","value":1081},` +
		`"Numéro":{"type":"title","value":"FAC-1"}}}`
	if string(b) != want {
		t.Errorf("marshal =\n%s\nwant\n%s", b, want)
	}

	var back Mapping
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !back.Properties["Montant TTC"].Number.Equal(decimal.NewFromInt(1081)) {
		t.Errorf("number = %v", back.Properties["Montant TTC"])
	}
	if back.Properties["Numéro"].Text != "FAC-1" || back.Properties["Importé"].Bool != true {
		t.Errorf("properties = %+v", back.Properties)
	}
}

func TestValue_UnknownKind(t *testing.T) {
	if _, err := json.Marshal(Value{Kind: "formula"}); err == nil {
		t.Error("expected marshal error")
	}
	var v Value
	if err := json.Unmarshal([]byte(`{"type":"formula","value":1}`), &v); err == nil {
		t.Error("expected unmarshal error")
	}
}
