package failure

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestLookup(t *testing.T) {
	c := Lookup(CodeAPI)
	if c.Action != ActionRetryWithBackoff || !c.Automatic {
		t.Errorf("API class = %+v", c)
	}
	if Lookup("NOPE").Code != CodeUnknown {
		t.Error("unknown code must map to UNKNOWN_ERROR")
	}
}

func TestTaxonomy_Complete(t *testing.T) {
	seen := map[Code]bool{}
	for _, c := range Taxonomy() {
		if seen[c.Code] {
			t.Errorf("duplicate code %s", c.Code)
		}
		seen[c.Code] = true
		if c.MessageTemplate == "" || c.RecoveryMessage == "" {
			t.Errorf("%s: missing messages", c.Code)
		}
	}
	if len(seen) != 11 {
		t.Errorf("expected 11 classes, got %d", len(seen))
	}
	if Lookup(CodeValidation).Severity != SeverityWarning {
		t.Error("validation must be a warning")
	}
}

func TestFailure_JSONAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	f := &Failure{
		Class:           Lookup(CodeTimeout),
		Message:         Lookup(CodeTimeout).Message("deadline exceeded"),
		RecoveryMessage: "later",
		CorrelationID:   "abc",
		Err:             cause,
	}
	if !errors.Is(f, cause) {
		t.Error("Failure must unwrap to its cause")
	}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"code":"TIMEOUT_ERROR","message":"processing timed out: deadline exceeded",` +
		`"severity":"error","recovery_message":"later","correlation_id":"abc"}`
	if string(b) != want {
		t.Errorf("marshal = %s", b)
	}
}
