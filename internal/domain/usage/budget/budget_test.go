package budget

import "testing"

func TestNew(t *testing.T) {
	b := New(1000000, 615800, false, 1700000000000)
	if b.TokensLimit() != 1000000 {
		t.Errorf("TokensLimit() = %d", b.TokensLimit())
	}
	if b.TokensRemaining() != 615800 {
		t.Errorf("TokensRemaining() = %d", b.TokensRemaining())
	}
	if b.IsExhausted() || b.IsUnlimited() {
		t.Errorf("unexpected flags: exhausted=%v unlimited=%v", b.IsExhausted(), b.IsUnlimited())
	}
	if b.ResetsAt() != 1700000000000 {
		t.Errorf("ResetsAt() = %d", b.ResetsAt())
	}
}

func TestNew_Exhausted(t *testing.T) {
	b := New(1000, 0, true, 0)
	if !b.IsExhausted() {
		t.Error("IsExhausted() = false, want true")
	}
	if b.TokensRemaining() != 0 {
		t.Errorf("TokensRemaining() = %d", b.TokensRemaining())
	}
}

func TestNew_ZeroLimitIsUnlimited(t *testing.T) {
	b := New(0, 0, true, 0)
	if !b.IsUnlimited() {
		t.Error("zero limit must be unlimited")
	}
	if b.IsExhausted() {
		t.Error("an unlimited window is never exhausted")
	}
	if b.TokensRemaining() != Unlimited {
		t.Errorf("TokensRemaining() = %d, want %d", b.TokensRemaining(), Unlimited)
	}
}
