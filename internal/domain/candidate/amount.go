package candidate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is an optional monetary or percentage value.
// It is either absent, a parsed exact decimal, or a raw string the model returned
// that still has to go through the amount parser.
type Amount struct {
	value  decimal.Decimal
	raw    string
	parsed bool
}

// NewAmount wraps a parsed decimal.
func NewAmount(d decimal.Decimal) Amount { return Amount{value: d, parsed: true} }

// RawAmount wraps an unparsed string. Empty input yields an absent amount.
func RawAmount(s string) Amount { return Amount{raw: s} }

// MustAmount parses a plain decimal literal; for tables and tests.
func MustAmount(s string) Amount { return NewAmount(decimal.RequireFromString(s)) }

// IsZero reports absence (not a zero value). Drives `omitzero`.
func (a Amount) IsZero() bool { return !a.parsed && a.raw == "" }

// Present reports whether the amount carries anything.
func (a Amount) Present() bool { return !a.IsZero() }

// IsParsed reports whether the amount holds an exact decimal.
func (a Amount) IsParsed() bool { return a.parsed }

// Decimal returns the parsed value.
func (a Amount) Decimal() (decimal.Decimal, bool) { return a.value, a.parsed }

// Raw returns the unparsed string, if any.
func (a Amount) Raw() string { return a.raw }

func (a Amount) String() string {
	switch {
	case a.parsed:
		return a.value.String()
	case a.raw != "":
		return a.raw
	default:
		return "<absent>"
	}
}

// MarshalJSON emits a bare JSON number for parsed values and a string for raw ones.
func (a Amount) MarshalJSON() ([]byte, error) {
	switch {
	case a.parsed:
		return []byte(a.value.String()), nil
	case a.raw != "":
		return json.Marshal(a.raw)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON accepts a number, a string or null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*a = Amount{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("amount: %w", err)
		}
		*a = RawAmount(s)
		return nil
	}
	d, err := decimal.NewFromString(string(data))
	if err != nil {
		return fmt.Errorf("amount %s: %w", data, err)
	}
	*a = NewAmount(d)
	return nil
}
