package pattern

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"9'188.50", "9188.50"},
		{"9’188.50", "9188.50"},
		{"1,234.56", "1234.56"},
		{"1.234,56", "1234.56"},
		{"1 250,50", "1250.50"},
		{"1,234", "1234"},
		{"12,5", "12.5"},
		{"1.234.567", "1234567"},
		{"CHF 1'081.00", "1081"},
		{"-45.50", "-45.5"},
		{"100.-", "100"},
		{"81", "81"},
		{".50", "0.5"},
		{"-.5", "-0.5"},
		{",75", "0.75"},
		{"CHF .50", "0.5"},
		{"Fr.9'188.50", "9188.50"},
		{"Fr. 120.-", "120"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("ParseAmount(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseAmountLocale_EU(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.234", "1234"},
		{"1.234,56", "1234.56"},
		{"1,234", "1.234"},
		{"12.5", "12.5"},
	}
	for _, tt := range tests {
		got, err := ParseAmountLocale(tt.in, LocaleEU)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.in, err)
		}
		if !got.Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("ParseAmountLocale(%q, EU) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseAmount_LoneDotDiffersByLocale(t *testing.T) {
	ch, _ := ParseAmount("1.234")
	eu, _ := ParseAmountLocale("1.234", LocaleEU)
	if ch.Equal(eu) {
		t.Fatalf("expected distinct values, both %s", ch)
	}
}

func TestParseAmount_NoDigits(t *testing.T) {
	_, err := ParseAmount("n/a")
	if !errors.Is(err, ErrNoDigits) {
		t.Fatalf("expected ErrNoDigits, got %v", err)
	}
}

func TestParseSwissDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"15.03.2024", "2024-03-15"},
		{"15.03.24", "2024-03-15"},
		{"1.2.2023", "2023-02-01"},
		{"Date: 01/12/2023", "2023-12-01"},
		{"2024-03-15", "2024-03-15"},
	}
	for _, tt := range tests {
		got, err := ParseSwissDate(tt.in)
		if err != nil {
			t.Fatalf("%q: unexpected error: %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseSwissDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseSwissDate_Invalid(t *testing.T) {
	for _, in := range []string{"31.02.2024", "no date here", "2024-13-01"} {
		if _, err := ParseSwissDate(in); !errors.Is(err, ErrInvalidDate) {
			t.Errorf("ParseSwissDate(%q): expected ErrInvalidDate, got %v", in, err)
		}
	}
}
