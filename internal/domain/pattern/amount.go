package pattern

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoDigits is returned when the input holds no digit at all.
	ErrNoDigits = errors.New("pattern: no digits in amount")
	// ErrInvalidDate is returned for text that is not a calendar date.
	ErrInvalidDate = errors.New("pattern: invalid date")
)

// Locale selects how a lone separator is disambiguated.
type Locale int

const (
	// LocaleCH treats a lone dot as the decimal mark (Swiss and US usage).
	LocaleCH Locale = iota
	// LocaleEU treats a lone comma as the decimal mark and dot+3 digits as grouping.
	LocaleEU
)

// ParseAmount normalizes a locale-formatted amount into an exact decimal using Swiss rules.
func ParseAmount(text string) (decimal.Decimal, error) {
	return ParseAmountLocale(text, LocaleCH)
}

// ParseAmountLocale normalizes a locale-formatted amount into an exact decimal.
//
// Apostrophes and spaces are grouping marks. When both '.' and ',' appear the one that
// occurs last is the decimal mark. A lone comma is a decimal mark only when it is followed
// by one or two digits (LocaleEU: always); otherwise all commas are grouping.
func ParseAmountLocale(text string, loc Locale) (decimal.Decimal, error) {
	var b strings.Builder
	negative := false
	digits := 0
	runes := []rune(text)
	for i, r := range runes {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '.' || r == ',':
			if digits == 0 && !leadingDecimalMark(runes, i) {
				continue
			}
			b.WriteRune(r)
		case (r == '-' || r == '−') && digits == 0:
			// trailing dash is the Swiss "100.-" notation, not a sign
			negative = true
		}
	}
	if digits == 0 {
		return decimal.Decimal{}, fmt.Errorf("%q: %w", text, ErrNoDigits)
	}

	s := strings.TrimRight(b.String(), ".,")
	if s[0] == '.' || s[0] == ',' {
		s = "0" + s
	}
	hasDot := strings.Contains(s, ".")
	hasComma := strings.Contains(s, ",")

	switch {
	case hasDot && hasComma:
		mark := ","
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			mark = "."
		}
		s = keepLastAsDecimal(s, mark, true)
	case hasComma:
		s = keepLastAsDecimal(s, ",", loc == LocaleEU || shortTail(s, ","))
	case hasDot:
		decimalDot := strings.Count(s, ".") == 1 || shortTail(s, ".")
		if loc == LocaleEU && len(s)-strings.LastIndex(s, ".")-1 == 3 {
			decimalDot = false
		}
		s = keepLastAsDecimal(s, ".", decimalDot)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse amount %q: %w", text, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

// leadingDecimalMark reports whether the separator at i, seen before any digit, is a
// decimal mark (".50", "-.5") rather than the end of an abbreviation ("Fr.9'188").
func leadingDecimalMark(runes []rune, i int) bool {
	if i+1 >= len(runes) || runes[i+1] < '0' || runes[i+1] > '9' {
		return false
	}
	return i == 0 || !unicode.IsLetter(runes[i-1])
}

// shortTail reports whether the last sep is followed by exactly one or two digits.
func shortTail(s, sep string) bool {
	n := len(s) - strings.LastIndex(s, sep) - 1
	return n >= 1 && n <= 2
}

// keepLastAsDecimal removes every separator except, when asDecimal, the last occurrence of mark
// which becomes '.'. The other separator kind is always dropped.
func keepLastAsDecimal(s, mark string, asDecimal bool) string {
	idx := strings.LastIndex(s, mark)
	strip := func(part string) string {
		part = strings.ReplaceAll(part, ".", "")
		return strings.ReplaceAll(part, ",", "")
	}
	if !asDecimal || idx < 0 {
		return strip(s)
	}
	return strip(s[:idx]) + "." + strip(s[idx+1:])
}

// ParseSwissDate reinterprets a DD.MM.YY[YY] date found in text as YYYY-MM-DD.
// Two-digit years get a 20xx prefix. Text that already holds an ISO date is validated and
// returned unchanged.
func ParseSwissDate(text string) (string, error) {
	if m := ISODate.Regexp().FindStringSubmatch(text); m != nil {
		return buildISO(text, m[1], m[2], m[3])
	}
	m := Date.Regexp().FindStringSubmatch(text)
	if m == nil {
		return "", fmt.Errorf("%q: %w", text, ErrInvalidDate)
	}
	year := m[3]
	if len(year) == 2 {
		year = "20" + year
	}
	return buildISO(text, year, m[2], m[1])
}

func buildISO(text, y, mo, d string) (string, error) {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(mo)
	day, _ := strconv.Atoi(d)
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return "", fmt.Errorf("%q: %w", text, ErrInvalidDate)
	}
	return t.Format(time.DateOnly), nil
}
