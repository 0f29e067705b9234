// Package core provides money parsing and handling utilities.
//
// This file contains the coercion rules applied to numeric form input and the
// formatting used when amounts are shown in list rows and dashboard cards.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ParseNumber converts user-entered text to a decimal. Blank or non-numeric
// input becomes zero so derived fields never see an invalid number.
// A decimal comma is accepted the same as a dot.
//
// Examples:
//
//	ParseNumber("12.5")  -> 12.5
//	ParseNumber("12,5")  -> 12.5
//	ParseNumber("abc")   -> 0
//	ParseNumber("")      -> 0
func ParseNumber(s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// NonNegative clamps negative values to zero.
func NonNegative(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// FormatAmount renders an amount with thousands separators and two decimals,
// prefixed by the currency code when one is given (e.g. "THB 32,100.00").
func FormatAmount(currency string, d decimal.Decimal) string {
	neg := d.IsNegative()
	s := d.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String() + "." + frac
	if neg {
		out = "-" + out
	}
	if currency != "" {
		return currency + " " + out
	}
	return out
}
