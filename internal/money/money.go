// Package money provides shared fiat amount parsing and formatting utilities.
//
// Amounts are stored as big.Int in cents (2 decimal places), matching the
// NUMERIC(20,2) columns used for prices, fees and commissions.
package money

import (
	"math/big"
	"strings"
)

const Decimals = 2

// Parse converts a decimal string (e.g. "9500.00") to its cent
// big.Int representation (950000). Returns (nil, false) on invalid input.
//
// Rules:
//   - Empty string returns (0, true)
//   - Negative amounts are rejected
//   - Multiple decimal points are rejected
//   - More than 2 fractional digits are rejected; shorter fractions
//     are padded to 2
func Parse(s string) (*big.Int, bool) {
	if s == "" {
		return big.NewInt(0), true
	}

	if strings.HasPrefix(s, "-") {
		return nil, false
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, false
	}
	whole := parts[0]
	frac := ""
	if len(parts) > 1 {
		frac = parts[1]
	}

	// Sub-cent precision is refused rather than silently dropped.
	if len(frac) > Decimals {
		return nil, false
	}
	for len(frac) < Decimals {
		frac += "0"
	}

	combined := whole + frac
	result, ok := new(big.Int).SetString(combined, 10)
	return result, ok
}

// Format converts a cent big.Int to a decimal string with exactly
// 2 decimal places (e.g. "9500.00").
func Format(amount *big.Int) string {
	if amount == nil {
		return "0.00"
	}
	neg := amount.Sign() < 0
	abs := new(big.Int).Abs(amount)
	s := abs.String()
	for len(s) < Decimals+1 {
		s = "0" + s
	}
	decimal := len(s) - Decimals
	result := s[:decimal] + "." + s[decimal:]
	if neg {
		result = "-" + result
	}
	return result
}

// Percent returns pct percent of amount, rounded down to the cent.
// pct is expressed in basis points of 100 (e.g. 20.0 for 20%).
func Percent(amount string, pct float64) string {
	a, ok := Parse(amount)
	if !ok {
		return "0.00"
	}
	// Work in tenths of a basis point to keep integer math exact for
	// the percentage values used by the fee schedule.
	scaled := big.NewInt(int64(pct * 1000))
	result := new(big.Int).Mul(a, scaled)
	result.Quo(result, big.NewInt(100*1000))
	return Format(result)
}

// Add returns a+b as a formatted string. Invalid inputs count as zero.
func Add(a, b string) string {
	fa, _ := Parse(a)
	fb, _ := Parse(b)
	if fa == nil {
		fa = big.NewInt(0)
	}
	if fb == nil {
		fb = big.NewInt(0)
	}
	return Format(new(big.Int).Add(fa, fb))
}

// Valid reports whether s parses as a non-negative amount.
func Valid(s string) bool {
	_, ok := Parse(s)
	return ok
}
