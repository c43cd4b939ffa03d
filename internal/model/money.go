package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a monetary amount in minor currency units (cents). All money
// crossing the engine's boundaries is integer minor units; floating point
// never represents an amount.
type Money int64

// FromDecimal converts a decimal amount of minor units to Money using
// round-half-up. This is the single place derivation rounding happens, so
// every derived amount in the engine rounds the same way.
func FromDecimal(d decimal.Decimal) Money {
	// decimal.Round rounds half away from zero, which is half-up for the
	// non-negative amounts the engine derives.
	return Money(d.Round(0).IntPart())
}

// Decimal returns the amount as a decimal for rate arithmetic.
func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(m))
}

// String formats the amount as major.minor for logs and CLI output.
func (m Money) String() string {
	units := int64(m)
	sign := ""
	if units < 0 {
		sign = "-"
		units = -units
	}
	return fmt.Sprintf("%s%d.%02d", sign, units/100, units%100)
}
