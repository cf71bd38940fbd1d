// Package types holds the fixed-precision numeric type, identifiers, and
// closed enumerations shared by every other package in the engine.
package types

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits carried by order/trade
// quantities. It is fixed: every Decimal representing an amount is rescaled
// to this many places the moment it enters the system.
const AmountScale = 18

// DefaultPriceScale is the number of fractional digits carried by prices
// when a market does not configure its own. Individual pairs may override
// this (e.g. a market quoted in a stablecoin with fewer meaningful decimals).
const DefaultPriceScale = 8

// RoundingMode selects how a division or rescale resolves digits beyond the
// target scale. The zero value is RoundHalfUp, matching exchange convention
// for price/amount rounding.
type RoundingMode int

const (
	RoundHalfUp RoundingMode = iota
	RoundDown
	RoundUp
	RoundHalfEven
)

// ErrOverflow is returned by ParseAmount and ParsePrice when handed a
// malformed decimal string. Arithmetic on Decimal is arbitrary-precision
// and returns no error.
var ErrOverflow = errors.New("types: decimal overflow")

// Decimal is the one fixed-precision numeric type used across the engine.
// It wraps shopspring/decimal (arbitrary-precision, base-10, exact — never
// binary floating point) and pins every value to an explicit scale so that
// comparisons and serialized forms are unambiguous between components.
type Decimal struct {
	d     decimal.Decimal
	scale int32
}

// Zero is the additive identity at AmountScale.
var Zero = Decimal{d: decimal.Zero, scale: AmountScale}

// ZeroAt returns the additive identity at the given scale.
func ZeroAt(scale int32) Decimal {
	return Decimal{d: decimal.Zero, scale: scale}
}

// NewDecimal wraps a shopspring decimal.Decimal at the given scale.
func NewDecimal(d decimal.Decimal, scale int32) Decimal {
	return Decimal{d: d, scale: scale}
}

// ParseAmount parses a decimal string (up to 18 fractional digits, per §6 of
// the ingress contract) into an amount-scaled Decimal.
func ParseAmount(s string) (Decimal, error) {
	return parseAtScale(s, AmountScale)
}

// ParsePrice parses a decimal string into a price-scaled Decimal using the
// given scale (DefaultPriceScale when the caller has no market-specific
// override).
func ParsePrice(s string, scale int32) (Decimal, error) {
	return parseAtScale(s, scale)
}

func parseAtScale(s string, scale int32) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	return Decimal{d: d.Truncate(scale), scale: scale}, nil
}

// Scale reports the fixed number of fractional digits this value carries.
func (x Decimal) Scale() int32 { return x.scale }

// String renders the decimal in canonical fixed-point form.
func (x Decimal) String() string {
	return x.d.StringFixed(x.scale)
}

// IsZero reports whether x is exactly zero.
func (x Decimal) IsZero() bool { return x.d.IsZero() }

// IsPositive reports whether x > 0.
func (x Decimal) IsPositive() bool { return x.d.IsPositive() }

// IsNegative reports whether x < 0.
func (x Decimal) IsNegative() bool { return x.d.IsNegative() }

// Cmp compares x and y, ignoring scale differences (values are compared
// numerically, not textually).
func (x Decimal) Cmp(y Decimal) int { return x.d.Cmp(y.d) }

// Equal reports numeric equality regardless of scale.
func (x Decimal) Equal(y Decimal) bool { return x.d.Equal(y.d) }

// GreaterThan reports x > y.
func (x Decimal) GreaterThan(y Decimal) bool { return x.d.Cmp(y.d) > 0 }

// GreaterThanOrEqual reports x >= y.
func (x Decimal) GreaterThanOrEqual(y Decimal) bool { return x.d.Cmp(y.d) >= 0 }

// LessThan reports x < y.
func (x Decimal) LessThan(y Decimal) bool { return x.d.Cmp(y.d) < 0 }

// LessThanOrEqual reports x <= y.
func (x Decimal) LessThanOrEqual(y Decimal) bool { return x.d.Cmp(y.d) <= 0 }

// Add returns x+y at the wider of the two operand scales.
func (x Decimal) Add(y Decimal) Decimal {
	return Decimal{d: x.d.Add(y.d), scale: maxScale(x.scale, y.scale)}
}

// Sub returns x-y at the wider of the two operand scales. Subtraction never
// saturates at zero — callers that require non-negative remainders must
// check the sign themselves, matching the order-book invariant that
// `remaining` is only ever decreased by amounts already bounded above.
func (x Decimal) Sub(y Decimal) Decimal {
	return Decimal{d: x.d.Sub(y.d), scale: maxScale(x.scale, y.scale)}
}

// Mul returns x*y truncated to the wider of the two operand scales.
func (x Decimal) Mul(y Decimal) Decimal {
	scale := maxScale(x.scale, y.scale)
	return Decimal{d: x.d.Mul(y.d).Truncate(scale), scale: scale}
}

// DivRound returns x/y rounded to scale using mode. A zero divisor panics,
// following the underlying library; trade and fee math in this codebase
// does not divide.
func (x Decimal) DivRound(y Decimal, scale int32, mode RoundingMode) Decimal {
	// Compute with a couple of guard digits of extra precision so the
	// mode-specific rounding below sees the true remainder rather than an
	// already-rounded intermediate.
	q := x.d.DivRound(y.d, scale+2)
	return Decimal{d: round(q, scale, mode), scale: scale}
}

// Min returns the lesser of x and y.
func Min(x, y Decimal) Decimal {
	if x.Cmp(y) <= 0 {
		return x
	}
	return y
}

// Max returns the greater of x and y.
func Max(x, y Decimal) Decimal {
	if x.Cmp(y) >= 0 {
		return x
	}
	return y
}

func maxScale(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func round(d decimal.Decimal, scale int32, mode RoundingMode) decimal.Decimal {
	switch mode {
	case RoundDown:
		return d.Truncate(scale)
	case RoundUp:
		truncated := d.Truncate(scale)
		if truncated.Equal(d) {
			return truncated
		}
		step := decimal.New(1, -scale)
		if d.IsNegative() {
			return truncated.Sub(step)
		}
		return truncated.Add(step)
	case RoundHalfEven:
		return d.RoundBank(scale)
	default: // RoundHalfUp
		return d.Round(scale)
	}
}
