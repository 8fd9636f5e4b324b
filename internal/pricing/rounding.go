package pricing

import "github.com/shopspring/decimal"

// RoundingMethod selects how computed prices are rounded.
type RoundingMethod string

const (
	// RoundNone keeps the computed value at cent precision.
	RoundNone RoundingMethod = "NONE"
	// RoundNearest rounds half away from zero to a multiple of the step.
	RoundNearest RoundingMethod = "ROUND"
	// RoundCeil rounds up to a multiple of the step.
	RoundCeil RoundingMethod = "CEIL"
	// RoundFloor rounds down to a multiple of the step.
	RoundFloor RoundingMethod = "FLOOR"
)

// Valid reports whether m is a known rounding method.
func (m RoundingMethod) Valid() bool {
	switch m {
	case RoundNone, RoundNearest, RoundCeil, RoundFloor:
		return true
	}
	return false
}

var hundred = decimal.NewFromInt(100)

// Round applies method to value using step as the rounding unit. A nil or
// non-positive step means whole currency units. The result always has at most
// two decimal places.
func Round(value decimal.Decimal, method RoundingMethod, step *decimal.Decimal) decimal.Decimal {
	unit := decimal.NewFromInt(1)
	if step != nil && step.IsPositive() {
		unit = *step
	}
	var out decimal.Decimal
	switch method {
	case RoundNearest:
		out = value.Div(unit).Round(0).Mul(unit)
	case RoundCeil:
		out = value.Div(unit).Ceil().Mul(unit)
	case RoundFloor:
		out = value.Div(unit).Floor().Mul(unit)
	default:
		out = value
	}
	return out.Round(2)
}

// ApplyMarkup computes base * (1 + markup/100).
func ApplyMarkup(base, markup decimal.Decimal) decimal.Decimal {
	return base.Mul(decimal.NewFromInt(1).Add(markup.Div(hundred)))
}
