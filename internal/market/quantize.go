package market

import (
	"math"

	"github.com/shopspring/decimal"

	"perpguard/internal/schema"
)

var two = decimal.NewFromInt(2)

// RoundingMode selects how a value snaps to a step grid.
type RoundingMode uint8

const (
	// RoundDown truncates toward zero.
	RoundDown RoundingMode = iota
	// RoundUp rounds away from zero.
	RoundUp
	// RoundHalfEven rounds to the nearest step, ties to even.
	RoundHalfEven
)

// Quantize snaps value to a multiple of step using exact decimal arithmetic.
// A non-positive step or a non-finite input returns value unchanged.
func Quantize(value, step float64, mode RoundingMode) float64 {
	if step <= 0 || !finite(value) || !finite(step) {
		return value
	}
	return quantizeDecimal(decimal.NewFromFloat(value), decimal.NewFromFloat(step), mode).InexactFloat64()
}

func quantizeDecimal(v, s decimal.Decimal, mode RoundingMode) decimal.Decimal {
	if !s.IsPositive() {
		return v
	}
	// q is the truncated quotient and r carries the sign of v, so v = q*s + r exactly.
	q, r := v.QuoRem(s, 0)
	if r.IsZero() {
		return q.Mul(s)
	}
	away := q.Add(decimal.NewFromInt(int64(v.Sign())))
	switch mode {
	case RoundUp:
		q = away
	case RoundHalfEven:
		switch r.Abs().Mul(two).Cmp(s) {
		case 1:
			q = away
		case 0:
			if !q.Mod(two).IsZero() {
				q = away
			}
		}
	}
	return q.Mul(s)
}

// RoundPriceForSide rounds so the quote never gets worse for us:
// buys round down, sells round up, anything else rounds down.
func RoundPriceForSide(price, step float64, side schema.Side) float64 {
	return Quantize(price, step, priceMode(side))
}

// RoundQtyFloor floors a quantity to the step grid.
func RoundQtyFloor(qty, step float64) float64 {
	return Quantize(qty, step, RoundDown)
}

// RoundToStep rounds to the nearest step with banker's rounding.
func RoundToStep(value, step float64) float64 {
	return Quantize(value, step, RoundHalfEven)
}

func priceMode(side schema.Side) RoundingMode {
	if side == schema.SideSell {
		return RoundUp
	}
	return RoundDown
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
