package market

import (
	"github.com/shopspring/decimal"

	"perpguard/internal/schema"
)

// Reason explains why an order cannot be sanitized. ReasonNone means success.
type Reason string

const (
	ReasonNone        Reason = ""
	ReasonInvalid     Reason = "invalid"
	ReasonMinQty      Reason = "min_qty"
	ReasonMinNotional Reason = "min_notional"
	ReasonMaxQty      Reason = "max_qty"
	ReasonMaxPrice    Reason = "max_price"
)

func (r Reason) String() string {
	return string(r)
}

// Sanitized is the result of SanitizeOrder. Price and Qty are the rounded
// values reached before any failure, so callers can record them.
type Sanitized struct {
	Price  float64
	Qty    float64
	Reason Reason
}

// OK reports whether the order passed every constraint.
func (s Sanitized) OK() bool {
	return s.Reason == ReasonNone
}

// SanitizeOrder rounds price by side and floors qty by step, then bumps qty
// to satisfy min qty and (optionally) min notional. It never rounds qty up
// except for those bumps. The function is pure.
func SanitizeOrder(meta SymbolMeta, side schema.Side, price, qty float64, autoBumpMinNotional bool) Sanitized {
	if !finite(price) || !finite(qty) || price <= 0 || qty <= 0 {
		return Sanitized{Price: price, Qty: qty, Reason: ReasonInvalid}
	}

	priceStep := decimal.NewFromFloat(meta.PriceIncrement)
	qtyStep := decimal.NewFromFloat(meta.QuantityIncrement)

	px := quantizeDecimal(decimal.NewFromFloat(price), priceStep, priceMode(side))
	amount := quantizeDecimal(decimal.NewFromFloat(qty), qtyStep, RoundDown)

	result := func(reason Reason) Sanitized {
		return Sanitized{Price: px.InexactFloat64(), Qty: amount.InexactFloat64(), Reason: reason}
	}

	if !amount.IsPositive() {
		return result(ReasonMinQty)
	}

	minQty := decimal.NewFromFloat(nonNegative(meta.MinQty))
	if amount.LessThan(minQty) {
		bumped := quantizeDecimal(minQty, qtyStep, RoundDown)
		if !bumped.IsPositive() {
			return result(ReasonMinQty)
		}
		amount = bumped
	}

	minNotional := decimal.NewFromFloat(nonNegative(meta.MinNotional))
	if px.Mul(amount).LessThan(minNotional) {
		if !autoBumpMinNotional || !px.IsPositive() {
			return result(ReasonMinNotional)
		}
		needed := qtyForNotional(minNotional, px, qtyStep)
		if needed.GreaterThan(amount) {
			amount = needed
		}
		if px.Mul(amount).LessThan(minNotional) {
			return result(ReasonMinNotional)
		}
	}

	if meta.MaxQty > 0 && amount.GreaterThan(decimal.NewFromFloat(meta.MaxQty)) {
		return result(ReasonMaxQty)
	}
	if meta.MaxPrice > 0 && px.GreaterThan(decimal.NewFromFloat(meta.MaxPrice)) {
		return result(ReasonMaxPrice)
	}

	return result(ReasonNone)
}

// qtyForNotional returns the smallest multiple of step whose notional at px
// reaches target.
func qtyForNotional(target, px, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return target.DivRound(px, 16)
	}
	units, rem := target.QuoRem(px.Mul(step), 0)
	if rem.IsPositive() {
		units = units.Add(decimal.NewFromInt(1))
	}
	return units.Mul(step)
}
