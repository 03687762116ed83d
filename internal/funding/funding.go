package funding

import (
	"math"
	"strings"

	"perpguard/internal/schema"
)

const hoursPerYear = 24 * 365

// Method selects how a periodic rate is annualized.
type Method string

const (
	MethodSimple     Method = "simple"
	MethodCompounded Method = "compounded"
)

// ParseMethod maps unknown values to MethodSimple.
func ParseMethod(s string) Method {
	if Method(strings.ToLower(strings.TrimSpace(s))) == MethodCompounded {
		return MethodCompounded
	}
	return MethodSimple
}

// Annualized converts a per-period funding rate into a yearly figure.
// A non-positive window yields zero. clamp > 0 caps the magnitude.
func Annualized(rate float64, hoursWindow float64, method Method, clamp float64) float64 {
	if hoursWindow <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0
	}

	periods := hoursPerYear / hoursWindow
	var annual float64
	if method == MethodCompounded {
		annual = math.Pow(1+rate, periods) - 1
	} else {
		annual = rate * periods
	}

	if clamp > 0 {
		annual = math.Max(-clamp, math.Min(clamp, annual))
	}
	return annual
}

// Event is one funding settlement: the periodic rate and the mark price it
// settled at.
type Event struct {
	Rate float64
	Mark float64
}

// Convention says who pays when the rate is positive. The zero value is
// the usual perpetual convention: longs pay.
type Convention struct {
	ShortsPayWhenPositive bool
}

func (c Convention) sign(side schema.Side) float64 {
	longPays := !c.ShortsPayWhenPositive
	switch {
	case side == schema.SideBuy && longPays, side == schema.SideSell && !longPays:
		return -1
	default:
		return 1
	}
}

// sideOf falls back to the sign of qty when side is unset.
func sideOf(side schema.Side, qty float64) schema.Side {
	if side.Valid() {
		return side
	}
	if qty > 0 {
		return schema.SideBuy
	}
	return schema.SideSell
}

// AccrueLinear returns the funding result of a quote-margined position in
// quote currency. Positive values are gains to the holder.
func AccrueLinear(side schema.Side, qty float64, events []Event, conv Convention) float64 {
	if qty == 0 {
		return 0
	}
	sign := conv.sign(sideOf(side, qty))

	total := 0.0
	for _, ev := range events {
		total += sign * math.Abs(qty) * ev.Mark * ev.Rate
	}
	return total
}

// AccrueInverse returns the funding result of a coin-margined position in
// quote currency. contractSize is the quote notional of one contract.
func AccrueInverse(side schema.Side, qty, contractSize float64, events []Event, conv Convention) float64 {
	if qty == 0 {
		return 0
	}
	sign := conv.sign(sideOf(side, qty))

	total := 0.0
	for _, ev := range events {
		total += sign * contractSize * math.Abs(qty) * ev.Rate
	}
	return total
}
