package market

import (
	"math"

	"github.com/shopspring/decimal"
)

const (
	defaultPriceIncrement    = 0.01
	defaultQuantityIncrement = 0.0001
)

// SymbolMeta holds the exchange constraints of one instrument.
// MaxQty and MaxPrice are zero when the venue does not publish them.
type SymbolMeta struct {
	PriceIncrement    float64 `json:"priceIncrement"`
	QuantityIncrement float64 `json:"quantityIncrement"`
	MinNotional       float64 `json:"minNotional"`
	MinQty            float64 `json:"minQty"`
	MaxQty            float64 `json:"maxQty,omitempty"`
	MaxPrice          float64 `json:"maxPrice,omitempty"`
}

// MarketInfo is the subset of venue market data used to derive SymbolMeta.
// Precision values are decimal places; nil means unknown.
type MarketInfo struct {
	PricePrecision  *float64
	AmountPrecision *float64
	MinPrice        float64
	MaxPrice        float64
	MinAmount       float64
	MaxAmount       float64
	MinCost         float64
	TickSize        float64
	StepSize        float64
}

// MetaFromMarket derives SymbolMeta from venue market data.
// Steps come from precision first, then limit minimums, then raw tick/step
// sizes, then fixed defaults.
func MetaFromMarket(info MarketInfo) SymbolMeta {
	priceStep := firstPositive(stepFromPrecision(info.PricePrecision), info.MinPrice, info.TickSize, defaultPriceIncrement)
	qtyStep := firstPositive(stepFromPrecision(info.AmountPrecision), info.MinAmount, info.StepSize, defaultQuantityIncrement)

	return SymbolMeta{
		PriceIncrement:    priceStep,
		QuantityIncrement: qtyStep,
		MinNotional:       nonNegative(info.MinCost),
		MinQty:            nonNegative(info.MinAmount),
		MaxQty:            nonNegative(info.MaxAmount),
		MaxPrice:          nonNegative(info.MaxPrice),
	}
}

func stepFromPrecision(p *float64) float64 {
	if p == nil || !finite(*p) {
		return 0
	}
	if *p == math.Trunc(*p) && math.Abs(*p) < 30 {
		return decimal.New(1, int32(-*p)).InexactFloat64()
	}
	return math.Pow(10, -*p)
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 && finite(v) {
			return v
		}
	}
	return 0
}

func nonNegative(v float64) float64 {
	if v < 0 || !finite(v) {
		return 0
	}
	return v
}
