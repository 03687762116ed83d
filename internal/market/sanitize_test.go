package market

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpguard/internal/schema"
)

func TestSanitizeOrder(t *testing.T) {
	testCases := []struct {
		desc      string
		meta      SymbolMeta
		side      schema.Side
		price     float64
		qty       float64
		autoBump  bool
		wantPrice float64
		wantQty   float64
		wantErr   Reason
	}{
		{
			desc:      "auto bump min notional",
			meta:      SymbolMeta{PriceIncrement: 0.1, QuantityIncrement: 0.01, MinNotional: 5},
			side:      schema.SideBuy,
			price:     10.07,
			qty:       0.2,
			autoBump:  true,
			wantPrice: 10.0,
			wantQty:   0.5,
		},
		{
			desc:      "min notional without bump",
			meta:      SymbolMeta{PriceIncrement: 0.5, QuantityIncrement: 0.01, MinNotional: 50},
			side:      schema.SideSell,
			price:     25.1,
			qty:       0.5,
			wantPrice: 25.5,
			wantQty:   0.5,
			wantErr:   ReasonMinNotional,
		},
		{
			desc:    "non positive price",
			meta:    SymbolMeta{PriceIncrement: 0.1, QuantityIncrement: 0.01},
			side:    schema.SideBuy,
			price:   0,
			qty:     1,
			wantQty: 1,
			wantErr: ReasonInvalid,
		},
		{
			desc:      "non positive qty",
			meta:      SymbolMeta{PriceIncrement: 0.1, QuantityIncrement: 0.01},
			side:      schema.SideBuy,
			price:     10,
			qty:       -1,
			wantPrice: 10,
			wantQty:   -1,
			wantErr:   ReasonInvalid,
		},
		{
			desc:      "qty floors to zero",
			meta:      SymbolMeta{PriceIncrement: 0.1, QuantityIncrement: 0.01},
			side:      schema.SideBuy,
			price:     10,
			qty:       0.004,
			autoBump:  true,
			wantPrice: 10,
			wantQty:   0,
			wantErr:   ReasonMinQty,
		},
		{
			desc:      "bump to min qty",
			meta:      SymbolMeta{PriceIncrement: 0.1, QuantityIncrement: 0.001, MinQty: 0.005},
			side:      schema.SideBuy,
			price:     20000,
			qty:       0.0021,
			autoBump:  true,
			wantPrice: 20000,
			wantQty:   0.005,
		},
		{
			desc:      "min qty below step",
			meta:      SymbolMeta{PriceIncrement: 0.1, QuantityIncrement: 0.01, MinQty: 0.009},
			side:      schema.SideBuy,
			price:     10,
			qty:       0.001,
			autoBump:  true,
			wantPrice: 10,
			wantQty:   0,
			wantErr:   ReasonMinQty,
		},
		{
			desc:      "max qty",
			meta:      SymbolMeta{PriceIncrement: 0.1, QuantityIncrement: 0.01, MaxQty: 1},
			side:      schema.SideBuy,
			price:     10,
			qty:       1.5,
			autoBump:  true,
			wantPrice: 10,
			wantQty:   1.5,
			wantErr:   ReasonMaxQty,
		},
		{
			desc:      "max price",
			meta:      SymbolMeta{PriceIncrement: 0.1, QuantityIncrement: 0.01, MaxPrice: 100},
			side:      schema.SideSell,
			price:     100.01,
			qty:       1,
			autoBump:  true,
			wantPrice: 100.1,
			wantQty:   1,
			wantErr:   ReasonMaxPrice,
		},
		{
			desc:      "bump never decreases qty",
			meta:      SymbolMeta{PriceIncrement: 0.1, QuantityIncrement: 0.01, MinNotional: 5},
			side:      schema.SideBuy,
			price:     10,
			qty:       3.337,
			autoBump:  true,
			wantPrice: 10,
			wantQty:   3.33,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := SanitizeOrder(tc.meta, tc.side, tc.price, tc.qty, tc.autoBump)
			assert.Equal(t, tc.wantErr, got.Reason)
			assert.Equal(t, tc.wantPrice, got.Price)
			assert.Equal(t, tc.wantQty, got.Qty)
			assert.Equal(t, tc.wantErr == ReasonNone, got.OK())
		})
	}
}

func TestSanitizeOrderIdempotent(t *testing.T) {
	meta := SymbolMeta{PriceIncrement: 0.1, QuantityIncrement: 0.01, MinNotional: 5, MinQty: 0.02}
	first := SanitizeOrder(meta, schema.SideBuy, 10.07, 0.2, true)
	require.True(t, first.OK())

	second := SanitizeOrder(meta, schema.SideBuy, first.Price, first.Qty, true)
	require.True(t, second.OK())
	assert.Equal(t, first, second)
}

func TestMetaFromMarket(t *testing.T) {
	two, three := 2.0, 3.0
	meta := MetaFromMarket(MarketInfo{
		PricePrecision:  &two,
		AmountPrecision: &three,
		MinAmount:       0.001,
		MaxAmount:       1000,
		MinCost:         5,
		MaxPrice:        1e6,
	})
	assert.Equal(t, 0.01, meta.PriceIncrement)
	assert.Equal(t, 0.001, meta.QuantityIncrement)
	assert.Equal(t, 0.001, meta.MinQty)
	assert.Equal(t, 5.0, meta.MinNotional)
	assert.Equal(t, 1000.0, meta.MaxQty)
	assert.Equal(t, 1e6, meta.MaxPrice)

	fallback := MetaFromMarket(MarketInfo{TickSize: 0.5, StepSize: 0.1})
	assert.Equal(t, 0.5, fallback.PriceIncrement)
	assert.Equal(t, 0.1, fallback.QuantityIncrement)

	defaults := MetaFromMarket(MarketInfo{})
	assert.Equal(t, defaultPriceIncrement, defaults.PriceIncrement)
	assert.Equal(t, defaultQuantityIncrement, defaults.QuantityIncrement)
}

func FuzzSanitizeOrder(f *testing.F) {
	f.Add(10.07, 0.2, true, true)
	f.Add(25.1, 0.5, false, false)
	f.Add(20123.456, 0.00123, true, true)
	f.Add(0.5, 1000.0, false, true)
	f.Add(3.3333, 7.777, true, false)

	meta := SymbolMeta{PriceIncrement: 0.1, QuantityIncrement: 0.01, MinNotional: 5, MinQty: 0.02}

	f.Fuzz(func(t *testing.T, price, qty float64, buy, autoBump bool) {
		if !finite(price) || !finite(qty) || price <= 0 || qty <= 0 || price > 1e7 || qty > 1e7 {
			t.Skip()
		}
		side := schema.SideSell
		if buy {
			side = schema.SideBuy
		}

		got := SanitizeOrder(meta, side, price, qty, autoBump)
		if !got.OK() {
			return
		}

		if got.Price*got.Qty < meta.MinNotional-1e-9 {
			t.Fatalf("notional below minimum: price=%v qty=%v", got.Price, got.Qty)
		}
		if got.Qty < meta.MinQty {
			t.Fatalf("qty below minimum: %v", got.Qty)
		}
		units := got.Qty / meta.QuantityIncrement
		if math.Abs(units-math.Round(units)) > 1e-6 {
			t.Fatalf("qty off grid: %v", got.Qty)
		}

		again := SanitizeOrder(meta, side, got.Price, got.Qty, autoBump)
		if again != got {
			t.Fatalf("sanitize not idempotent: first=%+v second=%+v", got, again)
		}
	})
}
