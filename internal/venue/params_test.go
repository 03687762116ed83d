package venue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderParams(t *testing.T) {
	testCases := []struct {
		desc       string
		venue      string
		postOnly   bool
		reduceOnly bool
		trigger    Trigger
		marketType string
		want       Params
	}{
		{
			desc:     "binance futures adds GTX",
			venue:    "binanceusdm",
			postOnly: true,
			trigger:  TriggerIndex,
			want:     Params{"postOnly": true, "timeInForce": "GTX", "workingType": "INDEX_PRICE"},
		},
		{
			desc:     "binance spot skips GTX",
			venue:    "binance",
			postOnly: true,
			want:     Params{"postOnly": true, "workingType": "MARK_PRICE"},
		},
		{
			desc:       "binance with linear market type",
			venue:      "Binance",
			postOnly:   true,
			reduceOnly: true,
			trigger:    TriggerLast,
			marketType: "linear",
			want:       Params{"postOnly": true, "timeInForce": "GTX", "reduceOnly": true, "workingType": "CONTRACT_PRICE"},
		},
		{
			desc:       "bybit index trigger",
			venue:      "bybit",
			postOnly:   true,
			reduceOnly: true,
			trigger:    TriggerIndex,
			want:       Params{"postOnly": true, "reduce_only": true, "triggerBy": "IndexPrice"},
		},
		{
			desc:    "bybit defaults to mark",
			venue:   "bybitlinear",
			trigger: "weird",
			want:    Params{"triggerBy": "MarkPrice"},
		},
		{
			desc:       "okx post only",
			venue:      "okx",
			postOnly:   true,
			reduceOnly: true,
			trigger:    TriggerLast,
			want:       Params{"ordType": "post_only", "reduceOnly": true, "triggerPxType": "last"},
		},
		{
			desc:    "okx unknown trigger",
			venue:   "okx",
			trigger: "oracle",
			want:    Params{"triggerPxType": "mark"},
		},
		{
			desc:       "unknown venue",
			venue:      "kraken",
			postOnly:   true,
			reduceOnly: true,
			trigger:    TriggerMark,
			want:       Params{"postOnly": true, "reduceOnly": true},
		},
		{
			desc:  "unknown venue without flags",
			venue: "",
			want:  Params{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			got := OrderParams(tc.venue, tc.postOnly, tc.reduceOnly, tc.trigger, tc.marketType)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParamsMerge(t *testing.T) {
	base := Params{"postOnly": true}
	merged := base.Merge(Params{"clientOrderId": "abc"})
	assert.Equal(t, Params{"postOnly": true, "clientOrderId": "abc"}, merged)
	assert.Len(t, base, 1)
	assert.True(t, merged.Bool("postOnly"))
	assert.Equal(t, "abc", merged.String("clientOrderId"))
	assert.Empty(t, merged.String("missing"))
}

func TestOrderResultIsMaker(t *testing.T) {
	yes, no := true, false
	testCases := []struct {
		desc   string
		result OrderResult
		want   bool
	}{
		{"default", OrderResult{}, true},
		{"takerOrMaker wins", OrderResult{Info: map[string]any{"takerOrMaker": "taker", "maker": true}}, false},
		{"maker flag", OrderResult{Info: map[string]any{"maker": false, "liquidity": "maker"}}, false},
		{"liquidity", OrderResult{Info: map[string]any{"liquidity": "Maker"}}, true},
		{"liquidity taker", OrderResult{Info: map[string]any{"liquidity": "taker"}}, false},
		{"post only echo", OrderResult{PostOnly: &no}, false},
		{"empty info falls through", OrderResult{Info: map[string]any{}, PostOnly: &no}, false},
		{"post only true", OrderResult{PostOnly: &yes}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.result.IsMaker())
		})
	}
}

func TestOrderResultFallbacks(t *testing.T) {
	r := OrderResult{}
	assert.Equal(t, "coid", r.OrderID("coid"))
	assert.Equal(t, 100.0, r.AveragePrice(100))
	assert.Equal(t, "open", string(r.NormalizedStatus()))

	r = OrderResult{ClientOrderID: "c", Price: 99, Status: "FILLED"}
	assert.Equal(t, "c", r.OrderID("coid"))
	assert.Equal(t, 99.0, r.AveragePrice(100))
	assert.Equal(t, "closed", string(r.NormalizedStatus()))

	r = OrderResult{ID: "1", ClientOrderID: "c", Average: 98, Price: 99, Status: "expired"}
	assert.Equal(t, "1", r.OrderID("coid"))
	assert.Equal(t, 98.0, r.AveragePrice(100))
	assert.Equal(t, "canceled", string(r.NormalizedStatus()))
}
