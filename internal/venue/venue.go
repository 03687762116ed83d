package venue

import (
	"context"
	"strings"

	"perpguard/internal/market"
	"perpguard/internal/schema"
)

// Client is the narrow set of venue calls the execution engine relies on.
// Every call may fail; callers decide whether a failure blocks progress.
type Client interface {
	// Name is the venue id used by OrderParams, e.g. "binanceusdm".
	Name() string
	Market(ctx context.Context, symbol string) (market.MarketInfo, error)
	CreateOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	CancelOrder(ctx context.Context, orderID, symbol string) error
	SetMarginMode(ctx context.Context, mode MarginMode, symbol string) error
	SetLeverage(ctx context.Context, leverage float64, symbol string) error
	FetchBalance(ctx context.Context) (Balance, error)
}

// OrderFetcher is implemented by venues that can query a single order.
type OrderFetcher interface {
	FetchOrder(ctx context.Context, orderID, symbol string) (OrderResult, error)
}

// FundingRateFetcher is implemented by venues with perpetual funding.
type FundingRateFetcher interface {
	FetchFundingRate(ctx context.Context, symbol string) (FundingRate, error)
}

type MarginMode string

const (
	MarginIsolated MarginMode = "isolated"
	MarginCross    MarginMode = "cross"
)

// OrderRequest is one order submission. Price is ignored for market and
// stop orders; StopPrice is only used by stop orders.
type OrderRequest struct {
	Symbol        string
	Type          schema.OrderType
	Side          schema.Side
	Amount        float64
	Price         float64
	StopPrice     float64
	ClientOrderID string
	Params        Params
}

// OrderResult is the venue's view of an order. Info carries raw
// venue-specific fields.
type OrderResult struct {
	ID            string
	ClientOrderID string
	Status        string
	Price         float64
	Average       float64
	Filled        float64
	FeeCost       float64
	// PostOnly is nil when the venue does not echo it back.
	PostOnly *bool
	Info     map[string]any
}

// OrderID returns the exchange id, then the client id, then fallback.
func (r OrderResult) OrderID(fallback string) string {
	if r.ID != "" {
		return r.ID
	}
	if r.ClientOrderID != "" {
		return r.ClientOrderID
	}
	return fallback
}

func (r OrderResult) NormalizedStatus() schema.OrderStatus {
	if r.Status == "" {
		return schema.OrderStatusOpen
	}
	return schema.NormalizeOrderStatus(r.Status)
}

// AveragePrice returns the average fill price, then the order price, then fallback.
func (r OrderResult) AveragePrice(fallback float64) float64 {
	if r.Average > 0 {
		return r.Average
	}
	if r.Price > 0 {
		return r.Price
	}
	return fallback
}

// IsMaker resolves the liquidity flag: takerOrMaker, then maker, then
// liquidity from Info, then the echoed post-only flag. Unknown is maker.
func (r OrderResult) IsMaker() bool {
	if r.Info != nil {
		if v, ok := r.Info["takerOrMaker"].(string); ok {
			return strings.EqualFold(v, "maker")
		}
		if v, ok := r.Info["maker"]; ok {
			return truthy(v)
		}
		if v, ok := r.Info["liquidity"]; ok {
			s, _ := v.(string)
			return strings.EqualFold(s, "maker")
		}
	}
	if r.PostOnly != nil {
		return *r.PostOnly
	}
	return true
}

func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return t != "" && !strings.EqualFold(t, "false") && t != "0"
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return v != nil
	}
}

// Balance is the quote-currency account balance.
type Balance struct {
	Currency string
	Total    float64
	Free     float64
}

// FundingRate is the current funding of a perpetual.
type FundingRate struct {
	Symbol        string
	Rate          float64
	IntervalHours float64
	MarkPrice     float64
	NextFundingMs int64
}
