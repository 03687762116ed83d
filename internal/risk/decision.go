package risk

import "perpguard/internal/market"

// Reason explains a denied signal or a freeze.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonManual             Reason = "manual"
	ReasonDailyDrawdown      Reason = "daily_dd"
	ReasonFundingExtreme     Reason = "funding_extreme"
	ReasonNotifyDown         Reason = "notify_down"
	ReasonMaxPositions       Reason = "max_positions"
	ReasonZeroQty            Reason = "zero_qty"
	ReasonInsufficientMargin Reason = "insufficient_margin"
	ReasonMarketConstraints  Reason = "market_constraints"
)

// MarketReason prefixes a market guard rejection.
func MarketReason(r market.Reason) Reason {
	return Reason("market_" + string(r))
}

func (r Reason) String() string {
	return string(r)
}

// Action is the verdict of a guard evaluation.
type Action uint8

const (
	ActionDeny Action = iota
	ActionAllow
)

// Decision is the outcome of GuardSignal. Qty and Price are the sanitized
// order size and reference price when allowed.
type Decision struct {
	Action Action
	Reason Reason
	Qty    float64
	Price  float64
}

func (d Decision) Allowed() bool {
	return d.Action == ActionAllow
}

func deny(reason Reason) Decision {
	return Decision{Action: ActionDeny, Reason: reason}
}
