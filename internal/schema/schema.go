package schema

import "strings"

// Side describes order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
	SideNone Side = ""
)

// ParseSide normalizes a venue or config side string. Unknown values map to SideNone.
func ParseSide(s string) Side {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy", "long", "bid":
		return SideBuy
	case "sell", "short", "ask":
		return SideSell
	default:
		return SideNone
	}
}

// Valid reports whether the side is buy or sell.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Opposite returns the hedge side. SideNone stays SideNone.
func (s Side) Opposite() Side {
	switch s {
	case SideBuy:
		return SideSell
	case SideSell:
		return SideBuy
	default:
		return SideNone
	}
}

func (s Side) String() string {
	return string(s)
}

// OrderStatus is the normalized local order status.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// NormalizeOrderStatus folds a venue status string into open, closed or canceled.
func NormalizeOrderStatus(raw string) OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "closed", "filled":
		return OrderStatusClosed
	case "canceled", "cancelled", "expired", "rejected":
		return OrderStatusCanceled
	default:
		return OrderStatusOpen
	}
}

// OrderType describes the order type sent to a venue.
type OrderType string

const (
	OrderTypeLimit      OrderType = "limit"
	OrderTypeMarket     OrderType = "market"
	OrderTypeStopMarket OrderType = "stop_market"
)
