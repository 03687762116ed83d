package store

import "perpguard/internal/schema"

// Order is one exchange order attempt. OrderID is the exchange id, or the
// client order id when the venue never assigned one (rejections).
type Order struct {
	OrderID       string             `gorm:"column:order_id;primaryKey"`
	ClientOrderID string             `gorm:"column:client_order_id;uniqueIndex"`
	Symbol        string             `gorm:"column:symbol;index"`
	Side          schema.Side        `gorm:"column:side"`
	Type          schema.OrderType   `gorm:"column:type"`
	Qty           float64            `gorm:"column:qty"`
	Price         float64            `gorm:"column:price"`
	Status        schema.OrderStatus `gorm:"column:status;index"`
	CreatedMs     int64              `gorm:"column:created_at"`
	UpdatedMs     int64              `gorm:"column:updated_at"`
	PostOnly      bool               `gorm:"column:post_only"`
	ReduceOnly    bool               `gorm:"column:reduce_only"`
	Maker         bool               `gorm:"column:maker"`
	Fee           float64            `gorm:"column:fee"`
	RejectReason  *string            `gorm:"column:reject_reason"`
}

func (Order) TableName() string { return "orders" }

// Rejected reports whether the order never reached the venue book.
func (o Order) Rejected() bool {
	return o.Status == schema.OrderStatusRejected
}

// Position is the single open position of a symbol.
type Position struct {
	Symbol            string      `gorm:"column:symbol;primaryKey"`
	Side              schema.Side `gorm:"column:side"`
	Qty               float64     `gorm:"column:qty"`
	EntryPrice        float64     `gorm:"column:entry_price"`
	StopPrice         float64     `gorm:"column:stop_price"`
	TakeProfitPrice   float64     `gorm:"column:take_profit_price"`
	Leverage          float64     `gorm:"column:leverage"`
	OpenedMs          int64       `gorm:"column:opened_at"`
	StopOrderID       string      `gorm:"column:stop_order_id"`
	TakeProfitOrderID string      `gorm:"column:take_profit_order_id"`
	ReduceOnly        bool        `gorm:"column:reduce_only"`
	FundingPnL        float64     `gorm:"column:funding_pnl"`
	// ProtectionPending is set while protective orders are being replaced.
	ProtectionPending bool `gorm:"column:protection_pending"`
}

func (Position) TableName() string { return "positions" }

const freezeStateID = 1

// FreezeState is the process-wide risk circuit breaker. Reason keeps the
// trigger that set it.
type FreezeState struct {
	ID        uint   `gorm:"column:id;primaryKey;autoIncrement:false"`
	Frozen    bool   `gorm:"column:frozen"`
	Reason    string `gorm:"column:reason"`
	SetMs     int64  `gorm:"column:set_at"`
	ClearedMs int64  `gorm:"column:cleared_at"`
}

func (FreezeState) TableName() string { return "freeze_state" }

// LedgerEntry records a cash movement (fee, funding, realized pnl).
type LedgerEntry struct {
	ID     uint    `gorm:"column:id;primaryKey"`
	TsMs   int64   `gorm:"column:ts;index"`
	Type   string  `gorm:"column:type"`
	Amount float64 `gorm:"column:amount"`
	Meta   string  `gorm:"column:meta"`
}

func (LedgerEntry) TableName() string { return "ledger" }

// DailyNav is the account value snapshot for one UTC day, keyed by the day's
// start in unix milliseconds.
type DailyNav struct {
	DayMs      int64   `gorm:"column:ts;primaryKey;autoIncrement:false"`
	NAV        float64 `gorm:"column:nav"`
	TradingPnL float64 `gorm:"column:trading_pnl"`
	FeesPnL    float64 `gorm:"column:fees_pnl"`
	FundingPnL float64 `gorm:"column:funding_pnl"`
}

func (DailyNav) TableName() string { return "nav_daily" }
