package paper

import (
	"context"
	"strconv"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"perpguard/internal/market"
	"perpguard/internal/schema"
	"perpguard/internal/venue"
	"perpguard/pkg/exception"
)

const (
	statusNew      = "NEW"
	statusFilled   = "FILLED"
	statusCanceled = "CANCELED"
	statusRejected = "REJECTED"
)

// Option configures the paper venue.
type Option struct {
	Name           string
	InitialBalance float64
	QuoteAsset     string
	Markets        map[string]market.MarketInfo
	// FundingRate is returned for every symbol, per IntervalHours.
	FundingRate   float64
	IntervalHours float64
	MakerFeeBp    float64
	TakerFeeBp    float64
}

type order struct {
	req    venue.OrderRequest
	result venue.OrderResult
}

// Venue simulates a perpetual futures venue with virtual balances. Limit
// orders rest until SetMark crosses them, stop orders trigger on the mark.
type Venue struct {
	opt Option

	mu       sync.Mutex
	seq      int64
	balance  float64
	orders   map[string]*order
	byClient map[string]string
	marks    map[string]float64
	leverage map[string]float64
	margin   map[string]venue.MarginMode
}

var (
	_ venue.Client             = (*Venue)(nil)
	_ venue.OrderFetcher       = (*Venue)(nil)
	_ venue.FundingRateFetcher = (*Venue)(nil)
)

func New(opt Option) *Venue {
	if opt.Name == "" {
		opt.Name = "paper"
	}
	if opt.QuoteAsset == "" {
		opt.QuoteAsset = "USDT"
	}
	if opt.IntervalHours <= 0 {
		opt.IntervalHours = 8
	}
	return &Venue{
		opt:      opt,
		balance:  opt.InitialBalance,
		orders:   make(map[string]*order),
		byClient: make(map[string]string),
		marks:    make(map[string]float64),
		leverage: make(map[string]float64),
		margin:   make(map[string]venue.MarginMode),
	}
}

func (v *Venue) Name() string {
	return v.opt.Name
}

func (v *Venue) Market(_ context.Context, symbol string) (market.MarketInfo, error) {
	info, ok := v.opt.Markets[symbol]
	if !ok {
		return market.MarketInfo{}, errors.Wrap(exception.ErrVenueUnknownSymbol, "paper market").With("symbol", symbol)
	}
	return info, nil
}

func (v *Venue) CreateOrder(_ context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if req.Amount <= 0 || !req.Side.Valid() {
		return venue.OrderResult{}, errors.Wrap(exception.ErrOrderInvalidRequest, "paper create order").With("amount", req.Amount)
	}
	if req.ClientOrderID != "" {
		if _, dup := v.byClient[req.ClientOrderID]; dup {
			return venue.OrderResult{}, errors.Wrap(exception.ErrOrderInvalidRequest, "duplicate client order id").With("client_order_id", req.ClientOrderID)
		}
	}

	v.seq++
	id := strconv.FormatInt(v.seq, 10)
	postOnly := req.Params.Bool("postOnly") || req.Params.String("timeInForce") == "GTX" || req.Params.String("ordType") == "post_only"
	o := &order{
		req: req,
		result: venue.OrderResult{
			ID:            id,
			ClientOrderID: req.ClientOrderID,
			Status:        statusNew,
			Price:         req.Price,
			PostOnly:      &postOnly,
		},
	}
	v.orders[id] = o
	if req.ClientOrderID != "" {
		v.byClient[req.ClientOrderID] = id
	}

	if mark, ok := v.marks[req.Symbol]; ok && req.Type == schema.OrderTypeLimit && crosses(req.Side, req.Price, mark) {
		if postOnly {
			o.result.Status = statusRejected
			logs.Infof("evt=paper_reject reason=post_only_cross symbol=%s client_order_id=%s", req.Symbol, req.ClientOrderID)
			return o.result, nil
		}
		v.fill(o, mark, v.opt.TakerFeeBp, false)
	}
	if req.Type == schema.OrderTypeMarket {
		mark, ok := v.marks[req.Symbol]
		if !ok {
			mark = req.Price
		}
		v.fill(o, mark, v.opt.TakerFeeBp, false)
	}
	return o.result, nil
}

func (v *Venue) CancelOrder(_ context.Context, orderID, _ string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	o, err := v.lookup(orderID)
	if err != nil {
		return err
	}
	if o.result.Status != statusNew {
		return errors.Wrap(exception.ErrVenueUnknownOrder, "order not open").With("order_id", orderID).With("status", o.result.Status)
	}
	o.result.Status = statusCanceled
	return nil
}

func (v *Venue) FetchOrder(_ context.Context, orderID, _ string) (venue.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	o, err := v.lookup(orderID)
	if err != nil {
		return venue.OrderResult{}, err
	}
	return o.result, nil
}

func (v *Venue) SetMarginMode(_ context.Context, mode venue.MarginMode, symbol string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.margin[symbol] = mode
	return nil
}

func (v *Venue) SetLeverage(_ context.Context, leverage float64, symbol string) error {
	if leverage <= 0 {
		return errors.Wrap(exception.ErrInvalidArgument, "paper leverage").With("leverage", leverage)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.leverage[symbol] = leverage
	return nil
}

func (v *Venue) FetchBalance(context.Context) (venue.Balance, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return venue.Balance{Currency: v.opt.QuoteAsset, Total: v.balance, Free: v.balance}, nil
}

func (v *Venue) FetchFundingRate(_ context.Context, symbol string) (venue.FundingRate, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return venue.FundingRate{
		Symbol:        symbol,
		Rate:          v.opt.FundingRate,
		IntervalHours: v.opt.IntervalHours,
		MarkPrice:     v.marks[symbol],
	}, nil
}

// SetMark moves the mark price of a symbol and fills every resting order
// it crosses. It returns the number of orders filled.
func (v *Venue) SetMark(symbol string, mark float64) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.marks[symbol] = mark
	filled := 0
	for _, o := range v.orders {
		if o.req.Symbol != symbol || o.result.Status != statusNew {
			continue
		}
		switch o.req.Type {
		case schema.OrderTypeLimit:
			if crosses(o.req.Side, o.req.Price, mark) {
				v.fill(o, o.req.Price, v.opt.MakerFeeBp, true)
				filled++
			}
		case schema.OrderTypeStopMarket:
			if triggered(o.req.Side, o.req.StopPrice, mark) {
				v.fill(o, mark, v.opt.TakerFeeBp, false)
				filled++
			}
		}
	}
	return filled
}

// Leverage returns the leverage set for a symbol.
func (v *Venue) Leverage(symbol string) float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.leverage[symbol]
}

func (v *Venue) lookup(orderID string) (*order, error) {
	if o, ok := v.orders[orderID]; ok {
		return o, nil
	}
	if id, ok := v.byClient[orderID]; ok {
		return v.orders[id], nil
	}
	return nil, errors.Wrap(exception.ErrVenueUnknownOrder, "paper lookup").With("order_id", orderID)
}

func (v *Venue) fill(o *order, price, feeBp float64, maker bool) {
	fee := price * o.req.Amount * feeBp / 10000
	v.balance -= fee
	o.result.Status = statusFilled
	o.result.Filled = o.req.Amount
	o.result.Average = price
	o.result.FeeCost = fee
	liquidity := "taker"
	if maker {
		liquidity = "maker"
	}
	o.result.Info = map[string]any{"takerOrMaker": liquidity}
	logs.Infof("evt=paper_fill symbol=%s side=%s qty=%v price=%v fee=%v", o.req.Symbol, o.req.Side, o.req.Amount, price, fee)
}

func crosses(side schema.Side, limit, mark float64) bool {
	if side == schema.SideBuy {
		return mark <= limit
	}
	return mark >= limit
}

func triggered(side schema.Side, stop, mark float64) bool {
	if side == schema.SideSell {
		return mark <= stop
	}
	return mark >= stop
}
