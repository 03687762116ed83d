package execution

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"math"
	"strconv"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"perpguard/internal/market"
	"perpguard/internal/obs"
	"perpguard/internal/schema"
	"perpguard/internal/store"
	"perpguard/internal/venue"
	"perpguard/pkg/exception"
)

const (
	// LadderStepPct is the spacing between ladder levels as a share of price.
	LadderStepPct = 0.0005

	clientOrderIDLen = 24

	// RejectSubmitError marks a level the venue refused or never answered.
	RejectSubmitError = "submit_error"
)

// LadderPrices returns max(levels, 1) prices stepping away from price:
// below it for buys, above it for sells. Level 0 is the closest.
func LadderPrices(side schema.Side, price float64, levels int) []float64 {
	if levels < 1 {
		levels = 1
	}
	step := LadderStepPct * price
	prices := make([]float64, levels)
	for i := range prices {
		offset := step * float64(i+1)
		if side == schema.SideBuy {
			prices[i] = price - offset
		} else {
			prices[i] = price + offset
		}
	}
	return prices
}

// ClientOrderID is the idempotency key of one ladder level. It is a pure
// function of its inputs.
func ClientOrderID(symbol string, side schema.Side, level int, tsMs int64) string {
	return hashID(symbol + "|" + side.String() + "|" + strconv.Itoa(level) + "|" + strconv.FormatInt(tsMs, 10))
}

func protectiveClientOrderID(symbol, kind string, tsMs int64) string {
	return hashID(symbol + "|" + kind + "|" + strconv.FormatInt(tsMs, 10))
}

func hashID(seed string) string {
	sum := md5.Sum([]byte(seed))
	return hex.EncodeToString(sum[:])[:clientOrderIDLen]
}

// LadderRequest is one sized signal. TimestampMs keys the client order ids
// and must be captured once per cycle and reused on retries; zero means now.
// Persisted orders carry the placement time instead.
type LadderRequest struct {
	Symbol      string
	Side        schema.Side
	Price       float64
	Qty         float64
	Stop        float64
	TakeProfit  float64
	TimestampMs int64
}

type ladderLevel struct {
	index int
	price float64
	qty   float64
	coid  string
}

// SubmitLadder splits the request across ladder levels and submits each
// level once. Per-level failures are recorded as rejected orders and never
// abort the remaining levels. Filled quantity establishes or extends the
// position. The returned ids are the orders accepted by the venue.
func (e *Engine) SubmitLadder(ctx context.Context, req LadderRequest) ([]string, error) {
	if !req.Side.Valid() {
		return nil, errors.Wrap(exception.ErrOrderUnknownSide, "submit ladder").With("side", req.Side)
	}
	ts := req.TimestampMs
	if ts == 0 {
		ts = e.nowMs()
	}

	e.ensureLeverage(ctx, req.Symbol)
	meta := e.SymbolMeta(ctx, req.Symbol)

	prices := LadderPrices(req.Side, req.Price, e.cfg.LadderLevels)
	perLevel := req.Qty / float64(len(prices))

	levels := make([]ladderLevel, 0, len(prices))
	for i, lp := range prices {
		coid := ClientOrderID(req.Symbol, req.Side, i, ts)
		s := market.SanitizeOrder(meta, req.Side, lp, perLevel, true)
		if !s.OK() {
			if err := e.recordReject(ctx, req, ladderLevel{index: i, price: s.Price, qty: s.Qty, coid: coid}, string(s.Reason)); err != nil {
				return nil, err
			}
			continue
		}
		levels = append(levels, ladderLevel{index: i, price: s.Price, qty: s.Qty, coid: coid})
	}

	var (
		orderIDs    []string
		filledQty   float64
		filledValue float64
	)
	for _, level := range levels {
		_, exists, err := e.store.GetOrderByClientID(ctx, level.coid)
		if err != nil {
			return orderIDs, errors.Wrap(err, "lookup client order id").With("client_order_id", level.coid)
		}
		if exists {
			logs.Debugf("evt=order_skip_duplicate symbol=%s client_order_id=%s level=%d", req.Symbol, level.coid, level.index)
			continue
		}

		params := venue.OrderParams(e.client.Name(), e.cfg.PostOnly, false, "", e.cfg.MarketType).
			Merge(venue.Params{"clientOrderId": level.coid})
		logs.Infof("evt=order_submit symbol=%s side=%s level=%d price=%v qty=%v client_order_id=%s",
			req.Symbol, req.Side, level.index, level.price, level.qty, level.coid)
		e.metrics.ObserveOrder(obs.EventSubmit, req.Symbol)

		res, err := e.client.CreateOrder(ctx, venue.OrderRequest{
			Symbol:        req.Symbol,
			Type:          schema.OrderTypeLimit,
			Side:          req.Side,
			Amount:        level.qty,
			Price:         level.price,
			ClientOrderID: level.coid,
			Params:        params,
		})
		if err != nil {
			logs.Errorf("evt=order_error symbol=%s side=%s client_order_id=%s reason=%s err: %+v",
				req.Symbol, req.Side, level.coid, RejectSubmitError, err)
			e.metrics.ObserveOrder(obs.EventSubmitError, req.Symbol)
			if err := e.recordReject(ctx, req, level, RejectSubmitError); err != nil {
				return orderIDs, err
			}
			continue
		}

		oid := res.OrderID(level.coid)
		status := res.NormalizedStatus()
		placedMs := e.nowMs()
		orderIDs = append(orderIDs, oid)
		if err := e.store.UpsertOrder(ctx, store.Order{
			OrderID:       oid,
			ClientOrderID: level.coid,
			Symbol:        req.Symbol,
			Side:          req.Side,
			Type:          schema.OrderTypeLimit,
			Qty:           level.qty,
			Price:         level.price,
			Status:        status,
			CreatedMs:     placedMs,
			UpdatedMs:     placedMs,
			PostOnly:      e.cfg.PostOnly,
			Maker:         res.IsMaker(),
			Fee:           res.FeeCost,
		}); err != nil {
			return orderIDs, errors.Wrap(err, "persist order").With("order_id", oid)
		}

		if amount := filledAmount(status, res.Filled, level.qty); amount > 0 {
			avg := res.AveragePrice(level.price)
			filledQty += amount
			filledValue += amount * avg
			e.logFill(req, level, oid, amount, avg)
			continue
		}

		amount, avg, err := e.pollFill(ctx, req, level, oid)
		if err != nil {
			return orderIDs, err
		}
		filledQty += amount
		filledValue += amount * avg
	}

	if filledQty > 0 {
		avg := filledValue / math.Max(filledQty, 1e-9)
		if err := e.establishPosition(ctx, req.Symbol, req.Side, filledQty, avg, req.Stop, req.TakeProfit); err != nil {
			return orderIDs, err
		}
	}
	return orderIDs, nil
}

// filledAmount is the filled size a venue reported for a freshly placed
// level. A closed order without a fill size counts as fully filled.
func filledAmount(status schema.OrderStatus, filled, qty float64) float64 {
	if status == schema.OrderStatusClosed {
		if filled > 0 {
			return filled
		}
		return qty
	}
	if filled > 0 {
		return math.Min(filled, qty)
	}
	return 0
}

// pollFill queries the order once when the venue supports it. Query
// failures are logged and count as no fill.
func (e *Engine) pollFill(ctx context.Context, req LadderRequest, level ladderLevel, oid string) (float64, float64, error) {
	fetcher, ok := e.client.(venue.OrderFetcher)
	if !ok {
		return 0, 0, nil
	}
	fetched, err := fetcher.FetchOrder(ctx, oid, req.Symbol)
	if err != nil {
		logs.Warnf("evt=fetch_order_error symbol=%s order_id=%s err: %+v", req.Symbol, oid, err)
		return 0, 0, nil
	}
	if fetched.NormalizedStatus() != schema.OrderStatusClosed && fetched.Filled < level.qty {
		return 0, 0, nil
	}

	avg := fetched.AveragePrice(level.price)
	if err := e.store.UpdateOrderStatus(ctx, oid, schema.OrderStatusClosed, e.nowMs()); err != nil {
		return 0, 0, errors.Wrap(err, "update order status").With("order_id", oid)
	}
	e.logFill(req, level, oid, level.qty, avg)
	return level.qty, avg, nil
}

func (e *Engine) logFill(req LadderRequest, level ladderLevel, oid string, qty, price float64) {
	logs.Infof("evt=order_filled symbol=%s side=%s qty=%v price=%v order_id=%s client_order_id=%s",
		req.Symbol, req.Side, qty, price, oid, level.coid)
	e.metrics.ObserveOrder(obs.EventFill, req.Symbol)
}

func (e *Engine) recordReject(ctx context.Context, req LadderRequest, level ladderLevel, reason string) error {
	logs.Infof("evt=order_reject symbol=%s side=%s level=%d price=%v qty=%v client_order_id=%s reason=%s",
		req.Symbol, req.Side, level.index, level.price, level.qty, level.coid, reason)
	e.metrics.ObserveOrder(obs.EventReject, req.Symbol)

	r := reason
	ts := e.nowMs()
	err := e.store.UpsertOrder(ctx, store.Order{
		OrderID:       level.coid,
		ClientOrderID: level.coid,
		Symbol:        req.Symbol,
		Side:          req.Side,
		Type:          schema.OrderTypeLimit,
		Qty:           level.qty,
		Price:         level.price,
		Status:        schema.OrderStatusRejected,
		CreatedMs:     ts,
		UpdatedMs:     ts,
		PostOnly:      e.cfg.PostOnly,
		Maker:         true,
		RejectReason:  &r,
	})
	if err != nil {
		return errors.Wrap(err, "persist rejected order").With("client_order_id", level.coid)
	}
	return nil
}
