package execution

import (
	"context"
	"math"

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
	kindStop       = "sl"
	kindTakeProfit = "tp"
)

// establishPosition opens or extends the position of symbol with a fill and
// replaces its protective orders. The averaged position is persisted with
// ProtectionPending before any venue call so that RecoverProtection can
// finish the job after a crash.
func (e *Engine) establishPosition(ctx context.Context, symbol string, side schema.Side, qty, entry, stop, tp float64) error {
	meta := e.SymbolMeta(ctx, symbol)
	hedge := side.Opposite()

	qty = market.RoundQtyFloor(qty, meta.QuantityIncrement)
	entry = market.RoundToStep(entry, meta.PriceIncrement)
	if stop > 0 {
		stop = market.RoundPriceForSide(stop, meta.PriceIncrement, hedge)
	}
	if tp > 0 {
		tp = market.RoundPriceForSide(tp, meta.PriceIncrement, hedge)
	}
	if qty <= 0 {
		logs.Warnf("evt=position_skip symbol=%s reason=fill_below_step qty=%v", symbol, qty)
		return nil
	}

	var (
		pos                  store.Position
		staleStop, staleTake string
	)
	err := e.store.Transaction(ctx, func(tx store.Store) error {
		existing, ok, err := tx.GetPosition(ctx, symbol)
		if err != nil {
			return errors.Wrap(err, "load position")
		}

		if ok {
			if existing.Side != side {
				logs.Errorf("evt=position_conflict symbol=%s position_side=%s position_qty=%v fill_side=%s fill_qty=%v fill_avg_price=%v",
					symbol, existing.Side, existing.Qty, side, qty, entry)
				return errors.Wrap(exception.ErrOrderInvalidRequest, "fill against opposite position").
					With("symbol", symbol).With("position_side", existing.Side).With("fill_side", side)
			}
			total := market.RoundQtyFloor(existing.Qty+qty, meta.QuantityIncrement)
			existing.EntryPrice = (existing.EntryPrice*existing.Qty + entry*qty) / math.Max(total, 1e-9)
			existing.Qty = total
			if stop > 0 {
				existing.StopPrice = stop
			}
			if tp > 0 {
				existing.TakeProfitPrice = tp
			}
			staleStop, staleTake = existing.StopOrderID, existing.TakeProfitOrderID
			pos = existing
		} else {
			pos = store.Position{
				Symbol:          symbol,
				Side:            side,
				Qty:             qty,
				EntryPrice:      entry,
				StopPrice:       stop,
				TakeProfitPrice: tp,
				Leverage:        e.cfg.Leverage,
				OpenedMs:        e.nowMs(),
				ReduceOnly:      true,
			}
		}

		pos.ProtectionPending = true
		if err := tx.SetPosition(ctx, pos); err != nil {
			return errors.Wrap(err, "save position")
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "establish position").With("symbol", symbol)
	}

	logs.Infof("evt=position_update symbol=%s side=%s qty=%v entry_price=%v stop=%v take_profit=%v",
		symbol, pos.Side, pos.Qty, pos.EntryPrice, pos.StopPrice, pos.TakeProfitPrice)

	return e.replaceProtection(ctx, pos, staleStop, staleTake)
}

// replaceProtection cancels stale protective orders, submits fresh ones
// sized for the position and persists their ids. ProtectionPending stays
// set when a requested protective order could not be placed.
func (e *Engine) replaceProtection(ctx context.Context, pos store.Position, staleIDs ...string) error {
	for _, id := range staleIDs {
		if err := e.cancelStale(ctx, pos.Symbol, id); err != nil {
			return err
		}
	}

	meta := e.SymbolMeta(ctx, pos.Symbol)
	hedge := pos.Side.Opposite()
	qty := market.RoundQtyFloor(pos.Qty, meta.QuantityIncrement)
	ts := e.nowMs()
	complete := true

	pos.StopOrderID = ""
	if pos.StopPrice > 0 {
		px := market.RoundPriceForSide(pos.StopPrice, meta.PriceIncrement, hedge)
		id, err := e.submitProtective(ctx, pos.Symbol, kindStop, venue.OrderRequest{
			Symbol:    pos.Symbol,
			Type:      schema.OrderTypeStopMarket,
			Side:      hedge,
			Amount:    qty,
			StopPrice: px,
		}, px, ts)
		if err != nil {
			return err
		}
		pos.StopOrderID = id
		complete = complete && id != ""
	}

	pos.TakeProfitOrderID = ""
	if pos.TakeProfitPrice > 0 {
		px := market.RoundPriceForSide(pos.TakeProfitPrice, meta.PriceIncrement, hedge)
		id, err := e.submitProtective(ctx, pos.Symbol, kindTakeProfit, venue.OrderRequest{
			Symbol: pos.Symbol,
			Type:   schema.OrderTypeLimit,
			Side:   hedge,
			Amount: qty,
			Price:  px,
		}, px, ts)
		if err != nil {
			return err
		}
		pos.TakeProfitOrderID = id
		complete = complete && id != ""
	}

	pos.ProtectionPending = !complete
	if err := e.store.SetPosition(ctx, pos); err != nil {
		return errors.Wrap(err, "save protected position").With("symbol", pos.Symbol)
	}
	e.metrics.SetPosition(pos.Symbol, signedQty(pos), pos.EntryPrice)
	return nil
}

// cancelStale cancels a protective order on the venue, best effort, and
// always drops the local record.
func (e *Engine) cancelStale(ctx context.Context, symbol, orderID string) error {
	if orderID == "" {
		return nil
	}
	if err := e.client.CancelOrder(ctx, orderID, symbol); err != nil {
		logs.Warnf("evt=protective_cancel_error symbol=%s order_id=%s err: %+v", symbol, orderID, err)
		e.metrics.ObserveOrder(obs.EventCancelError, symbol)
	} else {
		logs.Infof("evt=order_cancel symbol=%s order_id=%s reason=replace_protective", symbol, orderID)
		e.metrics.ObserveOrder(obs.EventCancel, symbol)
	}
	if err := e.store.DeleteOrder(ctx, orderID); err != nil {
		return errors.Wrap(err, "delete stale protective order").With("order_id", orderID)
	}
	return nil
}

// submitProtective places one reduce-only order. A venue failure is logged
// and reported as an empty id; only store failures return an error.
func (e *Engine) submitProtective(ctx context.Context, symbol, kind string, req venue.OrderRequest, px float64, ts int64) (string, error) {
	coid := protectiveClientOrderID(symbol, kind, ts)
	req.ClientOrderID = coid
	req.Params = venue.OrderParams(e.client.Name(), false, true, e.cfg.ProtectiveTrigger, e.cfg.MarketType).
		Merge(venue.Params{"clientOrderId": coid})
	if req.Type == schema.OrderTypeStopMarket {
		req.Params["stopPrice"] = px
	}

	res, err := e.client.CreateOrder(ctx, req)
	if err != nil {
		logs.Errorf("evt=protective_error symbol=%s kind=%s side=%s price=%v qty=%v err: %+v",
			symbol, kind, req.Side, px, req.Amount, err)
		e.metrics.ObserveOrder(obs.EventProtectiveError, symbol)
		return "", nil
	}

	id := res.OrderID(coid)
	clientID := res.ClientOrderID
	if clientID == "" {
		clientID = coid
	}
	created := e.nowMs()
	if err := e.store.UpsertOrder(ctx, store.Order{
		OrderID:       id,
		ClientOrderID: clientID,
		Symbol:        symbol,
		Side:          req.Side,
		Type:          req.Type,
		Qty:           req.Amount,
		Price:         px,
		Status:        res.NormalizedStatus(),
		CreatedMs:     created,
		UpdatedMs:     created,
		ReduceOnly:    true,
	}); err != nil {
		return "", errors.Wrap(err, "persist protective order").With("order_id", id)
	}

	logs.Infof("evt=protective_submit symbol=%s kind=%s side=%s price=%v qty=%v order_id=%s",
		symbol, kind, req.Side, px, req.Amount, id)
	e.metrics.ObserveOrder(obs.EventProtectiveSubmit, symbol)
	return id, nil
}

// RecoverProtection resubmits protective orders for every position left
// mid-replacement or whose protective ids no longer resolve to open
// orders. It returns the number of positions repaired.
func (e *Engine) RecoverProtection(ctx context.Context) (int, error) {
	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list positions")
	}

	repaired := 0
	for _, pos := range positions {
		need := pos.ProtectionPending
		if !need && pos.StopPrice > 0 {
			live, err := e.orderLive(ctx, pos.Symbol, pos.StopOrderID)
			if err != nil {
				return repaired, err
			}
			need = !live
		}
		if !need && pos.TakeProfitPrice > 0 {
			live, err := e.orderLive(ctx, pos.Symbol, pos.TakeProfitOrderID)
			if err != nil {
				return repaired, err
			}
			need = !live
		}
		if !need {
			continue
		}

		logs.Warnf("evt=protection_recover symbol=%s pending=%v stop_order_id=%s take_profit_order_id=%s",
			pos.Symbol, pos.ProtectionPending, pos.StopOrderID, pos.TakeProfitOrderID)
		if err := e.replaceProtection(ctx, pos, pos.StopOrderID, pos.TakeProfitOrderID); err != nil {
			return repaired, err
		}
		repaired++
	}
	return repaired, nil
}

// orderLive reports whether a protective order is still open. The venue is
// asked when it supports order queries; an unanswered query counts as live.
func (e *Engine) orderLive(ctx context.Context, symbol, orderID string) (bool, error) {
	if orderID == "" {
		return false, nil
	}
	local, ok, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return false, errors.Wrap(err, "load protective order").With("order_id", orderID)
	}
	if !ok {
		return false, nil
	}

	fetcher, isFetcher := e.client.(venue.OrderFetcher)
	if !isFetcher {
		return local.Status == schema.OrderStatusOpen, nil
	}
	res, err := fetcher.FetchOrder(ctx, orderID, symbol)
	if err != nil {
		logs.Warnf("evt=fetch_order_error symbol=%s order_id=%s err: %+v", symbol, orderID, err)
		return true, nil
	}
	status := res.NormalizedStatus()
	if status != local.Status {
		if err := e.store.UpdateOrderStatus(ctx, orderID, status, e.nowMs()); err != nil {
			return false, errors.Wrap(err, "update order status").With("order_id", orderID)
		}
	}
	return status == schema.OrderStatusOpen, nil
}

func signedQty(pos store.Position) float64 {
	if pos.Side == schema.SideSell {
		return -pos.Qty
	}
	return pos.Qty
}
