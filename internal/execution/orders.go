package execution

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"perpguard/internal/obs"
	"perpguard/internal/schema"
	"perpguard/internal/store"
)

// ExpireOrders cancels post-only orders of symbol aged at least ttlMs at
// nowMs (zero means now). Open orders and submit errors, whose venue state is
// unknown, are both swept. A local record is deleted only after the venue
// confirms the cancel. It returns the number expired.
func (e *Engine) ExpireOrders(ctx context.Context, symbol string, ttlMs, nowMs int64) (int, error) {
	if ttlMs <= 0 {
		return 0, nil
	}
	if nowMs == 0 {
		nowMs = e.nowMs()
	}

	orders, err := e.store.ListOrders(ctx, symbol, schema.OrderStatusOpen, schema.OrderStatusRejected)
	if err != nil {
		return 0, errors.Wrap(err, "list orders").With("symbol", symbol)
	}

	expired := 0
	for _, o := range orders {
		if !o.PostOnly || nowMs-o.CreatedMs < ttlMs || !expirable(o) {
			continue
		}
		if err := e.client.CancelOrder(ctx, o.OrderID, symbol); err != nil {
			logs.Errorf("evt=order_expire_error symbol=%s order_id=%s err: %+v", symbol, o.OrderID, err)
			e.metrics.ObserveOrder(obs.EventCancelError, symbol)
			continue
		}
		if err := e.store.DeleteOrder(ctx, o.OrderID); err != nil {
			return expired, errors.Wrap(err, "delete expired order").With("order_id", o.OrderID)
		}
		logs.Infof("evt=order_expired symbol=%s order_id=%s client_order_id=%s age_ms=%d",
			symbol, o.OrderID, o.ClientOrderID, nowMs-o.CreatedMs)
		e.metrics.ObserveOrder(obs.EventExpire, symbol)
		expired++
	}
	return expired, nil
}

// expirable reports whether o may still rest on the venue. Sanitize rejects
// never left the process.
func expirable(o store.Order) bool {
	if o.Status != schema.OrderStatusRejected {
		return true
	}
	return o.RejectReason != nil && *o.RejectReason == RejectSubmitError
}

// CancelAll attempts to cancel every persisted order of symbol. Failures
// are logged and leave the local record in place. It returns the number
// canceled.
func (e *Engine) CancelAll(ctx context.Context, symbol string) (int, error) {
	orders, err := e.store.ListOrders(ctx, symbol)
	if err != nil {
		return 0, errors.Wrap(err, "list orders").With("symbol", symbol)
	}

	canceled := 0
	for _, o := range orders {
		if err := e.client.CancelOrder(ctx, o.OrderID, symbol); err != nil {
			logs.Errorf("evt=order_cancel_error symbol=%s order_id=%s err: %+v", symbol, o.OrderID, err)
			e.metrics.ObserveOrder(obs.EventCancelError, symbol)
			continue
		}
		if err := e.store.DeleteOrder(ctx, o.OrderID); err != nil {
			return canceled, errors.Wrap(err, "delete canceled order").With("order_id", o.OrderID)
		}
		logs.Infof("evt=order_cancel symbol=%s order_id=%s client_order_id=%s reason=manual_cancel",
			symbol, o.OrderID, o.ClientOrderID)
		e.metrics.ObserveOrder(obs.EventCancel, symbol)
		canceled++
	}
	return canceled, nil
}

// OpenPositions counts persisted positions.
func (e *Engine) OpenPositions(ctx context.Context) (int, error) {
	positions, err := e.store.ListPositions(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "list positions")
	}
	return len(positions), nil
}
