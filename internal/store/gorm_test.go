package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"perpguard/internal/schema"
	"perpguard/pkg/conn"
	"perpguard/pkg/exception"
)

func newTestStore(t *testing.T) *GormStore {
	t.Helper()
	client, err := conn.NewSQLite(conn.Option{Path: filepath.Join(t.TempDir(), "state.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st, err := NewGormStore(client.DB())
	require.NoError(t, err)
	return st
}

func TestOrderLifecycle(t *testing.T) {
	ctx := t.Context()
	st := newTestStore(t)

	order := Order{
		OrderID:       "o-1",
		ClientOrderID: "c-1",
		Symbol:        "BTCUSDT",
		Side:          schema.SideBuy,
		Type:          schema.OrderTypeLimit,
		Qty:           0.01,
		Price:         20000,
		Status:        schema.OrderStatusOpen,
		CreatedMs:     1000,
		UpdatedMs:     1000,
		PostOnly:      true,
		Maker:         true,
	}
	require.NoError(t, st.UpsertOrder(ctx, order))

	got, ok, err := st.GetOrderByClientID(ctx, "c-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, order, got)

	order.Status = schema.OrderStatusClosed
	order.CreatedMs = 9999
	order.UpdatedMs = 2000
	require.NoError(t, st.UpsertOrder(ctx, order))

	got, ok, err = st.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, schema.OrderStatusClosed, got.Status)
	assert.Equal(t, int64(1000), got.CreatedMs, "created_at survives upsert")
	assert.Equal(t, int64(2000), got.UpdatedMs)

	require.NoError(t, st.UpdateOrderStatus(ctx, "o-1", schema.OrderStatusCanceled, 3000))
	got, _, err = st.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, schema.OrderStatusCanceled, got.Status)
	assert.Equal(t, int64(3000), got.UpdatedMs)

	require.NoError(t, st.DeleteOrder(ctx, "o-1"))
	_, ok, err = st.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.ErrorIs(t, st.UpdateOrderStatus(ctx, "o-1", schema.OrderStatusClosed, 4000), exception.ErrStoreNotFound)
}

func TestListOrders(t *testing.T) {
	ctx := t.Context()
	st := newTestStore(t)

	reason := "min_qty"
	orders := []Order{
		{OrderID: "b", ClientOrderID: "cb", Symbol: "BTCUSDT", Status: schema.OrderStatusOpen, CreatedMs: 2},
		{OrderID: "a", ClientOrderID: "ca", Symbol: "BTCUSDT", Status: schema.OrderStatusRejected, CreatedMs: 1, RejectReason: &reason},
		{OrderID: "c", ClientOrderID: "cc", Symbol: "ETHUSDT", Status: schema.OrderStatusOpen, CreatedMs: 3},
	}
	for _, o := range orders {
		require.NoError(t, st.UpsertOrder(ctx, o))
	}

	btc, err := st.ListOrders(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, btc, 2)
	assert.Equal(t, "a", btc[0].OrderID)
	assert.Equal(t, "b", btc[1].OrderID)
	require.NotNil(t, btc[0].RejectReason)
	assert.Equal(t, "min_qty", *btc[0].RejectReason)
	assert.True(t, btc[0].Rejected())

	open, err := st.ListOrders(ctx, "", schema.OrderStatusOpen)
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestPositionRoundTrip(t *testing.T) {
	ctx := t.Context()
	st := newTestStore(t)

	_, ok, err := st.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)

	pos := Position{
		Symbol:          "BTCUSDT",
		Side:            schema.SideBuy,
		Qty:             0.01,
		EntryPrice:      20000,
		StopPrice:       19000,
		TakeProfitPrice: 22000,
		Leverage:        3,
		OpenedMs:        1,
		StopOrderID:     "sl",
		ReduceOnly:      true,
	}
	require.NoError(t, st.SetPosition(ctx, pos))

	pos.Qty = 0.02
	pos.TakeProfitOrderID = "tp"
	pos.ProtectionPending = true
	require.NoError(t, st.SetPosition(ctx, pos))

	got, ok, err := st.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, pos, got)

	pos.ProtectionPending = false
	require.NoError(t, st.SetPosition(ctx, pos))
	got, _, err = st.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, got.ProtectionPending)

	all, err := st.ListPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, st.ClearPosition(ctx, "BTCUSDT"))
	_, ok, err = st.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFreezeState(t *testing.T) {
	ctx := t.Context()
	st := newTestStore(t)

	state, err := st.LoadFreeze(ctx)
	require.NoError(t, err)
	assert.False(t, state.Frozen)

	require.NoError(t, st.SaveFreeze(ctx, FreezeState{Frozen: true, Reason: "daily_dd", SetMs: 10}))
	state, err = st.LoadFreeze(ctx)
	require.NoError(t, err)
	assert.True(t, state.Frozen)
	assert.Equal(t, "daily_dd", state.Reason)

	state.Frozen = false
	state.ClearedMs = 20
	require.NoError(t, st.SaveFreeze(ctx, state))
	state, err = st.LoadFreeze(ctx)
	require.NoError(t, err)
	assert.False(t, state.Frozen)
	assert.Equal(t, "daily_dd", state.Reason)
	assert.Equal(t, int64(20), state.ClearedMs)
}

func TestLedgerAndDailyNav(t *testing.T) {
	ctx := t.Context()
	st := newTestStore(t)

	require.NoError(t, st.InsertLedgerEntry(ctx, LedgerEntry{TsMs: 1, Type: "fee", Amount: -0.5}))
	require.NoError(t, st.InsertLedgerEntry(ctx, LedgerEntry{TsMs: 2, Type: "funding", Amount: 1.25, Meta: "BTCUSDT"}))

	entries, err := st.ListLedgerEntries(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "funding", entries[0].Type)

	_, ok, err := st.GetDailyNav(ctx, 86400000)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.UpsertDailyNav(ctx, DailyNav{DayMs: 86400000, NAV: 1000}))
	require.NoError(t, st.UpsertDailyNav(ctx, DailyNav{DayMs: 86400000, NAV: 1000, FundingPnL: 2}))
	nav, ok, err := st.GetDailyNav(ctx, 86400000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2.0, nav.FundingPnL)
}

func TestTransactionRollback(t *testing.T) {
	ctx := t.Context()
	st := newTestStore(t)

	boom := errors.New("boom")
	err := st.Transaction(ctx, func(tx Store) error {
		if err := tx.SetPosition(ctx, Position{Symbol: "BTCUSDT", Qty: 1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, ok, err := st.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Transaction(ctx, func(tx Store) error {
		return tx.SetPosition(ctx, Position{Symbol: "BTCUSDT", Qty: 1})
	}))
	_, ok, err = st.GetPosition(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewGormStoreNil(t *testing.T) {
	_, err := NewGormStore(nil)
	require.Error(t, err)
}
