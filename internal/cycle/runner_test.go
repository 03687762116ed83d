package cycle

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"perpguard/internal/execution"
	"perpguard/internal/market"
	"perpguard/internal/risk"
	"perpguard/internal/schema"
	"perpguard/internal/store"
	"perpguard/internal/venue/paper"
	"perpguard/pkg/conn"
	"perpguard/pkg/exception"
)

const symbol = "BTCUSDT"

type fakeNotifier struct {
	mu     sync.Mutex
	msgs   []string
	streak int
	max    int
}

func (n *fakeNotifier) Send(_ context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, text)
	return nil
}

func (n *fakeNotifier) FailureStreak() int { return n.streak }
func (n *fakeNotifier) MaxFailures() int   { return n.max }

type fixture struct {
	runner   *Runner
	venue    *paper.Venue
	store    *store.GormStore
	guard    *risk.Guard
	notifier *fakeNotifier
	now      time.Time
}

func buySignal() *Signal {
	return &Signal{
		Symbol:      symbol,
		Side:        schema.SideBuy,
		Price:       20000,
		Stop:        19800,
		TakeProfit:  20600,
		TimestampMs: 1_699_999_200_000,
	}
}

func newFixture(t *testing.T, sig *Signal, fundingRate float64) *fixture {
	t.Helper()
	client, err := conn.NewSQLite(conn.Option{Path: filepath.Join(t.TempDir(), "cycle.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	st, err := store.NewGormStore(client.DB())
	require.NoError(t, err)

	pv := paper.New(paper.Option{
		InitialBalance: 10000,
		FundingRate:    fundingRate,
		Markets: map[string]market.MarketInfo{
			symbol: {TickSize: 0.1, StepSize: 0.001, MinCost: 5},
		},
	})

	f := &fixture{
		venue:    pv,
		store:    st,
		notifier: &fakeNotifier{max: 3},
		now:      time.UnixMilli(1_700_000_000_000).UTC(),
	}
	clock := func() time.Time { return f.now }

	engine, err := execution.NewEngine(execution.Config{LadderLevels: 3, PostOnly: true, Leverage: 3}, pv, st, execution.WithClock(clock))
	require.NoError(t, err)
	f.guard, err = risk.NewGuard(risk.DefaultConfig(), st)
	require.NoError(t, err)

	f.runner, err = NewRunner(Config{Symbol: symbol, OrderTTL: time.Hour}, pv, engine, f.guard, st,
		StaticSignalSource{Signal: sig}, WithNotifier(f.notifier), WithClock(clock))
	require.NoError(t, err)
	return f
}

func TestNewRunnerNilCollaborators(t *testing.T) {
	_, err := NewRunner(Config{}, nil, nil, nil, nil, nil)
	require.ErrorIs(t, err, exception.ErrCycleNilCollaborator)
}

func TestRunOncePlacesLadder(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, buySignal(), 0.0001)

	res, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.NotEmpty(t, res.CycleID)
	assert.Equal(t, 10000.0, res.NAV)
	assert.Zero(t, res.DailyPnLPct)
	assert.InDelta(t, 0.499, res.Qty, 1e-12)
	assert.InDelta(t, 20000, res.Price, 1e-9)
	assert.Len(t, res.OrderIDs, 3)

	orders, err := f.store.ListOrders(ctx, symbol, schema.OrderStatusOpen)
	require.NoError(t, err)
	require.Len(t, orders, 3)
	for _, o := range orders {
		assert.InDelta(t, 0.166, o.Qty, 1e-12)
		assert.True(t, o.PostOnly)
	}
	assert.Equal(t, 3.0, f.venue.Leverage(symbol))

	day := f.now.UnixMilli() - f.now.UnixMilli()%dayMs
	nav, ok, err := f.store.GetDailyNav(ctx, day)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10000.0, nav.NAV)

	require.Len(t, f.notifier.msgs, 1)
	assert.Contains(t, f.notifier.msgs[0], "Signal: buy")
	assert.Contains(t, f.notifier.msgs[0], "orders=3")

	again, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, again.Status)
	assert.Empty(t, again.OrderIDs, "same bar, same keys")

	orders, err = f.store.ListOrders(ctx, symbol)
	require.NoError(t, err)
	assert.Len(t, orders, 3)
}

func TestRunOnceExpiresStaleOrders(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, buySignal(), 0)

	_, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)

	f.runner.signals = StaticSignalSource{}
	f.now = f.now.Add(2 * time.Hour)
	res, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusNoSignal, res.Status)
	assert.Equal(t, 3, res.Expired)

	orders, err := f.store.ListOrders(ctx, symbol)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestRunOnceKeepsFreshOrdersFromOldBar(t *testing.T) {
	ctx := t.Context()
	sig := buySignal()
	sig.TimestampMs = 1_700_000_000_000 - dayMs
	f := newFixture(t, sig, 0)

	first, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	require.Len(t, first.OrderIDs, 3)

	f.now = f.now.Add(time.Minute)
	res, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Empty(t, res.OrderIDs)

	orders, err := f.store.ListOrders(ctx, symbol, schema.OrderStatusOpen)
	require.NoError(t, err)
	assert.Len(t, orders, 3)
}

func TestRunOnceNoSignal(t *testing.T) {
	f := newFixture(t, nil, 0)
	res, err := f.runner.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, StatusNoSignal, res.Status)
	assert.Empty(t, f.notifier.msgs)
}

func TestRunOnceSymbolMismatch(t *testing.T) {
	sig := buySignal()
	sig.Symbol = "ETHUSDT"
	f := newFixture(t, sig, 0)
	res, err := f.runner.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, StatusNoSignal, res.Status)
}

func TestRunOnceDailyDrawdownFreezes(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, buySignal(), 0)

	day := f.now.UnixMilli() - f.now.UnixMilli()%dayMs
	require.NoError(t, f.store.UpsertDailyNav(ctx, store.DailyNav{DayMs: day, NAV: 20000}))

	res, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusRiskBlocked, res.Status)
	assert.Equal(t, risk.ReasonDailyDrawdown, res.Reason)
	assert.InDelta(t, -0.5, res.DailyPnLPct, 1e-12)

	state, err := f.guard.Status(ctx)
	require.NoError(t, err)
	assert.True(t, state.Frozen)
	assert.Equal(t, string(risk.ReasonDailyDrawdown), state.Reason)

	require.NoError(t, f.store.UpsertDailyNav(ctx, store.DailyNav{DayMs: day, NAV: 10000}))
	res, err = f.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusRiskBlocked, res.Status, "stays frozen until cleared")

	orders, err := f.store.ListOrders(ctx, symbol)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestRunOnceFundingExtreme(t *testing.T) {
	f := newFixture(t, buySignal(), 0.01)
	res, err := f.runner.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, StatusRiskBlocked, res.Status)
	assert.Equal(t, risk.ReasonFundingExtreme, res.Reason)
}

func TestRunOnceNotifierDown(t *testing.T) {
	f := newFixture(t, buySignal(), 0)
	f.notifier.streak = 3
	res, err := f.runner.RunOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, risk.ReasonNotifyDown, res.Reason)
}

func TestRunOnceMaxPositions(t *testing.T) {
	ctx := t.Context()
	f := newFixture(t, buySignal(), 0)
	require.NoError(t, f.store.SetPosition(ctx, store.Position{Symbol: "ETHUSDT", Side: schema.SideBuy, Qty: 1, EntryPrice: 1000}))

	res, err := f.runner.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, risk.ReasonMaxPositions, res.Reason)
}
