package execution

import (
	"context"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/yanun0323/errors"

	"perpguard/internal/market"
	"perpguard/internal/store"
	"perpguard/internal/venue"
	"perpguard/pkg/conn"
)

var errVenueDown = errors.New("venue down")

const testNowMs = int64(1_700_000_000_000)

// fakeVenue is a scripted venue.Client. Without createFn every order is
// accepted, open and unfilled.
type fakeVenue struct {
	mu sync.Mutex

	info      market.MarketInfo
	marketErr error
	createFn  func(req venue.OrderRequest, n int) (venue.OrderResult, error)
	cancelErr map[string]error

	creates       []venue.OrderRequest
	cancels       []string
	marginCalls   int
	leverageCalls int
}

func (f *fakeVenue) Name() string { return "binanceusdm" }

func (f *fakeVenue) Market(context.Context, string) (market.MarketInfo, error) {
	if f.marketErr != nil {
		return market.MarketInfo{}, f.marketErr
	}
	return f.info, nil
}

func (f *fakeVenue) CreateOrder(_ context.Context, req venue.OrderRequest) (venue.OrderResult, error) {
	f.mu.Lock()
	f.creates = append(f.creates, req)
	n := len(f.creates)
	f.mu.Unlock()

	if f.createFn != nil {
		return f.createFn(req, n)
	}
	return venue.OrderResult{ID: "oid-" + strconv.Itoa(n), ClientOrderID: req.ClientOrderID, Status: "NEW"}, nil
}

func (f *fakeVenue) CancelOrder(_ context.Context, orderID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.cancelErr[orderID]; err != nil {
		return err
	}
	f.cancels = append(f.cancels, orderID)
	return nil
}

func (f *fakeVenue) SetMarginMode(context.Context, venue.MarginMode, string) error {
	f.marginCalls++
	return errVenueDown
}

func (f *fakeVenue) SetLeverage(context.Context, float64, string) error {
	f.leverageCalls++
	return nil
}

func (f *fakeVenue) FetchBalance(context.Context) (venue.Balance, error) {
	return venue.Balance{Currency: "USDT", Total: 1000, Free: 1000}, nil
}

// fetchingVenue adds order queries to fakeVenue.
type fetchingVenue struct {
	*fakeVenue
	fetchFn func(orderID string) (venue.OrderResult, error)
	fetches int
}

func (f *fetchingVenue) FetchOrder(_ context.Context, orderID, _ string) (venue.OrderResult, error) {
	f.fetches++
	return f.fetchFn(orderID)
}

func defaultInfo() market.MarketInfo {
	return market.MarketInfo{TickSize: 0.1, StepSize: 0.001, MinCost: 5}
}

func newTestStore(t *testing.T) *store.GormStore {
	t.Helper()
	client, err := conn.NewSQLite(conn.Option{Path: filepath.Join(t.TempDir(), "exec.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st, err := store.NewGormStore(client.DB())
	require.NoError(t, err)
	return st
}

func newTestEngine(t *testing.T, client venue.Client, levels int) (*Engine, *store.GormStore) {
	t.Helper()
	st := newTestStore(t)
	e, err := NewEngine(Config{
		LadderLevels: levels,
		PostOnly:     true,
		Leverage:     3,
	}, client, st, WithClock(func() time.Time { return time.UnixMilli(testNowMs) }))
	require.NoError(t, err)
	return e, st
}
