package execution

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"perpguard/internal/market"
	"perpguard/internal/obs"
	"perpguard/internal/store"
	"perpguard/internal/venue"
	"perpguard/pkg/exception"
)

// Config controls ladder construction and venue setup.
type Config struct {
	LadderLevels int
	PostOnly     bool
	Leverage     float64
	MarginMode   venue.MarginMode
	// MarketType feeds OrderParams, e.g. "linear".
	MarketType        string
	ProtectiveTrigger venue.Trigger
}

// Option customizes an Engine.
type Option func(*Engine)

func WithMetrics(m *obs.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine places, tracks, expires and cancels orders for sized signals and
// keeps positions consistent with fills. At most one Engine may drive a
// symbol at a time.
type Engine struct {
	cfg     Config
	client  venue.Client
	store   store.Store
	metrics *obs.Metrics
	now     func() time.Time

	mu                 sync.Mutex
	leverageConfigured map[string]bool
	metas              map[string]market.SymbolMeta
}

func NewEngine(cfg Config, client venue.Client, st store.Store, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, exception.ErrOrderNilVenue
	}
	if st == nil {
		return nil, exception.ErrOrderNilStore
	}
	if cfg.LadderLevels < 1 {
		cfg.LadderLevels = 1
	}
	if cfg.MarginMode == "" {
		cfg.MarginMode = venue.MarginIsolated
	}
	if cfg.ProtectiveTrigger == "" {
		cfg.ProtectiveTrigger = venue.TriggerMark
	}

	e := &Engine{
		cfg:                cfg,
		client:             client,
		store:              st,
		now:                time.Now,
		leverageConfigured: make(map[string]bool),
		metas:              make(map[string]market.SymbolMeta),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// SymbolMeta returns the cached constraints of a symbol, fetching them on
// first use. A failed fetch falls back to default steps and is retried on
// the next call.
func (e *Engine) SymbolMeta(ctx context.Context, symbol string) market.SymbolMeta {
	e.mu.Lock()
	meta, ok := e.metas[symbol]
	e.mu.Unlock()
	if ok {
		return meta
	}

	info, err := e.client.Market(ctx, symbol)
	if err != nil {
		logs.Errorf("evt=symbol_meta_error symbol=%s err: %+v", symbol, err)
		return market.MetaFromMarket(market.MarketInfo{})
	}

	meta = market.MetaFromMarket(info)
	e.mu.Lock()
	e.metas[symbol] = meta
	e.mu.Unlock()
	logs.Infof("evt=symbol_meta symbol=%s price_increment=%v quantity_increment=%v min_notional=%v min_qty=%v",
		symbol, meta.PriceIncrement, meta.QuantityIncrement, meta.MinNotional, meta.MinQty)
	return meta
}

// ensureLeverage configures margin mode and leverage once per symbol.
// Failures are logged; the symbol is still marked configured.
func (e *Engine) ensureLeverage(ctx context.Context, symbol string) {
	e.mu.Lock()
	done := e.leverageConfigured[symbol]
	e.leverageConfigured[symbol] = true
	e.mu.Unlock()
	if done {
		return
	}

	if err := e.client.SetMarginMode(ctx, e.cfg.MarginMode, symbol); err != nil {
		logs.Errorf("evt=set_margin_mode_error symbol=%s mode=%s err: %+v", symbol, e.cfg.MarginMode, err)
	}
	if err := e.client.SetLeverage(ctx, e.cfg.Leverage, symbol); err != nil {
		logs.Errorf("evt=set_leverage_error symbol=%s leverage=%v err: %+v", symbol, e.cfg.Leverage, err)
	}
}

func (e *Engine) nowMs() int64 {
	return e.now().UnixMilli()
}
