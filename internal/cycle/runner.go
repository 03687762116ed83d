package cycle

import (
	"context"
	"fmt"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"perpguard/internal/execution"
	"perpguard/internal/funding"
	"perpguard/internal/obs"
	"perpguard/internal/risk"
	"perpguard/internal/store"
	"perpguard/internal/venue"
	"perpguard/pkg/exception"
)

const dayMs = int64(24 * time.Hour / time.Millisecond)

// Status summarizes how a cycle ended.
type Status string

const (
	StatusOK          Status = "ok"
	StatusNoSignal    Status = "no_signal"
	StatusRiskBlocked Status = "risk_blocked"
)

// Notifier delivers operator messages and exposes its failure streak.
type Notifier interface {
	Send(ctx context.Context, text string) error
	FailureStreak() int
	MaxFailures() int
}

// markFeeder is implemented by simulated venues that fill on mark moves.
type markFeeder interface {
	SetMark(symbol string, mark float64) int
}

type Config struct {
	Symbol string
	// OrderTTL is how long resting post-only orders may live. Zero keeps
	// them until canceled.
	OrderTTL      time.Duration
	FundingWindow float64
	FundingMethod funding.Method
	FundingClamp  float64
}

// Result reports one cycle.
type Result struct {
	CycleID     string
	Status      Status
	Reason      risk.Reason
	Expired     int
	NAV         float64
	DailyPnLPct float64
	Qty         float64
	Price       float64
	OrderIDs    []string
}

type Option func(*Runner)

func WithNotifier(n Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

func WithMetrics(m *obs.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// Runner drives one trading cycle: expire stale orders, value the
// account, check funding, read the signal, size it through the risk guard
// and hand it to the execution engine.
type Runner struct {
	cfg      Config
	client   venue.Client
	engine   *execution.Engine
	guard    *risk.Guard
	store    store.Store
	signals  SignalSource
	notifier Notifier
	metrics  *obs.Metrics
	now      func() time.Time
}

func NewRunner(cfg Config, client venue.Client, engine *execution.Engine, guard *risk.Guard, st store.Store, signals SignalSource, opts ...Option) (*Runner, error) {
	switch {
	case client == nil:
		return nil, errors.Wrap(exception.ErrCycleNilCollaborator, "venue client")
	case engine == nil:
		return nil, errors.Wrap(exception.ErrCycleNilCollaborator, "execution engine")
	case guard == nil:
		return nil, errors.Wrap(exception.ErrCycleNilCollaborator, "risk guard")
	case st == nil:
		return nil, errors.Wrap(exception.ErrCycleNilCollaborator, "store")
	case signals == nil:
		return nil, errors.Wrap(exception.ErrCycleNilCollaborator, "signal source")
	}
	if cfg.FundingWindow <= 0 {
		cfg.FundingWindow = 8
	}
	if cfg.FundingMethod == "" {
		cfg.FundingMethod = funding.MethodSimple
	}

	r := &Runner{
		cfg:     cfg,
		client:  client,
		engine:  engine,
		guard:   guard,
		store:   st,
		signals: signals,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// RunOnce executes a single cycle. Denied signals are a normal outcome;
// the error is reserved for failures that leave the cycle unfinished.
func (r *Runner) RunOnce(ctx context.Context) (res Result, err error) {
	res.CycleID = obs.CycleID()
	start := r.now()
	defer func() {
		r.metrics.ObserveCycle(r.now().Sub(start), err)
		if err != nil {
			logs.Errorf("evt=cycle_error cycle_id=%s symbol=%s err: %+v", res.CycleID, r.cfg.Symbol, err)
		}
	}()

	symbol := r.cfg.Symbol
	nowMs := start.UnixMilli()

	if ttl := r.cfg.OrderTTL.Milliseconds(); ttl > 0 {
		res.Expired, err = r.engine.ExpireOrders(ctx, symbol, ttl, nowMs)
		if err != nil {
			return res, errors.Wrap(err, "expire orders")
		}
	}

	bal, err := r.client.FetchBalance(ctx)
	if err != nil {
		return res, errors.Wrap(err, "fetch balance")
	}
	res.NAV = bal.Total
	r.metrics.SetNAV(bal.Total)

	res.DailyPnLPct, err = r.dailyPnL(ctx, bal.Total, nowMs)
	if err != nil {
		return res, err
	}

	fundingAnn := r.fundingAnnualized(ctx, symbol)

	sig, ok, err := r.signals.Next(ctx)
	if err != nil {
		return res, errors.Wrap(err, "read signal")
	}
	if ok && sig.Symbol != "" && sig.Symbol != symbol {
		logs.Warnf("evt=signal_skip cycle_id=%s reason=symbol_mismatch symbol=%s signal_symbol=%s", res.CycleID, symbol, sig.Symbol)
		ok = false
	}
	if !ok {
		res.Status = StatusNoSignal
		logs.Infof("evt=cycle_done cycle_id=%s status=%s nav=%v daily_pnl_pct=%v expired=%d",
			res.CycleID, res.Status, res.NAV, res.DailyPnLPct, res.Expired)
		return res, nil
	}
	if feeder, isFeeder := r.client.(markFeeder); isFeeder && sig.Price > 0 {
		feeder.SetMark(symbol, sig.Price)
	}

	meta := r.engine.SymbolMeta(ctx, symbol)
	open, err := r.engine.OpenPositions(ctx)
	if err != nil {
		return res, err
	}

	streak, threshold := 0, 0
	if r.notifier != nil {
		streak, threshold = r.notifier.FailureStreak(), r.notifier.MaxFailures()
	}
	r.metrics.SetNotifyFailureStreak(streak)

	dec, err := r.guard.GuardSignal(ctx, risk.Input{
		NAV:   bal.Total,
		Price: sig.Price,
		Stop:  sig.Stop,
		Constraints: risk.Constraints{
			MinQty:      meta.MinQty,
			MinNotional: meta.MinNotional,
		},
		DailyPnLPct:       res.DailyPnLPct,
		FundingAnnualized: fundingAnn,
		NotifyFailStreak:  streak,
		NotifyThreshold:   threshold,
		Meta:              &meta,
		Side:              sig.Side,
		Margin:            &risk.Margin{AvailableQuote: bal.Free},
		OpenPositions:     open,
	})
	if err != nil {
		return res, errors.Wrap(err, "guard signal")
	}
	if frozen, ferr := r.guard.IsFrozen(ctx); ferr == nil {
		r.metrics.SetFrozen(frozen)
	}

	if !dec.Allowed() {
		res.Status, res.Reason = StatusRiskBlocked, dec.Reason
		r.metrics.IncRiskReason(dec.Reason.String())
		logs.Infof("evt=cycle_done cycle_id=%s status=%s reason=%s side=%s price=%v stop=%v",
			res.CycleID, res.Status, dec.Reason, sig.Side, sig.Price, sig.Stop)
		return res, nil
	}

	res.Qty, res.Price = dec.Qty, dec.Price
	res.OrderIDs, err = r.engine.SubmitLadder(ctx, execution.LadderRequest{
		Symbol:      symbol,
		Side:        sig.Side,
		Price:       dec.Price,
		Qty:         dec.Qty,
		Stop:        sig.Stop,
		TakeProfit:  sig.TakeProfit,
		TimestampMs: sig.TimestampMs,
	})
	if err != nil {
		return res, errors.Wrap(err, "submit ladder")
	}

	res.Status = StatusOK
	logs.Infof("evt=cycle_done cycle_id=%s status=%s side=%s qty=%v price=%v orders=%d",
		res.CycleID, res.Status, sig.Side, res.Qty, res.Price, len(res.OrderIDs))
	r.notify(ctx, fmt.Sprintf("Signal: %s qty=%.6f price=%.2f orders=%d", sig.Side, res.Qty, res.Price, len(res.OrderIDs)))
	return res, nil
}

// dailyPnL returns the change of nav against the first nav seen this UTC
// day, recording that first nav when missing.
func (r *Runner) dailyPnL(ctx context.Context, nav float64, nowMs int64) (float64, error) {
	day := nowMs - nowMs%dayMs
	row, ok, err := r.store.GetDailyNav(ctx, day)
	if err != nil {
		return 0, errors.Wrap(err, "load daily nav")
	}
	if !ok {
		if err := r.store.UpsertDailyNav(ctx, store.DailyNav{DayMs: day, NAV: nav}); err != nil {
			return 0, errors.Wrap(err, "save daily nav")
		}
		return 0, nil
	}
	if row.NAV <= 0 {
		return 0, nil
	}
	return (nav - row.NAV) / row.NAV, nil
}

// fundingAnnualized is nil when the venue exposes no funding rate or the
// query fails.
func (r *Runner) fundingAnnualized(ctx context.Context, symbol string) *float64 {
	fetcher, ok := r.client.(venue.FundingRateFetcher)
	if !ok {
		return nil
	}
	fr, err := fetcher.FetchFundingRate(ctx, symbol)
	if err != nil {
		logs.Warnf("evt=funding_error symbol=%s err: %+v", symbol, err)
		return nil
	}

	hours := fr.IntervalHours
	if hours <= 0 {
		hours = r.cfg.FundingWindow
	}
	ann := funding.Annualized(fr.Rate, hours, r.cfg.FundingMethod, r.cfg.FundingClamp)
	r.metrics.SetFunding(symbol, ann)

	pos, ok, err := r.store.GetPosition(ctx, symbol)
	if err == nil && ok && fr.MarkPrice > 0 {
		next := funding.AccrueLinear(pos.Side, pos.Qty, []funding.Event{{Rate: fr.Rate, Mark: fr.MarkPrice}}, funding.Convention{})
		logs.Infof("evt=funding symbol=%s rate=%v annualized=%v next_payment=%v", symbol, fr.Rate, ann, next)
	} else {
		logs.Debugf("evt=funding symbol=%s rate=%v annualized=%v", symbol, fr.Rate, ann)
	}
	return &ann
}

func (r *Runner) notify(ctx context.Context, text string) {
	if r.notifier == nil {
		return
	}
	_ = r.notifier.Send(ctx, text)
	r.metrics.SetNotifyFailureStreak(r.notifier.FailureStreak())
}
