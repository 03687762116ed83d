package risk

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"perpguard/internal/market"
	"perpguard/internal/schema"
	"perpguard/internal/store"
	"perpguard/pkg/exception"
)

// MinStopPct is the tightest stop distance the guard will size against.
const MinStopPct = 0.001

const (
	minPrice      = 1e-12
	marginEpsilon = 1e-8
)

// FreezeStore persists the circuit breaker.
type FreezeStore interface {
	LoadFreeze(ctx context.Context) (store.FreezeState, error)
	SaveFreeze(ctx context.Context, state store.FreezeState) error
}

// Constraints are the coarse venue limits used when no SymbolMeta is known.
type Constraints struct {
	MinQty      float64
	MinNotional float64
}

// Margin caps the size by the margin that is actually available.
// Leverage <= 0 falls back to the configured leverage.
type Margin struct {
	AvailableQuote float64
	Leverage       float64
}

// Input is everything GuardSignal looks at for one proposal.
type Input struct {
	NAV         float64
	Price       float64
	Stop        float64
	Constraints Constraints
	DailyPnLPct float64
	// FundingAnnualized is nil when the venue exposes no funding rate.
	FundingAnnualized *float64
	NotifyFailStreak  int
	// NotifyThreshold <= 0 disables the notifier check.
	NotifyThreshold int
	Meta            *market.SymbolMeta
	Side            schema.Side
	Margin          *Margin
	OpenPositions   int
}

// Guard sizes trades and owns the freeze state.
type Guard struct {
	cfg    Config
	freeze FreezeStore
	now    func() time.Time

	mu sync.Mutex
}

// NewGuard creates a guard backed by the given freeze store.
func NewGuard(cfg Config, freeze FreezeStore) (*Guard, error) {
	if freeze == nil {
		return nil, exception.ErrRiskNilFreezeStore
	}
	return &Guard{
		cfg:    cfg,
		freeze: freeze,
		now:    time.Now,
	}, nil
}

func (g *Guard) Config() Config {
	return g.cfg
}

// ComputeStopPct returns |price-stop|/price, or 0 for unusable inputs.
func ComputeStopPct(price, stop float64) float64 {
	if !finite(price) || !finite(stop) {
		return 0
	}
	if price <= 0 || stop <= 0 {
		return 0
	}
	return math.Abs(price-stop) / price
}

// ComputeQty sizes a trade so that hitting the stop loses RiskPct of nav,
// discounted by the expected fee and slippage and capped by margin when
// given.
func (g *Guard) ComputeQty(nav, price, stop float64, margin *Margin) float64 {
	stopPct := ComputeStopPct(price, stop)
	if stopPct <= 0 || stopPct < MinStopPct {
		return 0
	}
	if !finite(nav) || nav <= 0 {
		return 0
	}

	buffer := 1 - math.Max(0, g.cfg.FeeBp+g.cfg.SlipBp)/10000
	buffer = math.Min(1, math.Max(0.8, buffer))

	riskNotional := nav * g.cfg.RiskPct * buffer
	qty := math.Max(0, riskNotional/(stopPct*math.Max(price, minPrice)))

	if maxNotional, ok := g.maxNotional(margin); ok {
		qty = math.Min(qty, maxNotional/math.Max(price, minPrice))
	}
	return qty
}

func (g *Guard) maxNotional(margin *Margin) (float64, bool) {
	if margin == nil {
		return 0, false
	}
	lev := margin.Leverage
	if lev <= 0 {
		lev = g.cfg.Leverage
	}
	if lev <= 0 {
		return 0, false
	}
	return math.Max(0, margin.AvailableQuote) * lev, true
}

// ShouldFreeze reports the first breached circuit-breaker condition.
func (g *Guard) ShouldFreeze(dailyPnLPct float64, fundingAnnualized *float64, notifyFailStreak, notifyThreshold int) Reason {
	if dailyPnLPct <= -g.cfg.DailyLossLimitPct {
		return ReasonDailyDrawdown
	}
	if fundingAnnualized != nil && math.Abs(*fundingAnnualized) > g.cfg.FundingExtremeAnnualized {
		return ReasonFundingExtreme
	}
	if notifyThreshold > 0 && notifyFailStreak >= notifyThreshold {
		return ReasonNotifyDown
	}
	return ReasonNone
}

// GuardSignal decides whether a proposal may trade and how large. Business
// rejections come back as a denied Decision; the error is reserved for
// freeze store failures.
func (g *Guard) GuardSignal(ctx context.Context, in Input) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.freeze.LoadFreeze(ctx)
	if err != nil {
		return Decision{}, errors.Wrap(err, "load freeze state")
	}
	if state.Frozen {
		return deny(ReasonManual), nil
	}

	if reason := g.ShouldFreeze(in.DailyPnLPct, in.FundingAnnualized, in.NotifyFailStreak, in.NotifyThreshold); reason != ReasonNone {
		if err := g.saveFrozen(ctx, reason); err != nil {
			return Decision{}, err
		}
		return deny(reason), nil
	}

	if in.OpenPositions >= g.cfg.MaxPositions {
		return deny(ReasonMaxPositions), nil
	}

	qty := g.ComputeQty(in.NAV, in.Price, in.Stop, in.Margin)
	if qty == 0 {
		return deny(ReasonZeroQty), nil
	}

	price := in.Price
	if in.Meta != nil && in.Side.Valid() {
		s := market.SanitizeOrder(*in.Meta, in.Side, in.Price, qty, true)
		if !s.OK() {
			return deny(MarketReason(s.Reason)), nil
		}
		price, qty = s.Price, s.Qty
		if maxNotional, ok := g.maxNotional(in.Margin); ok && price*qty > maxNotional+marginEpsilon {
			return deny(ReasonInsufficientMargin), nil
		}
	} else if !respectsConstraints(qty, in.Price, in.Constraints) {
		return deny(ReasonMarketConstraints), nil
	}

	return Decision{Action: ActionAllow, Qty: qty, Price: price}, nil
}

// Freeze sets the circuit breaker. An already frozen state keeps its
// original reason.
func (g *Guard) Freeze(ctx context.Context, reason Reason) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.freeze.LoadFreeze(ctx)
	if err != nil {
		return errors.Wrap(err, "load freeze state")
	}
	if state.Frozen {
		return nil
	}
	if reason == ReasonNone {
		reason = ReasonManual
	}
	return g.saveFrozen(ctx, reason)
}

// Unfreeze clears the circuit breaker. The last reason is kept for audit.
func (g *Guard) Unfreeze(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	state, err := g.freeze.LoadFreeze(ctx)
	if err != nil {
		return errors.Wrap(err, "load freeze state")
	}
	if !state.Frozen {
		return nil
	}
	state.Frozen = false
	state.ClearedMs = g.now().UnixMilli()
	if err := g.freeze.SaveFreeze(ctx, state); err != nil {
		return errors.Wrap(err, "save freeze state")
	}
	logs.Infof("evt=unfreeze previous_reason=%s", state.Reason)
	return nil
}

// Status returns the persisted freeze state.
func (g *Guard) Status(ctx context.Context) (store.FreezeState, error) {
	state, err := g.freeze.LoadFreeze(ctx)
	if err != nil {
		return store.FreezeState{}, errors.Wrap(err, "load freeze state")
	}
	return state, nil
}

func (g *Guard) IsFrozen(ctx context.Context) (bool, error) {
	state, err := g.Status(ctx)
	if err != nil {
		return false, err
	}
	return state.Frozen, nil
}

func (g *Guard) saveFrozen(ctx context.Context, reason Reason) error {
	state := store.FreezeState{
		Frozen: true,
		Reason: string(reason),
		SetMs:  g.now().UnixMilli(),
	}
	if err := g.freeze.SaveFreeze(ctx, state); err != nil {
		return errors.Wrap(err, "save freeze state").With("reason", reason)
	}
	logs.Errorf("evt=freeze reason=%s", reason)
	return nil
}

func respectsConstraints(qty, price float64, c Constraints) bool {
	if qty < c.MinQty {
		return false
	}
	return qty*price >= c.MinNotional
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
