package ops

import (
	"strconv"
	"strings"

	"github.com/yanun0323/errors"

	"perpguard/pkg/exception"
)

// envReader overlays environment values onto a Config. The first parse
// failure is kept in err.
type envReader struct {
	lookup func(key string) (string, bool)
	err    error
}

func (r *envReader) apply(cfg *Config) {
	t := &cfg.Trading
	r.str("SYMBOL", &t.Symbol)
	r.str("TIMEFRAME", &t.Timeframe)
	r.float("LEVERAGE", &t.Leverage)
	r.str("MARGIN_MODE", &t.MarginMode)
	r.float("RISK_PCT", &t.RiskPct)
	r.float("DAILY_LOSS_LIMIT_PCT", &t.DailyLossLimitPct)
	r.int("MAX_POSITIONS", &t.MaxPositions)
	r.float("FEE_BP", &t.FeeBp)
	r.float("SLIP_BP", &t.SlipBp)
	r.str("SIGNAL_PATH", &t.SignalPath)
	r.int("ORDER_LADDER_LEVELS", &t.Order.LadderLevels)
	r.int("ORDER_TIMEOUT_BARS", &t.Order.TimeoutBars)
	r.bool("ORDER_POST_ONLY", &t.Order.PostOnly)
	r.str("ORDER_TRIGGER", &t.Order.Trigger)
	r.float("FUNDING_EXTREME_ANNUALIZED", &t.Funding.ExtremeAnnualized)
	r.float("FUNDING_HOURS_WINDOW", &t.Funding.HoursWindow)
	r.str("FUNDING_METHOD", &t.Funding.Method)
	r.float("FUNDING_CLAMP", &t.Funding.Clamp)

	v := &cfg.Venue
	r.str("EXCHANGE", &v.Name)
	r.bool("VENUE_TESTNET", &v.Testnet)
	r.str("VENUE_BASE_URL", &v.BaseURL)
	r.str("API_KEY", &v.APIKey)
	r.str("API_SECRET", &v.APISecret)
	r.int64("RECV_WINDOW_MS", &v.RecvWindowMs)
	r.str("MARKET_TYPE", &v.MarketType)

	s := &cfg.Store
	r.str("STORE_DRIVER", &s.Driver)
	r.str("STORE_PATH", &s.Path)
	r.str("DATABASE_URL", &s.DSN)

	m := &cfg.Monitoring
	r.bool("TELEGRAM_ENABLED", &m.Telegram.Enabled)
	r.str("TELEGRAM_TOKEN", &m.Telegram.Token)
	r.str("TELEGRAM_CHAT_ID", &m.Telegram.ChatID)
	r.int("TELEGRAM_MAX_FAILURES", &m.Telegram.MaxFailures)
	r.str("METRICS_ADDR", &m.MetricsAddr)
	r.str("PYROSCOPE_ADDR", &m.PyroscopeAddr)

	r.bool("PAPER", &cfg.Paper.Enabled)
	r.float("PAPER_INITIAL_BALANCE", &cfg.Paper.InitialBalance)
}

func (r *envReader) get(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *envReader) fail(key, value string, err error) {
	if r.err == nil {
		r.err = errors.Wrap(exception.ErrConfigInvalid, key).With("value", value).With("err", err.Error())
	}
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.get(key); ok {
		*dst = v
	}
}

func (r *envReader) float(key string, dst *float64) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = f
}

func (r *envReader) int(key string, dst *int) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = n
}

func (r *envReader) int64(key string, dst *int64) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.fail(key, v, err)
		return
	}
	*dst = n
}

// bool accepts 1/true/yes/y/on and 0/false/no/n/off. Anything else keeps
// the current value.
func (r *envReader) bool(key string, dst *bool) {
	v, ok := r.get(key)
	if !ok {
		return
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		*dst = true
	case "0", "false", "no", "n", "off":
		*dst = false
	}
}
