package ops

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"
	"gopkg.in/yaml.v3"

	"perpguard/internal/funding"
	"perpguard/internal/market"
	"perpguard/internal/risk"
	"perpguard/pkg/conn"
	"perpguard/pkg/exception"
)

const (
	DefaultConfigPath = "config.yaml"
	DefaultEnvPath    = ".env"
)

var timeframes = map[string]time.Duration{
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
}

// Config is the full runtime configuration.
type Config struct {
	Trading    Trading    `yaml:"trading"`
	Venue      Venue      `yaml:"venue"`
	Store      Store      `yaml:"store"`
	Monitoring Monitoring `yaml:"monitoring"`
	Paper      Paper      `yaml:"paper"`
}

type Trading struct {
	Symbol            string  `yaml:"symbol"`
	Timeframe         string  `yaml:"timeframe"`
	Leverage          float64 `yaml:"leverage"`
	MarginMode        string  `yaml:"margin_mode"`
	RiskPct           float64 `yaml:"risk_pct"`
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct"`
	MaxPositions      int     `yaml:"max_positions"`
	FeeBp             float64 `yaml:"fee_bp"`
	SlipBp            float64 `yaml:"slip_bp"`
	// SignalPath is the JSON file the signal producer writes each bar.
	SignalPath string  `yaml:"signal_path"`
	Order      Order   `yaml:"order"`
	Funding    Funding `yaml:"funding"`
}

type Order struct {
	LadderLevels int    `yaml:"ladder_levels"`
	TimeoutBars  int    `yaml:"timeout_bars"`
	PostOnly     bool   `yaml:"post_only"`
	Trigger      string `yaml:"trigger"`
}

type Funding struct {
	ExtremeAnnualized float64 `yaml:"extreme_annualized"`
	HoursWindow       float64 `yaml:"hours_window"`
	Method            string  `yaml:"method"`
	Clamp             float64 `yaml:"clamp"`
}

type Venue struct {
	Name         string `yaml:"name"`
	Testnet      bool   `yaml:"testnet"`
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	RecvWindowMs int64  `yaml:"recv_window_ms"`
	MarketType   string `yaml:"market_type"`
}

type Store struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	DSN      string `yaml:"dsn"`
}

type Monitoring struct {
	Telegram      Telegram `yaml:"telegram"`
	MetricsAddr   string   `yaml:"metrics_addr"`
	PyroscopeAddr string   `yaml:"pyroscope_addr"`
}

type Telegram struct {
	Enabled     bool   `yaml:"enabled"`
	Token       string `yaml:"token"`
	ChatID      string `yaml:"chat_id"`
	MaxFailures int    `yaml:"max_failures"`
}

// Paper configures the simulated venue used for dry runs.
type Paper struct {
	Enabled        bool                   `yaml:"enabled"`
	InitialBalance float64                `yaml:"initial_balance"`
	QuoteAsset     string                 `yaml:"quote_asset"`
	FundingRate    float64                `yaml:"funding_rate"`
	MakerFeeBp     float64                `yaml:"maker_fee_bp"`
	TakerFeeBp     float64                `yaml:"taker_fee_bp"`
	Markets        map[string]PaperMarket `yaml:"markets"`
}

type PaperMarket struct {
	TickSize    float64 `yaml:"tick_size"`
	StepSize    float64 `yaml:"step_size"`
	MinQty      float64 `yaml:"min_qty"`
	MaxQty      float64 `yaml:"max_qty"`
	MinNotional float64 `yaml:"min_notional"`
	MaxPrice    float64 `yaml:"max_price"`
}

func Default() Config {
	rc := risk.DefaultConfig()
	return Config{
		Trading: Trading{
			Symbol:            "BTC/USDT:USDT",
			Timeframe:         "4h",
			Leverage:          rc.Leverage,
			MarginMode:        "isolated",
			RiskPct:           rc.RiskPct,
			DailyLossLimitPct: rc.DailyLossLimitPct,
			MaxPositions:      rc.MaxPositions,
			FeeBp:             rc.FeeBp,
			SlipBp:            rc.SlipBp,
			SignalPath:        "data/signal.json",
			Order: Order{
				LadderLevels: 3,
				TimeoutBars:  1,
				PostOnly:     true,
				Trigger:      "mark",
			},
			Funding: Funding{
				ExtremeAnnualized: rc.FundingExtremeAnnualized,
				HoursWindow:       8,
				Method:            string(funding.MethodSimple),
			},
		},
		Venue: Venue{
			Name:         "binanceusdm",
			Testnet:      true,
			RecvWindowMs: 5000,
			MarketType:   "linear",
		},
		Store: Store{
			Driver: conn.DriverSQLite,
			Path:   "data/state.db",
		},
		Monitoring: Monitoring{
			Telegram: Telegram{Enabled: true, MaxFailures: 3},
		},
		Paper: Paper{
			InitialBalance: 1000,
			QuoteAsset:     "USDT",
		},
	}
}

// Load resolves the configuration with priority ENV > .env > YAML >
// defaults. Missing files are skipped.
func Load(configPath, envPath string) (Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, errors.Wrap(err, "parse config yaml").With("path", configPath)
			}
		case !os.IsNotExist(err):
			return Config{}, errors.Wrap(err, "read config yaml").With("path", configPath)
		}
	}

	dotenv := map[string]string{}
	if envPath != "" {
		values, err := godotenv.Read(envPath)
		switch {
		case err == nil:
			dotenv = values
		case !os.IsNotExist(err):
			return Config{}, errors.Wrap(err, "read env file").With("path", envPath)
		}
	}

	r := &envReader{lookup: func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}}
	r.apply(&cfg)
	if r.err != nil {
		return Config{}, r.err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values the bot cannot trade with.
func (c Config) Validate() error {
	invalid := func(field string, value any) error {
		return errors.Wrap(exception.ErrConfigInvalid, field).With("value", value)
	}

	t := c.Trading
	switch {
	case strings.TrimSpace(t.Symbol) == "":
		return invalid("trading.symbol", t.Symbol)
	case t.Leverage <= 0:
		return invalid("trading.leverage", t.Leverage)
	case t.RiskPct <= 0 || t.RiskPct > 1:
		return invalid("trading.risk_pct", t.RiskPct)
	case t.DailyLossLimitPct <= 0:
		return invalid("trading.daily_loss_limit_pct", t.DailyLossLimitPct)
	case t.MaxPositions < 1:
		return invalid("trading.max_positions", t.MaxPositions)
	case t.FeeBp < 0 || t.SlipBp < 0:
		return invalid("trading.fee_bp/slip_bp", t.FeeBp+t.SlipBp)
	case t.Order.LadderLevels < 1:
		return invalid("trading.order.ladder_levels", t.Order.LadderLevels)
	case t.Order.TimeoutBars < 0:
		return invalid("trading.order.timeout_bars", t.Order.TimeoutBars)
	case t.Funding.HoursWindow <= 0:
		return invalid("trading.funding.hours_window", t.Funding.HoursWindow)
	}
	if _, ok := timeframes[t.Timeframe]; !ok {
		return invalid("trading.timeframe", t.Timeframe)
	}
	switch t.MarginMode {
	case "isolated", "cross":
	default:
		return invalid("trading.margin_mode", t.MarginMode)
	}
	switch t.Order.Trigger {
	case "mark", "index", "last":
	default:
		return invalid("trading.order.trigger", t.Order.Trigger)
	}
	switch funding.Method(t.Funding.Method) {
	case funding.MethodSimple, funding.MethodCompounded:
	default:
		return invalid("trading.funding.method", t.Funding.Method)
	}
	switch c.Store.Driver {
	case conn.DriverSQLite, conn.DriverPostgres:
	default:
		return invalid("store.driver", c.Store.Driver)
	}
	if c.Store.Driver == conn.DriverSQLite && c.Store.Path == "" {
		return invalid("store.path", c.Store.Path)
	}
	return nil
}

// TimeframeDuration is the bar length of the trading timeframe.
func (c Config) TimeframeDuration() time.Duration {
	return timeframes[c.Trading.Timeframe]
}

// OrderTTL is how long a resting post-only order may live.
func (c Config) OrderTTL() time.Duration {
	return time.Duration(c.Trading.Order.TimeoutBars) * c.TimeframeDuration()
}

func (c Config) Risk() risk.Config {
	return risk.Config{
		RiskPct:                  c.Trading.RiskPct,
		DailyLossLimitPct:        c.Trading.DailyLossLimitPct,
		MaxPositions:             c.Trading.MaxPositions,
		Leverage:                 c.Trading.Leverage,
		FeeBp:                    c.Trading.FeeBp,
		SlipBp:                   c.Trading.SlipBp,
		FundingExtremeAnnualized: c.Trading.Funding.ExtremeAnnualized,
	}
}

func (c Config) ConnOption() conn.Option {
	s := c.Store
	return conn.Option{
		Driver:     s.Driver,
		Path:       s.Path,
		Host:       s.Host,
		Port:       s.Port,
		User:       s.User,
		Password:   s.Password,
		Database:   s.Database,
		SSLMode:    s.SSLMode,
		ConnString: s.DSN,
	}
}

// PaperMarkets converts the configured paper markets to venue market data.
func (c Config) PaperMarkets() map[string]market.MarketInfo {
	out := make(map[string]market.MarketInfo, len(c.Paper.Markets))
	for symbol, m := range c.Paper.Markets {
		out[symbol] = market.MarketInfo{
			TickSize:  m.TickSize,
			StepSize:  m.StepSize,
			MinAmount: m.MinQty,
			MaxAmount: m.MaxQty,
			MinCost:   m.MinNotional,
			MaxPrice:  m.MaxPrice,
		}
	}
	return out
}
