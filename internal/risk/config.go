package risk

// Config defines the sizing and circuit-breaker limits.
type Config struct {
	RiskPct                  float64 `yaml:"risk_pct"`
	DailyLossLimitPct        float64 `yaml:"daily_loss_limit_pct"`
	MaxPositions             int     `yaml:"max_positions"`
	Leverage                 float64 `yaml:"leverage"`
	FeeBp                    float64 `yaml:"fee_bp"`
	SlipBp                   float64 `yaml:"slip_bp"`
	FundingExtremeAnnualized float64 `yaml:"funding_extreme_annualized"`
}

// DefaultConfig mirrors the trading defaults.
func DefaultConfig() Config {
	return Config{
		RiskPct:                  0.01,
		DailyLossLimitPct:        0.03,
		MaxPositions:             1,
		Leverage:                 3,
		FeeBp:                    5,
		SlipBp:                   2,
		FundingExtremeAnnualized: 1.0,
	}
}
