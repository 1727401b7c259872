// Package config defines all configuration for the grid trading bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via GRID_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"gridbot/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Database   DatabaseConfig   `mapstructure:"database"`
	API        APIConfig        `mapstructure:"api"`
	Strategies []StrategyConfig `mapstructure:"strategies"`
	Run        RunConfig        `mapstructure:"run"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// DatabaseConfig holds the persistence-layer connection string and the
// user/account identity tag applied to every row this run writes, so
// repositories can enforce access by user_id per spec §6.3.
type DatabaseConfig struct {
	DSN       string `mapstructure:"dsn"`
	UserID    string `mapstructure:"user_id"`
	AccountID string `mapstructure:"account_id"`
}

// APIConfig holds Bybit v5 endpoints and HMAC API credentials. Credentials
// are normally supplied via GRID_API_KEY / GRID_API_SECRET rather than
// checked into the YAML file.
type APIConfig struct {
	RESTBaseURL  string `mapstructure:"rest_base_url"`
	WSPublicURL  string `mapstructure:"ws_public_url"`
	WSPrivateURL string `mapstructure:"ws_private_url"`
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	RecvWindow   int    `mapstructure:"recv_window_ms"`
}

// StrategyConfig is the per-strategy configuration surface, immutable for
// the lifetime of a run once loaded.
type StrategyConfig struct {
	StratID               string  `mapstructure:"strat_id"`
	Symbol                string  `mapstructure:"symbol"`
	TickSize              string  `mapstructure:"tick_size"`
	GridCount             int     `mapstructure:"grid_count"`
	GridStep              string  `mapstructure:"grid_step"`
	// QtyStep and MinQty are the lot-size fields from spec §3.1. Live mode
	// ignores them in favor of the exchange's instrument-info cache (the
	// exchange is the source of truth for lot sizing); backtest/replay mode
	// has no exchange to ask, so these are its only source.
	QtyStep               string  `mapstructure:"qty_step"`
	MinQty                string  `mapstructure:"min_qty"`
	RebalanceThreshold    string  `mapstructure:"rebalance_threshold"`
	AmountExpression      string  `mapstructure:"amount_expression"`
	CommissionRate        string  `mapstructure:"commission_rate"`
	Leverage              string  `mapstructure:"leverage"`
	MaintenanceMarginRate string  `mapstructure:"maintenance_margin_rate"`
	MinLiqRatio           string  `mapstructure:"min_liq_ratio"`
	MaxLiqRatio           string  `mapstructure:"max_liq_ratio"`
	MinTotalMargin        string  `mapstructure:"min_total_margin"`
	MaxMargin             string  `mapstructure:"max_margin"`
	EnableRiskMultipliers bool    `mapstructure:"enable_risk_multipliers"`
	WindDownMode          string  `mapstructure:"wind_down_mode"`
}

// RunConfig carries the run-scoped knobs that apply across all strategies
// in one run rather than per-strategy.
type RunConfig struct {
	RunID                   string        `mapstructure:"run_id"`
	InitialBalance          string        `mapstructure:"initial_balance"`
	EnableFunding           bool          `mapstructure:"enable_funding"`
	FundingRate             string        `mapstructure:"funding_rate"`
	SharpeInterval          time.Duration `mapstructure:"sharpe_interval"`
	InstrumentCacheTTLHours int           `mapstructure:"instrument_cache_ttl_hours"`
}

// StoreConfig sets where instrument-info and risk-limit JSON caches are
// persisted.
type StoreConfig struct {
	CacheDir string `mapstructure:"cache_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// TelemetryConfig controls the Prometheus /metrics + /health server.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// RiskConfig configures the run-wide kill switch, on top of each strategy's
// own per-symbol margin guards (min_total_margin/max_margin/liq ratio band).
type RiskConfig struct {
	MaxExposurePerSymbol string        `mapstructure:"max_exposure_per_symbol"`
	MaxGlobalExposure    string        `mapstructure:"max_global_exposure"`
	MaxDailyLoss         string        `mapstructure:"max_daily_loss"`
	KillSwitchDropPct    string        `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindowSec  int           `mapstructure:"kill_switch_window_sec"`
	CooldownAfterKill    time.Duration `mapstructure:"cooldown_after_kill"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: GRID_API_KEY, GRID_API_SECRET, GRID_DB_DSN.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("GRID")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("GRID_API_KEY"); key != "" {
		cfg.API.APIKey = key
	}
	if secret := os.Getenv("GRID_API_SECRET"); secret != "" {
		cfg.API.APISecret = secret
	}
	if dsn := os.Getenv("GRID_DB_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if os.Getenv("GRID_DRY_RUN") == "true" || os.Getenv("GRID_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	// enable_risk_multipliers defaults to true when a strategy omits it.
	if raw, ok := v.Get("strategies").([]interface{}); ok {
		for i, item := range raw {
			m, ok := item.(map[string]interface{})
			if !ok || i >= len(cfg.Strategies) {
				continue
			}
			if _, set := m["enable_risk_multipliers"]; !set {
				cfg.Strategies[i].EnableRiskMultipliers = true
			}
		}
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.API.RESTBaseURL == "" {
		return fmt.Errorf("api.rest_base_url is required")
	}
	if !c.DryRun && (c.API.APIKey == "" || c.API.APISecret == "") {
		return fmt.Errorf("api.api_key/api_secret are required when dry_run is false (set GRID_API_KEY/GRID_API_SECRET)")
	}
	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	for _, s := range c.Strategies {
		if s.StratID == "" {
			return fmt.Errorf("strategy.strat_id is required")
		}
		if s.Symbol == "" {
			return fmt.Errorf("strategy %q: symbol is required", s.StratID)
		}
		if s.GridCount <= 0 {
			return fmt.Errorf("strategy %q: grid_count must be > 0", s.StratID)
		}
		switch s.WindDownMode {
		case "", "leave_open", "close_all":
		default:
			return fmt.Errorf("strategy %q: wind_down_mode must be leave_open or close_all", s.StratID)
		}
	}
	if c.Run.InitialBalance == "" {
		return fmt.Errorf("run.initial_balance is required")
	}
	return nil
}

// ToDomain parses the YAML-friendly string fields of a StrategyConfig into
// the decimal-typed types.StrategyConfig the core operates on. qtyStep and
// minQty are supplied by the caller: live mode passes instrument info (cache
// or REST), backtest/replay mode passes the strategy's own qty_step/min_qty.
func (s StrategyConfig) ToDomain(qtyStep, minQty decimal.Decimal, enableFunding bool, fundingRate decimal.Decimal) (types.StrategyConfig, error) {
	parse := func(field, value string) (decimal.Decimal, error) {
		if value == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(value)
		if err != nil {
			return decimal.Zero, fmt.Errorf("strategy %q: invalid %s %q: %w", s.StratID, field, value, err)
		}
		return d, nil
	}

	tickSize, err := parse("tick_size", s.TickSize)
	if err != nil {
		return types.StrategyConfig{}, err
	}
	gridStep, err := parse("grid_step", s.GridStep)
	if err != nil {
		return types.StrategyConfig{}, err
	}
	rebalanceThreshold, err := parse("rebalance_threshold", s.RebalanceThreshold)
	if err != nil {
		return types.StrategyConfig{}, err
	}
	commissionRate, err := parse("commission_rate", s.CommissionRate)
	if err != nil {
		return types.StrategyConfig{}, err
	}
	leverage, err := parse("leverage", s.Leverage)
	if err != nil {
		return types.StrategyConfig{}, err
	}
	mmr, err := parse("maintenance_margin_rate", s.MaintenanceMarginRate)
	if err != nil {
		return types.StrategyConfig{}, err
	}
	minLiq, err := parse("min_liq_ratio", s.MinLiqRatio)
	if err != nil {
		return types.StrategyConfig{}, err
	}
	maxLiq, err := parse("max_liq_ratio", s.MaxLiqRatio)
	if err != nil {
		return types.StrategyConfig{}, err
	}
	minTotalMargin, err := parse("min_total_margin", s.MinTotalMargin)
	if err != nil {
		return types.StrategyConfig{}, err
	}
	maxMargin, err := parse("max_margin", s.MaxMargin)
	if err != nil {
		return types.StrategyConfig{}, err
	}

	windDown := types.WindDownLeaveOpen
	if s.WindDownMode == string(types.WindDownCloseAll) {
		windDown = types.WindDownCloseAll
	}

	return types.StrategyConfig{
		StratID:               s.StratID,
		Symbol:                s.Symbol,
		TickSize:              tickSize,
		QtyStep:               qtyStep,
		MinQty:                minQty,
		GridCount:             s.GridCount,
		GridStep:              gridStep,
		RebalanceThreshold:    rebalanceThreshold,
		AmountExpression:      s.AmountExpression,
		CommissionRate:        commissionRate,
		Leverage:              leverage,
		MaintenanceMarginRate: mmr,
		MinLiqRatio:           minLiq,
		MaxLiqRatio:           maxLiq,
		MinTotalMargin:        minTotalMargin,
		MaxMargin:             maxMargin,
		EnableRiskMultipliers: s.EnableRiskMultipliers,
		WindDownMode:          windDown,
		EnableFunding:         enableFunding,
		FundingRate:           fundingRate,
	}, nil
}

// InitialBalanceDecimal parses Run.InitialBalance.
func (r RunConfig) InitialBalanceDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(r.InitialBalance)
}

// FundingRateDecimal parses Run.FundingRate, defaulting to 0.0001 per
// spec §6.4 when unset.
func (r RunConfig) FundingRateDecimal() (decimal.Decimal, error) {
	if r.FundingRate == "" {
		return decimal.NewFromFloat(0.0001), nil
	}
	return decimal.NewFromString(r.FundingRate)
}

// SharpeIntervalOrDefault returns Run.SharpeInterval, defaulting to one
// hour per spec §6.4 when unset.
func (r RunConfig) SharpeIntervalOrDefault() time.Duration {
	if r.SharpeInterval <= 0 {
		return time.Hour
	}
	return r.SharpeInterval
}

// InstrumentCacheTTLOrDefault returns the instrument-info/risk-limit cache
// TTL, defaulting to 24 hours per spec §6.4 when unset.
func (r RunConfig) InstrumentCacheTTLOrDefault() time.Duration {
	if r.InstrumentCacheTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(r.InstrumentCacheTTLHours) * time.Hour
}
