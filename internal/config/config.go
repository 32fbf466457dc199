package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is loaded once at startup and immutable for the process lifetime.
// Loading failure is fatal: the agent must not trade with guessed defaults
// for capital, symbol, or leverage.
type Config struct {
	Symbol     string  `yaml:"symbol"`
	Leverage   int     `yaml:"leverage"`
	MarginType string  `yaml:"margin_type"` // "cross" or "isolated"
	Capital    float64 `yaml:"capital"`
	Testnet    bool    `yaml:"testnet"`

	// RiskPerTradePct > 0 switches sizing from fixed capital to a share of
	// the live USDT balance. ReservePct withholds a fraction of that.
	RiskPerTradePct float64 `yaml:"risk_per_trade_pct"`
	ReservePct      float64 `yaml:"reserve_pct"`

	PollSec       int    `yaml:"poll_sec"`
	KlineInterval string `yaml:"kline_interval"`
	KlineLimit    int    `yaml:"kline_limit"`

	Signal struct {
		Lookback     int     `yaml:"lookback"`
		VolumeMult   float64 `yaml:"volume_mult"`
		MinBodyRatio float64 `yaml:"min_body_ratio"`
	} `yaml:"signal"`

	Volatility struct {
		Lookback       int     `yaml:"lookback"`
		RangeMult      float64 `yaml:"range_mult"`
		MinAvgRangePct float64 `yaml:"min_avg_range_pct"`
		BlockNotifySec int     `yaml:"block_notify_sec"`
	} `yaml:"volatility"`

	ATR struct {
		Timeframe string `yaml:"timeframe"`
		Period    int    `yaml:"period"`
	} `yaml:"atr"`

	MinSLDistancePct float64 `yaml:"min_sl_distance_pct"`

	TakeProfit struct {
		MinProfitUSD float64   `yaml:"min_profit_usd"`
		TargetsUSD   []float64 `yaml:"targets_usd"`
		Shares       []float64 `yaml:"shares"`
	} `yaml:"take_profit"`

	CooldownAfterSLSec int `yaml:"cooldown_after_sl_sec"`
	ErrorCooldownSec   int `yaml:"error_cooldown_sec"`
	HeartbeatSec       int `yaml:"heartbeat_sec"`
	EntryConfirmSec    int `yaml:"entry_confirm_sec"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"` // optional log file in addition to stderr
	} `yaml:"logging"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
}

// Load reads, validates and normalizes the config document.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.normalizeLadder()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.PollSec == 0 {
		c.PollSec = 1
	}
	if c.KlineInterval == "" {
		c.KlineInterval = "1m"
	}
	if c.KlineLimit == 0 {
		c.KlineLimit = 30
	}
	if c.Signal.Lookback == 0 {
		c.Signal.Lookback = 10
	}
	if c.Volatility.Lookback == 0 {
		c.Volatility.Lookback = 14
	}
	if c.Volatility.BlockNotifySec == 0 {
		c.Volatility.BlockNotifySec = 600
	}
	if c.ATR.Timeframe == "" {
		c.ATR.Timeframe = "1m"
	}
	if c.ATR.Period == 0 {
		c.ATR.Period = 14
	}
	if c.CooldownAfterSLSec == 0 {
		c.CooldownAfterSLSec = 180
	}
	if c.ErrorCooldownSec == 0 {
		c.ErrorCooldownSec = 30
	}
	if c.EntryConfirmSec == 0 {
		c.EntryConfirmSec = 2
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "agent.db"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8085
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.ReservePct < 0 {
		c.ReservePct = 0
	}
	if c.ReservePct > 0.95 {
		c.ReservePct = 0.95
	}
}

func (c *Config) validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("config: symbol is required")
	}
	if c.Leverage <= 0 {
		return fmt.Errorf("config: leverage must be positive")
	}
	if c.MarginType != "cross" && c.MarginType != "isolated" {
		return fmt.Errorf("config: margin_type must be cross or isolated, got %q", c.MarginType)
	}
	if c.Capital <= 0 && c.RiskPerTradePct <= 0 {
		return fmt.Errorf("config: either capital or risk_per_trade_pct must be set")
	}
	if c.PollSec <= 0 {
		return fmt.Errorf("config: poll_sec must be positive, got %d", c.PollSec)
	}
	if c.Signal.VolumeMult <= 0 {
		return fmt.Errorf("config: signal.volume_mult must be positive")
	}
	if c.Signal.MinBodyRatio <= 0 || c.Signal.MinBodyRatio > 1 {
		return fmt.Errorf("config: signal.min_body_ratio must be in (0, 1]")
	}
	if c.Volatility.RangeMult <= 0 {
		return fmt.Errorf("config: volatility.range_mult must be positive")
	}
	if c.MinSLDistancePct <= 0 {
		return fmt.Errorf("config: min_sl_distance_pct must be positive")
	}
	if len(c.TakeProfit.TargetsUSD) == 0 {
		return fmt.Errorf("config: take_profit.targets_usd must not be empty")
	}
	for i, t := range c.TakeProfit.TargetsUSD {
		if t <= 0 {
			return fmt.Errorf("config: take_profit.targets_usd[%d] must be positive", i)
		}
	}
	// Enough closed candles for the signal window plus the forming candle.
	minKlines := c.Signal.Lookback + 2
	if v := c.Volatility.Lookback + 2; v > minKlines {
		minKlines = v
	}
	if c.KlineLimit < minKlines {
		return fmt.Errorf("config: kline_limit %d too small for lookback, need at least %d", c.KlineLimit, minKlines)
	}
	return nil
}

// normalizeLadder reconciles the share list with the target list (missing
// shares default to an equal split) and scales the shares to sum to 1.
func (c *Config) normalizeLadder() {
	n := len(c.TakeProfit.TargetsUSD)
	shares := c.TakeProfit.Shares
	if len(shares) > n {
		shares = shares[:n]
	}
	for len(shares) < n {
		shares = append(shares, 1.0/float64(n))
	}

	var sum float64
	for _, s := range shares {
		sum += s
	}
	if sum <= 0 {
		for i := range shares {
			shares[i] = 1.0 / float64(n)
		}
	} else {
		for i := range shares {
			shares[i] /= sum
		}
	}
	c.TakeProfit.Shares = shares
}

// PollInterval returns the inter-iteration sleep.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollSec) * time.Second
}

// EntryConfirmWait returns the bounded post-entry wait before reading the
// position back.
func (c *Config) EntryConfirmWait() time.Duration {
	return time.Duration(c.EntryConfirmSec) * time.Second
}

// CooldownAfterSL returns the post-stop quiet period.
func (c *Config) CooldownAfterSL() time.Duration {
	return time.Duration(c.CooldownAfterSLSec) * time.Second
}

// ErrorCooldown returns the quiet period after a transient exchange error.
func (c *Config) ErrorCooldown() time.Duration {
	return time.Duration(c.ErrorCooldownSec) * time.Second
}
