// Package config loads and validates the YAML configuration for the
// trading system, including risk parameters and backtest run settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalid marks configuration errors. A run must not start when Validate
// returns an error wrapping it.
var ErrInvalid = errors.New("invalid configuration")

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration.
type Config struct {
	Storage   Storage                  `yaml:"storage"`
	Alpaca    Alpaca                   `yaml:"alpaca"`
	Logging   Logging                  `yaml:"logging"`
	Providers map[string]ProviderLimit `yaml:"providers"`
	Backtest  BacktestConfig           `yaml:"backtest"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca APIs.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level string `yaml:"level"`
}

// ProviderLimit is the outbound request budget for one named provider.
type ProviderLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	RequestsPerHour   int `yaml:"requests_per_hour"`
	RequestsPerDay    int `yaml:"requests_per_day"`
	CacheTTLSeconds   int `yaml:"cache_ttl_seconds"`
}

// KillZone is a time-of-day window (inclusive) during which new entries are
// permitted, expressed as "HH:MM" strings.
type KillZone struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}

// Contains reports whether the time of day of t falls inside the zone.
// Malformed zones never match; Validate rejects them up front.
func (z KillZone) Contains(t time.Time) bool {
	start, err1 := parseMinuteOfDay(z.Start)
	end, err2 := parseMinuteOfDay(z.End)
	if err1 != nil || err2 != nil {
		return false
	}
	m := t.Hour()*60 + t.Minute()
	return m >= start && m <= end
}

func parseMinuteOfDay(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return h*60 + m, nil
}

// RiskParameters defines the risk and execution constraints applied to
// signal generation and the backtest loop.
type RiskParameters struct {
	MaxRiskPercent      float64    `yaml:"max_risk_percent"`
	MaxDailyLoss        float64    `yaml:"max_daily_loss"` // percent of balance
	MaxDailyWin         float64    `yaml:"max_daily_win"`  // percent of balance
	SymbolCooldownHours float64    `yaml:"symbol_cooldown_hours"`
	KillZones           []KillZone `yaml:"kill_zones"`
	CommissionPerTrade  float64    `yaml:"commission_per_trade"`
	SlippagePercent     float64    `yaml:"slippage_percent"`
	MaxRiskAmount       float64    `yaml:"max_risk_amount"`
	MinConfluenceScore  float64    `yaml:"min_confluence_score"` // default 0.6
	MinRiskReward       float64    `yaml:"min_risk_reward"`      // default 2.0
}

// ConfluenceThreshold returns MinConfluenceScore or its 0.6 default.
func (p RiskParameters) ConfluenceThreshold() float64 {
	if p.MinConfluenceScore == 0 {
		return 0.6
	}
	return p.MinConfluenceScore
}

// RiskRewardThreshold returns MinRiskReward or its 2.0 default.
func (p RiskParameters) RiskRewardThreshold() float64 {
	if p.MinRiskReward == 0 {
		return 2.0
	}
	return p.MinRiskReward
}

// BacktestConfig describes one backtest run.
type BacktestConfig struct {
	Symbols                []string       `yaml:"symbols"`
	FromDate               string         `yaml:"from_date"` // YYYY-MM-DD
	ToDate                 string         `yaml:"to_date"`   // YYYY-MM-DD
	Timeframe              string         `yaml:"timeframe"`
	InitialBalance         float64        `yaml:"initial_balance"`
	Risk                   RiskParameters `yaml:"risk"`
	UseEnrichedIndicators  bool           `yaml:"use_enriched_indicators"`
	MaxSignalsPerSymbol    int            `yaml:"max_signals_per_symbol"`
	MaxConcurrentPositions int            `yaml:"max_concurrent_positions"`
}

// From returns the parsed start date.
func (c BacktestConfig) From() (time.Time, error) {
	return time.Parse("2006-01-02", c.FromDate)
}

// To returns the parsed end date.
func (c BacktestConfig) To() (time.Time, error) {
	return time.Parse("2006-01-02", c.ToDate)
}

// Validate checks run-start invariants. Any error wraps ErrInvalid and must
// abort the run before it begins.
func (c BacktestConfig) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("%w: no symbols", ErrInvalid)
	}
	from, err := c.From()
	if err != nil {
		return fmt.Errorf("%w: from_date: %v", ErrInvalid, err)
	}
	to, err := c.To()
	if err != nil {
		return fmt.Errorf("%w: to_date: %v", ErrInvalid, err)
	}
	if !from.Before(to) {
		return fmt.Errorf("%w: from_date %s is not before to_date %s", ErrInvalid, c.FromDate, c.ToDate)
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("%w: initial_balance must be positive", ErrInvalid)
	}
	if c.MaxSignalsPerSymbol <= 0 {
		return fmt.Errorf("%w: max_signals_per_symbol must be positive", ErrInvalid)
	}
	if c.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("%w: max_concurrent_positions must be positive", ErrInvalid)
	}
	if c.Risk.MaxDailyLoss < 0 || c.Risk.MaxDailyLoss > 100 {
		return fmt.Errorf("%w: max_daily_loss must be in [0,100]", ErrInvalid)
	}
	if c.Risk.MaxDailyWin < 0 || c.Risk.MaxDailyWin > 100 {
		return fmt.Errorf("%w: max_daily_win must be in [0,100]", ErrInvalid)
	}
	if c.Risk.MaxRiskAmount <= 0 {
		return fmt.Errorf("%w: max_risk_amount must be positive", ErrInvalid)
	}
	for _, z := range c.Risk.KillZones {
		if _, err := parseMinuteOfDay(z.Start); err != nil {
			return fmt.Errorf("%w: kill zone start: %v", ErrInvalid, err)
		}
		if _, err := parseMinuteOfDay(z.End); err != nil {
			return fmt.Errorf("%w: kill zone end: %v", ErrInvalid, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (canonical names used by the SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
