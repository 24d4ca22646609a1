package infra

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"market_go/internal/domain"
)

// Config holds every tunable of the simulator: engine settings, the
// regime calibration, logging, storage, and the per-market asset
// catalogs. Loaded once from YAML at startup; env vars override the
// operational knobs afterwards.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Simulation struct {
		Seed                  int64 `yaml:"seed"`
		TicksPerYear          int   `yaml:"ticks_per_year"`
		TicksPerCandle        int   `yaml:"ticks_per_candle"`
		UpdateIntervalMS      int   `yaml:"update_interval_ms"`
		MaxPendingOrders      int   `yaml:"max_pending_orders"`
		OrderHistoryCap       int   `yaml:"order_history_cap"`
		DividendIntervalTicks int64 `yaml:"dividend_interval_ticks"`
		MaxCatchUpTicks       int64 `yaml:"max_catch_up_ticks"`
	} `yaml:"simulation"`

	Regime struct {
		EvalWindowTicks  int64   `yaml:"eval_window_ticks"`
		ShortWindow      int     `yaml:"short_window"`
		MediumWindow     int     `yaml:"medium_window"`
		MomentumScale    float64 `yaml:"momentum_scale"`
		ProbBull         float64 `yaml:"prob_bull"`
		ProbBear         float64 `yaml:"prob_bear"`
		ProbCrash        float64 `yaml:"prob_crash"`
		ProbBubble       float64 `yaml:"prob_bubble"`
		DurationMinTicks int64   `yaml:"duration_min_ticks"`
		DurationMaxTicks int64   `yaml:"duration_max_ticks"`
	} `yaml:"regime"`

	Markets struct {
		Stocks []domain.AssetConfig `yaml:"stocks"`
		Crypto []domain.AssetConfig `yaml:"crypto"`
	} `yaml:"markets"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`
}

// envOverrides are the operational knobs that may be set via environment
// (MARKET_SEED, MARKET_LOG_LEVEL, MARKET_STORAGE_PATH,
// MARKET_UPDATE_INTERVAL_MS). Anything unset keeps the YAML value.
type envOverrides struct {
	Seed             *int64 `envconfig:"SEED"`
	LogLevel         string `envconfig:"LOG_LEVEL"`
	StoragePath      string `envconfig:"STORAGE_PATH"`
	UpdateIntervalMS int    `envconfig:"UPDATE_INTERVAL_MS"`
}

// LoadConfig reads and validates the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.applyDefaults()

	var ov envOverrides
	if err := envconfig.Process("market", &ov); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if ov.Seed != nil {
		cfg.Simulation.Seed = *ov.Seed
	}
	if ov.LogLevel != "" {
		cfg.Logging.Level = ov.LogLevel
	}
	if ov.StoragePath != "" {
		cfg.Storage.Path = ov.StoragePath
	}
	if ov.UpdateIntervalMS > 0 {
		cfg.Simulation.UpdateIntervalMS = ov.UpdateIntervalMS
	}

	// Catalog entries learn their market type from the section they sit in.
	for i := range cfg.Markets.Stocks {
		cfg.Markets.Stocks[i].Market = domain.MarketStock
	}
	for i := range cfg.Markets.Crypto {
		cfg.Markets.Crypto[i].Market = domain.MarketCrypto
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	s := &c.Simulation
	if s.TicksPerYear == 0 {
		s.TicksPerYear = 365
	}
	if s.TicksPerCandle == 0 {
		s.TicksPerCandle = 5
	}
	if s.UpdateIntervalMS == 0 {
		s.UpdateIntervalMS = 1000
	}
	if s.MaxPendingOrders == 0 {
		s.MaxPendingOrders = 50
	}
	if s.OrderHistoryCap == 0 {
		s.OrderHistoryCap = 200
	}
	if s.DividendIntervalTicks == 0 {
		s.DividendIntervalTicks = 90
	}
	if s.MaxCatchUpTicks == 0 {
		s.MaxCatchUpTicks = 5000
	}

	r := &c.Regime
	if r.EvalWindowTicks == 0 {
		r.EvalWindowTicks = 120
	}
	if r.ShortWindow == 0 {
		r.ShortWindow = 12
	}
	if r.MediumWindow == 0 {
		r.MediumWindow = 48
	}
	if r.MomentumScale == 0 {
		r.MomentumScale = 2.0
	}
	if r.DurationMinTicks == 0 {
		r.DurationMinTicks = 60
	}
	if r.DurationMaxTicks == 0 {
		r.DurationMaxTicks = 240
	}

	if c.Storage.Path == "" {
		c.Storage.Path = "data/market.db"
	}
}

// Validate checks configuration validity. Any failure is fatal at
// startup: the engine refuses to run with undefined behavior.
func (c *Config) Validate() error {
	s := &c.Simulation
	if s.TicksPerYear <= 0 {
		return &domain.ConfigError{Field: "simulation.ticks_per_year", Err: fmt.Errorf("must be positive")}
	}
	if s.TicksPerCandle <= 0 {
		return &domain.ConfigError{Field: "simulation.ticks_per_candle", Err: fmt.Errorf("must be positive")}
	}
	if s.UpdateIntervalMS <= 0 {
		return &domain.ConfigError{Field: "simulation.update_interval_ms", Err: fmt.Errorf("must be positive")}
	}
	if s.MaxPendingOrders <= 0 {
		return &domain.ConfigError{Field: "simulation.max_pending_orders", Err: fmt.Errorf("must be positive")}
	}

	r := &c.Regime
	if r.ShortWindow >= r.MediumWindow {
		return &domain.ConfigError{Field: "regime.short_window", Err: fmt.Errorf("must be less than medium_window")}
	}
	probSum := r.ProbBull + r.ProbBear + r.ProbCrash + r.ProbBubble
	if probSum < 0 || probSum > 1 {
		return &domain.ConfigError{Field: "regime", Err: fmt.Errorf("condition probabilities must sum to [0,1], got %v", probSum)}
	}
	if r.DurationMinTicks > r.DurationMaxTicks {
		return &domain.ConfigError{Field: "regime.duration_min_ticks", Err: fmt.Errorf("must not exceed duration_max_ticks")}
	}

	if len(c.Markets.Stocks)+len(c.Markets.Crypto) == 0 {
		return &domain.ConfigError{Field: "markets", Err: fmt.Errorf("at least one asset is required")}
	}

	seen := make(map[string]bool)
	for _, list := range [][]domain.AssetConfig{c.Markets.Stocks, c.Markets.Crypto} {
		for i := range list {
			a := &list[i]
			if err := a.Validate(); err != nil {
				return err
			}
			if seen[a.Symbol] {
				return &domain.ConfigError{Field: a.Symbol, Err: fmt.Errorf("duplicate symbol")}
			}
			seen[a.Symbol] = true
		}
	}

	return nil
}
