package infra

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"market_go/internal/domain"
)

const minimalYAML = `
app:
  name: market-test
simulation:
  seed: 42
markets:
  stocks:
    - symbol: APEX
      name: Apex Dynamics
      base_price: 100
      min_price: 1
      drift: 0.08
      volatility: 0.3
      max_history: 100
  crypto:
    - symbol: BITC
      name: Bitcorn
      base_price: 50000
      min_price: 100
      drift: 0.3
      volatility: 1.1
      max_history: 100
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Simulation.Seed != 42 {
		t.Errorf("Expected seed 42, got %d", cfg.Simulation.Seed)
	}
	// Defaults fill the omitted knobs.
	if cfg.Simulation.TicksPerYear != 365 {
		t.Errorf("Expected default ticks_per_year 365, got %d", cfg.Simulation.TicksPerYear)
	}
	if cfg.Regime.EvalWindowTicks != 120 {
		t.Errorf("Expected default eval window 120, got %d", cfg.Regime.EvalWindowTicks)
	}
	if cfg.Storage.Path == "" {
		t.Error("Expected default storage path")
	}

	// Market type is stamped from the YAML section.
	if cfg.Markets.Stocks[0].Market != domain.MarketStock {
		t.Errorf("Expected STOCK market, got %s", cfg.Markets.Stocks[0].Market)
	}
	if cfg.Markets.Crypto[0].Market != domain.MarketCrypto {
		t.Errorf("Expected CRYPTO market, got %s", cfg.Markets.Crypto[0].Market)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("MARKET_SEED", "777")
	t.Setenv("MARKET_STORAGE_PATH", "/tmp/override.db")

	cfg, err := LoadConfig(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Simulation.Seed != 777 {
		t.Errorf("Expected env seed 777, got %d", cfg.Simulation.Seed)
	}
	if cfg.Storage.Path != "/tmp/override.db" {
		t.Errorf("Expected env storage path, got %s", cfg.Storage.Path)
	}
}

func TestConfig_ValidateRejects(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := LoadConfig(writeConfig(t, minimalYAML))
		if err != nil {
			t.Fatal(err)
		}
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"probabilities above one", func(c *Config) { c.Regime.ProbBull = 0.8; c.Regime.ProbBear = 0.5 }},
		{"short window not below medium", func(c *Config) { c.Regime.ShortWindow = c.Regime.MediumWindow }},
		{"duration range inverted", func(c *Config) { c.Regime.DurationMinTicks = 500; c.Regime.DurationMaxTicks = 100 }},
		{"duplicate symbol", func(c *Config) {
			c.Markets.Crypto[0].Symbol = c.Markets.Stocks[0].Symbol
		}},
		{"no assets", func(c *Config) {
			c.Markets.Stocks = nil
			c.Markets.Crypto = nil
		}},
		{"asset min above base", func(c *Config) {
			c.Markets.Stocks[0].MinPrice = c.Markets.Stocks[0].BasePrice.Add(c.Markets.Stocks[0].BasePrice)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base(t)
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
