package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ocastell/atlas-trader/internal/market"
)

func validConfig() Config {
	return Config{
		StateFile:           "session.json",
		Strategy:            "aggressive",
		Interval:            "15m",
		Currency:            "USDT",
		InitialBudget:       100,
		MaxBudget:           200,
		MinTradeSize:        10,
		FeeRate:             0.001,
		DefaultKelly:        0.5,
		MaxKelly:            0.75,
		CompoundRate:        0.5,
		StagnationHours:     24,
		MaxRebalancesPerDay: 2,
		Watchlist:           []market.Asset{{ID: "BTC-USDT", Class: "crypto"}},
		ExecutionAttempts:   3,
		ExecutionDelay:      2 * time.Second,
	}
}

func TestValidate(t *testing.T) {
	t.Run("Valid config passes", func(t *testing.T) {
		cfg := validConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Rejects bad values", func(t *testing.T) {
		cases := []struct {
			name   string
			mutate func(*Config)
		}{
			{"unknown strategy", func(c *Config) { c.Strategy = "martingale" }},
			{"unknown interval", func(c *Config) { c.Interval = "3m" }},
			{"zero budget", func(c *Config) { c.InitialBudget = 0 }},
			{"max below initial", func(c *Config) { c.MaxBudget = 50 }},
			{"compound rate above one", func(c *Config) { c.CompoundRate = 1.5 }},
			{"negative fee rate", func(c *Config) { c.FeeRate = -0.001 }},
			{"empty watchlist", func(c *Config) { c.Watchlist = nil }},
		}
		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				cfg := validConfig()
				tc.mutate(&cfg)
				assert.Error(t, cfg.Validate())
			})
		}
	})

	t.Run("Defaults execution settings", func(t *testing.T) {
		cfg := validConfig()
		cfg.ExecutionAttempts = 0
		cfg.ExecutionDelay = 0
		assert.NoError(t, cfg.Validate())
		assert.Equal(t, 3, cfg.ExecutionAttempts)
		assert.Equal(t, 2*time.Second, cfg.ExecutionDelay)
	})
}

func TestIntervalDuration(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, 15*time.Minute, cfg.IntervalDuration())
	cfg.Interval = "1h"
	assert.Equal(t, time.Hour, cfg.IntervalDuration())
	cfg.Interval = "5m"
	assert.Equal(t, 5*time.Minute, cfg.IntervalDuration())
}
