// Package session owns the per-run trading session: budget, compounding,
// rebalancing quota, and aggregate statistics.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Budget is the tradable capital of the session, in one currency.
type Budget struct {
	Initial   float64 `json:"initial"`
	Remaining float64 `json:"remaining"`
	Currency  string  `json:"currency"`
}

// Stats aggregates realized outcomes. TradesClosed always equals Wins+Losses.
type Stats struct {
	TradesOpened       int     `json:"tradesOpened"`
	TradesClosed       int     `json:"tradesClosed"`
	Wins               int     `json:"wins"`
	Losses             int     `json:"losses"`
	TotalFeesPaid      float64 `json:"totalFeesPaid"`
	RealizedPnL        float64 `json:"realizedPnL"`
	RealizedPnLPercent float64 `json:"realizedPnLPercent"`
}

// Config is the immutable session configuration snapshot.
type Config struct {
	Strategy          string   `json:"strategy"` // aggressive, conservative, scalping
	Interval          string   `json:"interval"` // 5m, 15m, 1h
	DryRun            bool     `json:"dryRun"`
	AllowedAssetTypes []string `json:"allowedAssetTypes"`
}

// Compound controls reinvestment of realized profit into the budget.
type Compound struct {
	Enabled         bool    `json:"enabled"`
	Rate            float64 `json:"rate"` // fraction of net profit, [0,1]
	MaxBudget       float64 `json:"maxBudget"`
	TotalCompounded float64 `json:"totalCompounded"`
}

// Rebalancing limits forced closure of stagnant positions.
type Rebalancing struct {
	Enabled         bool    `json:"enabled"`
	StagnationHours float64 `json:"stagnationHours"`
	MaxPerDay       int     `json:"maxPerDay"`
	RebalancesToday int     `json:"rebalancesToday"`
	LastReset       string  `json:"lastReset"` // ISO-8601, UTC day of last counter reset
}

// Session is the singleton per-run state persisted in the session document.
type Session struct {
	ID          string      `json:"id"`
	StartedAt   string      `json:"startedAt"` // ISO-8601
	UpdatedAt   string      `json:"updatedAt"` // ISO-8601
	Budget      Budget      `json:"budget"`
	Stats       Stats       `json:"stats"`
	Config      Config      `json:"config"`
	Compound    Compound    `json:"compound"`
	Rebalancing Rebalancing `json:"rebalancing"`
}

// New builds a fresh session. maxBudget caps both compounding and the
// remaining budget at all times.
func New(initialBudget, maxBudget float64, currency string, cfg Config, compoundRate float64, compoundEnabled bool, reb Rebalancing, now time.Time) *Session {
	ts := now.UTC().Format(time.RFC3339)
	reb.LastReset = ts
	return &Session{
		ID:        uuid.New().String(),
		StartedAt: ts,
		UpdatedAt: ts,
		Budget: Budget{
			Initial:   initialBudget,
			Remaining: initialBudget,
			Currency:  currency,
		},
		Config: cfg,
		Compound: Compound{
			Enabled:   compoundEnabled,
			Rate:      compoundRate,
			MaxBudget: maxBudget,
		},
		Rebalancing: reb,
	}
}
