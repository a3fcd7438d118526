// Package risk computes entry risk levels, trailing-stop updates, and exit
// triggers. Every function is pure: inputs in, levels out, no side effects.
package risk

import (
	"fmt"
	"math"
)

// ExitTrigger identifies why a position should be closed. The empty string
// means no exit condition holds.
type ExitTrigger string

const (
	TriggerNone         ExitTrigger = ""
	TriggerStopLoss     ExitTrigger = "stop_loss"
	TriggerTakeProfit   ExitTrigger = "take_profit"
	TriggerTrailingStop ExitTrigger = "trailing_stop"
	TriggerRebalance    ExitTrigger = "rebalance"
)

// Trailing stop activates once unrealized profit reaches this percent, and
// the stop never drops below entry price plus the minimum lock-in.
const (
	trailingActivationPct = 3.0
	trailingMinLockIn     = 1.01
)

// TrailingStop is the Inactive/Active variant for a position's trailing
// stop. HighestPrice is tracked in both states; CurrentStopPrice is
// meaningful only while Active (zero otherwise).
type TrailingStop struct {
	Active           bool    `json:"active"`
	HighestPrice     float64 `json:"highestPrice"`
	CurrentStopPrice float64 `json:"currentStopPrice,omitempty"`
}

// EntryRisk holds the protective price levels computed at open.
type EntryRisk struct {
	DynamicSL float64 `json:"dynamicSL"`
	DynamicTP float64 `json:"dynamicTP"`
}

// strategyBounds are percent-of-price distances per strategy. Aggressive
// derives distances from ATR and clamps the SL percent; the fixed strategies
// use flat percentages.
var strategyBounds = map[string]struct {
	atrBased         bool
	slMult, tpMult   float64
	slMin, slMax     float64
	slFixed, tpFixed float64
}{
	"aggressive":   {atrBased: true, slMult: 1.5, tpMult: 2.5, slMin: 2.5, slMax: 10.0},
	"conservative": {slFixed: 5.0, tpFixed: 3.0},
	"scalping":     {slFixed: 2.0, tpFixed: 1.5},
}

// ComputeEntryRisk derives stop-loss and take-profit levels for a new long
// position. Clamping applies to the percent distance from entry, not the raw
// ATR. The percent distance is converted to a cent-rounded price offset
// first, then applied to the entry price, so the levels are stable under
// float64 (142.50 with ATR 2.85 yields SL 138.22, TP 149.63).
func ComputeEntryRisk(strategy string, atr, entryPrice float64) (EntryRisk, error) {
	if entryPrice <= 0 {
		return EntryRisk{}, fmt.Errorf("entry price must be > 0, got %v", entryPrice)
	}
	bounds, ok := strategyBounds[strategy]
	if !ok {
		return EntryRisk{}, fmt.Errorf("unknown strategy %q", strategy)
	}

	var slPct, tpPct float64
	if bounds.atrBased {
		if atr <= 0 {
			return EntryRisk{}, fmt.Errorf("ATR must be > 0 for %s strategy, got %v", strategy, atr)
		}
		slPct = clamp(atr*bounds.slMult/entryPrice*100, bounds.slMin, bounds.slMax)
		tpPct = atr * bounds.tpMult / entryPrice * 100
	} else {
		slPct = bounds.slFixed
		tpPct = bounds.tpFixed
	}

	return EntryRisk{
		DynamicSL: Round2(entryPrice - Round2(entryPrice*slPct/100)),
		DynamicTP: Round2(entryPrice + Round2(entryPrice*tpPct/100)),
	}, nil
}

// UpdateTrailingStop returns the next trailing-stop state for a long
// position. HighestPrice ratchets up unconditionally; the stop activates at
// the profit threshold and, once active, only tightens.
func UpdateTrailingStop(ts TrailingStop, entryPrice, entryATR, currentPrice, unrealizedPnLPct float64) TrailingStop {
	next := ts
	if currentPrice > next.HighestPrice {
		next.HighestPrice = currentPrice
	}

	if !next.Active {
		if unrealizedPnLPct < trailingActivationPct {
			return next
		}
		next.Active = true
	}

	trailDistance := entryATR / next.HighestPrice
	candidate := next.HighestPrice * (1 - trailDistance)
	stop := math.Max(candidate, entryPrice*trailingMinLockIn)
	if stop > next.CurrentStopPrice {
		next.CurrentStopPrice = Round2(stop)
	}
	return next
}

// EvaluateExit checks exit conditions in strict priority order: stop-loss
// first (it bounds downside), then take-profit, then trailing stop. Pure and
// idempotent for fixed inputs.
func EvaluateExit(sl, tp float64, ts TrailingStop, currentPrice float64) ExitTrigger {
	switch {
	case currentPrice <= sl:
		return TriggerStopLoss
	case currentPrice >= tp:
		return TriggerTakeProfit
	case ts.Active && currentPrice <= ts.CurrentStopPrice:
		return TriggerTrailingStop
	}
	return TriggerNone
}

// Round2 is the canonical rounding policy for price levels: half away from
// zero, two decimals, applied at computation time.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
