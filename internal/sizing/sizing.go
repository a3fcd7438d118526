// Package sizing computes admissible position size from signal strength, a
// Kelly-derived cap, exposure limits, and a fee-profitability gate. A "no
// trade" outcome is a reported reason, never an error.
package sizing

import (
	"fmt"
	"math"
)

// Hard limits on portfolio shape: at most 3 concurrently open positions and
// at most 33% of equity committed to a single asset.
const (
	MaxOpenPositions = 3
	MaxAssetExposure = 0.33
)

// Input carries everything ComputeSize needs. Equity is budget.remaining
// plus the mark-to-market value of all open positions; AssetExposure is the
// current notional already committed to this asset.
type Input struct {
	Score         float64 // composite signal score, -100..100
	KellyFraction float64 // cap derived from session statistics, [0,1]
	Equity        float64
	AssetPrice    float64
	AssetExposure float64
	OpenPositions int
	FeeRate       float64 // fee per fill as a fraction of notional
	TargetPrice   float64 // dynamic take-profit level
	MinNotional   float64
}

// Decision is the sizing outcome. Rejected decisions carry the reason the
// trade was declined for this cycle.
type Decision struct {
	Size     float64
	Notional float64
	Fraction float64
	Rejected bool
	Reason   string
}

func reject(format string, args ...any) Decision {
	return Decision{Rejected: true, Reason: fmt.Sprintf(format, args...)}
}

// ComputeSize bands the signal into an allocation fraction, caps it by the
// Kelly fraction, and converts to whole units subject to the exposure,
// concurrency, minimum-notional, and fee-profitability constraints.
func ComputeSize(in Input) Decision {
	if in.AssetPrice <= 0 {
		return reject("invalid asset price %.2f", in.AssetPrice)
	}

	band := signalFraction(in.Score)
	if band == 0 {
		return reject("signal too weak (score %.1f)", in.Score)
	}

	if in.OpenPositions >= MaxOpenPositions {
		return reject("max open positions reached (%d)", MaxOpenPositions)
	}

	fraction := math.Min(band, in.KellyFraction)
	if fraction <= 0 {
		return reject("kelly fraction %.3f leaves no allocation", in.KellyFraction)
	}

	size := math.Floor(in.Equity * fraction / in.AssetPrice)
	if size <= 0 {
		return reject("allocation too small for one unit at %.2f", in.AssetPrice)
	}
	notional := size * in.AssetPrice

	if in.AssetExposure+notional > in.Equity*MaxAssetExposure {
		return reject("asset exposure %.2f would exceed %.0f%% of equity %.2f",
			in.AssetExposure+notional, MaxAssetExposure*100, in.Equity)
	}

	if notional < in.MinNotional {
		return reject("notional %.2f below minimum trade size %.2f", notional, in.MinNotional)
	}

	entryFee := notional * in.FeeRate
	exitFee := in.TargetPrice * size * in.FeeRate
	minProfitRequired := (entryFee + exitFee) * 2
	expectedProfit := (in.TargetPrice-in.AssetPrice)*size - entryFee - exitFee
	if expectedProfit < minProfitRequired {
		return reject("expected profit %.2f below fee gate %.2f", expectedProfit, minProfitRequired)
	}

	return Decision{Size: size, Notional: notional, Fraction: fraction}
}

// signalFraction bands |score| into an allocation fraction. Scores under 20
// yield no trade.
func signalFraction(score float64) float64 {
	abs := math.Abs(score)
	switch {
	case abs >= 60:
		return 1.0
	case abs >= 40:
		return 0.75
	case abs >= 20:
		return 0.5
	default:
		return 0
	}
}

// KellyFraction derives the sizing cap from realized session statistics:
// f = w - (1-w)/r with r the payoff ratio. Without enough history it falls
// back to the configured default, and the result is clamped to [0, cap].
func KellyFraction(wins, losses int, avgWin, avgLoss, fallback, cap float64) float64 {
	trades := wins + losses
	if trades < 5 || avgLoss >= 0 || avgWin <= 0 {
		return clamp(fallback, 0, cap)
	}
	w := float64(wins) / float64(trades)
	r := avgWin / -avgLoss
	if r <= 0 {
		return clamp(fallback, 0, cap)
	}
	f := w - (1-w)/r
	return clamp(f, 0, cap)
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
