// Package position
package position

import (
	"time"

	"github.com/google/uuid"

	"github.com/ocastell/atlas-trader/internal/market"
	"github.com/ocastell/atlas-trader/internal/risk"
)

// State is the lifecycle state of a position. A position exists only after
// its entry fill is confirmed, so it is born OPEN; PENDING_CLOSE covers the
// exit execution call, and the controller's mutex guarantees nothing else
// touches the position while it is pending.
type State string

const (
	StateOpen         State = "open"
	StatePendingClose State = "pending_close"
	StateClosed       State = "closed"
)

// Entry is the immutable record of how the position was opened.
type Entry struct {
	Price     float64   `json:"price"`
	Time      time.Time `json:"time"`
	OrderType string    `json:"orderType"`
	Fee       float64   `json:"fee"`
}

// Analysis is the signal snapshot taken at open. Never mutated afterward.
type Analysis struct {
	SignalStrength float64 `json:"signalStrength"`
	TechnicalScore float64 `json:"technicalScore"`
	Sentiment      string  `json:"sentiment"`
	Reason         string  `json:"reason"`
	Confidence     float64 `json:"confidence"`
}

// Risk holds the protective levels, updated by the risk engine each tick.
type Risk struct {
	EntryATR     float64           `json:"entryATR"`
	DynamicSL    float64           `json:"dynamicSL"`
	DynamicTP    float64           `json:"dynamicTP"`
	TrailingStop risk.TrailingStop `json:"trailingStop"`
}

// Performance is recomputed on every monitoring tick.
type Performance struct {
	CurrentPrice         float64 `json:"currentPrice"`
	UnrealizedPnL        float64 `json:"unrealizedPnL"`
	UnrealizedPnLPercent float64 `json:"unrealizedPnLPercent"`
	PeakPnLPercent       float64 `json:"peakPnLPercent"`
	HoldingTimeHours     float64 `json:"holdingTimeHours"`
}

// Position is a single long position, owned exclusively by the lifecycle
// controller while open.
type Position struct {
	ID          string       `json:"id"`
	Asset       market.Asset `json:"asset"`
	Side        string       `json:"side"` // always "long"
	Size        float64      `json:"size"`
	State       State        `json:"state"`
	Entry       Entry        `json:"entry"`
	Analysis    Analysis     `json:"analysis"`
	Risk        Risk         `json:"risk"`
	Performance Performance  `json:"performance"`
}

// New builds an OPEN position from a confirmed entry fill.
func New(asset market.Asset, size float64, fill market.Fill, orderType string, sig market.Signal, entryATR float64, levels risk.EntryRisk) *Position {
	p := &Position{
		ID:    uuid.New().String(),
		Asset: asset,
		Side:  "long",
		Size:  size,
		State: StateOpen,
		Entry: Entry{
			Price:     fill.Price,
			Time:      fill.Time.UTC(),
			OrderType: orderType,
			Fee:       fill.Fee,
		},
		Analysis: Analysis{
			SignalStrength: sig.Score,
			TechnicalScore: sig.TechnicalScore,
			Sentiment:      sig.Sentiment,
			Reason:         sig.Reason,
			Confidence:     sig.Confidence,
		},
		Risk: Risk{
			EntryATR:  entryATR,
			DynamicSL: levels.DynamicSL,
			DynamicTP: levels.DynamicTP,
			TrailingStop: risk.TrailingStop{
				HighestPrice: fill.Price,
			},
		},
	}
	p.UpdatePerformance(fill.Price, fill.Time)
	return p
}

// UpdatePerformance recomputes the mark-to-market block for the given price.
// PeakPnLPercent only ratchets up.
func (p *Position) UpdatePerformance(price float64, now time.Time) {
	p.Performance.CurrentPrice = price
	p.Performance.UnrealizedPnL = (price - p.Entry.Price) * p.Size
	if p.Entry.Price > 0 {
		p.Performance.UnrealizedPnLPercent = (price - p.Entry.Price) / p.Entry.Price * 100
	}
	if p.Performance.UnrealizedPnLPercent > p.Performance.PeakPnLPercent {
		p.Performance.PeakPnLPercent = p.Performance.UnrealizedPnLPercent
	}
	p.Performance.HoldingTimeHours = now.UTC().Sub(p.Entry.Time).Hours()
}

// Notional is the mark-to-market value of the position.
func (p *Position) Notional() float64 {
	return p.Performance.CurrentPrice * p.Size
}

// Exit is a confirmed exit fill plus the trigger that caused it.
type Exit struct {
	Price   float64          `json:"price"`
	Time    time.Time        `json:"time"`
	Fee     float64          `json:"fee"`
	Trigger risk.ExitTrigger `json:"trigger"`
	OrderID string           `json:"orderId"`
}

// HistoryEntry is the immutable union of entry, exit, and result snapshots.
// Created exactly once, on close; never mutated afterward.
type HistoryEntry struct {
	PositionID    string       `json:"positionId"`
	Asset         market.Asset `json:"asset"`
	Side          string       `json:"side"`
	Size          float64      `json:"size"`
	Entry         Entry        `json:"entry"`
	Analysis      Analysis     `json:"analysis"`
	Exit          Exit         `json:"exit"`
	GrossPnL      float64      `json:"grossPnL"`
	NetPnL        float64      `json:"netPnL"`
	NetPnLPercent float64      `json:"netPnLPercent"`
	HoldingHours  float64      `json:"holdingHours"`
}

// CloseOut converts the position plus a confirmed exit into its history
// entry and marks the position CLOSED.
func (p *Position) CloseOut(exit Exit) HistoryEntry {
	p.State = StateClosed

	grossPnL := (exit.Price - p.Entry.Price) * p.Size
	netPnL := grossPnL - p.Entry.Fee - exit.Fee
	costBasis := p.Entry.Price * p.Size

	entry := HistoryEntry{
		PositionID:   p.ID,
		Asset:        p.Asset,
		Side:         p.Side,
		Size:         p.Size,
		Entry:        p.Entry,
		Analysis:     p.Analysis,
		Exit:         exit,
		GrossPnL:     grossPnL,
		NetPnL:       netPnL,
		HoldingHours: exit.Time.UTC().Sub(p.Entry.Time).Hours(),
	}
	if costBasis > 0 {
		entry.NetPnLPercent = netPnL / costBasis * 100
	}
	return entry
}
