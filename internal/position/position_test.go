package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocastell/atlas-trader/internal/market"
	"github.com/ocastell/atlas-trader/internal/risk"
)

var testAsset = market.Asset{ID: "BTC-USDT", Name: "Bitcoin", Class: "crypto"}

func openTestPosition(t *testing.T, entryPrice, size, entryFee float64) *Position {
	t.Helper()
	fill := market.Fill{
		OrderID: "order-1",
		Price:   entryPrice,
		Fee:     entryFee,
		Time:    time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
	sig := market.Signal{Score: 65, Sentiment: "bullish", Reason: "momentum"}
	levels := risk.EntryRisk{DynamicSL: entryPrice * 0.97, DynamicTP: entryPrice * 1.05}
	return New(testAsset, size, fill, "market", sig, 2.85, levels)
}

func TestNew(t *testing.T) {
	p := openTestPosition(t, 140.0, 2, 0.28)

	assert.NotEmpty(t, p.ID)
	assert.Equal(t, StateOpen, p.State)
	assert.Equal(t, "long", p.Side)
	assert.Equal(t, 140.0, p.Entry.Price)
	assert.Equal(t, 0.28, p.Entry.Fee)
	assert.Equal(t, 65.0, p.Analysis.SignalStrength)
	assert.Equal(t, 140.0, p.Risk.TrailingStop.HighestPrice)
	assert.False(t, p.Risk.TrailingStop.Active)

	// Performance is initialized at the fill.
	assert.Equal(t, 140.0, p.Performance.CurrentPrice)
	assert.Zero(t, p.Performance.UnrealizedPnL)
	assert.Zero(t, p.Performance.HoldingTimeHours)
}

func TestUpdatePerformance(t *testing.T) {
	p := openTestPosition(t, 140.0, 2, 0.28)
	later := p.Entry.Time.Add(6 * time.Hour)

	p.UpdatePerformance(147.0, later)
	assert.InDelta(t, 14.0, p.Performance.UnrealizedPnL, 1e-9)
	assert.InDelta(t, 5.0, p.Performance.UnrealizedPnLPercent, 1e-9)
	assert.InDelta(t, 5.0, p.Performance.PeakPnLPercent, 1e-9)
	assert.InDelta(t, 6.0, p.Performance.HoldingTimeHours, 1e-9)
	assert.InDelta(t, 294.0, p.Notional(), 1e-9)

	// Peak ratchets: a pullback lowers unrealized PnL but not the peak.
	p.UpdatePerformance(142.0, later.Add(time.Hour))
	assert.InDelta(t, 142.0/140.0*100-100, p.Performance.UnrealizedPnLPercent, 1e-9)
	assert.InDelta(t, 5.0, p.Performance.PeakPnLPercent, 1e-9)
}

func TestCloseOut(t *testing.T) {
	// Entry 2 @ 140 with 1.00 entry fee, exit 2 @ 145 with 1.00 exit fee:
	// gross 10, net 8, 8/280 of cost basis.
	p := openTestPosition(t, 140.0, 2, 1.0)
	exit := Exit{
		Price:   145.0,
		Time:    p.Entry.Time.Add(12 * time.Hour),
		Fee:     1.0,
		Trigger: risk.TriggerTakeProfit,
		OrderID: "order-2",
	}

	entry := p.CloseOut(exit)
	require.Equal(t, StateClosed, p.State)
	assert.Equal(t, p.ID, entry.PositionID)
	assert.InDelta(t, 10.0, entry.GrossPnL, 1e-9)
	assert.InDelta(t, 8.0, entry.NetPnL, 1e-9)
	assert.InDelta(t, 8.0/280.0*100, entry.NetPnLPercent, 1e-9)
	assert.InDelta(t, 12.0, entry.HoldingHours, 1e-9)
	assert.Equal(t, risk.TriggerTakeProfit, entry.Exit.Trigger)
	assert.Equal(t, p.Analysis, entry.Analysis)
}
