package rebalance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocastell/atlas-trader/internal/journal"
	"github.com/ocastell/atlas-trader/internal/lifecycle"
	"github.com/ocastell/atlas-trader/internal/market"
	"github.com/ocastell/atlas-trader/internal/notifier"
	"github.com/ocastell/atlas-trader/internal/position"
	"github.com/ocastell/atlas-trader/internal/risk"
	"github.com/ocastell/atlas-trader/internal/session"
	"github.com/ocastell/atlas-trader/internal/store"
)

type stubExecutor struct {
	fail   bool
	orders []market.Order
}

func (s *stubExecutor) Execute(ctx context.Context, o market.Order) (market.Fill, error) {
	s.orders = append(s.orders, o)
	if s.fail {
		return market.Fill{}, &market.ExecutionError{Op: o.Side, Err: errors.New("brokerage unavailable")}
	}
	return market.Fill{OrderID: "exit", Price: 100, Fee: 0.1, Time: time.Now().UTC()}, nil
}

type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time { return c.now }

// heldPosition builds an open position entered heldHours ago whose peak PnL
// is the given percent.
func heldPosition(clock *stubClock, assetID string, heldHours, peakPct float64) position.Position {
	entryTime := clock.now.Add(-time.Duration(heldHours * float64(time.Hour)))
	fill := market.Fill{OrderID: "entry", Price: 100, Fee: 0.1, Time: entryTime}
	p := position.New(
		market.Asset{ID: assetID, Class: "crypto"},
		1, fill, "market", market.Signal{Score: 65}, 2.0,
		risk.EntryRisk{DynamicSL: 97, DynamicTP: 105})
	p.UpdatePerformance(100*(1+peakPct/100), entryTime.Add(time.Minute))
	p.UpdatePerformance(100, clock.now)
	return *p
}

func testScheduler(t *testing.T, clock *stubClock, ex *stubExecutor, positions ...position.Position) (*Scheduler, *lifecycle.Controller) {
	t.Helper()
	sess := session.New(1000, 2000, "USDT",
		session.Config{Strategy: "aggressive", Interval: "15m"},
		0.5, false,
		session.Rebalancing{Enabled: true, StagnationHours: 24, MaxPerDay: 2},
		clock.now.Add(-48*time.Hour))
	// LastReset two days back so the first sweep exercises the day reset.
	doc := &store.Document{Session: *sess, OpenPositions: positions}
	c := lifecycle.New(doc, store.NewMemoryStore(), ex, journal.NewMemory(), notifier.Noop{}, clock, lifecycle.Options{
		Strategy: "aggressive", FeeRate: 0.001, DefaultKelly: 0.3, MaxKelly: 0.75,
		ExecutionAttempts: 1, ExecutionDelay: time.Millisecond,
	})
	return New(c, clock, 24), c
}

func TestStagnant(t *testing.T) {
	clock := &stubClock{now: time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)}
	s, _ := testScheduler(t, clock, &stubExecutor{})

	t.Run("Held past horizon and never profitable", func(t *testing.T) {
		p := heldPosition(clock, "AAA-USDT", 30, 0.4)
		assert.True(t, s.Stagnant(&p))
	})

	t.Run("Young positions are not stagnant", func(t *testing.T) {
		p := heldPosition(clock, "AAA-USDT", 6, 0.0)
		assert.False(t, s.Stagnant(&p))
	})

	t.Run("Once profitable is never stagnant", func(t *testing.T) {
		p := heldPosition(clock, "AAA-USDT", 30, 2.5)
		assert.False(t, s.Stagnant(&p))
	})
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("Closes stagnant positions with the rebalance trigger", func(t *testing.T) {
		clock := &stubClock{now: time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)}
		ex := &stubExecutor{}
		s, c := testScheduler(t, clock, ex,
			heldPosition(clock, "AAA-USDT", 30, 0.2),
			heldPosition(clock, "BBB-USDT", 6, 0.2))

		s.Sweep(ctx)

		open := c.OpenPositions()
		require.Len(t, open, 1)
		assert.Equal(t, "BBB-USDT", open[0].Asset.ID)
		sess := c.Session()
		assert.Equal(t, 1, sess.Rebalancing.RebalancesToday)
		require.Len(t, ex.orders, 1)
		assert.Equal(t, "sell", ex.orders[0].Side)
	})

	t.Run("Quota stops further closes", func(t *testing.T) {
		clock := &stubClock{now: time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)}
		ex := &stubExecutor{}
		s, c := testScheduler(t, clock, ex,
			heldPosition(clock, "AAA-USDT", 30, 0.2),
			heldPosition(clock, "BBB-USDT", 31, 0.2),
			heldPosition(clock, "CCC-USDT", 32, 0.2))

		s.Sweep(ctx)

		assert.Len(t, c.OpenPositions(), 1)
		assert.Equal(t, 2, c.Session().Rebalancing.RebalancesToday)
	})

	t.Run("Sweep resets the counter on a new UTC day", func(t *testing.T) {
		clock := &stubClock{now: time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)}
		s, c := testScheduler(t, clock, &stubExecutor{})
		c.Ledger().RecordRebalance(clock.now.Add(-48 * time.Hour))
		c.Ledger().RecordRebalance(clock.now.Add(-48 * time.Hour))
		require.False(t, c.Ledger().RebalanceAllowed())

		s.Sweep(ctx)
		assert.True(t, c.Ledger().RebalanceAllowed())
		assert.Equal(t, 0, c.Session().Rebalancing.RebalancesToday)
	})

	t.Run("Execution failure leaves the position open without consuming quota", func(t *testing.T) {
		clock := &stubClock{now: time.Date(2026, 3, 12, 12, 0, 0, 0, time.UTC)}
		ex := &stubExecutor{fail: true}
		s, c := testScheduler(t, clock, ex, heldPosition(clock, "AAA-USDT", 30, 0.2))

		s.Sweep(ctx)

		assert.Len(t, c.OpenPositions(), 1)
		assert.Equal(t, 0, c.Session().Rebalancing.RebalancesToday)
	})
}
