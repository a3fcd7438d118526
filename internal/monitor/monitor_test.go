package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocastell/atlas-trader/internal/journal"
	"github.com/ocastell/atlas-trader/internal/lifecycle"
	"github.com/ocastell/atlas-trader/internal/market"
	"github.com/ocastell/atlas-trader/internal/notifier"
	"github.com/ocastell/atlas-trader/internal/rebalance"
	"github.com/ocastell/atlas-trader/internal/session"
	"github.com/ocastell/atlas-trader/internal/store"
)

type stubFeed struct {
	mu     sync.Mutex
	quotes map[string]market.Quote
	stale  map[string]bool
}

func (f *stubFeed) GetPrice(ctx context.Context, assetID string) (market.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stale[assetID] {
		return market.Quote{}, fmt.Errorf("%w: %s", market.ErrStaleData, assetID)
	}
	q, ok := f.quotes[assetID]
	if !ok {
		return market.Quote{}, fmt.Errorf("%w: %s", market.ErrStaleData, assetID)
	}
	return q, nil
}

type stubSignals struct {
	signals map[string]market.Signal
}

func (s *stubSignals) GetSignal(ctx context.Context, assetID string) (market.Signal, error) {
	sig, ok := s.signals[assetID]
	if !ok {
		return market.Signal{}, errors.New("no signal")
	}
	return sig, nil
}

type stubExecutor struct {
	orders []market.Order
}

func (s *stubExecutor) Execute(ctx context.Context, o market.Order) (market.Fill, error) {
	s.orders = append(s.orders, o)
	price := 100.0
	return market.Fill{OrderID: "fill", Price: price, Fee: price * o.Size * 0.001, Time: time.Now().UTC()}, nil
}

type stubClock struct {
	now time.Time
}

func (c *stubClock) Now() time.Time { return c.now }

func testMonitor(t *testing.T, feed *stubFeed, signals *stubSignals, watchlist []market.Asset) (*Monitor, *lifecycle.Controller, *stubExecutor) {
	t.Helper()
	clock := &stubClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	sess := session.New(1000, 2000, "USDT",
		session.Config{Strategy: "aggressive", Interval: "15m"},
		0.5, false,
		session.Rebalancing{Enabled: true, StagnationHours: 24, MaxPerDay: 2},
		clock.now)
	ex := &stubExecutor{}
	c := lifecycle.New(&store.Document{Session: *sess}, store.NewMemoryStore(), ex, journal.NewMemory(), notifier.Noop{}, clock, lifecycle.Options{
		Strategy: "aggressive", MinTradeSize: 10, FeeRate: 0.001,
		DefaultKelly: 0.3, MaxKelly: 0.75,
		ExecutionAttempts: 1, ExecutionDelay: time.Millisecond,
	})
	sched := rebalance.New(c, clock, 24)
	return New(c, sched, feed, signals, clock, 15*time.Minute, watchlist), c, ex
}

func TestCycle(t *testing.T) {
	ctx := context.Background()
	watchlist := []market.Asset{
		{ID: "AAA-USDT", Class: "crypto"},
		{ID: "BBB-USDT", Class: "crypto"},
	}

	t.Run("Opens positions for watched assets with strong signals", func(t *testing.T) {
		feed := &stubFeed{quotes: map[string]market.Quote{
			"AAA-USDT": {Price: 100, ATR: 3},
			"BBB-USDT": {Price: 100, ATR: 3},
		}}
		signals := &stubSignals{signals: map[string]market.Signal{
			"AAA-USDT": {Score: 70, Reason: "breakout"},
			"BBB-USDT": {Score: 10, Reason: "flat"},
		}}
		m, c, ex := testMonitor(t, feed, signals, watchlist)

		m.Cycle(ctx)

		open := c.OpenPositions()
		require.Len(t, open, 1)
		assert.Equal(t, "AAA-USDT", open[0].Asset.ID)
		require.Len(t, ex.orders, 1)
		assert.Equal(t, "buy", ex.orders[0].Side)
	})

	t.Run("Stale assets are skipped, others proceed", func(t *testing.T) {
		feed := &stubFeed{
			quotes: map[string]market.Quote{"BBB-USDT": {Price: 100, ATR: 3}},
			stale:  map[string]bool{"AAA-USDT": true},
		}
		signals := &stubSignals{signals: map[string]market.Signal{
			"AAA-USDT": {Score: 70},
			"BBB-USDT": {Score: 70},
		}}
		m, c, _ := testMonitor(t, feed, signals, watchlist)

		m.Cycle(ctx)

		open := c.OpenPositions()
		require.Len(t, open, 1)
		assert.Equal(t, "BBB-USDT", open[0].Asset.ID)
	})

	t.Run("Held assets are not reopened", func(t *testing.T) {
		feed := &stubFeed{quotes: map[string]market.Quote{
			"AAA-USDT": {Price: 100, ATR: 3},
			"BBB-USDT": {Price: 100, ATR: 3},
		}}
		signals := &stubSignals{signals: map[string]market.Signal{"AAA-USDT": {Score: 70}}}
		m, c, ex := testMonitor(t, feed, signals, watchlist)

		m.Cycle(ctx)
		require.Len(t, c.OpenPositions(), 1)
		ordersAfterFirst := len(ex.orders)

		m.Cycle(ctx)
		assert.Len(t, c.OpenPositions(), 1)
		assert.Equal(t, ordersAfterFirst, len(ex.orders))
	})

	t.Run("Exit triggers close positions during the cycle", func(t *testing.T) {
		feed := &stubFeed{quotes: map[string]market.Quote{"AAA-USDT": {Price: 100, ATR: 3}}}
		signals := &stubSignals{signals: map[string]market.Signal{"AAA-USDT": {Score: 70}}}
		m, c, _ := testMonitor(t, feed, signals, watchlist[:1])

		m.Cycle(ctx)
		require.Len(t, c.OpenPositions(), 1)
		tp := c.OpenPositions()[0].Risk.DynamicTP

		feed.mu.Lock()
		feed.quotes["AAA-USDT"] = market.Quote{Price: tp + 1, ATR: 3}
		feed.mu.Unlock()
		// Silence the signal so the freed slot is not immediately reopened.
		signals.signals["AAA-USDT"] = market.Signal{Score: 0}

		m.Cycle(ctx)
		assert.Empty(t, c.OpenPositions())
		assert.Equal(t, 1, c.Session().Stats.TradesClosed)
	})

	t.Run("Cancelled context stops the cycle", func(t *testing.T) {
		feed := &stubFeed{quotes: map[string]market.Quote{"AAA-USDT": {Price: 100, ATR: 3}}}
		signals := &stubSignals{signals: map[string]market.Signal{"AAA-USDT": {Score: 70}}}
		m, c, _ := testMonitor(t, feed, signals, watchlist[:1])

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		m.Cycle(cancelled)
		assert.Empty(t, c.OpenPositions())
	})
}
