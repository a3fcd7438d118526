// Package monitor drives the poll loop: each tick fetches quotes, runs exit
// evaluation and rebalancing on the open positions, then scans the watchlist
// for new entries. Quote fetches fan out concurrently; every write goes
// through the lifecycle controller sequentially.
package monitor

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/ocastell/atlas-trader/internal/lifecycle"
	"github.com/ocastell/atlas-trader/internal/market"
	"github.com/ocastell/atlas-trader/internal/position"
	"github.com/ocastell/atlas-trader/internal/rebalance"
)

type Monitor struct {
	controller *lifecycle.Controller
	scheduler  *rebalance.Scheduler
	feed       market.PriceFeed
	signals    market.SignalProvider
	clock      market.Clock

	interval  time.Duration
	watchlist []market.Asset
}

func New(controller *lifecycle.Controller, scheduler *rebalance.Scheduler, feed market.PriceFeed, signals market.SignalProvider, clock market.Clock, interval time.Duration, watchlist []market.Asset) *Monitor {
	return &Monitor{
		controller: controller,
		scheduler:  scheduler,
		feed:       feed,
		signals:    signals,
		clock:      clock,
		interval:   interval,
		watchlist:  watchlist,
	}
}

// Run executes one cycle immediately, then every interval until the context
// is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log.Printf("Monitor | Starting loop, interval %s, %d watched assets", m.interval, len(m.watchlist))
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Printf("Monitor | Loop stopped: %v", ctx.Err())
			return
		case <-ticker.C:
			m.Cycle(ctx)
		}
	}
}

// Cycle is one bounded unit of work. Cancellation is honored between
// positions, never mid-mutation.
func (m *Monitor) Cycle(ctx context.Context) {
	start := m.clock.Now()

	open := m.controller.OpenPositions()
	quotes := m.fetchQuotes(ctx, m.assetIDs(open))

	for _, p := range open {
		if ctx.Err() != nil {
			return
		}
		q, ok := quotes[p.Asset.ID]
		if !ok {
			continue
		}
		if err := m.controller.EvaluateTick(ctx, p.ID, q); err != nil {
			if errors.Is(err, lifecycle.ErrPositionNotFound) {
				continue
			}
			log.Printf("Monitor | [%s] Tick evaluation failed: %v", p.Asset.ID, err)
		}
	}

	if ctx.Err() != nil {
		return
	}
	if m.scheduler != nil {
		m.scheduler.Sweep(ctx)
	}

	m.scanWatchlist(ctx, quotes)
	log.Printf("Monitor | Cycle done in %s", m.clock.Now().Sub(start).Round(time.Millisecond))
}

// scanWatchlist looks for entries among watched assets with no open position.
func (m *Monitor) scanWatchlist(ctx context.Context, quotes map[string]market.Quote) {
	held := map[string]bool{}
	for _, p := range m.controller.OpenPositions() {
		held[p.Asset.ID] = true
	}

	for _, asset := range m.watchlist {
		if ctx.Err() != nil {
			return
		}
		if held[asset.ID] {
			continue
		}
		quote, ok := quotes[asset.ID]
		if !ok {
			continue
		}

		sig, err := m.signals.GetSignal(ctx, asset.ID)
		if err != nil {
			log.Printf("Monitor | [%s] Signal fetch failed: %v", asset.ID, err)
			continue
		}
		if sig.Score <= 0 {
			continue
		}

		opened, reason, err := m.controller.TryOpen(ctx, asset, sig, quote)
		if err != nil {
			log.Printf("Monitor | [%s] Open attempt failed: %v", asset.ID, err)
			continue
		}
		if !opened && reason != "" {
			log.Printf("Monitor | [%s] Entry declined: %s", asset.ID, reason)
		}
	}
}

// fetchQuotes issues the read-only price calls concurrently. Assets with
// stale data are simply absent from the result.
func (m *Monitor) fetchQuotes(ctx context.Context, ids []string) map[string]market.Quote {
	var mu sync.Mutex
	var wg sync.WaitGroup
	quotes := make(map[string]market.Quote, len(ids))

	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			q, err := m.feed.GetPrice(ctx, id)
			if err != nil {
				if errors.Is(err, market.ErrStaleData) {
					log.Printf("Monitor | [%s] Stale market data, skipping this tick", id)
				} else {
					log.Printf("Monitor | [%s] Price fetch failed: %v", id, err)
				}
				return
			}
			mu.Lock()
			quotes[id] = q
			mu.Unlock()
		}(id)
	}
	wg.Wait()
	return quotes
}

// assetIDs is the union of open-position assets and the watchlist.
func (m *Monitor) assetIDs(open []position.Position) []string {
	seen := map[string]bool{}
	var ids []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	for _, p := range open {
		add(p.Asset.ID)
	}
	for _, a := range m.watchlist {
		add(a.ID)
	}
	return ids
}
